package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"stock-stream/src/helpers"
	"stock-stream/src/logger"
	"stock-stream/src/models"

	"github.com/lib/pq"
)

// postgres allows at most 65535 bind parameters per statement.
const (
	pgMaxParams = 65535
	pgBatchSize = pgMaxParams / paramsPerRow
)

var schemaSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	Config *models.MStorageConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

// NewPostgresDB keeps the service's tables in a schema named after the app.
func NewPostgresDB(cfg *models.MStorageConfig, appName string, log *logger.Logger) *PostgresDB {
	schema := schemaSanitizer.ReplaceAllString(strings.ToLower(appName), "_")
	if schema == "" {
		schema = "stock_stream"
	}
	return &PostgresDB{
		Config: cfg,
		Schema: schema,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	db, err := sql.Open("postgres", d.Config.DBConnectionString)
	if err != nil {
		return helpers.NewDatabaseError("open postgres", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return helpers.NewDatabaseError("ping postgres", err)
	}
	d.DB = db

	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pq.QuoteIdentifier(d.Schema)),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				symbol TEXT NOT NULL,
				timestamp BIGINT NOT NULL,
				price DOUBLE PRECISION NOT NULL,
				volume DOUBLE PRECISION NOT NULL,
				change DOUBLE PRECISION,
				percent_change DOUBLE PRECISION,
				id BIGSERIAL PRIMARY KEY
			);`, d.table()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS trades_symbol_ts ON %s (symbol, timestamp DESC)`, d.table()),
	}
	for _, q := range stmts {
		if _, err := d.DB.Exec(q); err != nil {
			return helpers.NewDatabaseError("create trades table", err)
		}
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}

func (d *PostgresDB) table() string {
	return pq.QuoteIdentifier(d.Schema) + ".trades"
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SavePriceEventsBulk(ctx context.Context, events []models.MPriceEvent) error {
	for start := 0; start < len(events); start += pgBatchSize {
		end := start + pgBatchSize
		if end > len(events) {
			end = len(events)
		}
		if err := d.insertChunk(ctx, events[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (d *PostgresDB) insertChunk(ctx context.Context, events []models.MPriceEvent) error {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (symbol, timestamp, price, volume, change, percent_change) VALUES ", d.table())
	args := make([]interface{}, 0, len(events)*paramsPerRow)
	for i, e := range events {
		if i > 0 {
			b.WriteString(",")
		}
		n := i * paramsPerRow
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, e.Symbol, e.Timestamp, e.Price, e.Volume, nullable(e.Change), nullable(e.PercentChange))
	}

	if _, err := d.DB.ExecContext(ctx, b.String(), args...); err != nil {
		return helpers.NewDatabaseError("insert trades", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) LatestPrices(ctx context.Context, symbols []string) (map[string]models.MPriceEvent, error) {
	out := make(map[string]models.MPriceEvent, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT ON (symbol) symbol, timestamp, price, volume, change, percent_change
		FROM %s
		WHERE symbol = ANY($1)
		ORDER BY symbol, timestamp DESC, id DESC
	`, d.table())

	rows, err := d.DB.QueryContext(ctx, query, pq.Array(symbols))
	if err != nil {
		return nil, helpers.NewDatabaseError("query latest prices", err)
	}
	defer rows.Close()

	if err := scanEvents(rows, out); err != nil {
		return nil, err
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) CleanupOldData(ctx context.Context) error {
	cutoff := retentionCutoff(d.Config.RetentionDays, time.Now())

	res, err := d.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE timestamp < $1`, d.table()), cutoff)
	if err != nil {
		return helpers.NewDatabaseError("cleanup trades", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		d.Logger.Info("Removed %d trades older than %d days", n, d.Config.RetentionDays)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
