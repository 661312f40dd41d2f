package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"stock-stream/src/helpers"
	"stock-stream/src/logger"
	"stock-stream/src/models"

	_ "modernc.org/sqlite"
)

// SQLite caps bound variables per statement.
const (
	sqliteMaxVars   = 32000
	paramsPerRow    = 6
	sqliteBatchSize = sqliteMaxVars / paramsPerRow
)

// -----------------------------------------------------------------------------

type AsyncSQLiteDB struct {
	Config *models.MStorageConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MStorageConfig, log *logger.Logger) *AsyncSQLiteDB {
	return &AsyncSQLiteDB{
		Config: cfg,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize() error {
	db, err := sql.Open("sqlite", d.Config.DBPath)
	if err != nil {
		return helpers.NewDatabaseError("open sqlite", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return helpers.NewDatabaseError("ping sqlite", err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	d.DB = db

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			symbol TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			price REAL NOT NULL,
			volume REAL NOT NULL,
			change REAL,
			percent_change REAL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades (symbol, timestamp);`,
	}
	for _, q := range stmts {
		if _, err := d.DB.Exec(q); err != nil {
			return helpers.NewDatabaseError("create trades table", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SavePriceEventsBulk(ctx context.Context, events []models.MPriceEvent) error {
	for start := 0; start < len(events); start += sqliteBatchSize {
		end := start + sqliteBatchSize
		if end > len(events) {
			end = len(events)
		}
		if err := d.insertChunk(ctx, events[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (d *AsyncSQLiteDB) insertChunk(ctx context.Context, events []models.MPriceEvent) error {
	if len(events) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO trades (symbol, timestamp, price, volume, change, percent_change) VALUES ")
	args := make([]interface{}, 0, len(events)*paramsPerRow)
	for i, e := range events {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, e.Symbol, e.Timestamp, e.Price, e.Volume, nullable(e.Change), nullable(e.PercentChange))
	}

	if _, err := d.DB.ExecContext(ctx, b.String(), args...); err != nil {
		return helpers.NewDatabaseError("insert trades", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) LatestPrices(ctx context.Context, symbols []string) (map[string]models.MPriceEvent, error) {
	out := make(map[string]models.MPriceEvent, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	query := fmt.Sprintf(`
		SELECT t.symbol, t.timestamp, t.price, t.volume, t.change, t.percent_change
		FROM trades t
		JOIN (
			SELECT symbol, MAX(timestamp) AS ts FROM trades
			WHERE symbol IN (%s)
			GROUP BY symbol
		) latest ON latest.symbol = t.symbol AND latest.ts = t.timestamp
		ORDER BY t.rowid
	`, placeholders)

	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = s
	}

	rows, err := d.DB.QueryContext(ctx, query, args...)
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

func (d *AsyncSQLiteDB) CleanupOldData(ctx context.Context) error {
	cutoff := retentionCutoff(d.Config.RetentionDays, time.Now())

	res, err := d.DB.ExecContext(ctx, "DELETE FROM trades WHERE timestamp < ?", cutoff)
	if err != nil {
		return helpers.NewDatabaseError("cleanup trades", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		d.Logger.Info("Removed %d trades older than %d days", n, d.Config.RetentionDays)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
