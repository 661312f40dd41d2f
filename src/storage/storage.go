package storage

import (
	"database/sql"
	"fmt"
	"time"

	"stock-stream/src/helpers"
	"stock-stream/src/interfaces"
	"stock-stream/src/logger"
	"stock-stream/src/models"
)

// NewTradeStore picks the backend named by storage.db_type. The store still
// needs Initialize.
func NewTradeStore(cfg *models.MConfig, log *logger.Logger) (interfaces.ITradeStore, error) {
	switch cfg.Storage.DBType {
	case "sqlite", "":
		return NewAsyncSQLiteDB(&cfg.Storage, log), nil
	case "postgres", "postgresql":
		return NewPostgresDB(&cfg.Storage, cfg.Name, log), nil
	default:
		return nil, helpers.NewConfigurationError(fmt.Sprintf("unsupported db_type '%s'", cfg.Storage.DBType), nil)
	}
}

// -----------------------------------------------------------------------------
// shared row helpers
// -----------------------------------------------------------------------------

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// retentionCutoff returns the epoch-millis boundary for the retention window.
func retentionCutoff(days int, now time.Time) int64 {
	return now.UTC().AddDate(0, 0, -days).UnixMilli()
}

func scanEvents(rows *sql.Rows, out map[string]models.MPriceEvent) error {
	for rows.Next() {
		var (
			e           models.MPriceEvent
			change, pct sql.NullFloat64
		)
		if err := rows.Scan(&e.Symbol, &e.Timestamp, &e.Price, &e.Volume, &change, &pct); err != nil {
			return helpers.NewDatabaseError("scan trade", err)
		}
		e.Change = fromNullable(change)
		e.PercentChange = fromNullable(pct)
		out[e.Symbol] = e
	}
	if err := rows.Err(); err != nil {
		return helpers.NewDatabaseError("iterate trades", err)
	}
	return nil
}
