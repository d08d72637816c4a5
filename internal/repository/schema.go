package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema журнальные таблицы (только INSERT и чтение)
var schema = []string{
	`CREATE TABLE IF NOT EXISTS position_events (
		id         BIGSERIAL PRIMARY KEY,
		symbol     VARCHAR(32) NOT NULL,
		side       VARCHAR(8) NOT NULL,
		event      VARCHAR(32) NOT NULL,
		state      VARCHAR(16) NOT NULL,
		order_id   BIGINT NOT NULL DEFAULT 0,
		price      DOUBLE PRECISION NOT NULL DEFAULT 0,
		quantity   DOUBLE PRECISION NOT NULL DEFAULT 0,
		details    JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_position_events_symbol ON position_events (symbol, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS trades (
		id           BIGSERIAL PRIMARY KEY,
		symbol       VARCHAR(32) NOT NULL,
		side         VARCHAR(8) NOT NULL,
		entry_price  DOUBLE PRECISION NOT NULL,
		exit_price   DOUBLE PRECISION NOT NULL,
		quantity     DOUBLE PRECISION NOT NULL,
		leverage     INTEGER NOT NULL,
		pnl_usdt     DOUBLE PRECISION NOT NULL,
		pnl_pct      DOUBLE PRECISION NOT NULL,
		close_reason VARCHAR(32) NOT NULL,
		strength     VARCHAR(16) NOT NULL,
		tp_pct       DOUBLE PRECISION NOT NULL,
		opened_at    TIMESTAMPTZ NOT NULL,
		closed_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades (closed_at DESC)`,
	`CREATE TABLE IF NOT EXISTS signal_events (
		id           BIGSERIAL PRIMARY KEY,
		symbol       VARCHAR(32) NOT NULL,
		ratio        DOUBLE PRECISION NOT NULL,
		signal_price DOUBLE PRECISION NOT NULL,
		entry_price  DOUBLE PRECISION NOT NULL DEFAULT 0,
		decision     VARCHAR(16) NOT NULL,
		reason       TEXT NOT NULL DEFAULT '',
		metrics      JSONB,
		signal_time  TIMESTAMPTZ NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signal_events_created_at ON signal_events (created_at DESC)`,
}

// Migrate создаёт таблицы журнала, если их нет
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
