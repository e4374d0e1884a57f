// Package postgres is the reference StorageSink (spec.md §6) backing
// cmd/marketwatch backfill: §1 scopes storage as an external
// collaborator interface, not a first-class schema concern, so this is a
// minimal, swappable concrete implementation rather than the system's
// storage design.
//
// Grounded on internal/persistence/postgres/trades_repo.go: the
// sqlx.DB-plus-timeout repo shape, context-scoped per-call timeouts, and
// pq.Error duplicate-key handling are kept; the trades schema is replaced
// by the OHLCV bars schema the Backfill Worker writes.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/marketwatch/internal/domain"
)

// BarSink implements backfill.StorageSink over a Postgres bars table.
type BarSink struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBarSink constructs a BarSink. timeout bounds each WriteBars call's
// context regardless of the caller's own deadline.
func NewBarSink(db *sqlx.DB, timeout time.Duration) *BarSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BarSink{db: db, timeout: timeout}
}

// Schema is the DDL BarSink expects. Migrations are out of scope for this
// reference implementation; an operator applies this (or an equivalent)
// before first use.
const Schema = `
CREATE TABLE IF NOT EXISTS aggregate_bars (
	symbol       TEXT NOT NULL,
	start_time   TIMESTAMPTZ NOT NULL,
	end_time     TIMESTAMPTZ NOT NULL,
	open         NUMERIC NOT NULL,
	high         NUMERIC NOT NULL,
	low          NUMERIC NOT NULL,
	close        NUMERIC NOT NULL,
	volume       BIGINT NOT NULL,
	vwap         NUMERIC NOT NULL,
	trade_count  INTEGER NOT NULL,
	timeframe    SMALLINT NOT NULL,
	source       TEXT NOT NULL,
	sequence     BIGINT NOT NULL,
	PRIMARY KEY (symbol, start_time, timeframe)
)`

// WriteBars upserts bars for symbol, satisfying backfill.StorageSink.
// A conflict on the (symbol, start_time, timeframe) primary key overwrites
// the existing row — a backfill re-run for an already-covered range is
// idempotent rather than a duplicate-key failure.
func (s *BarSink) WriteBars(ctx context.Context, symbol domain.Symbol, bars []domain.AggregateBar) error {
	if len(bars) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO aggregate_bars
			(symbol, start_time, end_time, open, high, low, close, volume, vwap, trade_count, timeframe, source, sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (symbol, start_time, timeframe) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			vwap = EXCLUDED.vwap,
			trade_count = EXCLUDED.trade_count,
			source = EXCLUDED.source,
			sequence = EXCLUDED.sequence`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		_, err := stmt.ExecContext(ctx,
			string(symbol), bar.StartTime, bar.EndTime,
			bar.Open.String(), bar.High.String(), bar.Low.String(), bar.Close.String(),
			bar.Volume, bar.VWAP.String(), bar.TradeCount, int(bar.Timeframe), string(bar.Source), bar.Sequence)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok {
				return fmt.Errorf("write bar for %s at %s: %w (code %s)", symbol, bar.StartTime, err, pqErr.Code)
			}
			return fmt.Errorf("write bar for %s at %s: %w", symbol, bar.StartTime, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bars for %s: %w", symbol, err)
	}
	return nil
}

// CountForSymbol returns the number of bars stored for symbol, used by
// operational tooling to sanity-check a completed backfill.
func (s *BarSink) CountForSymbol(ctx context.Context, symbol domain.Symbol) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var count int64
	err := s.db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM aggregate_bars WHERE symbol = $1`, string(symbol)).Scan(&count)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("count bars for %s: %w", symbol, err)
	}
	return count, nil
}
