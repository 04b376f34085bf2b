package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/papertrader/internal/model"
)

// Schema creates the archive table. All monetary values are stored as
// NUMERIC for exact decimal precision.
const Schema = `CREATE TABLE IF NOT EXISTS trade_logs (
	session_id     TEXT        NOT NULL,
	id             BIGINT      NOT NULL,
	timestamp      TIMESTAMPTZ NOT NULL,
	action         TEXT        NOT NULL,
	price          NUMERIC     NOT NULL,
	quantity       BIGINT,
	cost           NUMERIC,
	revenue        NUMERIC,
	balance_after  NUMERIC,
	holdings_after BIGINT,
	reason         TEXT,
	PRIMARY KEY (session_id, id)
)`

// PostgresArchive implements Archive using PostgreSQL as the source of truth.
type PostgresArchive struct {
	pool *pgxpool.Pool
}

// NewPostgresArchive creates a new PostgreSQL-backed archive.
func NewPostgresArchive(pool *pgxpool.Pool) *PostgresArchive {
	return &PostgresArchive{pool: pool}
}

// EnsureSchema creates the archive table if it does not exist.
func (a *PostgresArchive) EnsureSchema(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create trade_logs: %w", err)
	}
	return nil
}

func (a *PostgresArchive) Append(ctx context.Context, sessionID string, e model.LogEntry) error {
	if sessionID == "" {
		return ErrEmptySession
	}
	var quantity *int64
	if e.Quantity != 0 {
		quantity = &e.Quantity
	}
	var reason *string
	if e.Reason != "" {
		reason = &e.Reason
	}

	_, err := a.pool.Exec(ctx,
		`INSERT INTO trade_logs (session_id, id, timestamp, action, price, quantity,
		                         cost, revenue, balance_after, holdings_after, reason)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
		sessionID, e.ID, e.Timestamp, string(e.Action), e.Price.String(), quantity,
		decimalText(e.Cost), decimalText(e.Revenue), decimalText(e.BalanceAfter),
		e.HoldingsAfter, reason,
	)
	if err != nil {
		return fmt.Errorf("insert trade log %s/%d: %w", sessionID, e.ID, err)
	}
	return nil
}

func (a *PostgresArchive) Entries(ctx context.Context, sessionID string) ([]model.LogEntry, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, timestamp, action, price::TEXT, quantity,
		        cost::TEXT, revenue::TEXT, balance_after::TEXT, holdings_after, reason
		 FROM trade_logs WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLogEntries(rows)
}

// pgxRows is the subset of pgx.Rows the scanner needs.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanLogEntries reads pgx rows into LogEntry slices.
func scanLogEntries(rows pgxRows) ([]model.LogEntry, error) {
	entries := []model.LogEntry{}
	for rows.Next() {
		var (
			e                         model.LogEntry
			ts                        time.Time
			action, priceS            string
			quantity, holdingsAfter   *int64
			costS, revenueS, balanceS *string
			reason                    *string
		)
		if err := rows.Scan(&e.ID, &ts, &action, &priceS, &quantity,
			&costS, &revenueS, &balanceS, &holdingsAfter, &reason); err != nil {
			return nil, err
		}

		price, err := decimal.NewFromString(priceS)
		if err != nil {
			return nil, fmt.Errorf("trade log %d: price %q: %w", e.ID, priceS, err)
		}
		e.Timestamp = ts.UTC()
		e.Action = model.Action(action)
		e.Price = price
		if quantity != nil {
			e.Quantity = *quantity
		}
		e.HoldingsAfter = holdingsAfter
		if reason != nil {
			e.Reason = *reason
		}
		if e.Cost, err = parseDecimal(costS); err != nil {
			return nil, fmt.Errorf("trade log %d: cost: %w", e.ID, err)
		}
		if e.Revenue, err = parseDecimal(revenueS); err != nil {
			return nil, fmt.Errorf("trade log %d: revenue: %w", e.ID, err)
		}
		if e.BalanceAfter, err = parseDecimal(balanceS); err != nil {
			return nil, fmt.Errorf("trade log %d: balance_after: %w", e.ID, err)
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func decimalText(v *decimal.Decimal) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func parseDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	v, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
