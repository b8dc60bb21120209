package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, stay_in_order_id, break_out_order_id, points::text,
	amount::text, executed_at, execution_price::text`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var (
			t                     domain.Trade
			points, amount, price string
		)
		if err := rows.Scan(
			&t.ID, &t.StayInOrderID, &t.BreakOutOrderID, &points,
			&amount, &t.ExecutedAt, &price,
		); err != nil {
			return nil, err
		}

		var err error
		if t.Points, err = domain.ParsePoints(points); err != nil {
			return nil, err
		}
		if t.Amount, err = domain.ParseLamports(amount); err != nil {
			return nil, err
		}
		if t.ExecutionPrice, err = parseDecimal(price); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertBatch appends the trades of one matching cycle in a single pgx Batch.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO trades (
			stay_in_order_id, break_out_order_id, points, amount,
			executed_at, execution_price
		) VALUES (
			$1, $2, $3::numeric, $4::numeric,
			$5, $6::numeric
		)`

	for _, t := range trades {
		executedAt := t.ExecutedAt
		if executedAt.IsZero() {
			executedAt = time.Now().UTC()
		}
		batch.Queue(query,
			t.StayInOrderID, t.BreakOutOrderID, t.Points.String(), lamportsArg(t.Amount),
			executedAt, t.ExecutionPrice.String(),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListBefore returns all trades executed strictly before the given time (for archiving).
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE executed_at < $1 ORDER BY executed_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()
	return scanTradeRows(rows)
}
