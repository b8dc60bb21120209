package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderSelectCols = `id, user_id, side, points::text, amount::text,
	filled_amount::text, status, created_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o                      domain.Order
		side, status           string
		points, amount, filled string
	)
	if err := row.Scan(&o.ID, &o.UserID, &side, &points, &amount, &filled, &status, &o.CreatedAt); err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)

	var err error
	if o.Points, err = domain.ParsePoints(points); err != nil {
		return domain.Order{}, err
	}
	if o.Amount, err = domain.ParseLamports(amount); err != nil {
		return domain.Order{}, err
	}
	if o.Filled, err = domain.ParseLamports(filled); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// ListMatchable returns every OPEN or PARTIALLY_FILLED order that still has
// unfilled size, ordered by id.
func (s *OrderStore) ListMatchable(ctx context.Context) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders
		WHERE status IN ('OPEN', 'PARTIALLY_FILLED') AND amount > filled_amount
		ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list matchable orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list matchable orders rows: %w", err)
	}
	return orders, nil
}

// UpdateFill persists a new filled amount and status. Cancelled orders are
// left untouched and reported as domain.ErrNotFound.
func (s *OrderStore) UpdateFill(ctx context.Context, id int64, filled domain.Lamports, status domain.OrderStatus) error {
	const query = `
		UPDATE orders SET
			filled_amount = $2::numeric,
			status        = $3,
			updated_at    = NOW()
		WHERE id = $1 AND status <> 'CANCELLED'`

	tag, err := s.pool.Exec(ctx, query, id, lamportsArg(filled), string(status))
	if err != nil {
		return fmt.Errorf("postgres: update order fill %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update order fill %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a single order.
func (s *OrderStore) GetByID(ctx context.Context, id int64) (domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("postgres: get order %d: %w", id, domain.ErrNotFound)
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %d: %w", id, err)
	}
	return o, nil
}
