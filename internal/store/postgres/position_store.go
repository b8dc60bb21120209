package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, user_public_key, order_id, on_chain_position_address,
	COALESCE(tx_signature, ''), amount::text, lower_bound::text, upper_bound::text,
	position_type, COALESCE(btc_price_at_creation, 0)::text, status,
	settlement_time, settlement_price::text, payout_percentage, payout_amount::text,
	claimed_at, created_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                   domain.Position
		amount, priceAt     string
		status              string
		positionType        int16
		lower, upper        *string
		settledAt           *time.Time
		settlePrice, payout *string
		payoutPct           *int32
	)
	err := row.Scan(
		&p.ID, &p.UserPublicKey, &p.OrderID, &p.OnChainAddress,
		&p.TxSignature, &amount, &lower, &upper,
		&positionType, &priceAt, &status,
		&settledAt, &settlePrice, &payoutPct, &payout,
		&p.ClaimedAt, &p.CreatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Type = domain.Direction(positionType)
	p.Status = domain.PositionStatus(status)

	if p.Amount, err = domain.ParseLamports(amount); err != nil {
		return domain.Position{}, err
	}
	if p.PriceAtCreation, err = parseDecimal(priceAt); err != nil {
		return domain.Position{}, err
	}
	if p.LowerBound, err = parseDecimalPtr(lower); err != nil {
		return domain.Position{}, err
	}
	if p.UpperBound, err = parseDecimalPtr(upper); err != nil {
		return domain.Position{}, err
	}

	if settledAt != nil {
		st := &domain.Settlement{Time: *settledAt}
		if settlePrice != nil {
			if st.Price, err = parseDecimal(*settlePrice); err != nil {
				return domain.Position{}, err
			}
		}
		if payoutPct != nil {
			st.PayoutPercentage = int(*payoutPct)
		}
		if payout != nil {
			if st.PayoutAmount, err = domain.ParseLamports(*payout); err != nil {
				return domain.Position{}, err
			}
		}
		p.Settlement = st
	}
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new ACTIVE position. A row for the same
// (user_public_key, order_id) yields domain.ErrAlreadyExists.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			user_public_key, order_id, on_chain_position_address, tx_signature,
			amount, lower_bound, upper_bound, position_type,
			btc_price_at_creation, status
		) VALUES (
			$1, $2, $3, NULLIF($4, ''),
			$5::numeric, $6::numeric, $7::numeric, $8,
			$9::numeric, $10
		) ON CONFLICT (user_public_key, order_id) DO NOTHING`

	status := p.Status
	if status == "" {
		status = domain.PositionStatusActive
	}

	tag, err := s.pool.Exec(ctx, query,
		p.UserPublicKey, p.OrderID, p.OnChainAddress, p.TxSignature,
		lamportsArg(p.Amount), decimalPtrArg(p.LowerBound), decimalPtrArg(p.UpperBound), int16(p.Type),
		p.PriceAtCreation.String(), string(status),
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s/%d: %w", p.UserPublicKey, p.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create position %s/%d: %w", p.UserPublicKey, p.OrderID, domain.ErrAlreadyExists)
	}
	return nil
}

// FindByOwnerOrder returns the position for (owner, orderID) or
// domain.ErrNotFound.
func (s *PositionStore) FindByOwnerOrder(ctx context.Context, owner string, orderID int64) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE user_public_key = $1 AND order_id = $2`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, owner, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: find position %s/%d: %w", owner, orderID, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: find position %s/%d: %w", owner, orderID, err)
	}
	return p, nil
}

// ListActive returns all ACTIVE positions ordered by id.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'ACTIVE' ORDER BY id ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	defer rows.Close()

	positions, err := collectPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active positions: %w", err)
	}
	return positions, nil
}

// Settle records the settlement outcome. Only ACTIVE rows transition; a row
// already settled or claimed reports domain.ErrNotFound.
func (s *PositionStore) Settle(ctx context.Context, id int64, st domain.Settlement) error {
	const query = `
		UPDATE positions SET
			status            = 'SETTLED',
			settlement_time   = $2,
			settlement_price  = $3::numeric,
			payout_percentage = $4,
			payout_amount     = $5::numeric,
			updated_at        = NOW()
		WHERE id = $1 AND status = 'ACTIVE'`

	tag, err := s.pool.Exec(ctx, query,
		id, st.Time, st.Price.String(), int32(st.PayoutPercentage), lamportsArg(st.PayoutAmount),
	)
	if err != nil {
		return fmt.Errorf("postgres: settle position %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: settle position %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListClosedBefore returns settled or claimed positions whose settlement
// happened strictly before the cutoff (for archiving).
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE status IN ('SETTLED', 'CLAIMED') AND COALESCE(settlement_time, created_at) < $1
		ORDER BY id ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}
