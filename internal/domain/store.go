package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists orders. Order placement and cancellation happen
// elsewhere; the matching engine only reads matchable orders and writes fills.
type OrderStore interface {
	ListMatchable(ctx context.Context) ([]Order, error)
	UpdateFill(ctx context.Context, id int64, filled Lamports, status OrderStatus) error
	GetByID(ctx context.Context, id int64) (Order, error)
}

// UserStore resolves order owners.
type UserStore interface {
	GetByID(ctx context.Context, id string) (User, error)
}

// PositionStore persists position rows mirroring on-chain accounts.
type PositionStore interface {
	// Create inserts a row. It returns ErrAlreadyExists if a row for
	// (UserPublicKey, OrderID) is already present.
	Create(ctx context.Context, pos Position) error
	FindByOwnerOrder(ctx context.Context, owner string, orderID int64) (Position, error)
	ListActive(ctx context.Context) ([]Position, error)
	// Settle moves an ACTIVE row to SETTLED. It returns ErrNotFound when the
	// row is missing or no longer ACTIVE.
	Settle(ctx context.Context, id int64, s Settlement) error
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
}

// TradeStore persists trades.
type TradeStore interface {
	InsertBatch(ctx context.Context, trades []Trade) error
	ListBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
