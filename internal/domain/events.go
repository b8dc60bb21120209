package domain

import "context"

// Event types published on the bus, written to the audit log and used as
// notification filters.
const (
	EventTradeMatched    = "trade_matched"
	EventPositionCreated = "position_created"
	EventPositionSettled = "position_settled"
	EventPoolInitialized = "pool_initialized"
	EventArchived        = "archived"
	EventError           = "error"
)

// Notifier delivers operator alerts for an event type.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}
