package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade records one match between a Stay In (SHORT) order and a Breakout
// (LONG) order. Trades are append-only.
type Trade struct {
	ID              int64
	StayInOrderID   int64
	BreakOutOrderID int64
	Points          Points
	Amount          Lamports
	ExecutedAt      time.Time
	ExecutionPrice  decimal.Decimal
}
