package domain

import "time"

// OrderSide is the bettor's side. LONG bets on a breakout, SHORT bets that the
// price stays inside the band.
type OrderSide string

const (
	OrderSideLong  OrderSide = "LONG"
	OrderSideShort OrderSide = "SHORT"
)

// Direction returns the on-chain position direction for the side.
func (s OrderSide) Direction() Direction {
	if s == OrderSideLong {
		return DirectionBreakout
	}
	return DirectionStayIn
}

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// Matchable reports whether orders in this status may still be matched.
func (s OrderStatus) Matchable() bool {
	return s == OrderStatusOpen || s == OrderStatusPartiallyFilled
}

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// Order is a user's request to bet Amount on one side of a Points band.
type Order struct {
	ID        int64
	UserID    string
	Side      OrderSide
	Points    Points
	Amount    Lamports
	Filled    Lamports
	Status    OrderStatus
	CreatedAt time.Time
}

// Remaining returns the unfilled size, floored at zero.
func (o Order) Remaining() Lamports {
	if r := o.Amount - o.Filled; r > 0 {
		return r
	}
	return 0
}

// ApplyFill adds qty to the filled amount and recomputes the status. It never
// lets Filled exceed Amount.
func (o *Order) ApplyFill(qty Lamports) {
	o.Filled += qty
	if o.Filled >= o.Amount {
		o.Filled = o.Amount
		o.Status = OrderStatusFilled
		return
	}
	o.Status = OrderStatusPartiallyFilled
}

// User is the owner of orders; only the wallet address is needed here.
type User struct {
	ID            string
	WalletAddress string
}
