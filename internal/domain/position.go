package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the on-chain position type.
type Direction uint8

const (
	DirectionStayIn   Direction = 0
	DirectionBreakout Direction = 1
)

func (d Direction) String() string {
	if d == DirectionBreakout {
		return "breakout"
	}
	return "stay_in"
}

// PositionStatus tracks ACTIVE -> SETTLED -> CLAIMED.
type PositionStatus string

const (
	PositionStatusActive  PositionStatus = "ACTIVE"
	PositionStatusSettled PositionStatus = "SETTLED"
	PositionStatusClaimed PositionStatus = "CLAIMED"
)

// Position mirrors one on-chain collateralized position account. It is keyed
// by (UserPublicKey, OrderID); OnChainAddress is derived from that pair.
type Position struct {
	ID              int64
	UserPublicKey   string
	OrderID         int64
	OnChainAddress  string
	TxSignature     string
	Amount          Lamports
	LowerBound      *decimal.Decimal
	UpperBound      *decimal.Decimal
	Type            Direction
	PriceAtCreation decimal.Decimal
	Status          PositionStatus
	Settlement      *Settlement
	ClaimedAt       *time.Time
	CreatedAt       time.Time
}

// Settlement is the oracle outcome saved when a position settles.
type Settlement struct {
	Time             time.Time
	Price            decimal.Decimal
	PayoutPercentage int
	PayoutAmount     Lamports
}

// Winner reports whether the position owner is on the winning side.
func (s Settlement) Winner() bool {
	return s.PayoutPercentage > 100
}

// Payout returns amount * pct / 100, truncated to whole lamports.
func Payout(amount Lamports, pct int) Lamports {
	d := decimal.NewFromInt(int64(amount)).Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100))
	return Lamports(d.Truncate(0).IntPart())
}
