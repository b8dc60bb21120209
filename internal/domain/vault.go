package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// CreatePositionParams are the arguments of the vault's create_position
// instruction for one matched leg.
type CreatePositionParams struct {
	Owner     string
	OrderID   int64
	Direction Direction
	LowerRaw  int64
	UpperRaw  int64
	Amount    Lamports
	Update    PriceUpdate
}

// OnChainStatus is the status read back from a position account.
type OnChainStatus string

const (
	OnChainActive  OnChainStatus = "active"
	OnChainSettled OnChainStatus = "settled"
	OnChainClaimed OnChainStatus = "claimed"
)

// OnChainSettlement is the settlement record written by the vault program.
type OnChainSettlement struct {
	Time             time.Time
	RawPrice         uint64
	PayoutPercentage int
}

// Price converts the raw settlement price using the given exponent.
func (s OnChainSettlement) Price(expo int32) decimal.Decimal {
	return decimal.New(int64(s.RawPrice), expo)
}

// SettlementCheck is the result of a check_position call.
type SettlementCheck struct {
	Signature  string
	Status     OnChainStatus
	Settlement *OnChainSettlement
}

// Vault is the on-chain position program as seen by the matching and
// settlement core.
type Vault interface {
	// PositionAddress derives the deterministic position account for
	// (owner, orderID).
	PositionAddress(owner string, orderID int64) (string, error)
	// AccountExists probes the chain for an account.
	AccountExists(ctx context.Context, address string) (bool, error)
	// CreatePosition posts the price update and creates the position in one
	// transaction. It returns ErrAlreadyExists when the account is in use.
	CreatePosition(ctx context.Context, p CreatePositionParams) (string, error)
	// CheckSettlement posts the price update, runs the settlement check and
	// reads the resulting account state.
	CheckSettlement(ctx context.Context, owner string, orderID int64, update PriceUpdate) (SettlementCheck, error)
}
