package solanachain

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

// On-chain PositionStatus enum variants, in declaration order. Only Active,
// Settled and the health variants occur for band positions.
const (
	positionStatusActive uint8 = iota
	positionStatusHealthy
	positionStatusWarning
	positionStatusLiquidationRisk
	positionStatusSettled
	positionStatusLiquidated
)

// SettlementData is the settlement record of a position account.
type SettlementData struct {
	SettlementTime   int64
	SettlementPrice  uint64
	PayoutPercentage uint8
}

// PositionState mirrors the vault program's position account. The field order
// is the program's PositionState with the band fields (position type, bounds,
// amount) passed to create_position in place of the leveraged ones.
type PositionState struct {
	Discriminator [8]byte
	User          solana.PublicKey
	OrderID       uint64
	Status        uint8
	PositionType  uint8
	LowerBound    uint64
	UpperBound    uint64
	Amount        uint64
	EntryPrice    uint64
	CreatedAt     int64
	Settlement    *SettlementData `bin:"optional"`
	IsClaimed     bool
	Bump          uint8
}

// TradingPool mirrors the vault program's pool account.
type TradingPool struct {
	Discriminator     [8]byte
	Authority         solana.PublicKey
	TotalActiveAmount uint64
	TotalPoolAmount   uint64
	Bump              uint8
	VaultBump         uint8
}

var (
	errWrongDiscriminator = errors.New("account discriminator mismatch")
	errUnexpectedStatus   = errors.New("unexpected position status")
	errPositionMismatch   = errors.New("position account does not belong to order")
)

// DecodePositionState decodes a position account's data.
func DecodePositionState(data []byte) (PositionState, error) {
	var ps PositionState
	if err := bin.NewBorshDecoder(data).Decode(&ps); err != nil {
		return PositionState{}, fmt.Errorf("solana: decode position: %w", err)
	}
	if !bytes.Equal(ps.Discriminator[:], discPositionState[:]) {
		return PositionState{}, fmt.Errorf("solana: decode position: %w", errWrongDiscriminator)
	}
	if ps.Status > positionStatusSettled {
		return PositionState{}, fmt.Errorf("solana: decode position: %w %d", errUnexpectedStatus, ps.Status)
	}
	return ps, nil
}

// DecodeTradingPool decodes the trading pool account's data.
func DecodeTradingPool(data []byte) (TradingPool, error) {
	var tp TradingPool
	if err := bin.NewBorshDecoder(data).Decode(&tp); err != nil {
		return TradingPool{}, fmt.Errorf("solana: decode trading pool: %w", err)
	}
	if !bytes.Equal(tp.Discriminator[:], discTradingPool[:]) {
		return TradingPool{}, fmt.Errorf("solana: decode trading pool: %w", errWrongDiscriminator)
	}
	return tp, nil
}

// OnChainStatus maps the enum variant and claim flag to the domain status.
// The health variants are still open positions.
func (ps PositionState) OnChainStatus() domain.OnChainStatus {
	switch {
	case ps.Status == positionStatusSettled && ps.IsClaimed:
		return domain.OnChainClaimed
	case ps.Status == positionStatusSettled:
		return domain.OnChainSettled
	default:
		return domain.OnChainActive
	}
}

// Belongs reports whether the account is the position of owner's order.
func (ps PositionState) Belongs(owner solana.PublicKey, orderID uint64) bool {
	return ps.User.Equals(owner) && ps.OrderID == orderID
}

// DomainSettlement converts the settlement record, or returns nil when the
// position has not settled.
func (ps PositionState) DomainSettlement() *domain.OnChainSettlement {
	if ps.Settlement == nil {
		return nil
	}
	return &domain.OnChainSettlement{
		Time:             time.Unix(ps.Settlement.SettlementTime, 0).UTC(),
		RawPrice:         ps.Settlement.SettlementPrice,
		PayoutPercentage: int(ps.Settlement.PayoutPercentage),
	}
}
