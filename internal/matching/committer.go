package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/rangebet/internal/domain"
	"github.com/alanyoungcy/rangebet/internal/events"
	"github.com/alanyoungcy/rangebet/internal/metrics"
)

// CommitStatus is the outcome of committing one leg.
type CommitStatus int

const (
	CommitFailed CommitStatus = iota
	CommitCreated
	CommitAlreadyExists
)

func (s CommitStatus) String() string {
	switch s {
	case CommitCreated:
		return "created"
	case CommitAlreadyExists:
		return "already_exists"
	default:
		return "failed"
	}
}

// CommitResult reports one leg.
type CommitResult struct {
	Status    CommitStatus
	Address   string
	Signature string
	Err       error
}

// OK reports whether the leg's position exists after the commit.
func (r CommitResult) OK() bool {
	return r.Status == CommitCreated || r.Status == CommitAlreadyExists
}

// ErrUnresolvableOwner marks an order whose owner wallet or position address
// cannot be determined from stored data. Retrying does not help.
var ErrUnresolvableOwner = errors.New("order owner cannot be resolved")

// Owner is the wallet behind an order and the position account it maps to.
type Owner struct {
	Wallet  string
	Address string
}

// Leg is one side of a match, sized and priced. Owner is resolved by Commit
// when left empty.
type Leg struct {
	Order  domain.Order
	Owner  Owner
	Band   domain.Band
	Amount domain.Lamports
	Update domain.PriceUpdate
}

// Committer turns a leg into exactly one on-chain position and one store row.
type Committer struct {
	users     domain.UserStore
	positions domain.PositionStore
	vault     domain.Vault
	events    *events.Emitter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewCommitter creates a Committer.
func NewCommitter(
	users domain.UserStore,
	positions domain.PositionStore,
	vault domain.Vault,
	emitter *events.Emitter,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Committer {
	return &Committer{
		users:     users,
		positions: positions,
		vault:     vault,
		events:    emitter,
		metrics:   m,
		logger:    logger.With(slog.String("component", "committer")),
	}
}

// Commit creates the position for leg unless the store or the chain already
// has it. The two probes are independent because either side can lag the
// other after a partial failure.
func (c *Committer) Commit(ctx context.Context, leg Leg) CommitResult {
	res := c.commit(ctx, leg)
	c.metrics.Commit(res.Status.String())
	if res.Err != nil {
		c.logger.ErrorContext(ctx, "position commit failed",
			slog.Int64("order_id", leg.Order.ID),
			slog.String("side", string(leg.Order.Side)),
			slog.String("error", res.Err.Error()),
		)
	}
	return res
}

// Resolve looks up the order's owner wallet and derives its position address
// without touching the chain. A missing user or an invalid wallet wraps
// ErrUnresolvableOwner.
func (c *Committer) Resolve(ctx context.Context, o domain.Order) (Owner, error) {
	user, err := c.users.GetByID(ctx, o.UserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return Owner{}, fmt.Errorf("matching: resolve owner of order %d: %w: %w", o.ID, ErrUnresolvableOwner, err)
	}
	if err != nil {
		return Owner{}, fmt.Errorf("matching: resolve owner of order %d: %w", o.ID, err)
	}

	addr, err := c.vault.PositionAddress(user.WalletAddress, o.ID)
	if err != nil {
		return Owner{}, fmt.Errorf("matching: derive position for order %d: %w: %w", o.ID, ErrUnresolvableOwner, err)
	}
	return Owner{Wallet: user.WalletAddress, Address: addr}, nil
}

func (c *Committer) commit(ctx context.Context, leg Leg) CommitResult {
	owner := leg.Owner
	if owner.Wallet == "" {
		var err error
		if owner, err = c.Resolve(ctx, leg.Order); err != nil {
			return CommitResult{Err: err}
		}
	}
	wallet, addr := owner.Wallet, owner.Address

	existing, err := c.positions.FindByOwnerOrder(ctx, wallet, leg.Order.ID)
	switch {
	case err == nil:
		c.logger.DebugContext(ctx, "position already recorded",
			slog.Int64("order_id", leg.Order.ID),
			slog.String("position", existing.OnChainAddress),
		)
		return CommitResult{Status: CommitAlreadyExists, Address: addr, Signature: existing.TxSignature}
	case !errors.Is(err, domain.ErrNotFound):
		c.logger.WarnContext(ctx, "store probe failed, checking chain",
			slog.Int64("order_id", leg.Order.ID),
			slog.String("error", err.Error()),
		)
	}

	onChain, err := c.vault.AccountExists(ctx, addr)
	if err != nil {
		c.logger.WarnContext(ctx, "chain probe failed, submitting anyway",
			slog.Int64("order_id", leg.Order.ID),
			slog.String("position", addr),
			slog.String("error", err.Error()),
		)
	}
	if onChain {
		return c.backfill(ctx, leg, wallet, addr, "")
	}

	sig, err := c.vault.CreatePosition(ctx, domain.CreatePositionParams{
		Owner:     wallet,
		OrderID:   leg.Order.ID,
		Direction: leg.Order.Side.Direction(),
		LowerRaw:  leg.Band.LowerRaw,
		UpperRaw:  leg.Band.UpperRaw,
		Amount:    leg.Amount,
		Update:    leg.Update,
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		c.logger.InfoContext(ctx, "position account already in use",
			slog.Int64("order_id", leg.Order.ID),
			slog.String("position", addr),
		)
		return c.backfill(ctx, leg, wallet, addr, "")
	}
	if err != nil {
		return CommitResult{Address: addr, Err: fmt.Errorf("matching: create position for order %d: %w", leg.Order.ID, err)}
	}

	// The account exists now. If the row cannot be written the leg still
	// reports failure so the pair is retried and the chain probe backfills it.
	pos := c.row(leg, wallet, addr, sig)
	if err := c.positions.Create(ctx, pos); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return CommitResult{Address: addr, Signature: sig, Err: fmt.Errorf("matching: record position for order %d: %w", leg.Order.ID, err)}
	}

	c.events.Emit(ctx, domain.EventPositionCreated, map[string]any{
		"order_id":  leg.Order.ID,
		"owner":     wallet,
		"position":  addr,
		"signature": sig,
		"direction": pos.Type.String(),
		"amount":    leg.Amount.String(),
		"lower":     leg.Band.Lower.String(),
		"upper":     leg.Band.Upper.String(),
	})
	return CommitResult{Status: CommitCreated, Address: addr, Signature: sig}
}

// backfill records a store row for a position that exists on-chain only.
func (c *Committer) backfill(ctx context.Context, leg Leg, wallet, addr, sig string) CommitResult {
	err := c.positions.Create(ctx, c.row(leg, wallet, addr, sig))
	switch {
	case err == nil:
		c.logger.InfoContext(ctx, "backfilled position row",
			slog.Int64("order_id", leg.Order.ID),
			slog.String("position", addr),
		)
	case errors.Is(err, domain.ErrAlreadyExists):
	default:
		return CommitResult{Address: addr, Err: fmt.Errorf("matching: backfill position for order %d: %w", leg.Order.ID, err)}
	}
	return CommitResult{Status: CommitAlreadyExists, Address: addr, Signature: sig}
}

func (c *Committer) row(leg Leg, wallet, addr, sig string) domain.Position {
	lower, upper := leg.Band.Lower, leg.Band.Upper
	return domain.Position{
		UserPublicKey:   wallet,
		OrderID:         leg.Order.ID,
		OnChainAddress:  addr,
		TxSignature:     sig,
		Amount:          leg.Amount,
		LowerBound:      &lower,
		UpperBound:      &upper,
		Type:            leg.Order.Side.Direction(),
		PriceAtCreation: leg.Update.Quote.Price(),
		Status:          domain.PositionStatusActive,
	}
}
