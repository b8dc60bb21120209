package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

var btcQuote = domain.Quote{Raw: 10_000_000_000_000, Expo: -8, PublishTime: time.Unix(1_700_000_000, 0)}

type harness struct {
	orders    *memOrders
	trades    *memTrades
	positions *memPositions
	vault     *fakeVault
	oracle    *fakeOracle
	committer *Committer
	svc       *Service
}

func newHarness(minTrade domain.Lamports, orders ...domain.Order) *harness {
	h := &harness{
		orders:    newMemOrders(orders...),
		trades:    &memTrades{},
		positions: newMemPositions(),
		vault:     newFakeVault(),
		oracle:    &fakeOracle{quote: btcQuote},
	}
	users := memUsers{
		"alice": {ID: "alice", WalletAddress: "AliceWallet"},
		"bob":   {ID: "bob", WalletAddress: "BobWallet"},
		"carol": {ID: "carol", WalletAddress: "CarolWallet"},
	}
	h.committer = NewCommitter(users, h.positions, h.vault, nil, nil, discardLogger())
	h.svc = NewService(h.orders, h.trades, h.oracle, h.committer, minTrade, nil, nil, discardLogger())
	h.svc.now = func() time.Time { return time.Unix(1_700_000_100, 0) }
	return h
}

func TestCyclePartialFillScenario(t *testing.T) {
	h := newHarness(sol("0.1"),
		order(1, "alice", domain.OrderSideLong, 150, "0.15"),
		order(2, "bob", domain.OrderSideShort, 150, "0.10"),
	)

	report, err := h.svc.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Trades)
	assert.Equal(t, sol("0.10"), report.Volume)

	require.Len(t, h.trades.trades, 1)
	tr := h.trades.trades[0]
	assert.Equal(t, int64(2), tr.StayInOrderID)
	assert.Equal(t, int64(1), tr.BreakOutOrderID)
	assert.Equal(t, sol("0.10"), tr.Amount)
	assert.Equal(t, domain.Points(150), tr.Points)
	assert.Equal(t, "100000", tr.ExecutionPrice.String())

	long, _ := h.orders.GetByID(context.Background(), 1)
	short, _ := h.orders.GetByID(context.Background(), 2)
	assert.Equal(t, sol("0.10"), long.Filled)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, long.Status)
	assert.Equal(t, sol("0.10"), short.Filled)
	assert.Equal(t, domain.OrderStatusFilled, short.Status)

	assert.Equal(t, 2, h.positions.count())
}

func TestCycleLegsShareBand(t *testing.T) {
	h := newHarness(sol("0.2"),
		order(1, "alice", domain.OrderSideLong, 200, "1"),
		order(2, "bob", domain.OrderSideShort, 200, "1"),
	)

	_, err := h.svc.Cycle(context.Background())
	require.NoError(t, err)

	require.Len(t, h.vault.created, 2)
	a, b := h.vault.created[0], h.vault.created[1]
	assert.Equal(t, a.LowerRaw, b.LowerRaw)
	assert.Equal(t, a.UpperRaw, b.UpperRaw)
	assert.Equal(t, a.Update.Payload, b.Update.Payload)
	assert.Equal(t, int64(9_800_000_000_000), a.LowerRaw)
	assert.Equal(t, int64(10_200_000_000_000), a.UpperRaw)
	assert.Equal(t, 1, h.oracle.calls)

	dirs := map[string]domain.Direction{a.Owner: a.Direction, b.Owner: b.Direction}
	assert.Equal(t, domain.DirectionBreakout, dirs["AliceWallet"])
	assert.Equal(t, domain.DirectionStayIn, dirs["BobWallet"])

	row, err := h.positions.FindByOwnerOrder(context.Background(), "AliceWallet", 1)
	require.NoError(t, err)
	assert.Equal(t, "98000", row.LowerBound.String())
	assert.Equal(t, "102000", row.UpperBound.String())
	assert.Equal(t, "100000", row.PriceAtCreation.String())
	assert.Equal(t, domain.PositionStatusActive, row.Status)
}

func TestCycleDefersPairWhenLegFails(t *testing.T) {
	h := newHarness(sol("0.2"),
		order(1, "alice", domain.OrderSideLong, 100, "0.5"),
		order(2, "bob", domain.OrderSideShort, 100, "0.5"),
	)
	h.vault.failFor["BobWallet"] = errors.New("rpc timeout")

	report, err := h.svc.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deferred)
	assert.Empty(t, h.trades.trades)
	assert.Empty(t, h.orders.fills)
	assert.Equal(t, 1, h.positions.count())

	// The next cycle recognises alice's leg and completes bob's.
	delete(h.vault.failFor, "BobWallet")
	report, err = h.svc.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Trades)
	assert.Equal(t, 2, h.vault.createdCount())
	assert.Equal(t, 2, h.positions.count())
}

func TestCycleSkipsLongWithUnknownOwner(t *testing.T) {
	h := newHarness(sol("0.2"),
		order(1, "ghost", domain.OrderSideLong, 100, "1"),
		order(2, "alice", domain.OrderSideShort, 100, "0.3"),
		order(3, "bob", domain.OrderSideShort, 100, "0.3"),
		order(4, "carol", domain.OrderSideShort, 100, "0.3"),
		order(5, "bob", domain.OrderSideLong, 100, "0.3"),
	)

	report, err := h.svc.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Deferred)
	assert.Equal(t, 1, report.Trades)

	// Only the pair with two known owners reached the chain.
	assert.ElementsMatch(t, []string{"BobWallet", "AliceWallet"}, h.vault.owners())
	assert.Equal(t, 1, h.oracle.calls)
	assert.Equal(t, 2, h.positions.count())
	require.Len(t, h.trades.trades, 1)
	assert.Equal(t, int64(2), h.trades.trades[0].StayInOrderID)
	assert.Equal(t, int64(5), h.trades.trades[0].BreakOutOrderID)

	_, err = h.positions.FindByOwnerOrder(context.Background(), "BobWallet", 3)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.positions.FindByOwnerOrder(context.Background(), "CarolWallet", 4)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCycleSkipsShortWithUnknownOwner(t *testing.T) {
	h := newHarness(sol("0.2"),
		order(1, "alice", domain.OrderSideLong, 100, "0.6"),
		order(2, "ghost", domain.OrderSideShort, 100, "0.3"),
		order(3, "bob", domain.OrderSideShort, 100, "0.3"),
	)

	report, err := h.svc.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Trades)
	assert.ElementsMatch(t, []string{"AliceWallet", "BobWallet"}, h.vault.owners())

	long, _ := h.orders.GetByID(context.Background(), 1)
	ghost, _ := h.orders.GetByID(context.Background(), 2)
	assert.Equal(t, sol("0.3"), long.Filled)
	assert.Zero(t, ghost.Filled)
	assert.Equal(t, domain.OrderStatusOpen, ghost.Status)
}

func TestCyclePersistsTradesWhenCancelled(t *testing.T) {
	h := newHarness(sol("0.2"),
		order(1, "alice", domain.OrderSideLong, 100, "1"),
		order(2, "bob", domain.OrderSideShort, 100, "0.5"),
		order(3, "carol", domain.OrderSideShort, 100, "0.5"),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.oracle.onCall = cancel

	report, err := h.svc.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Trades)
	assert.Equal(t, 1, h.oracle.calls, "no new pair starts after cancellation")

	require.Len(t, h.trades.trades, 1)
	assert.Equal(t, sol("0.5"), h.trades.trades[0].Amount)

	long, _ := h.orders.GetByID(context.Background(), 1)
	short, _ := h.orders.GetByID(context.Background(), 2)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, long.Status)
	assert.Equal(t, domain.OrderStatusFilled, short.Status)
	assert.Equal(t, 2, h.positions.count())
}

func TestCycleAbandonsBucketOnOracleFailure(t *testing.T) {
	h := newHarness(sol("0.2"),
		order(1, "alice", domain.OrderSideLong, 100, "0.5"),
		order(2, "bob", domain.OrderSideShort, 100, "0.5"),
		order(3, "carol", domain.OrderSideShort, 100, "0.5"),
	)
	h.oracle.err = domain.ErrPriceUnavailable

	report, err := h.svc.Cycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Trades)
	assert.Equal(t, 1, h.oracle.calls)
	assert.Zero(t, h.vault.createdCount())
}

func TestCycleReturnsListError(t *testing.T) {
	h := newHarness(sol("0.2"))
	h.orders.listErr = errors.New("db down")
	_, err := h.svc.Cycle(context.Background())
	assert.Error(t, err)
}

func TestCycleReturnsTradeInsertError(t *testing.T) {
	h := newHarness(sol("0.2"),
		order(1, "alice", domain.OrderSideLong, 100, "0.5"),
		order(2, "bob", domain.OrderSideShort, 100, "0.5"),
	)
	h.trades.err = errors.New("db down")
	_, err := h.svc.Cycle(context.Background())
	assert.Error(t, err)
}

func TestCommitIsIdempotent(t *testing.T) {
	h := newHarness(sol("0.2"))
	leg := Leg{
		Order:  order(7, "alice", domain.OrderSideShort, 100, "1"),
		Band:   domain.BandFor(btcQuote, 100),
		Amount: sol("1"),
		Update: domain.PriceUpdate{Quote: btcQuote},
	}

	first := h.committer.Commit(context.Background(), leg)
	second := h.committer.Commit(context.Background(), leg)

	assert.Equal(t, CommitCreated, first.Status)
	assert.Equal(t, "sig-1", first.Signature)
	assert.Equal(t, CommitAlreadyExists, second.Status)
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, 1, h.vault.createdCount())
	assert.Equal(t, 1, h.positions.count())
}

func TestCommitBackfillsChainOnlyPosition(t *testing.T) {
	h := newHarness(sol("0.2"))
	h.vault.accounts["pda:AliceWallet/7"] = true
	leg := Leg{
		Order:  order(7, "alice", domain.OrderSideLong, 100, "1"),
		Band:   domain.BandFor(btcQuote, 100),
		Amount: sol("1"),
		Update: domain.PriceUpdate{Quote: btcQuote},
	}

	res := h.committer.Commit(context.Background(), leg)
	assert.Equal(t, CommitAlreadyExists, res.Status)
	assert.Zero(t, h.vault.createdCount())

	row, err := h.positions.FindByOwnerOrder(context.Background(), "AliceWallet", 7)
	require.NoError(t, err)
	assert.Equal(t, "pda:AliceWallet/7", row.OnChainAddress)
	assert.Equal(t, domain.DirectionBreakout, row.Type)
}

func TestCommitTreatsAccountInUseAsExisting(t *testing.T) {
	h := newHarness(sol("0.2"))
	h.vault.failFor["AliceWallet"] = errors.Join(errors.New("custom program error: 0x0"), domain.ErrAlreadyExists)
	leg := Leg{
		Order:  order(8, "alice", domain.OrderSideLong, 100, "1"),
		Band:   domain.BandFor(btcQuote, 100),
		Amount: sol("1"),
		Update: domain.PriceUpdate{Quote: btcQuote},
	}

	res := h.committer.Commit(context.Background(), leg)
	assert.True(t, res.OK())
	assert.Equal(t, CommitAlreadyExists, res.Status)
	assert.Equal(t, 1, h.positions.count())
}

func TestCommitFailsForUnknownUser(t *testing.T) {
	h := newHarness(sol("0.2"))
	res := h.committer.Commit(context.Background(), Leg{
		Order:  order(9, "mallory", domain.OrderSideLong, 100, "1"),
		Amount: sol("1"),
	})
	assert.Equal(t, CommitFailed, res.Status)
	assert.ErrorIs(t, res.Err, domain.ErrUserNotFound)
	assert.ErrorIs(t, res.Err, ErrUnresolvableOwner)
	assert.Zero(t, h.vault.createdCount())
}

func TestResolveOwner(t *testing.T) {
	h := newHarness(sol("0.2"))
	owner, err := h.committer.Resolve(context.Background(), order(7, "alice", domain.OrderSideLong, 100, "1"))
	require.NoError(t, err)
	assert.Equal(t, Owner{Wallet: "AliceWallet", Address: "pda:AliceWallet/7"}, owner)

	_, err = h.committer.Resolve(context.Background(), order(8, "ghost", domain.OrderSideLong, 100, "1"))
	assert.ErrorIs(t, err, ErrUnresolvableOwner)
}
