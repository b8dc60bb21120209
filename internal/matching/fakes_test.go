package matching

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fill struct {
	ID     int64
	Filled domain.Lamports
	Status domain.OrderStatus
}

type memOrders struct {
	mu      sync.Mutex
	orders  map[int64]domain.Order
	fills   []fill
	listErr error
}

func newMemOrders(orders ...domain.Order) *memOrders {
	m := &memOrders{orders: make(map[int64]domain.Order)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memOrders) ListMatchable(context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Order
	for _, o := range m.orders {
		if o.Status.Matchable() && o.Remaining() > 0 {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return int(a.ID - b.ID) })
	return out, nil
}

func (m *memOrders) UpdateFill(ctx context.Context, id int64, filled domain.Lamports, status domain.OrderStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status == domain.OrderStatusCancelled {
		return domain.ErrNotFound
	}
	o.Filled = filled
	o.Status = status
	m.orders[id] = o
	m.fills = append(m.fills, fill{ID: id, Filled: filled, Status: status})
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id int64) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

type memTrades struct {
	trades []domain.Trade
	err    error
}

func (m *memTrades) InsertBatch(ctx context.Context, trades []domain.Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.err != nil {
		return m.err
	}
	m.trades = append(m.trades, trades...)
	return nil
}

func (m *memTrades) ListBefore(context.Context, time.Time) ([]domain.Trade, error) {
	return m.trades, nil
}

type memUsers map[string]domain.User

func (m memUsers) GetByID(_ context.Context, id string) (domain.User, error) {
	u, ok := m[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

type memPositions struct {
	mu   sync.Mutex
	rows map[string]domain.Position
}

func newMemPositions() *memPositions {
	return &memPositions{rows: make(map[string]domain.Position)}
}

func posKey(owner string, orderID int64) string { return fmt.Sprintf("%s/%d", owner, orderID) }

func (m *memPositions) Create(_ context.Context, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := posKey(pos.UserPublicKey, pos.OrderID)
	if _, ok := m.rows[k]; ok {
		return domain.ErrAlreadyExists
	}
	pos.ID = int64(len(m.rows) + 1)
	m.rows[k] = pos
	return nil
}

func (m *memPositions) FindByOwnerOrder(_ context.Context, owner string, orderID int64) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[posKey(owner, orderID)]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memPositions) ListActive(context.Context) ([]domain.Position, error) { return nil, nil }

func (m *memPositions) Settle(context.Context, int64, domain.Settlement) error { return nil }

func (m *memPositions) ListClosedBefore(context.Context, time.Time) ([]domain.Position, error) {
	return nil, nil
}

func (m *memPositions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// fakeVault keeps accounts in memory and rejects a second create for the same
// address the way the system program does.
type fakeVault struct {
	mu       sync.Mutex
	accounts map[string]bool
	created  []domain.CreatePositionParams
	failFor  map[string]error
	seq      int
}

func newFakeVault() *fakeVault {
	return &fakeVault{accounts: make(map[string]bool), failFor: make(map[string]error)}
}

func (v *fakeVault) PositionAddress(owner string, orderID int64) (string, error) {
	return "pda:" + posKey(owner, orderID), nil
}

func (v *fakeVault) AccountExists(_ context.Context, address string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.accounts[address], nil
}

func (v *fakeVault) CreatePosition(_ context.Context, p domain.CreatePositionParams) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.failFor[p.Owner]; err != nil {
		return "", err
	}
	addr := "pda:" + posKey(p.Owner, p.OrderID)
	if v.accounts[addr] {
		return "", fmt.Errorf("simulate: %w", domain.ErrAlreadyExists)
	}
	v.accounts[addr] = true
	v.created = append(v.created, p)
	v.seq++
	return fmt.Sprintf("sig-%d", v.seq), nil
}

func (v *fakeVault) CheckSettlement(context.Context, string, int64, domain.PriceUpdate) (domain.SettlementCheck, error) {
	return domain.SettlementCheck{}, nil
}

func (v *fakeVault) owners() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.created))
	for _, p := range v.created {
		out = append(out, p.Owner)
	}
	return out
}

func (v *fakeVault) createdCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.created)
}

type fakeOracle struct {
	quote  domain.Quote
	err    error
	calls  int
	onCall func()
}

func (o *fakeOracle) Latest(context.Context) (domain.PriceUpdate, error) {
	o.calls++
	if o.onCall != nil {
		o.onCall()
	}
	if o.err != nil {
		return domain.PriceUpdate{}, o.err
	}
	return domain.PriceUpdate{
		FeedID:  "0xfeed",
		Quote:   o.quote,
		Payload: []byte(fmt.Sprintf("update-%d", o.calls)),
	}, nil
}

func sol(s string) domain.Lamports {
	l, err := domain.ParseLamports(s)
	if err != nil {
		panic(err)
	}
	return l
}

func order(id int64, user string, side domain.OrderSide, points domain.Points, amount string) domain.Order {
	return domain.Order{
		ID:     id,
		UserID: user,
		Side:   side,
		Points: points,
		Amount: sol(amount),
		Status: domain.OrderStatusOpen,
	}
}
