package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/rangebet/internal/domain"
	"github.com/alanyoungcy/rangebet/internal/events"
	"github.com/alanyoungcy/rangebet/internal/metrics"
)

// Service runs matching cycles: it reads matchable orders, sweeps every
// points bucket and commits each viable pair.
type Service struct {
	orders    domain.OrderStore
	trades    domain.TradeStore
	oracle    domain.Oracle
	committer *Committer
	minTrade  domain.Lamports
	events    *events.Emitter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a matching Service. Pairs smaller than minTrade are
// never executed.
func NewService(
	orders domain.OrderStore,
	trades domain.TradeStore,
	oracle domain.Oracle,
	committer *Committer,
	minTrade domain.Lamports,
	emitter *events.Emitter,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		orders:    orders,
		trades:    trades,
		oracle:    oracle,
		committer: committer,
		minTrade:  minTrade,
		events:    emitter,
		metrics:   m,
		logger:    logger.With(slog.String("component", "matching")),
		now:       time.Now,
	}
}

// persistTimeout bounds writes that must finish once positions exist on-chain,
// even after the cycle's context is cancelled.
const persistTimeout = 10 * time.Second

// CycleReport summarises one cycle.
type CycleReport struct {
	Orders   int
	Buckets  int
	Trades   int
	Deferred int
	Skipped  int
	Volume   domain.Lamports
}

// RunCycle runs one cycle. Per-pair failures are logged and left for the next
// cycle; only failures to read orders or write trades are returned.
func (s *Service) RunCycle(ctx context.Context) error {
	_, err := s.Cycle(ctx)
	return err
}

// Cycle runs one cycle and reports what it did.
func (s *Service) Cycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport

	orders, err := s.orders.ListMatchable(ctx)
	if err != nil {
		return report, fmt.Errorf("matching: list orders: %w", err)
	}
	report.Orders = len(orders)

	buckets := GroupByPoints(orders)
	report.Buckets = len(buckets)

	var trades []domain.Trade
	for _, b := range buckets {
		if ctx.Err() != nil {
			break
		}
		Sweep(b, s.minTrade, func(m Match) Outcome {
			return s.execute(ctx, m, &report, &trades)
		})
	}

	if len(trades) > 0 {
		// Fills are already saved, so the trades are written even when the
		// cycle is being shut down.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := s.trades.InsertBatch(pctx, trades); err != nil {
			return report, fmt.Errorf("matching: insert %d trades: %w", len(trades), err)
		}
		for _, t := range trades {
			s.events.Emit(pctx, domain.EventTradeMatched, map[string]any{
				"stay_in_order_id":   t.StayInOrderID,
				"break_out_order_id": t.BreakOutOrderID,
				"points":             t.Points.String(),
				"amount":             t.Amount.String(),
				"execution_price":    t.ExecutionPrice.String(),
			})
		}
		s.events.Notify(pctx, domain.EventTradeMatched, "Trades matched",
			fmt.Sprintf("%d trade(s), %s SOL matched", len(trades), report.Volume))
	}

	s.logger.InfoContext(ctx, "matching cycle complete",
		slog.Int("orders", report.Orders),
		slog.Int("buckets", report.Buckets),
		slog.Int("trades", report.Trades),
		slog.Int("deferred", report.Deferred),
		slog.Int("skipped", report.Skipped),
		slog.String("volume_sol", report.Volume.String()),
	)
	return report, nil
}

// execute resolves both owners, prices the match, commits both legs
// concurrently and applies the fill only when both positions exist. Nothing is
// sent on-chain unless both owners resolve.
func (s *Service) execute(ctx context.Context, m Match, report *CycleReport, trades *[]domain.Trade) Outcome {
	if ctx.Err() != nil {
		return Abandon
	}

	longOwner, errLong := s.committer.Resolve(ctx, *m.Long)
	shortOwner, errShort := s.committer.Resolve(ctx, *m.Short)
	switch {
	case errors.Is(errShort, ErrUnresolvableOwner):
		return s.skip(ctx, m.Short, errShort, report, SkipShort)
	case errors.Is(errLong, ErrUnresolvableOwner):
		return s.skip(ctx, m.Long, errLong, report, SkipLong)
	case errLong != nil || errShort != nil:
		report.Deferred++
		s.metrics.PairDeferred()
		s.logger.WarnContext(ctx, "owner lookup failed, pair deferred",
			slog.Int64("long_order_id", m.Long.ID),
			slog.Int64("short_order_id", m.Short.ID),
			slog.String("error", errors.Join(errLong, errShort).Error()),
		)
		return Deferred
	}

	update, err := s.oracle.Latest(ctx)
	if err != nil {
		s.metrics.OracleError()
		s.logger.WarnContext(ctx, "oracle unavailable, abandoning bucket",
			slog.String("points", m.Points.String()),
			slog.String("error", err.Error()),
		)
		return Abandon
	}
	band := domain.BandFor(update.Quote, m.Points)

	var long, short CommitResult
	var g errgroup.Group
	g.Go(func() error {
		long = s.committer.Commit(ctx, Leg{Order: *m.Long, Owner: longOwner, Band: band, Amount: m.Amount, Update: update})
		return nil
	})
	g.Go(func() error {
		short = s.committer.Commit(ctx, Leg{Order: *m.Short, Owner: shortOwner, Band: band, Amount: m.Amount, Update: update})
		return nil
	})
	_ = g.Wait()

	if !long.OK() || !short.OK() {
		report.Deferred++
		s.metrics.PairDeferred()
		s.logger.WarnContext(ctx, "pair deferred",
			slog.Int64("long_order_id", m.Long.ID),
			slog.Int64("short_order_id", m.Short.ID),
			slog.String("long", long.Status.String()),
			slog.String("short", short.Status.String()),
		)
		return Deferred
	}

	m.Apply()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	errLong = s.orders.UpdateFill(pctx, m.Long.ID, m.Long.Filled, m.Long.Status)
	errShort = s.orders.UpdateFill(pctx, m.Short.ID, m.Short.Filled, m.Short.Status)
	if err := errors.Join(errLong, errShort); err != nil {
		// Positions exist, so the next cycle recovers the fill through the
		// existence probes. No trade is recorded for this attempt.
		s.logger.ErrorContext(ctx, "persist fills failed",
			slog.Int64("long_order_id", m.Long.ID),
			slog.Int64("short_order_id", m.Short.ID),
			slog.String("error", err.Error()),
		)
		return Applied
	}

	*trades = append(*trades, domain.Trade{
		StayInOrderID:   m.Short.ID,
		BreakOutOrderID: m.Long.ID,
		Points:          m.Points,
		Amount:          m.Amount,
		ExecutedAt:      s.now().UTC(),
		ExecutionPrice:  update.Quote.Price(),
	})
	report.Trades++
	report.Volume += m.Amount
	s.metrics.TradeRecorded(int64(m.Amount))

	s.logger.InfoContext(ctx, "orders matched",
		slog.String("points", m.Points.String()),
		slog.Int64("long_order_id", m.Long.ID),
		slog.Int64("short_order_id", m.Short.ID),
		slog.String("amount_sol", m.Amount.String()),
		slog.Int64("lower_raw", band.LowerRaw),
		slog.Int64("upper_raw", band.UpperRaw),
		slog.String("long_status", string(m.Long.Status)),
		slog.String("short_status", string(m.Short.Status)),
	)
	return Applied
}

// skip drops an order whose owner cannot be resolved from the rest of the
// sweep. No oracle call or transaction is made for the pair.
func (s *Service) skip(ctx context.Context, o *domain.Order, err error, report *CycleReport, out Outcome) Outcome {
	report.Skipped++
	s.logger.ErrorContext(ctx, "order skipped, owner cannot be resolved",
		slog.Int64("order_id", o.ID),
		slog.String("user_id", o.UserID),
		slog.String("side", string(o.Side)),
		slog.String("error", err.Error()),
	)
	return out
}
