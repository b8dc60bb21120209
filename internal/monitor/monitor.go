// Package monitor decides which active positions need an on-chain settlement
// check, runs those checks concurrently and persists the payouts.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/rangebet/internal/domain"
	"github.com/alanyoungcy/rangebet/internal/events"
	"github.com/alanyoungcy/rangebet/internal/metrics"
)

// ShouldCheck reports whether pos warrants an on-chain check now. Positions
// at or past the horizon are always checked, as are all positions when the
// quote could not be fetched. Otherwise a position is checked only when the
// price touches or leaves its band.
func ShouldCheck(pos domain.Position, now time.Time, horizon time.Duration, q domain.Quote, quoteErr error) bool {
	if now.Sub(pos.CreatedAt) >= horizon {
		return true
	}
	if quoteErr != nil {
		return true
	}
	if pos.LowerBound == nil || pos.UpperBound == nil {
		return false
	}
	price := q.Price()
	return price.LessThanOrEqual(*pos.LowerBound) || price.GreaterThanOrEqual(*pos.UpperBound)
}

// Monitor runs settlement cycles.
type Monitor struct {
	positions   domain.PositionStore
	quotes      domain.QuoteSource
	oracle      domain.Oracle
	vault       domain.Vault
	horizon     time.Duration
	concurrency int
	events      *events.Emitter
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Config tunes a Monitor.
type Config struct {
	Horizon     time.Duration
	Concurrency int
}

// New creates a Monitor. quotes serves the cheap per-cycle price used for
// filtering; oracle supplies the payloads posted with each check.
func New(
	positions domain.PositionStore,
	quotes domain.QuoteSource,
	oracle domain.Oracle,
	vault domain.Vault,
	cfg Config,
	emitter *events.Emitter,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Monitor {
	if cfg.Horizon <= 0 {
		cfg.Horizon = 24 * time.Hour
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Monitor{
		positions:   positions,
		quotes:      quotes,
		oracle:      oracle,
		vault:       vault,
		horizon:     cfg.Horizon,
		concurrency: cfg.Concurrency,
		events:      emitter,
		metrics:     m,
		logger:      logger.With(slog.String("component", "monitor")),
		now:         time.Now,
	}
}

// CheckResult is the outcome for one flagged position.
type CheckResult struct {
	Position domain.Position
	Check    domain.SettlementCheck
	Expo     int32
	Err      error
}

// CycleReport summarises one cycle.
type CycleReport struct {
	Active  int
	Flagged int
	Failed  int
	Settled int
}

// RunCycle runs one cycle. Only a failure to list positions is returned.
func (m *Monitor) RunCycle(ctx context.Context) error {
	_, err := m.Cycle(ctx)
	return err
}

// Cycle runs one cycle and reports what it did.
func (m *Monitor) Cycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport

	active, err := m.positions.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("monitor: list active positions: %w", err)
	}
	report.Active = len(active)
	if len(active) == 0 {
		return report, nil
	}

	quote, quoteErr := m.quotes.Quote(ctx)
	if quoteErr != nil {
		m.metrics.OracleError()
		m.logger.WarnContext(ctx, "quote unavailable, checking every position",
			slog.String("error", quoteErr.Error()),
		)
	}

	now := m.now()
	var flagged []domain.Position
	for _, pos := range active {
		if ShouldCheck(pos, now, m.horizon, quote, quoteErr) {
			flagged = append(flagged, pos)
		}
	}
	report.Flagged = len(flagged)
	m.logger.DebugContext(ctx, "positions filtered",
		slog.Int("active", len(active)),
		slog.Int("flagged", len(flagged)),
	)
	if len(flagged) == 0 {
		return report, nil
	}

	results := m.checkAll(ctx, flagged)
	for _, r := range results {
		if r.Err != nil {
			report.Failed++
			continue
		}
		if m.persist(ctx, r) {
			report.Settled++
		}
	}

	m.logger.InfoContext(ctx, "monitor cycle complete",
		slog.Int("active", report.Active),
		slog.Int("flagged", report.Flagged),
		slog.Int("failed", report.Failed),
		slog.Int("settled", report.Settled),
	)
	return report, nil
}

// checkAll runs the on-chain checks with bounded concurrency. Each position
// gets its own result; one failure never cancels the others.
func (m *Monitor) checkAll(ctx context.Context, flagged []domain.Position) []CheckResult {
	results := make([]CheckResult, len(flagged))
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, pos := range flagged {
		g.Go(func() error {
			results[i] = m.check(ctx, pos)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Monitor) check(ctx context.Context, pos domain.Position) CheckResult {
	res := CheckResult{Position: pos}

	update, err := m.oracle.Latest(ctx)
	if err != nil {
		m.metrics.SettlementCheck("oracle_error")
		res.Err = fmt.Errorf("monitor: price update for position %d: %w", pos.ID, err)
		m.logger.WarnContext(ctx, "settlement check skipped",
			slog.Int64("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return res
	}
	res.Expo = update.Quote.Expo

	check, err := m.vault.CheckSettlement(ctx, pos.UserPublicKey, pos.OrderID, update)
	if err != nil {
		m.metrics.SettlementCheck("error")
		res.Err = fmt.Errorf("monitor: check position %d: %w", pos.ID, err)
		m.logger.ErrorContext(ctx, "settlement check failed",
			slog.Int64("position_id", pos.ID),
			slog.String("position", pos.OnChainAddress),
			slog.String("error", err.Error()),
		)
		return res
	}
	res.Check = check
	m.metrics.SettlementCheck(string(check.Status))
	return res
}

// persist saves a settlement reported by the chain. It returns true when the
// row moved to SETTLED.
func (m *Monitor) persist(ctx context.Context, r CheckResult) bool {
	s := r.Check.Settlement
	if s == nil || r.Check.Status != domain.OnChainSettled {
		if r.Check.Status == domain.OnChainClaimed {
			m.logger.WarnContext(ctx, "position claimed on-chain without a recorded settlement",
				slog.Int64("position_id", r.Position.ID),
				slog.String("position", r.Position.OnChainAddress),
			)
		}
		return false
	}

	pos := r.Position
	settlement := domain.Settlement{
		Time:             s.Time,
		Price:            s.Price(r.Expo),
		PayoutPercentage: s.PayoutPercentage,
		PayoutAmount:     domain.Payout(pos.Amount, s.PayoutPercentage),
	}

	if err := m.positions.Settle(ctx, pos.ID, settlement); err != nil {
		m.logger.ErrorContext(ctx, "persist settlement failed",
			slog.Int64("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return false
	}

	winner := settlement.Winner()
	m.metrics.PositionSettled(winner, int64(settlement.PayoutAmount))
	m.logger.InfoContext(ctx, "position settled",
		slog.Int64("position_id", pos.ID),
		slog.String("position", pos.OnChainAddress),
		slog.String("amount_sol", pos.Amount.String()),
		slog.Int("payout_percentage", settlement.PayoutPercentage),
		slog.String("payout_sol", settlement.PayoutAmount.String()),
		slog.String("settlement_price", settlement.Price.String()),
		slog.Time("settlement_time", settlement.Time),
		slog.Bool("winner", winner),
	)
	m.events.Emit(ctx, domain.EventPositionSettled, map[string]any{
		"position_id":       pos.ID,
		"owner":             pos.UserPublicKey,
		"order_id":          pos.OrderID,
		"position":          pos.OnChainAddress,
		"payout_percentage": settlement.PayoutPercentage,
		"payout_amount":     settlement.PayoutAmount.String(),
		"settlement_price":  settlement.Price.String(),
		"signature":         r.Check.Signature,
		"winner":            winner,
	})
	m.events.Notify(ctx, domain.EventPositionSettled, "Position settled",
		fmt.Sprintf("order %d: %d%% payout, %s SOL", pos.OrderID, settlement.PayoutPercentage, settlement.PayoutAmount))
	return true
}
