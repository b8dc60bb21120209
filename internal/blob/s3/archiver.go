package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/rangebet/internal/domain"
	"github.com/alanyoungcy/rangebet/internal/events"
)

// TradeArchiveStore is the trade query the archiver needs.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// PositionArchiveStore is the position query the archiver needs.
type PositionArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error)
}

// Archiver implements domain.Archiver: it serialises old trades and
// settled or claimed positions to JSONL and uploads them. A cutoff that was
// already archived is skipped. Rows are never deleted from the database here.
type Archiver struct {
	blobs     domain.BlobStore
	trades    TradeArchiveStore
	positions PositionArchiveStore
	emitter   *events.Emitter
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. emitter may be nil.
func NewArchiver(
	blobs domain.BlobStore,
	trades TradeArchiveStore,
	positions PositionArchiveStore,
	emitter *events.Emitter,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		blobs:     blobs,
		trades:    trades,
		positions: positions,
		emitter:   emitter,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

type tradeRecord struct {
	ID              int64     `json:"id"`
	StayInOrderID   int64     `json:"stay_in_order_id"`
	BreakOutOrderID int64     `json:"break_out_order_id"`
	Points          string    `json:"points"`
	Amount          string    `json:"amount"`
	ExecutedAt      time.Time `json:"executed_at"`
	ExecutionPrice  string    `json:"execution_price"`
}

type positionRecord struct {
	ID               int64      `json:"id"`
	UserPublicKey    string     `json:"user_public_key"`
	OrderID          int64      `json:"order_id"`
	OnChainAddress   string     `json:"on_chain_position_address"`
	TxSignature      string     `json:"tx_signature,omitempty"`
	Amount           string     `json:"amount"`
	LowerBound       *string    `json:"lower_bound"`
	UpperBound       *string    `json:"upper_bound"`
	PositionType     uint8      `json:"position_type"`
	PriceAtCreation  string     `json:"btc_price_at_creation"`
	Status           string     `json:"status"`
	SettlementTime   *time.Time `json:"settlement_time,omitempty"`
	SettlementPrice  *string    `json:"settlement_price,omitempty"`
	PayoutPercentage *int       `json:"payout_percentage,omitempty"`
	PayoutAmount     *string    `json:"payout_amount,omitempty"`
	ClaimedAt        *time.Time `json:"claimed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toTradeRecord(t domain.Trade) tradeRecord {
	return tradeRecord{
		ID:              t.ID,
		StayInOrderID:   t.StayInOrderID,
		BreakOutOrderID: t.BreakOutOrderID,
		Points:          t.Points.String(),
		Amount:          t.Amount.String(),
		ExecutedAt:      t.ExecutedAt.UTC(),
		ExecutionPrice:  t.ExecutionPrice.String(),
	}
}

func toPositionRecord(p domain.Position) positionRecord {
	r := positionRecord{
		ID:              p.ID,
		UserPublicKey:   p.UserPublicKey,
		OrderID:         p.OrderID,
		OnChainAddress:  p.OnChainAddress,
		TxSignature:     p.TxSignature,
		Amount:          p.Amount.String(),
		PositionType:    uint8(p.Type),
		PriceAtCreation: p.PriceAtCreation.String(),
		Status:          string(p.Status),
		ClaimedAt:       p.ClaimedAt,
		CreatedAt:       p.CreatedAt.UTC(),
	}
	if p.LowerBound != nil {
		s := p.LowerBound.String()
		r.LowerBound = &s
	}
	if p.UpperBound != nil {
		s := p.UpperBound.String()
		r.UpperBound = &s
	}
	if st := p.Settlement; st != nil {
		t := st.Time.UTC()
		price := st.Price.String()
		pct := st.PayoutPercentage
		payout := st.PayoutAmount.String()
		r.SettlementTime = &t
		r.SettlementPrice = &price
		r.PayoutPercentage = &pct
		r.PayoutAmount = &payout
	}
	return r
}

// ArchiveTrades uploads trades executed before the cutoff to
// archive/trades/YYYY-MM-DD.jsonl.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	records := make([]tradeRecord, 0, len(trades))
	for _, t := range trades {
		records = append(records, toTradeRecord(t))
	}
	return archive(ctx, a, "trades", before, records)
}

// ArchivePositions uploads positions closed before the cutoff to
// archive/positions/YYYY-MM-DD.jsonl.
func (a *Archiver) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.positions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	records := make([]positionRecord, 0, len(positions))
	for _, p := range positions {
		records = append(records, toPositionRecord(p))
	}
	return archive(ctx, a, "positions", before, records)
}

func archive[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	path := archivePath(kind, before)
	exists, err := a.blobs.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if exists {
		a.logger.InfoContext(ctx, "archive already present, skipping",
			slog.String("kind", kind),
			slog.String("path", path),
		)
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if err := a.blobs.Put(ctx, path, bytes.NewReader(buf), int64(len(buf)), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	a.logger.InfoContext(ctx, "archive uploaded",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int64("count", count),
	)
	a.emitter.Emit(ctx, domain.EventArchived, map[string]any{
		"kind":   kind,
		"path":   path,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	})
	return count, nil
}

// archivePath partitions archives by the cutoff day:
//
//	archive/trades/2025-01-31.jsonl
//	archive/positions/2025-01-31.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
