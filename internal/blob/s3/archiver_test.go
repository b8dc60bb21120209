package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rangebet/internal/domain"
	"github.com/alanyoungcy/rangebet/internal/events"
)

type memBlobs struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, size int64, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(b)) != size {
		return io.ErrShortWrite
	}
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type tradeList []domain.Trade

func (l tradeList) ListBefore(context.Context, time.Time) ([]domain.Trade, error) { return l, nil }

type positionList []domain.Position

func (l positionList) ListClosedBefore(context.Context, time.Time) ([]domain.Position, error) {
	return l, nil
}

type auditLog struct{ events []string }

func (a *auditLog) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *auditLog) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func lines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestArchiveTrades(t *testing.T) {
	blobs := newMemBlobs()
	audit := &auditLog{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	emitter := events.NewEmitter(nil, audit, nil, logger)
	cutoff := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	trades := tradeList{
		{ID: 1, StayInOrderID: 2, BreakOutOrderID: 1, Points: 150, Amount: 100_000_000,
			ExecutedAt: cutoff.Add(-48 * time.Hour), ExecutionPrice: decimal.RequireFromString("100000.5")},
		{ID: 2, StayInOrderID: 4, BreakOutOrderID: 3, Points: 200, Amount: 250_000_000,
			ExecutedAt: cutoff.Add(-24 * time.Hour), ExecutionPrice: decimal.RequireFromString("99000")},
	}
	a := NewArchiver(blobs, trades, positionList{}, emitter, logger)

	n, err := a.ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	body, ok := blobs.objects["archive/trades/2025-01-31.jsonl"]
	require.True(t, ok)
	assert.Equal(t, "application/x-ndjson", blobs.types["archive/trades/2025-01-31.jsonl"])
	rows := lines(t, body)
	require.Len(t, rows, 2)
	assert.Equal(t, "1.5", rows[0]["points"])
	assert.Equal(t, "0.1", rows[0]["amount"])
	assert.Equal(t, "100000.5", rows[0]["execution_price"])
	assert.Equal(t, []string{domain.EventArchived}, audit.events)

	// A second run for the same cutoff is a no-op.
	n, err = a.ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchivePositions(t *testing.T) {
	blobs := newMemBlobs()
	lower := decimal.RequireFromString("98000")
	upper := decimal.RequireFromString("102000")
	cutoff := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	positions := positionList{{
		ID: 5, UserPublicKey: "Owner", OrderID: 9, OnChainAddress: "pda",
		Amount: 100_000_000, LowerBound: &lower, UpperBound: &upper,
		Type: domain.DirectionBreakout, PriceAtCreation: decimal.RequireFromString("100000"),
		Status: domain.PositionStatusSettled,
		Settlement: &domain.Settlement{
			Time: cutoff.Add(-time.Hour), Price: decimal.RequireFromString("102500"),
			PayoutPercentage: 150, PayoutAmount: 150_000_000,
		},
		CreatedAt: cutoff.Add(-30 * time.Hour),
	}}
	a := NewArchiver(blobs, tradeList{}, positions, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchivePositions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows := lines(t, blobs.objects["archive/positions/2025-02-01.jsonl"])
	require.Len(t, rows, 1)
	assert.Equal(t, "SETTLED", rows[0]["status"])
	assert.Equal(t, "0.15", rows[0]["payout_amount"])
	assert.Equal(t, float64(150), rows[0]["payout_percentage"])
	assert.Equal(t, float64(1), rows[0]["position_type"])
}

func TestArchiveNothingToDo(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, tradeList{}, positionList{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := a.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}
