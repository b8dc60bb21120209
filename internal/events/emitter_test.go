package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

type memBus struct {
	published map[string][][]byte
	stream    [][]byte
	err       error
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[channel] = append(b.published[channel], payload)
	return b.err
}

func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.stream = append(b.stream, payload)
	return b.err
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memNotifier struct{ titles []string }

func (n *memNotifier) Notify(_ context.Context, _, title, _ string) error {
	n.titles = append(n.titles, title)
	return errors.New("channel down")
}

func TestEmitFansOut(t *testing.T) {
	bus := &memBus{}
	audit := &memAudit{}
	e := NewEmitter(bus, audit, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	e.Emit(context.Background(), domain.EventTradeMatched, map[string]any{"amount": "0.1"})

	assert.Equal(t, []string{domain.EventTradeMatched}, audit.events)
	require.Len(t, bus.published[domain.EventTradeMatched], 1)
	require.Len(t, bus.stream, 1)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(bus.stream[0], &msg))
	assert.Equal(t, domain.EventTradeMatched, msg["event"])
	assert.Equal(t, "0.1", msg["amount"])
	assert.Equal(t, "2023-11-14T22:13:20Z", msg["ts"])
}

func TestEmitterToleratesFailuresAndNil(t *testing.T) {
	n := &memNotifier{}
	e := NewEmitter(&memBus{err: errors.New("redis down")}, nil, n, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NotPanics(t, func() {
		e.Emit(context.Background(), domain.EventError, nil)
		e.Notify(context.Background(), domain.EventError, "title", "body")
	})
	assert.Equal(t, []string{"title"}, n.titles)

	var nilEmitter *Emitter
	assert.NotPanics(t, func() {
		nilEmitter.Emit(context.Background(), domain.EventError, nil)
		nilEmitter.Notify(context.Background(), domain.EventError, "t", "m")
	})
}
