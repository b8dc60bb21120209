package solanachain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

var errSubscription = errors.New("signature subscription unavailable")

// confirmer waits for a signature to reach the confirmed commitment. It
// subscribes over the RPC websocket and falls back to polling
// getSignatureStatuses when the socket is unavailable.
type confirmer struct {
	rpc       *rpc.Client
	wsURL     string
	timeout   time.Duration
	pollEvery time.Duration
	logger    *slog.Logger
}

type wsMessage struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Method string `json:"method"`
	Params struct {
		Result struct {
			Value struct {
				Err any `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// Confirm blocks until sig is confirmed, fails, or its blockhash expires.
func (c *confirmer) Confirm(ctx context.Context, sig solana.Signature, lastValidHeight uint64) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.wsURL != "" {
		err := c.subscribe(ctx, sig)
		if err == nil || !errors.Is(err, errSubscription) {
			return err
		}
		c.logger.Warn("falling back to status polling",
			slog.String("signature", sig.String()),
			slog.String("error", err.Error()),
		)
	}
	return c.poll(ctx, sig, lastValidHeight)
}

func (c *confirmer) subscribe(ctx context.Context, sig solana.Signature) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", errSubscription, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "signatureSubscribe",
		"params":  []any{sig.String(), map[string]string{"commitment": "confirmed"}},
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("%w: write: %v", errSubscription, err)
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("solana: confirm %s: %w", sig, ctx.Err())
			}
			return fmt.Errorf("%w: read: %v", errSubscription, err)
		}

		switch {
		case msg.Error != nil:
			return fmt.Errorf("%w: %s", errSubscription, msg.Error.Message)
		case msg.ID != nil:
			// Subscription acknowledged. The signature may have landed before
			// the subscription existed, so check its status once.
			done, err := c.statusOnce(ctx, sig)
			if done || err != nil {
				return err
			}
		case msg.Method == "signatureNotification":
			if e := msg.Params.Result.Value.Err; e != nil {
				return classify(&TxError{Signature: sig.String(), Err: e})
			}
			return nil
		}
	}
}

// statusOnce reports whether sig already reached a final state.
func (c *confirmer) statusOnce(ctx context.Context, sig solana.Signature) (bool, error) {
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil || out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return false, nil
	}
	st := out.Value[0]
	if st.Err != nil {
		return true, classify(&TxError{Signature: sig.String(), Err: st.Err})
	}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return true, nil
	}
	return false, nil
}

func (c *confirmer) poll(ctx context.Context, sig solana.Signature, lastValidHeight uint64) error {
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		done, err := c.statusOnce(ctx, sig)
		if done || err != nil {
			return err
		}
		if lastValidHeight > 0 {
			height, err := c.rpc.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
			if err == nil && height > lastValidHeight {
				return fmt.Errorf("solana: confirm %s: %w", sig, domain.ErrBlockhashExpired)
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("solana: confirm %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}
