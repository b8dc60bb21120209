package solanachain

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/alanyoungcy/rangebet/internal/domain"
)

// customZero matches the system program's AccountAlreadyInUse error as it
// appears in simulation logs and in transaction status JSON.
var customZero = regexp.MustCompile(`custom program error: 0x0\b|"Custom":\s*0\b`)

// errorText flattens an RPC error including its data (simulation logs).
func errorText(err error) string {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		var b strings.Builder
		b.WriteString(rpcErr.Message)
		if rpcErr.Data != nil {
			if data, mErr := json.Marshal(rpcErr.Data); mErr == nil {
				b.WriteByte(' ')
				b.Write(data)
			}
		}
		return b.String()
	}
	return err.Error()
}

// classify maps well-known chain failures onto domain sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	text := errorText(err)
	switch {
	case strings.Contains(text, "already in use") || customZero.MatchString(text):
		return fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
	case strings.Contains(text, "Blockhash not found") || strings.Contains(text, "block height exceeded"):
		return fmt.Errorf("%w: %w", domain.ErrBlockhashExpired, err)
	}
	return err
}

// TxError is a transaction that landed but failed.
type TxError struct {
	Signature string
	Err       any
}

func (e *TxError) Error() string {
	data, _ := json.Marshal(e.Err)
	return fmt.Sprintf("transaction %s failed: %s", e.Signature, data)
}
