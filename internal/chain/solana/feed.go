package solanachain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

func decodeFeedID(s string, out *[32]byte) error {
	raw := common.FromHex(s)
	if len(raw) != 32 {
		return fmt.Errorf("solana: feed id %q is not 32 bytes", s)
	}
	copy(out[:], raw)
	return nil
}
