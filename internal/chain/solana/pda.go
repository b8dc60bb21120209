package solanachain

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seeds of the vault program's derived accounts.
var (
	seedPosition         = []byte("position")
	seedTradingPool      = []byte("trading_pool")
	seedTradingPoolVault = []byte("trading_pool_vault")
	seedVaultState       = []byte("vault_state")
	seedVault            = []byte("vault")

	seedReceiverConfig = []byte("config")
	seedTreasury       = []byte("treasury")
	seedGuardianSet    = []byte("GuardianSet")
)

// PositionPDA derives PDA("position", owner, le_u64(orderID)).
func PositionPDA(programID, owner solana.PublicKey, orderID uint64) (solana.PublicKey, error) {
	id := make([]byte, 8)
	binary.LittleEndian.PutUint64(id, orderID)
	addr, _, err := solana.FindProgramAddress([][]byte{seedPosition, owner[:], id}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("solana: position pda: %w", err)
	}
	return addr, nil
}

// TradingPoolPDAs returns the pool account and its lamport vault.
func TradingPoolPDAs(programID solana.PublicKey) (pool, vault solana.PublicKey, err error) {
	pool, _, err = solana.FindProgramAddress([][]byte{seedTradingPool}, programID)
	if err != nil {
		return pool, vault, fmt.Errorf("solana: trading pool pda: %w", err)
	}
	vault, _, err = solana.FindProgramAddress([][]byte{seedTradingPoolVault, pool[:]}, programID)
	if err != nil {
		return pool, vault, fmt.Errorf("solana: trading pool vault pda: %w", err)
	}
	return pool, vault, nil
}

// UserVaultPDAs returns the user's vault state and lamport vault.
func UserVaultPDAs(programID, user solana.PublicKey) (state, vault solana.PublicKey, err error) {
	state, _, err = solana.FindProgramAddress([][]byte{seedVaultState, user[:]}, programID)
	if err != nil {
		return state, vault, fmt.Errorf("solana: vault state pda: %w", err)
	}
	vault, _, err = solana.FindProgramAddress([][]byte{seedVault, state[:]}, programID)
	if err != nil {
		return state, vault, fmt.Errorf("solana: vault pda: %w", err)
	}
	return state, vault, nil
}

func receiverConfigPDA(receiverID solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{seedReceiverConfig}, receiverID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("solana: receiver config pda: %w", err)
	}
	return addr, nil
}

func treasuryPDA(receiverID solana.PublicKey, treasuryID uint8) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{seedTreasury, {treasuryID}}, receiverID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("solana: treasury pda: %w", err)
	}
	return addr, nil
}

func guardianSetPDA(wormholeID solana.PublicKey, index uint32) (solana.PublicKey, error) {
	idx := make([]byte, 4)
	binary.BigEndian.PutUint32(idx, index)
	addr, _, err := solana.FindProgramAddress([][]byte{seedGuardianSet, idx}, wormholeID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("solana: guardian set pda: %w", err)
	}
	return addr, nil
}
