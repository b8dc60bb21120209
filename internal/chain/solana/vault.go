// Package solanachain talks to the on-chain vault program: it derives position
// accounts, posts Pyth price updates through the Wormhole receiver, and sends
// create_position, check_position and init_trading_pool transactions.
package solanachain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/alanyoungcy/rangebet/internal/config"
	"github.com/alanyoungcy/rangebet/internal/domain"
	"github.com/alanyoungcy/rangebet/internal/oracle/pyth"
)

// vaaSplitIndex is where the VAA is cut between the two write transactions so
// that each stays under the packet size limit.
const vaaSplitIndex = 755

// Vault implements domain.Vault against a Solana RPC node.
type Vault struct {
	rpc        *rpc.Client
	signer     solana.PrivateKey
	programID  solana.PublicKey
	receiverID solana.PublicKey
	wormholeID solana.PublicKey
	treasuryID uint8
	cuPrice    uint64
	cuLimit    uint32
	confirm    *confirmer
	logger     *slog.Logger
}

// NewVault creates a Vault client. signer pays for and signs every
// transaction.
func NewVault(cfg config.SolanaConfig, signer solana.PrivateKey, logger *slog.Logger) (*Vault, error) {
	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("solana: program id: %w", err)
	}
	receiverID, err := solana.PublicKeyFromBase58(cfg.PythReceiverProgramID)
	if err != nil {
		return nil, fmt.Errorf("solana: pyth receiver program id: %w", err)
	}
	wormholeID, err := solana.PublicKeyFromBase58(cfg.WormholeProgramID)
	if err != nil {
		return nil, fmt.Errorf("solana: wormhole program id: %w", err)
	}

	client := rpc.New(cfg.RPCURL)
	logger = logger.With(slog.String("component", "solana"))
	return &Vault{
		rpc:        client,
		signer:     signer,
		programID:  programID,
		receiverID: receiverID,
		wormholeID: wormholeID,
		treasuryID: cfg.PythTreasuryID,
		cuPrice:    cfg.ComputeUnitPrice,
		cuLimit:    cfg.ComputeUnitLimit,
		confirm: &confirmer{
			rpc:       client,
			wsURL:     cfg.WSURL,
			timeout:   cfg.ConfirmTimeout.Duration,
			pollEvery: 500 * time.Millisecond,
			logger:    logger,
		},
		logger: logger,
	}, nil
}

// Authority returns the signer's public key.
func (v *Vault) Authority() solana.PublicKey {
	return v.signer.PublicKey()
}

// Health asks the RPC node whether it is caught up.
func (v *Vault) Health(ctx context.Context) error {
	status, err := v.rpc.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("solana: health: %w", err)
	}
	if status != rpc.HealthOk {
		return fmt.Errorf("solana: node reports %q", status)
	}
	return nil
}

// PositionAddress derives the position account for (owner, orderID).
func (v *Vault) PositionAddress(owner string, orderID int64) (string, error) {
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return "", fmt.Errorf("solana: owner %q: %w", owner, err)
	}
	addr, err := PositionPDA(v.programID, ownerKey, uint64(orderID))
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// AccountExists reports whether an account is present at the confirmed
// commitment.
func (v *Vault) AccountExists(ctx context.Context, address string) (bool, error) {
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return false, fmt.Errorf("solana: address %q: %w", address, err)
	}
	_, err = v.fetch(ctx, key)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (v *Vault) fetch(ctx context.Context, key solana.PublicKey) ([]byte, error) {
	out, err := v.rpc.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("solana: get account %s: %w", key, err)
	}
	if out == nil || out.Value == nil {
		return nil, rpc.ErrNotFound
	}
	return out.Value.Data.GetBinary(), nil
}

// CreatePosition posts the price update and creates the position in the same
// transaction. An account that is already in use maps to
// domain.ErrAlreadyExists.
func (v *Vault) CreatePosition(ctx context.Context, p domain.CreatePositionParams) (string, error) {
	owner, err := solana.PublicKeyFromBase58(p.Owner)
	if err != nil {
		return "", fmt.Errorf("solana: owner %q: %w", p.Owner, err)
	}
	if p.LowerRaw < 0 || p.UpperRaw < 0 || p.Amount <= 0 {
		return "", fmt.Errorf("solana: invalid position params lower=%d upper=%d amount=%d", p.LowerRaw, p.UpperRaw, p.Amount)
	}

	position, err := PositionPDA(v.programID, owner, uint64(p.OrderID))
	if err != nil {
		return "", err
	}
	vaultState, userVault, err := UserVaultPDAs(v.programID, owner)
	if err != nil {
		return "", err
	}
	pool, poolVault, err := TradingPoolPDAs(v.programID)
	if err != nil {
		return "", err
	}

	sig, err := v.withPriceUpdate(ctx, p.Update, func(priceUpdate solana.PublicKey) ([]solana.Instruction, error) {
		ix, err := CreatePositionIx(v.programID, CreatePositionAccounts{
			User:             owner,
			Admin:            v.Authority(),
			Position:         position,
			UserVault:        userVault,
			UserVaultState:   vaultState,
			TradingPool:      pool,
			TradingPoolVault: poolVault,
			PriceUpdate:      priceUpdate,
		}, uint8(p.Direction), uint64(p.LowerRaw), uint64(p.UpperRaw), uint64(p.OrderID), uint64(p.Amount))
		if err != nil {
			return nil, err
		}
		return []solana.Instruction{ix}, nil
	})
	if err != nil {
		return "", fmt.Errorf("solana: create position %s/%d: %w", p.Owner, p.OrderID, err)
	}

	v.logger.Info("position created",
		slog.String("owner", p.Owner),
		slog.Int64("order_id", p.OrderID),
		slog.String("position", position.String()),
		slog.String("signature", sig),
	)
	return sig, nil
}

// CheckSettlement posts a fresh price, runs check_position and reads back
// the position account.
func (v *Vault) CheckSettlement(ctx context.Context, owner string, orderID int64, update domain.PriceUpdate) (domain.SettlementCheck, error) {
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return domain.SettlementCheck{}, fmt.Errorf("solana: owner %q: %w", owner, err)
	}
	position, err := PositionPDA(v.programID, ownerKey, uint64(orderID))
	if err != nil {
		return domain.SettlementCheck{}, err
	}

	sig, err := v.withPriceUpdate(ctx, update, func(priceUpdate solana.PublicKey) ([]solana.Instruction, error) {
		return []solana.Instruction{CheckPositionIx(v.programID, ownerKey, position, priceUpdate, uint64(orderID))}, nil
	})
	if err != nil {
		return domain.SettlementCheck{}, fmt.Errorf("solana: check position %s/%d: %w", owner, orderID, err)
	}

	data, err := v.fetch(ctx, position)
	if err != nil {
		return domain.SettlementCheck{}, fmt.Errorf("solana: read position %s: %w", position, err)
	}
	state, err := DecodePositionState(data)
	if err != nil {
		return domain.SettlementCheck{}, err
	}
	if !state.Belongs(ownerKey, uint64(orderID)) {
		return domain.SettlementCheck{}, fmt.Errorf("solana: read position %s: %w", position, errPositionMismatch)
	}

	return domain.SettlementCheck{
		Signature:  sig,
		Status:     state.OnChainStatus(),
		Settlement: state.DomainSettlement(),
	}, nil
}

// InitTradingPool creates the trading pool if it does not exist yet. It
// returns the signature and true when a transaction was sent.
func (v *Vault) InitTradingPool(ctx context.Context) (string, bool, error) {
	pool, poolVault, err := TradingPoolPDAs(v.programID)
	if err != nil {
		return "", false, err
	}

	data, err := v.fetch(ctx, pool)
	switch {
	case err == nil:
		tp, decErr := DecodeTradingPool(data)
		if decErr != nil {
			return "", false, decErr
		}
		v.logger.Info("trading pool already exists",
			slog.String("pool", pool.String()),
			slog.String("authority", tp.Authority.String()),
		)
		return "", false, nil
	case !errors.Is(err, rpc.ErrNotFound):
		return "", false, err
	}

	ix, err := InitTradingPoolIx(v.programID, v.Authority(), pool, poolVault)
	if err != nil {
		return "", false, err
	}
	sig, err := v.send(ctx, []solana.Instruction{ix})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("solana: init trading pool: %w", err)
	}

	v.logger.Info("trading pool initialized",
		slog.String("pool", pool.String()),
		slog.String("pool_vault", poolVault.String()),
		slog.String("signature", sig),
	)
	return sig, true, nil
}

// withPriceUpdate posts the accumulator VAA into an encoded VAA account,
// then sends post_update together with the consumer instructions in one
// transaction so the price update account is created and read atomically.
func (v *Vault) withPriceUpdate(ctx context.Context, update domain.PriceUpdate, consumer func(priceUpdate solana.PublicKey) ([]solana.Instruction, error)) (string, error) {
	acc, err := pyth.ParseAccumulator(update.Payload)
	if err != nil {
		return "", err
	}
	var feed [32]byte
	if err := decodeFeedID(update.FeedID, &feed); err != nil {
		return "", err
	}
	_, merkle, err := acc.Find(feed)
	if err != nil {
		return "", err
	}

	encodedVAA, err := v.postVAA(ctx, acc.VAA)
	if err != nil {
		return "", err
	}

	priceUpdate, err := solana.NewRandomPrivateKey()
	if err != nil {
		return "", fmt.Errorf("solana: price update keypair: %w", err)
	}
	cfgPDA, err := receiverConfigPDA(v.receiverID)
	if err != nil {
		return "", err
	}
	treasury, err := treasuryPDA(v.receiverID, v.treasuryID)
	if err != nil {
		return "", err
	}

	post, err := PostUpdateIx(v.receiverID, PostUpdateAccounts{
		Payer:          v.Authority(),
		EncodedVAA:     encodedVAA,
		Config:         cfgPDA,
		Treasury:       treasury,
		PriceUpdate:    priceUpdate.PublicKey(),
		WriteAuthority: v.Authority(),
	}, merkle, v.treasuryID)
	if err != nil {
		return "", err
	}
	consume, err := consumer(priceUpdate.PublicKey())
	if err != nil {
		return "", err
	}

	// TODO: close the encoded VAA and price update accounts afterwards to
	// reclaim their rent.
	return v.send(ctx, append([]solana.Instruction{post}, consume...), priceUpdate)
}

// postVAA creates, writes and verifies an encoded VAA account across two
// transactions and returns its address.
func (v *Vault) postVAA(ctx context.Context, vaa []byte) (solana.PublicKey, error) {
	parsed, err := pyth.ParseVAA(vaa)
	if err != nil {
		return solana.PublicKey{}, err
	}
	guardianSet, err := guardianSetPDA(v.wormholeID, parsed.GuardianSetIndex)
	if err != nil {
		return solana.PublicKey{}, err
	}

	encoded, err := solana.NewRandomPrivateKey()
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("solana: encoded vaa keypair: %w", err)
	}
	space := uint64(encodedVAAHeaderLen + len(vaa))
	rent, err := v.rpc.GetMinimumBalanceForRentExemption(ctx, space, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("solana: rent for encoded vaa: %w", err)
	}

	split := min(vaaSplitIndex, len(vaa))
	create := system.NewCreateAccountInstruction(rent, space, v.wormholeID, v.Authority(), encoded.PublicKey()).Build()
	writeFirst, err := WriteEncodedVAAIx(v.wormholeID, v.Authority(), encoded.PublicKey(), 0, vaa[:split])
	if err != nil {
		return solana.PublicKey{}, err
	}
	if _, err := v.send(ctx, []solana.Instruction{
		create,
		InitEncodedVAAIx(v.wormholeID, v.Authority(), encoded.PublicKey()),
		writeFirst,
	}, encoded); err != nil {
		return solana.PublicKey{}, fmt.Errorf("solana: init encoded vaa: %w", err)
	}

	var second []solana.Instruction
	if split < len(vaa) {
		writeRest, err := WriteEncodedVAAIx(v.wormholeID, v.Authority(), encoded.PublicKey(), uint32(split), vaa[split:])
		if err != nil {
			return solana.PublicKey{}, err
		}
		second = append(second, writeRest)
	}
	second = append(second, VerifyEncodedVAAIx(v.wormholeID, v.Authority(), encoded.PublicKey(), guardianSet))
	if _, err := v.send(ctx, second); err != nil {
		return solana.PublicKey{}, fmt.Errorf("solana: verify encoded vaa: %w", err)
	}
	return encoded.PublicKey(), nil
}

// send prepends the compute budget instructions, signs with the authority and
// any extra signers, submits with processed preflight and waits for
// confirmation.
func (v *Vault) send(ctx context.Context, ixs []solana.Instruction, extra ...solana.PrivateKey) (string, error) {
	price, err := ComputeUnitPriceIx(v.cuPrice)
	if err != nil {
		return "", err
	}
	limit, err := ComputeUnitLimitIx(v.cuLimit)
	if err != nil {
		return "", err
	}
	all := append([]solana.Instruction{price, limit}, ixs...)

	bh, err := v.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return "", fmt.Errorf("solana: latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(all, bh.Value.Blockhash, solana.TransactionPayer(v.Authority()))
	if err != nil {
		return "", fmt.Errorf("solana: build transaction: %w", err)
	}

	signers := map[solana.PublicKey]solana.PrivateKey{v.Authority(): v.signer}
	for _, k := range extra {
		signers[k.PublicKey()] = k
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if k, ok := signers[key]; ok {
			return &k
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("solana: sign transaction: %w", err)
	}

	sig, err := v.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return "", classify(err)
	}

	if err := v.confirm.Confirm(ctx, sig, bh.Value.LastValidBlockHeight); err != nil {
		return sig.String(), err
	}
	v.logger.Debug("transaction confirmed",
		slog.String("signature", sig.String()),
		slog.Int("instructions", len(all)),
	)
	return sig.String(), nil
}

var _ domain.Vault = (*Vault)(nil)
