package solanachain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/rangebet/internal/oracle/pyth"
)

// ComputeBudgetProgramID is the native compute budget program.
var ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// anchorDiscriminator returns sha256("global:<name>")[:8].
func anchorDiscriminator(name string) [8]byte {
	var d [8]byte
	sum := sha256.Sum256([]byte("global:" + name))
	copy(d[:], sum[:8])
	return d
}

// accountDiscriminator returns sha256("account:<name>")[:8].
func accountDiscriminator(name string) [8]byte {
	var d [8]byte
	sum := sha256.Sum256([]byte("account:" + name))
	copy(d[:], sum[:8])
	return d
}

var (
	discCreatePosition   = anchorDiscriminator("create_position")
	discCheckPosition    = anchorDiscriminator("check_position")
	discInitTradingPool  = anchorDiscriminator("init_trading_pool")
	discInitEncodedVAA   = anchorDiscriminator("init_encoded_vaa")
	discWriteEncodedVAA  = anchorDiscriminator("write_encoded_vaa")
	discVerifyEncodedVAA = anchorDiscriminator("verify_encoded_vaa_v1")
	discPostUpdate       = anchorDiscriminator("post_update")

	discPositionState = accountDiscriminator("PositionState")
	discTradingPool   = accountDiscriminator("TradingPool")
)

// anchorData prefixes the borsh encoding of args with the discriminator.
func anchorData(disc [8]byte, args any) ([]byte, error) {
	if args == nil {
		return disc[:], nil
	}
	body, err := bin.MarshalBorsh(args)
	if err != nil {
		return nil, err
	}
	return append(disc[:], body...), nil
}

type setComputeUnitLimit struct {
	Tag   uint8
	Units uint32
}

type setComputeUnitPrice struct {
	Tag           uint8
	MicroLamports uint64
}

// ComputeUnitLimitIx sets the transaction compute budget.
func ComputeUnitLimitIx(units uint32) (solana.Instruction, error) {
	data, err := bin.MarshalBorsh(setComputeUnitLimit{Tag: 2, Units: units})
	if err != nil {
		return nil, fmt.Errorf("solana: encode compute unit limit: %w", err)
	}
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, data), nil
}

// ComputeUnitPriceIx sets the priority fee in micro-lamports per compute unit.
func ComputeUnitPriceIx(microLamports uint64) (solana.Instruction, error) {
	data, err := bin.MarshalBorsh(setComputeUnitPrice{Tag: 3, MicroLamports: microLamports})
	if err != nil {
		return nil, fmt.Errorf("solana: encode compute unit price: %w", err)
	}
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, data), nil
}

type createPositionArgs struct {
	PositionType uint8
	LowerBound   uint64
	UpperBound   uint64
	OrderID      uint64
	Amount       uint64
}

// CreatePositionAccounts are the accounts of the vault's create_position.
type CreatePositionAccounts struct {
	User             solana.PublicKey
	Admin            solana.PublicKey
	Position         solana.PublicKey
	UserVault        solana.PublicKey
	UserVaultState   solana.PublicKey
	TradingPool      solana.PublicKey
	TradingPoolVault solana.PublicKey
	PriceUpdate      solana.PublicKey
}

// CreatePositionIx builds create_position(position_type, lower, upper,
// order_id, amount).
func CreatePositionIx(programID solana.PublicKey, a CreatePositionAccounts, positionType uint8, lower, upper, orderID, amount uint64) (solana.Instruction, error) {
	data, err := anchorData(discCreatePosition, createPositionArgs{
		PositionType: positionType,
		LowerBound:   lower,
		UpperBound:   upper,
		OrderID:      orderID,
		Amount:       amount,
	})
	if err != nil {
		return nil, fmt.Errorf("solana: encode create_position: %w", err)
	}
	accounts := solana.AccountMetaSlice{
		solana.Meta(a.User),
		solana.Meta(a.Admin).WRITE().SIGNER(),
		solana.Meta(a.Position).WRITE(),
		solana.Meta(a.UserVault).WRITE(),
		solana.Meta(a.UserVaultState).WRITE(),
		solana.Meta(a.TradingPool).WRITE(),
		solana.Meta(a.TradingPoolVault).WRITE(),
		solana.Meta(a.PriceUpdate),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

// CheckPositionIx builds check_position. The order id follows the
// discriminator as a little-endian u64.
func CheckPositionIx(programID, user, position, priceUpdate solana.PublicKey, orderID uint64) solana.Instruction {
	data := make([]byte, 0, 16)
	data = append(data, discCheckPosition[:]...)
	data = binary.LittleEndian.AppendUint64(data, orderID)
	accounts := solana.AccountMetaSlice{
		solana.Meta(user),
		solana.Meta(position).WRITE(),
		solana.Meta(priceUpdate),
	}
	return solana.NewInstruction(programID, accounts, data)
}

type initTradingPoolArgs struct {
	InitialDeposit *uint64 `bin:"optional"`
}

// InitTradingPoolIx builds init_trading_pool(None).
func InitTradingPoolIx(programID, admin, pool, poolVault solana.PublicKey) (solana.Instruction, error) {
	data, err := anchorData(discInitTradingPool, initTradingPoolArgs{})
	if err != nil {
		return nil, fmt.Errorf("solana: encode init_trading_pool: %w", err)
	}
	accounts := solana.AccountMetaSlice{
		solana.Meta(admin).WRITE().SIGNER(),
		solana.Meta(pool).WRITE(),
		solana.Meta(poolVault).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

// encodedVAAHeaderLen is the fixed prefix of a Wormhole EncodedVaa account:
// discriminator, status, write authority, version and the buffer length.
const encodedVAAHeaderLen = 8 + 1 + 32 + 1 + 4

// InitEncodedVAAIx initialises a freshly created encoded VAA account.
func InitEncodedVAAIx(wormholeID, writeAuthority, encodedVAA solana.PublicKey) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.Meta(writeAuthority).SIGNER(),
		solana.Meta(encodedVAA).WRITE(),
	}
	return solana.NewInstruction(wormholeID, accounts, discInitEncodedVAA[:])
}

type writeEncodedVAAArgs struct {
	Index uint32
	Data  []byte
}

// WriteEncodedVAAIx writes chunk at index into the encoded VAA buffer.
func WriteEncodedVAAIx(wormholeID, writeAuthority, encodedVAA solana.PublicKey, index uint32, chunk []byte) (solana.Instruction, error) {
	data, err := anchorData(discWriteEncodedVAA, writeEncodedVAAArgs{Index: index, Data: chunk})
	if err != nil {
		return nil, fmt.Errorf("solana: encode write_encoded_vaa: %w", err)
	}
	accounts := solana.AccountMetaSlice{
		solana.Meta(writeAuthority).SIGNER(),
		solana.Meta(encodedVAA).WRITE(),
	}
	return solana.NewInstruction(wormholeID, accounts, data), nil
}

// VerifyEncodedVAAIx checks the guardian signatures of the encoded VAA.
func VerifyEncodedVAAIx(wormholeID, writeAuthority, encodedVAA, guardianSet solana.PublicKey) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.Meta(writeAuthority).SIGNER(),
		solana.Meta(encodedVAA).WRITE(),
		solana.Meta(guardianSet),
	}
	return solana.NewInstruction(wormholeID, accounts, discVerifyEncodedVAA[:])
}

type merklePriceUpdate struct {
	Message []byte
	Proof   [][pyth.HashSize]byte
}

type postUpdateArgs struct {
	MerklePriceUpdate merklePriceUpdate
	TreasuryID        uint8
}

// PostUpdateAccounts are the accounts of the Pyth receiver's post_update.
type PostUpdateAccounts struct {
	Payer          solana.PublicKey
	EncodedVAA     solana.PublicKey
	Config         solana.PublicKey
	Treasury       solana.PublicKey
	PriceUpdate    solana.PublicKey
	WriteAuthority solana.PublicKey
}

// PostUpdateIx writes a verified price update into a new PriceUpdateV2
// account.
func PostUpdateIx(receiverID solana.PublicKey, a PostUpdateAccounts, update pyth.MerkleUpdate, treasuryID uint8) (solana.Instruction, error) {
	data, err := anchorData(discPostUpdate, postUpdateArgs{
		MerklePriceUpdate: merklePriceUpdate{Message: update.Message, Proof: update.Proof},
		TreasuryID:        treasuryID,
	})
	if err != nil {
		return nil, fmt.Errorf("solana: encode post_update: %w", err)
	}
	accounts := solana.AccountMetaSlice{
		solana.Meta(a.Payer).WRITE().SIGNER(),
		solana.Meta(a.EncodedVAA),
		solana.Meta(a.Config),
		solana.Meta(a.Treasury).WRITE(),
		solana.Meta(a.PriceUpdate).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(a.WriteAuthority).SIGNER(),
	}
	return solana.NewInstruction(receiverID, accounts, data), nil
}
