package solanachain

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rangebet/internal/config"
	"github.com/alanyoungcy/rangebet/internal/domain"
)

var (
	testProgram = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	testOwner   = solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
)

func TestPositionPDAIsDeterministic(t *testing.T) {
	a, err := PositionPDA(testProgram, testOwner, 42)
	require.NoError(t, err)
	b, err := PositionPDA(testProgram, testOwner, 42)
	require.NoError(t, err)
	c, err := PositionPDA(testProgram, testOwner, 43)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	id := make([]byte, 8)
	binary.LittleEndian.PutUint64(id, 42)
	want, _, err := solana.FindProgramAddress([][]byte{[]byte("position"), testOwner[:], id}, testProgram)
	require.NoError(t, err)
	assert.Equal(t, want, a)
}

func TestCheckPositionInstructionData(t *testing.T) {
	position, err := PositionPDA(testProgram, testOwner, 7)
	require.NoError(t, err)
	priceUpdate := solana.NewWallet().PublicKey()

	ix := CheckPositionIx(testProgram, testOwner, position, priceUpdate, 7)
	data, err := ix.Data()
	require.NoError(t, err)

	assert.Equal(t, []byte{208, 242, 101, 15, 55, 242, 83, 5}, data[:8])
	assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(data[8:]))

	accts := ix.Accounts()
	require.Len(t, accts, 3)
	assert.False(t, accts[0].IsWritable)
	assert.True(t, accts[1].IsWritable)
	assert.Equal(t, priceUpdate, accts[2].PublicKey)
}

func TestCreatePositionInstructionLayout(t *testing.T) {
	accts := CreatePositionAccounts{
		User:             testOwner,
		Admin:            solana.NewWallet().PublicKey(),
		Position:         solana.NewWallet().PublicKey(),
		UserVault:        solana.NewWallet().PublicKey(),
		UserVaultState:   solana.NewWallet().PublicKey(),
		TradingPool:      solana.NewWallet().PublicKey(),
		TradingPoolVault: solana.NewWallet().PublicKey(),
		PriceUpdate:      solana.NewWallet().PublicKey(),
	}
	ix, err := CreatePositionIx(testProgram, accts, 1, 100, 200, 9, 150_000_000)
	require.NoError(t, err)

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 8+1+8*4)
	assert.Equal(t, discCreatePosition[:], data[:8])
	assert.Equal(t, byte(1), data[8])
	assert.Equal(t, uint64(100), binary.LittleEndian.Uint64(data[9:]))
	assert.Equal(t, uint64(200), binary.LittleEndian.Uint64(data[17:]))
	assert.Equal(t, uint64(9), binary.LittleEndian.Uint64(data[25:]))
	assert.Equal(t, uint64(150_000_000), binary.LittleEndian.Uint64(data[33:]))

	metas := ix.Accounts()
	require.Len(t, metas, 9)
	assert.True(t, metas[1].IsSigner)
	assert.Equal(t, solana.SystemProgramID, metas[8].PublicKey)
}

func TestInitTradingPoolEncodesNone(t *testing.T) {
	pool, vault, err := TradingPoolPDAs(testProgram)
	require.NoError(t, err)
	ix, err := InitTradingPoolIx(testProgram, testOwner, pool, vault)
	require.NoError(t, err)
	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, append(discInitTradingPool[:], 0), data)
}

// positionAccount lays out a position account byte by byte: discriminator,
// user, order_id, status, position_type, lower, upper, amount, entry_price,
// created_at, Option<settlement>, is_claimed, bump.
func positionAccount(disc [8]byte, status uint8, settlement *SettlementData, claimed bool) []byte {
	le := binary.LittleEndian
	out := append([]byte{}, disc[:]...)
	out = append(out, testOwner.Bytes()...)
	out = le.AppendUint64(out, 11)
	out = append(out, status, 1)
	out = le.AppendUint64(out, 6_000_000_000_000)
	out = le.AppendUint64(out, 6_200_000_000_000)
	out = le.AppendUint64(out, 150_000_000)
	out = le.AppendUint64(out, 6_100_000_000_000)
	out = le.AppendUint64(out, uint64(1_700_000_000))
	if settlement == nil {
		out = append(out, 0)
	} else {
		out = append(out, 1)
		out = le.AppendUint64(out, uint64(settlement.SettlementTime))
		out = le.AppendUint64(out, settlement.SettlementPrice)
		out = append(out, settlement.PayoutPercentage)
	}
	if claimed {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return append(out, 254)
}

func TestDecodePositionState(t *testing.T) {
	settlement := &SettlementData{
		SettlementTime:   1_700_086_400,
		SettlementPrice:  6_150_000_000_000,
		PayoutPercentage: 190,
	}

	got, err := DecodePositionState(positionAccount(discPositionState, 4, settlement, false))
	require.NoError(t, err)
	assert.True(t, got.Belongs(testOwner, 11))
	assert.False(t, got.Belongs(testOwner, 12))
	assert.Equal(t, uint8(1), got.PositionType)
	assert.Equal(t, uint64(6_000_000_000_000), got.LowerBound)
	assert.Equal(t, uint64(6_200_000_000_000), got.UpperBound)
	assert.Equal(t, uint64(150_000_000), got.Amount)
	assert.Equal(t, uint8(254), got.Bump)
	assert.Equal(t, domain.OnChainSettled, got.OnChainStatus())
	s := got.DomainSettlement()
	require.NotNil(t, s)
	assert.Equal(t, 190, s.PayoutPercentage)
	assert.Equal(t, uint64(6_150_000_000_000), s.RawPrice)
	assert.Equal(t, int64(1_700_086_400), s.Time.Unix())

	got, err = DecodePositionState(positionAccount(discPositionState, 4, settlement, true))
	require.NoError(t, err)
	assert.Equal(t, domain.OnChainClaimed, got.OnChainStatus())

	for _, status := range []uint8{0, 1, 2, 3} {
		got, err = DecodePositionState(positionAccount(discPositionState, status, nil, false))
		require.NoError(t, err)
		assert.Equal(t, domain.OnChainActive, got.OnChainStatus(), "status %d", status)
		assert.Nil(t, got.DomainSettlement())
	}

	_, err = DecodePositionState(positionAccount(discPositionState, 5, nil, false))
	assert.ErrorIs(t, err, errUnexpectedStatus)

	_, err = DecodePositionState(positionAccount(discTradingPool, 0, nil, false))
	assert.ErrorIs(t, err, errWrongDiscriminator)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "account in use from simulation logs",
			err: &jsonrpc.RPCError{
				Message: "Transaction simulation failed",
				Data:    map[string]any{"logs": []string{"Allocate: account Address { address: x } already in use"}},
			},
			want: domain.ErrAlreadyExists,
		},
		{
			name: "custom zero in landed transaction",
			err:  &TxError{Signature: "sig", Err: map[string]any{"InstructionError": []any{2, map[string]any{"Custom": 0}}}},
			want: domain.ErrAlreadyExists,
		},
		{
			name: "blockhash expired",
			err:  errors.New("Blockhash not found"),
			want: domain.ErrBlockhashExpired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}

	other := &TxError{Signature: "sig", Err: map[string]any{"InstructionError": []any{2, map[string]any{"Custom": 6001}}}}
	got := classify(other)
	assert.NotErrorIs(t, got, domain.ErrAlreadyExists)
	assert.Equal(t, other, got)
}

// rpcServer answers getAccountInfo with the account data registered for the
// requested address, or a null value.
func rpcServer(t *testing.T, accounts map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     any    `json:"id"`
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getAccountInfo", req.Method)

		value := "null"
		if data, ok := accounts[fmt.Sprint(req.Params[0])]; ok {
			value = fmt.Sprintf(`{"data":[%q,"base64"],"executable":false,"lamports":1000000,"owner":%q,"rentEpoch":0,"space":%d}`,
				base64.StdEncoding.EncodeToString(data), testProgram.String(), len(data))
		}
		id, _ := json.Marshal(req.ID)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"context":{"slot":1},"value":%s}}`, id, value)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestVault(t *testing.T, url string) *Vault {
	t.Helper()
	v, err := NewVault(config.SolanaConfig{
		RPCURL:                url,
		ProgramID:             testProgram.String(),
		PythReceiverProgramID: "rec5EKMGg6MxZYaMdyBfgwp4d5rB9T1VQH5pJv5LtFJ",
		WormholeProgramID:     "HDwcJBJXjL9FpJ7UBsYBtaDjsBUhuLCUYoz3zr8SWWaQ",
	}, solana.NewWallet().PrivateKey, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return v
}

func TestAccountExists(t *testing.T) {
	present, err := PositionPDA(testProgram, testOwner, 1)
	require.NoError(t, err)
	missing, err := PositionPDA(testProgram, testOwner, 2)
	require.NoError(t, err)

	srv := rpcServer(t, map[string][]byte{present.String(): {1, 2, 3}})
	v := newTestVault(t, srv.URL)

	ok, err := v.AccountExists(t.Context(), present.String())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.AccountExists(t.Context(), missing.String())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = v.AccountExists(t.Context(), "not-a-key")
	assert.Error(t, err)
}

func TestPositionAddressMatchesPDA(t *testing.T) {
	v := newTestVault(t, "http://127.0.0.1:0")
	addr, err := v.PositionAddress(testOwner.String(), 5)
	require.NoError(t, err)
	want, err := PositionPDA(testProgram, testOwner, 5)
	require.NoError(t, err)
	assert.Equal(t, want.String(), addr)
}
