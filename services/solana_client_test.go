package services

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcServer answers JSON-RPC calls with canned results keyed by method.
func rpcServer(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, ok := results[req.Method]
		require.True(t, ok, "unexpected rpc method %s", req.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
}

func TestParsePubkey(t *testing.T) {
	raw := make([]byte, 32)
	raw[0] = 7
	encoded := base58.Encode(raw)

	pk, err := parsePubkey(encoded)
	require.NoError(t, err)
	assert.Equal(t, encoded, pk.String())

	_, err = parsePubkey("not!base58")
	assert.Error(t, err)

	_, err = parsePubkey(base58.Encode([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestAppendShortvecLen(t *testing.T) {
	tests := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
		{16384, []byte{0x80, 0x80, 0x01}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, appendShortvecLen(nil, tt.n), "n=%d", tt.n)
	}
}

func TestIsOnCurve(t *testing.T) {
	// A real ed25519 public key always lies on the curve.
	key := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	var pk solanaPubkey
	copy(pk[:], key.Public().(ed25519.PublicKey))
	assert.True(t, isOnCurve(pk))
}

func TestAssociatedTokenAddress(t *testing.T) {
	wallet, err := parsePubkey(base58.Encode(append([]byte{1}, make([]byte, 31)...)))
	require.NoError(t, err)
	usdc, err := parsePubkey("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	require.NoError(t, err)
	usdt, err := parsePubkey("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")
	require.NoError(t, err)

	ataUSDC, err := associatedTokenAddress(wallet, usdc)
	require.NoError(t, err)
	ataAgain, err := associatedTokenAddress(wallet, usdc)
	require.NoError(t, err)
	ataUSDT, err := associatedTokenAddress(wallet, usdt)
	require.NoError(t, err)

	assert.Equal(t, ataUSDC, ataAgain, "derivation must be deterministic")
	assert.NotEqual(t, ataUSDC, ataUSDT, "different mints derive different accounts")
	assert.False(t, isOnCurve(ataUSDC), "derived addresses must be off-curve")
}

func TestNativeTransferMessageLayout(t *testing.T) {
	escrow, _ := parsePubkey(base58.Encode(append([]byte{1}, make([]byte, 31)...)))
	recipient, _ := parsePubkey(base58.Encode(append([]byte{2}, make([]byte, 31)...)))

	msg, err := nativeTransferMessage(escrow, recipient, 1_000_000_000, [32]byte{})
	require.NoError(t, err)
	require.Len(t, msg.instructions, 1)
	in := msg.instructions[0]
	assert.Equal(t, byte(2), in.programIndex, "system program is the third account")
	assert.Equal(t, []byte{0, 1}, in.accountIndexes)
	require.Len(t, in.data, 12)
	assert.Equal(t, byte(systemInstructionTransfer), in.data[0], "u32 transfer tag, little endian")

	wire := msg.serialize()
	assert.Equal(t, byte(1), wire[0], "exactly one required signature")
}

func TestNewSolanaClientSecretValidation(t *testing.T) {
	_, err := NewSolanaClient("http://localhost", "not!base58")
	assert.Error(t, err)

	_, err = NewSolanaClient("http://localhost", base58.Encode([]byte{1, 2, 3}))
	assert.Error(t, err)

	// Read-only client: no key, derived address empty, payouts refused.
	c, err := NewSolanaClient("http://localhost", "")
	require.NoError(t, err)
	assert.Empty(t, c.EscrowAddress)
	_, err = c.TransferFromEscrow(context.Background(), "anything", solToken(t), dec("1"))
	assert.Error(t, err)

	key := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	c, err = NewSolanaClient("http://localhost", base58.Encode(key))
	require.NoError(t, err)
	assert.NotEmpty(t, c.EscrowAddress)
}

func TestGetSignatureStatus(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   SignatureStatus
	}{
		{"finalized", `{"value":[{"confirmationStatus":"finalized","err":null}]}`, SigStatusFinalized},
		{"confirmed", `{"value":[{"confirmationStatus":"confirmed","err":null}]}`, SigStatusConfirmed},
		{"processed", `{"value":[{"confirmationStatus":"processed","err":null}]}`, SigStatusProcessed},
		{"unknown signature", `{"value":[null]}`, SigStatusUnknown},
		{"empty value", `{"value":[]}`, SigStatusUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := rpcServer(t, map[string]string{"getSignatureStatuses": tt.result})
			defer srv.Close()
			c, err := NewSolanaClient(srv.URL, "")
			require.NoError(t, err)
			status, err := c.GetSignatureStatus(context.Background(), "sig")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestGetParsedTransactionDecodesKnownShapes(t *testing.T) {
	// One system transfer, one memo (parsed is a bare string), one program we
	// have never heard of.
	srv := rpcServer(t, map[string]string{"getTransaction": `{
		"meta": {"err": null},
		"transaction": {"message": {"instructions": [
			{"program": "system", "parsed": {"type": "transfer", "info": {
				"source": "src111", "destination": "dst111", "lamports": 1000000000}}},
			{"program": "spl-memo", "parsed": "gg wp"},
			{"program": "vote", "parsed": {"type": "compactupdatevotestate", "info": {}}}
		]}}
	}`})
	defer srv.Close()

	c, err := NewSolanaClient(srv.URL, "")
	require.NoError(t, err)
	tx, err := c.GetParsedTransaction(context.Background(), "sig")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.False(t, tx.Failed)
	require.Len(t, tx.Instructions, 3)

	assert.Equal(t, InstructionNativeTransfer, tx.Instructions[0].Kind)
	assert.Equal(t, "dst111", tx.Instructions[0].Destination)
	assert.True(t, tx.Instructions[0].Lamports.Equal(dec("1000000000")))

	assert.Equal(t, InstructionUnrecognized, tx.Instructions[1].Kind)
	assert.Equal(t, InstructionUnrecognized, tx.Instructions[2].Kind)
}

func TestGetParsedTransactionTokenTransfer(t *testing.T) {
	srv := rpcServer(t, map[string]string{"getTransaction": `{
		"meta": {"err": null},
		"transaction": {"message": {"instructions": [
			{"program": "spl-token", "parsed": {"type": "transferChecked", "info": {
				"source": "srcATA", "destination": "dstATA",
				"mint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
				"tokenAmount": {"amount": "25000000", "decimals": 6}}}}
		]}}
	}`})
	defer srv.Close()

	c, err := NewSolanaClient(srv.URL, "")
	require.NoError(t, err)
	tx, err := c.GetParsedTransaction(context.Background(), "sig")
	require.NoError(t, err)
	require.Len(t, tx.Instructions, 1)
	in := tx.Instructions[0]
	assert.Equal(t, InstructionTokenTransferChecked, in.Kind)
	assert.Equal(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", in.Mint)
	assert.True(t, in.Amount.Equal(dec("25000000")))
	assert.Equal(t, int32(6), in.Decimals)
}

func TestGetParsedTransactionUnknownSignature(t *testing.T) {
	srv := rpcServer(t, map[string]string{"getTransaction": `null`})
	defer srv.Close()

	c, err := NewSolanaClient(srv.URL, "")
	require.NoError(t, err)
	tx, err := c.GetParsedTransaction(context.Background(), "sig")
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestGetParsedTransactionFailedMeta(t *testing.T) {
	srv := rpcServer(t, map[string]string{"getTransaction": `{
		"meta": {"err": {"InstructionError": [0, "Custom"]}},
		"transaction": {"message": {"instructions": []}}
	}`})
	defer srv.Close()

	c, err := NewSolanaClient(srv.URL, "")
	require.NoError(t, err)
	tx, err := c.GetParsedTransaction(context.Background(), "sig")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.True(t, tx.Failed)
}

func TestGetBalance(t *testing.T) {
	srv := rpcServer(t, map[string]string{"getBalance": `{"context":{"slot":1},"value":1500000000}`})
	defer srv.Close()

	c, err := NewSolanaClient(srv.URL, "")
	require.NoError(t, err)
	balance, err := c.GetBalance(context.Background(), "someaddress")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("1.5")), "got %s", balance)
}

func TestRPCErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`))
	}))
	defer srv.Close()

	c, err := NewSolanaClient(srv.URL, "")
	require.NoError(t, err)
	_, err = c.GetBalance(context.Background(), "someaddress")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid params")
}
