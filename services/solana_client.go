// services/solana_client.go
package services

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/devvspaces/zk-chess-clash/models"
)

// SolanaClient talks JSON-RPC to a Solana node. It implements LedgerReader
// for deposit verification and LedgerSubmitter for payouts signed with the
// custodial escrow key. Constructed once at process start and injected;
// there is no package-level connection.
type SolanaClient struct {
	RPCURL string
	Client *http.Client

	escrowKey ed25519.PrivateKey
	escrowPub solanaPubkey

	// EscrowAddress is the base58 custodial account deposits must land on.
	EscrowAddress string

	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// NewSolanaClient builds a client. escrowSecret is the base58-encoded 64-byte
// ed25519 keypair (solana CLI format); pass "" for a read-only client that
// can verify deposits but not pay out.
func NewSolanaClient(rpcURL, escrowSecret string) (*SolanaClient, error) {
	c := &SolanaClient{
		RPCURL: rpcURL,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
		confirmTimeout: 90 * time.Second,
		pollInterval:   2 * time.Second,
	}

	if escrowSecret != "" {
		raw, err := base58.Decode(escrowSecret)
		if err != nil {
			return nil, errors.Wrap(err, "invalid escrow secret key")
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, errors.Errorf("escrow secret key is %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
		}
		c.escrowKey = ed25519.PrivateKey(raw)
		copy(c.escrowPub[:], c.escrowKey.Public().(ed25519.PublicKey))
		c.EscrowAddress = c.escrowPub.String()
	}

	return c, nil
}

type rpcRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcErrorBody   `json:"error"`
}

func (c *SolanaClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	payload, err := json.Marshal(rpcRequest{Jsonrpc: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return errors.Wrap(err, "failed to encode rpc request")
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.RPCURL, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to create rpc request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "rpc %s failed", method)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return errors.Wrapf(err, "rpc %s: failed to read response", method)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("rpc %s returned HTTP %d: %.200s", method, resp.StatusCode, string(body))
	}

	var envelope rpcResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return errors.Wrapf(err, "rpc %s: malformed response", method)
	}
	if envelope.Error != nil {
		return errors.Errorf("rpc %s error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return errors.Wrapf(err, "rpc %s: malformed result", method)
		}
	}
	return nil
}

// GetSignatureStatus implements LedgerReader.
func (c *SolanaClient) GetSignatureStatus(ctx context.Context, signature string) (SignatureStatus, error) {
	var result struct {
		Value []*struct {
			ConfirmationStatus string      `json:"confirmationStatus"`
			Err                interface{} `json:"err"`
		} `json:"value"`
	}
	params := []interface{}{
		[]string{signature},
		map[string]interface{}{"searchTransactionHistory": true},
	}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return SigStatusUnknown, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return SigStatusUnknown, nil
	}
	switch result.Value[0].ConfirmationStatus {
	case "finalized":
		return SigStatusFinalized, nil
	case "confirmed":
		return SigStatusConfirmed, nil
	case "processed":
		return SigStatusProcessed, nil
	default:
		return SigStatusUnknown, nil
	}
}

// Wire shapes of the jsonParsed transaction encoding. Instructions we do not
// recognize decode to the Unrecognized variant rather than failing the whole
// transaction.
type rpcParsedInstruction struct {
	Program string          `json:"program"`
	Parsed  json.RawMessage `json:"parsed"`
}

type rpcParsedDetail struct {
	Type string          `json:"type"`
	Info json.RawMessage `json:"info"`
}

type rpcNativeTransferInfo struct {
	Source      string      `json:"source"`
	Destination string      `json:"destination"`
	Lamports    json.Number `json:"lamports"`
}

type rpcTokenTransferInfo struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Mint        string `json:"mint"`
	TokenAmount struct {
		Amount   string `json:"amount"`
		Decimals int32  `json:"decimals"`
	} `json:"tokenAmount"`
}

// GetParsedTransaction implements LedgerReader. Returns (nil, nil) when the
// ledger does not know the signature.
func (c *SolanaClient) GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	var result *struct {
		Meta *struct {
			Err interface{} `json:"err"`
		} `json:"meta"`
		Transaction *struct {
			Message struct {
				Instructions []rpcParsedInstruction `json:"instructions"`
			} `json:"message"`
		} `json:"transaction"`
	}
	params := []interface{}{
		signature,
		map[string]interface{}{
			"encoding":                       "jsonParsed",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		},
	}
	if err := c.call(ctx, "getTransaction", params, &result); err != nil {
		return nil, err
	}
	if result == nil || result.Transaction == nil || result.Meta == nil {
		return nil, nil
	}

	tx := &ParsedTransaction{Failed: result.Meta.Err != nil}
	for _, raw := range result.Transaction.Message.Instructions {
		tx.Instructions = append(tx.Instructions, decodeInstruction(raw))
	}
	return tx, nil
}

func decodeInstruction(raw rpcParsedInstruction) ParsedInstruction {
	unrecognized := ParsedInstruction{Kind: InstructionUnrecognized}
	if len(raw.Parsed) == 0 {
		return unrecognized
	}

	var detail rpcParsedDetail
	if err := json.Unmarshal(raw.Parsed, &detail); err != nil {
		// Some programs (memo) expose parsed as a bare string.
		return unrecognized
	}

	switch {
	case raw.Program == "system" && detail.Type == "transfer":
		var info rpcNativeTransferInfo
		if err := json.Unmarshal(detail.Info, &info); err != nil {
			return unrecognized
		}
		lamports, err := decimal.NewFromString(info.Lamports.String())
		if err != nil {
			return unrecognized
		}
		return ParsedInstruction{
			Kind:        InstructionNativeTransfer,
			Source:      info.Source,
			Destination: info.Destination,
			Lamports:    lamports,
		}
	case raw.Program == "spl-token" && detail.Type == "transferChecked":
		var info rpcTokenTransferInfo
		if err := json.Unmarshal(detail.Info, &info); err != nil {
			return unrecognized
		}
		amount, err := decimal.NewFromString(info.TokenAmount.Amount)
		if err != nil {
			return unrecognized
		}
		return ParsedInstruction{
			Kind:        InstructionTokenTransferChecked,
			Source:      info.Source,
			Destination: info.Destination,
			Mint:        info.Mint,
			Amount:      amount,
			Decimals:    info.TokenAmount.Decimals,
		}
	default:
		return unrecognized
	}
}

// GetBalance returns the native balance of an account in SOL.
func (c *SolanaClient) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var result struct {
		Value json.Number `json:"value"`
	}
	params := []interface{}{address, map[string]interface{}{"commitment": "confirmed"}}
	if err := c.call(ctx, "getBalance", params, &result); err != nil {
		return decimal.Zero, err
	}
	lamports, err := decimal.NewFromString(result.Value.String())
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "malformed balance")
	}
	return lamports.Shift(-9), nil
}

func (c *SolanaClient) latestBlockhash(ctx context.Context) ([32]byte, error) {
	var blockhash [32]byte
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	params := []interface{}{map[string]interface{}{"commitment": "confirmed"}}
	if err := c.call(ctx, "getLatestBlockhash", params, &result); err != nil {
		return blockhash, err
	}
	raw, err := base58.Decode(result.Value.Blockhash)
	if err != nil || len(raw) != 32 {
		return blockhash, errors.Errorf("malformed blockhash %q", result.Value.Blockhash)
	}
	copy(blockhash[:], raw)
	return blockhash, nil
}

// TransferFromEscrow implements LedgerSubmitter. When the returned error is
// non-nil but the signature is non-empty, the transfer was submitted and may
// still land; callers must not blindly retry.
func (c *SolanaClient) TransferFromEscrow(ctx context.Context, recipient string, token models.TokenInfo, amount decimal.Decimal) (string, error) {
	if c.escrowKey == nil {
		return "", errors.New("escrow key not configured, payouts disabled")
	}

	recipientKey, err := parsePubkey(recipient)
	if err != nil {
		return "", err
	}

	baseUnits := token.ToBaseUnits(amount).BigInt()
	if !baseUnits.IsUint64() {
		return "", errors.Errorf("amount %s %s out of range", amount, token.Symbol)
	}

	blockhash, err := c.latestBlockhash(ctx)
	if err != nil {
		return "", err
	}

	var msg *solanaMessage
	if token.Native {
		msg, err = nativeTransferMessage(c.escrowPub, recipientKey, baseUnits.Uint64(), blockhash)
	} else {
		var mint solanaPubkey
		mint, err = parsePubkey(token.Mint)
		if err != nil {
			return "", err
		}
		msg, err = tokenTransferMessage(c.escrowPub, recipientKey, mint, baseUnits.Uint64(), token.Decimals, blockhash)
	}
	if err != nil {
		return "", err
	}

	message := msg.serialize()
	sig := ed25519.Sign(c.escrowKey, message)

	wire := appendShortvecLen(nil, 1)
	wire = append(wire, sig...)
	wire = append(wire, message...)

	var signature string
	params := []interface{}{
		base64.StdEncoding.EncodeToString(wire),
		map[string]interface{}{"encoding": "base64", "preflightCommitment": "confirmed"},
	}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}

	log.Printf("[LEDGER] submitted %s %s -> %s (%s)", amount, token.Symbol, recipient, signature)

	if err := c.awaitConfirmation(ctx, signature); err != nil {
		return signature, err
	}
	return signature, nil
}

func (c *SolanaClient) awaitConfirmation(ctx context.Context, signature string) error {
	deadline := time.Now().Add(c.confirmTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.GetSignatureStatus(ctx, signature)
		if err == nil && status.Final() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("transaction %s not confirmed within %s", signature, c.confirmTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
