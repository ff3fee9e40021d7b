package sui

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

const (
	moveModule       = "borrow_controller"
	defaultGasBudget = 50_000_000

	// Collateral type tag for STX bridged from Stacks.
	collateralTypeStxStacks = "3"
)

// Client submits signed move calls and reads objects on the Sui borrow
// registry. The underlying transport is plain JSON-RPC 2.0.
type Client struct {
	rpc        *rpc.Client
	key        ed25519.PrivateKey
	address    string
	registryID string
	packageID  string
	gasBudget  uint64
	logger     *zap.Logger
}

func NewClient(ctx context.Context, rpcURL, privateKey, registryID, packageID string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial sui rpc: %w", err)
	}

	key, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}

	client := &Client{
		rpc:        rpcClient,
		key:        key,
		address:    deriveAddress(key),
		registryID: registryID,
		packageID:  packageID,
		gasBudget:  defaultGasBudget,
		logger:     logger,
	}

	logger.Info("sui relayer initialized", zap.String("relayer_address", client.address))
	return client, nil
}

func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

// Address returns the relayer's Sui address derived from its key.
func (c *Client) Address() string {
	return c.address
}

// parsePrivateKey accepts a 32-byte ed25519 seed as 0x-hex or base64
// (standalone seed or 64-byte expanded key).
func parsePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	var raw []byte
	var err error

	if strings.HasPrefix(encoded, "0x") {
		raw, err = hex.DecodeString(strings.TrimPrefix(encoded, "0x"))
	} else {
		raw, err = base64.StdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("decode sui private key: %w", err)
	}

	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("sui private key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// deriveAddress computes the Sui address for an ed25519 key: the
// blake2b-256 hash of the scheme flag followed by the public key.
func deriveAddress(key ed25519.PrivateKey) string {
	pub := key.Public().(ed25519.PublicKey)
	digest := blake2b.Sum256(append([]byte{0x00}, pub...))
	return "0x" + hex.EncodeToString(digest[:])
}

// signTransaction produces a serialized Sui signature over the
// base64-encoded transaction bytes: ed25519 over
// blake2b-256(intent || txBytes), encoded as flag || sig || pubkey.
func (c *Client) signTransaction(txBytesB64 string) (string, error) {
	txBytes, err := base64.StdEncoding.DecodeString(txBytesB64)
	if err != nil {
		return "", fmt.Errorf("decode tx bytes: %w", err)
	}

	intentMessage := append([]byte{0, 0, 0}, txBytes...) // TransactionData intent
	digest := blake2b.Sum256(intentMessage)
	signature := ed25519.Sign(c.key, digest[:])

	pub := c.key.Public().(ed25519.PublicKey)
	serialized := make([]byte, 0, 1+len(signature)+len(pub))
	serialized = append(serialized, 0x00) // ed25519 flag
	serialized = append(serialized, signature...)
	serialized = append(serialized, pub...)

	return base64.StdEncoding.EncodeToString(serialized), nil
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := c.rpc.CallContext(ctx, result, method, args...); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}
