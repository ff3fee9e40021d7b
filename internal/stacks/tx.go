package stacks

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required by the Stacks address format
)

// Wire-format constants for single-signature contract-call transactions.
const (
	txVersionMainnet byte = 0x00
	txVersionTestnet byte = 0x80

	chainIDMainnet uint32 = 0x00000001
	chainIDTestnet uint32 = 0x80000000

	addrVersionMainnet byte = 22 // 'P'
	addrVersionTestnet byte = 26 // 'T'

	authTypeStandard      byte = 0x04
	hashModeP2PKH         byte = 0x00
	keyEncodingCompressed byte = 0x00
	anchorModeAny         byte = 0x03
	postConditionAllow    byte = 0x01
	payloadContractCall   byte = 0x02

	clarityUint      byte = 0x01
	clarityPrincipal byte = 0x05
)

// ClarityValue is a serializable Clarity argument.
type ClarityValue interface {
	serialize() ([]byte, error)
}

// UintCV is a Clarity uint (128-bit on the wire).
type UintCV uint64

func (v UintCV) serialize() ([]byte, error) {
	out := make([]byte, 17)
	out[0] = clarityUint
	binary.BigEndian.PutUint64(out[9:], uint64(v))
	return out, nil
}

// PrincipalCV is a Clarity standard principal.
type PrincipalCV string

func (v PrincipalCV) serialize() ([]byte, error) {
	version, hash, err := decodeAddress(string(v))
	if err != nil {
		return nil, fmt.Errorf("principal %s: %w", string(v), err)
	}
	out := make([]byte, 0, 22)
	out = append(out, clarityPrincipal, version)
	return append(out, hash...), nil
}

// Signer builds and signs contract-call transactions for the relayer's
// fee-paying account.
type Signer struct {
	priv        *ecdsa.PrivateKey
	txVersion   byte
	chainID     uint32
	addrVersion byte
}

// NewSigner parses a hex-encoded secp256k1 private key. Keys exported by
// Stacks wallets carry a trailing 01 compression flag which is stripped.
func NewSigner(privateKeyHex, network string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	if len(keyHex) == 66 && strings.HasSuffix(keyHex, "01") {
		keyHex = keyHex[:64]
	}

	priv, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse stacks private key: %w", err)
	}

	signer := &Signer{
		priv:        priv,
		txVersion:   txVersionTestnet,
		chainID:     chainIDTestnet,
		addrVersion: addrVersionTestnet,
	}
	if network == "mainnet" {
		signer.txVersion = txVersionMainnet
		signer.chainID = chainIDMainnet
		signer.addrVersion = addrVersionMainnet
	}
	return signer, nil
}

// Address returns the signer's c32check-encoded Stacks address.
func (s *Signer) Address() string {
	return encodeAddress(s.addrVersion, s.signerHash())
}

func (s *Signer) signerHash() []byte {
	return hash160(crypto.CompressPubkey(&s.priv.PublicKey))
}

// SignContractCall serializes and signs a contract call, returning the
// raw transaction bytes ready for broadcast.
func (s *Signer) SignContractCall(contractID, function string, args []ClarityValue, nonce, fee uint64) ([]byte, error) {
	parts := strings.SplitN(contractID, ".", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid contract id %q", contractID)
	}
	contractVersion, contractHash, err := decodeAddress(parts[0])
	if err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}

	payload, err := buildContractCallPayload(contractVersion, contractHash, parts[1], function, args)
	if err != nil {
		return nil, err
	}

	// Initial sighash covers the transaction with a cleared spending
	// condition (zero fee, zero nonce, zero signature).
	cleared := s.serialize(0, 0, make([]byte, 65), payload)
	sighash := sha512.Sum512_256(cleared)

	presign := make([]byte, 0, 32+1+8+8)
	presign = append(presign, sighash[:]...)
	presign = append(presign, authTypeStandard)
	presign = binary.BigEndian.AppendUint64(presign, fee)
	presign = binary.BigEndian.AppendUint64(presign, nonce)
	digest := sha512.Sum512_256(presign)

	rawSig, err := crypto.Sign(digest[:], s.priv)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	// Stacks encodes recoverable signatures as V || R || S.
	signature := make([]byte, 65)
	signature[0] = rawSig[64]
	copy(signature[1:], rawSig[:64])

	return s.serialize(nonce, fee, signature, payload), nil
}

func (s *Signer) serialize(nonce, fee uint64, signature, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(s.txVersion)
	binary.Write(&buf, binary.BigEndian, s.chainID)

	buf.WriteByte(authTypeStandard)
	buf.WriteByte(hashModeP2PKH)
	buf.Write(s.signerHash())
	binary.Write(&buf, binary.BigEndian, nonce)
	binary.Write(&buf, binary.BigEndian, fee)
	buf.WriteByte(keyEncodingCompressed)
	buf.Write(signature)

	buf.WriteByte(anchorModeAny)
	buf.WriteByte(postConditionAllow)
	binary.Write(&buf, binary.BigEndian, uint32(0)) // no post conditions

	buf.Write(payload)
	return buf.Bytes()
}

func buildContractCallPayload(contractVersion byte, contractHash []byte, contractName, function string, args []ClarityValue) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(payloadContractCall)
	buf.WriteByte(contractVersion)
	buf.Write(contractHash)

	for _, name := range []string{contractName, function} {
		if len(name) == 0 || len(name) > 128 {
			return nil, fmt.Errorf("invalid name length %d", len(name))
		}
		buf.WriteByte(byte(len(name)))
		buf.WriteString(name)
	}

	binary.Write(&buf, binary.BigEndian, uint32(len(args)))
	for _, arg := range args {
		data, err := arg.serialize()
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	return ripe.Sum(nil)
}

// c32check address codec (Crockford base32 variant used by Stacks).

const c32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var c32Lookup = func() map[byte]int {
	m := make(map[byte]int, len(c32Alphabet))
	for i := 0; i < len(c32Alphabet); i++ {
		m[c32Alphabet[i]] = i
	}
	return m
}()

func c32Encode(data []byte) string {
	leadingZeros := 0
	for leadingZeros < len(data) && data[leadingZeros] == 0 {
		leadingZeros++
	}

	value := new(big.Int).SetBytes(data)
	base := big.NewInt(32)
	mod := new(big.Int)

	var out []byte
	for value.Sign() > 0 {
		value.DivMod(value, base, mod)
		out = append(out, c32Alphabet[mod.Int64()])
	}
	for i := 0; i < leadingZeros; i++ {
		out = append(out, '0')
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func c32Decode(encoded string, size int) ([]byte, error) {
	value := new(big.Int)
	base := big.NewInt(32)
	for i := 0; i < len(encoded); i++ {
		digit, ok := c32Lookup[encoded[i]]
		if !ok {
			return nil, fmt.Errorf("invalid c32 character %q", encoded[i])
		}
		value.Mul(value, base)
		value.Add(value, big.NewInt(int64(digit)))
	}

	data := value.Bytes()
	if len(data) > size {
		return nil, fmt.Errorf("c32 payload too long: %d > %d", len(data), size)
	}
	padded := make([]byte, size)
	copy(padded[size-len(data):], data)
	return padded, nil
}

func addressChecksum(version byte, hash []byte) []byte {
	inner := sha256.Sum256(append([]byte{version}, hash...))
	outer := sha256.Sum256(inner[:])
	return outer[:4]
}

func encodeAddress(version byte, hash []byte) string {
	payload := append(append([]byte{}, hash...), addressChecksum(version, hash)...)
	return "S" + string(c32Alphabet[version]) + c32Encode(payload)
}

func decodeAddress(address string) (byte, []byte, error) {
	if len(address) < 3 || address[0] != 'S' {
		return 0, nil, fmt.Errorf("malformed stacks address")
	}

	versionDigit, ok := c32Lookup[address[1]]
	if !ok {
		return 0, nil, fmt.Errorf("invalid address version character %q", address[1])
	}
	version := byte(versionDigit)

	payload, err := c32Decode(address[2:], 24)
	if err != nil {
		return 0, nil, err
	}

	hash, checksum := payload[:20], payload[20:]
	if !bytes.Equal(checksum, addressChecksum(version, hash)) {
		return 0, nil, fmt.Errorf("address checksum mismatch")
	}
	return version, hash, nil
}
