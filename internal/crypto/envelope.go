package crypto

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 style type hashes.
// --------------------------------------------------------------------------

var (
	// ZoneDomain(string name,string version,bytes32 program)
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("ZoneDomain(string name,string version,bytes32 program)"),
	)

	// Operation(string kind,bytes params,uint256 nonce,uint256 timestamp)
	operationTypeHash = ethcrypto.Keccak256(
		[]byte("Operation(string kind,bytes params,uint256 nonce,uint256 timestamp)"),
	)
)

const (
	domainName    = "Zone"
	domainVersion = "1"
)

// Envelope is a signed operation request. Params carries the operation body
// exactly as signed; re-encoding it would change the digest.
type Envelope struct {
	Kind      string          `json:"kind"`
	Params    json.RawMessage `json:"params"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Signature string          `json:"signature"`
}

// Domain binds envelope digests to one program deployment, so a signature
// for one program id never verifies against another.
type Domain struct {
	separator []byte
}

// NewDomain returns the signing domain for programID.
func NewDomain(programID string) Domain {
	return Domain{separator: ethcrypto.Keccak256(
		concatBytes(
			domainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			ethcrypto.Keccak256([]byte(programID)),
		),
	)}
}

// Digest computes keccak256("\x19\x01" || separator || structHash(env)).
func (d Domain) Digest(env Envelope) []byte {
	structHash := ethcrypto.Keccak256(
		concatBytes(
			operationTypeHash,
			ethcrypto.Keccak256([]byte(env.Kind)),
			ethcrypto.Keccak256(env.Params),
			uint256Bytes(new(big.Int).SetUint64(env.Nonce)),
			uint256Bytes(big.NewInt(env.Timestamp)),
		),
	)
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, d.separator, structHash))
}

// Recover returns the address that signed env.
func (d Domain) Recover(env Envelope) (common.Address, error) {
	sig, err := decodeSignature(env.Signature)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(d.Digest(env), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/envelope: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// decodeSignature parses a 65-byte hex signature and normalises v to {0,1}.
func decodeSignature(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/envelope: signature is not hex: %w", err)
	}
	if len(raw) != ethcrypto.SignatureLength {
		return nil, fmt.Errorf("crypto/envelope: signature must be %d bytes, got %d", ethcrypto.SignatureLength, len(raw))
	}
	switch raw[64] {
	case 0, 1:
	case 27, 28:
		raw[64] -= 27
	default:
		return nil, errors.New("crypto/envelope: invalid recovery byte")
	}
	return raw, nil
}

// uint256Bytes returns a 32-byte big-endian representation of n.
func uint256Bytes(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
