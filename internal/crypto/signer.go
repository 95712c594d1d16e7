package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer signs operation envelopes with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domain     Domain
}

// NewSigner creates a Signer from a hex-encoded private key for the given
// signing domain.
func NewSigner(privateKeyHex string, domain Domain) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domain:     domain,
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Seal builds and signs an envelope for kind with params encoded as JSON.
func (s *Signer) Seal(kind string, params any, nonce uint64, timestamp int64) (Envelope, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Envelope{}, fmt.Errorf("crypto/signer: encode params: %w", err)
	}
	env := Envelope{Kind: kind, Params: raw, Nonce: nonce, Timestamp: timestamp}
	if err := s.Sign(&env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Sign fills env.Signature.
func (s *Signer) Sign(env *Envelope) error {
	sig, err := ethcrypto.Sign(s.domain.Digest(*env), s.privateKey)
	if err != nil {
		return fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wallets emit {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	env.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// AddressFromKey returns the address controlled by a hex-encoded key.
func AddressFromKey(privateKeyHex string) (common.Address, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(pk.PublicKey), nil
}
