// Package address derives deterministic record addresses. Every record the
// engine creates lives at keccak256(program || seed || key...) truncated to 20
// bytes, so the same inputs always resolve to the same record and two
// different records never share a key.
package address

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Record seeds.
const (
	SeedVault      = "vault"
	SeedMarket     = "market"
	SeedPrediction = "prediction"
)

// Deriver computes addresses scoped to one program id. Two deployments with
// different program ids never collide.
type Deriver struct {
	program common.Address
}

// NewDeriver scopes derivation to programID.
func NewDeriver(programID string) Deriver {
	return Deriver{program: common.BytesToAddress(ethcrypto.Keccak256([]byte(programID)))}
}

// Program returns the program address all records are derived from.
func (d Deriver) Program() common.Address {
	return d.program
}

// Vault returns the address of the single escrow pool.
func (d Deriver) Vault() common.Address {
	return d.derive(SeedVault)
}

// Market returns the address of the market keyed by assetID.
func (d Deriver) Market(assetID string) common.Address {
	return d.derive(SeedMarket, []byte(assetID))
}

// Prediction returns the address of user's prediction on market.
func (d Deriver) Prediction(market, user common.Address) common.Address {
	return d.derive(SeedPrediction, market.Bytes(), user.Bytes())
}

// derive hashes the program, the seed, and each key part with a length
// prefix so ("ab","c") and ("a","bc") hash differently.
func (d Deriver) derive(seed string, parts ...[]byte) common.Address {
	buf := make([]byte, 0, common.AddressLength+len(seed)+2+len(parts)*(2+common.AddressLength))
	buf = append(buf, d.program.Bytes()...)
	buf = appendPart(buf, []byte(seed))
	for _, p := range parts {
		buf = appendPart(buf, p)
	}
	return common.BytesToAddress(ethcrypto.Keccak256(buf))
}

func appendPart(buf, part []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(part)))
	return append(buf, part...)
}
