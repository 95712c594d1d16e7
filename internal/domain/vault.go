package domain

import "github.com/ethereum/go-ethereum/common"

// Vault is the single escrow pool. Its balance lives in the ledger account at
// Address; the record only carries identity and ownership.
type Vault struct {
	Address   common.Address `json:"address"`
	Authority common.Address `json:"authority"`
	CreatedAt int64          `json:"created_at"`
}

// VaultSummary is the read-side view of the vault with its current balance.
type VaultSummary struct {
	Vault
	Balance uint64 `json:"balance"`
}
