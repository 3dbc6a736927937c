package web3

import "context"

// Supported chain types.
const (
	TypeSolana = "solana"
	TypeEVM    = "evm"
)

// ChainSnapshot summarises the head of a chain for health reporting.
type ChainSnapshot struct {
	Chain   string `json:"chain"`
	Type    string `json:"type"`
	ChainID string `json:"chain_id,omitempty"`
	Height  uint64 `json:"height"`
	Notes   string `json:"notes,omitempty"`
}

// Client is implemented by every chain client held in the provider
// registry.
type Client interface {
	Name() string
	Type() string
	Snapshot(ctx context.Context) (ChainSnapshot, error)
	Close()
}
