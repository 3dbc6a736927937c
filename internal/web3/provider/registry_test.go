package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"solagent/internal/config"
	"solagent/internal/web3/rpctest"
)

func TestNewRegistryFallsBackToRPCURL(t *testing.T) {
	node := rpctest.NewServer(t)
	node.Result("getSlot", 77)

	reg, err := NewRegistry(context.Background(), config.Web3Config{RPCURL: node.URL})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	if got := reg.Chains(); len(got) != 1 || got[0] != FallbackChain {
		t.Fatalf("unexpected chains %v", got)
	}
	sol, err := reg.Solana("")
	if err != nil {
		t.Fatalf("solana: %v", err)
	}
	if sol.Name() != FallbackChain {
		t.Fatalf("unexpected client %s", sol.Name())
	}
	if _, err := reg.EVM(""); err == nil {
		t.Fatalf("expected no evm chain")
	}

	snaps, err := reg.Snapshots(context.Background())
	if err != nil || len(snaps) != 1 || snaps[0].Height != 77 {
		t.Fatalf("unexpected snapshots %+v %v", snaps, err)
	}
}

func TestNewRegistryFromDefinitions(t *testing.T) {
	sol := rpctest.NewServer(t)
	evm := rpctest.NewServer(t)
	path := filepath.Join(t.TempDir(), "chains.yaml")
	doc := fmt.Sprintf("chains:\n  devnet:\n    type: solana\n    rpc_url: %s\n  sepolia:\n    type: evm\n    rpc_url: %s\n", sol.URL, evm.URL)
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	reg, err := NewRegistry(context.Background(), config.Web3Config{
		ChainConfig:  path,
		DefaultChain: "sepolia",
		RPCURL:       "http://unused.invalid",
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer reg.Close()

	if got := reg.Chains(); len(got) != 2 {
		t.Fatalf("fallback chain must not be added when a solana chain exists: %v", got)
	}
	def, err := reg.DefaultClient()
	if err != nil || def.Name() != "sepolia" {
		t.Fatalf("unexpected default %v %v", def, err)
	}
	if c, err := reg.Solana(""); err != nil || c.Name() != "devnet" {
		t.Fatalf("expected devnet as solana fallback, got %v %v", c, err)
	}
	if _, err := reg.Solana("sepolia"); err == nil {
		t.Fatalf("expected type mismatch error")
	}
	if c, err := reg.EVM(""); err != nil || c.Name() != "sepolia" {
		t.Fatalf("unexpected evm client %v %v", c, err)
	}
}

func TestNewRegistryErrors(t *testing.T) {
	if _, err := NewRegistry(context.Background(), config.Web3Config{}); err == nil {
		t.Fatalf("expected error without endpoints")
	}
	node := rpctest.NewServer(t)
	if _, err := NewRegistry(context.Background(), config.Web3Config{RPCURL: node.URL, DefaultChain: "mainnet"}); err == nil {
		t.Fatalf("expected error for unknown default chain")
	}
}
