package web3

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadChainDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := []byte(`chains:
  devnet:
    rpc_url: https://api.devnet.solana.com
    commitment: confirmed
  sepolia:
    type: EVM
    rpc_url: https://rpc.sepolia.org
    description: ethereum testnet
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := defs.Names(); len(got) != 2 || got[0] != "devnet" || got[1] != "sepolia" {
		t.Fatalf("unexpected names %v", got)
	}
	if defs.Chains["devnet"].NormalizedType() != TypeSolana {
		t.Fatalf("expected solana default type")
	}
	if defs.Chains["sepolia"].NormalizedType() != TypeEVM {
		t.Fatalf("expected evm type")
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	if err != nil || len(defs.Chains) != 0 {
		t.Fatalf("expected empty definitions, got %+v %v", defs, err)
	}
}

func TestParseChainDefinitionsRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown type": "chains:\n  x:\n    type: cosmos\n    rpc_url: http://x\n",
		"missing url":  "chains:\n  x:\n    type: solana\n",
		"bad yaml":     "chains: [",
	}
	for name, doc := range cases {
		if _, err := ParseChainDefinitions([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
