package ethereum

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"solagent/internal/web3/rpctest"
)

const testAddress = "0x00000000000000000000000000000000000000aa"

func newTestClient(t *testing.T) (*Client, *rpctest.Server) {
	t.Helper()
	srv := rpctest.NewServer(t)
	client, err := NewClient(context.Background(), Config{Name: "sepolia", RPCURL: srv.URL, Notes: "testnet"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)
	return client, srv
}

func TestSnapshot(t *testing.T) {
	client, srv := newTestClient(t)
	srv.Result("eth_chainId", "0xaa36a7")
	srv.Result("eth_blockNumber", "0x10")

	snap, err := client.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ChainID != "0xaa36a7" || snap.Height != 16 || snap.Chain != "sepolia" || snap.Type != "evm" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestBalanceAndNonce(t *testing.T) {
	client, srv := newTestClient(t)
	srv.Result("eth_getBalance", "0xde0b6b3a7640000")
	srv.Result("eth_getTransactionCount", "0x7")

	balance, err := client.Balance(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.String() != "1000000000000000000" {
		t.Fatalf("unexpected balance %s", balance)
	}
	nonce, err := client.Nonce(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != 7 {
		t.Fatalf("unexpected nonce %d", nonce)
	}

	var params []json.RawMessage
	if err := json.Unmarshal(srv.LastParams("eth_getTransactionCount"), &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if len(params) != 2 || string(params[1]) != `"pending"` {
		t.Fatalf("expected pending nonce query, got %s", srv.LastParams("eth_getTransactionCount"))
	}
}

func TestInvalidAddress(t *testing.T) {
	client, srv := newTestClient(t)
	if _, err := client.Balance(context.Background(), "not-an-address"); err == nil || !strings.Contains(err.Error(), "invalid evm address") {
		t.Fatalf("unexpected error %v", err)
	}
	if srv.Calls("eth_getBalance") != 0 {
		t.Fatalf("node must not be called for invalid input")
	}
}

func TestClosedClient(t *testing.T) {
	client, _ := newTestClient(t)
	client.Close()
	if _, err := client.Nonce(context.Background(), testAddress); err == nil {
		t.Fatalf("expected error after close")
	}
}
