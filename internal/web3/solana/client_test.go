package solana

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"solagent/internal/web3/rpctest"
)

func newTestClient(t *testing.T) (*Client, *rpctest.Server) {
	t.Helper()
	srv := rpctest.NewServer(t)
	client, err := NewClient(context.Background(), Config{Name: "devnet", RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(client.Close)
	return client, srv
}

func TestGetBalance(t *testing.T) {
	client, srv := newTestClient(t)
	srv.Result("getBalance", map[string]any{"context": map[string]any{"slot": 10}, "value": 2_500_000_000})

	lamports, err := client.GetBalance(context.Background(), "Vote111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if lamports != 2_500_000_000 {
		t.Fatalf("unexpected balance %d", lamports)
	}
	params := string(srv.LastParams("getBalance"))
	if !strings.Contains(params, `"commitment":"confirmed"`) {
		t.Fatalf("expected default commitment in params %s", params)
	}
}

func TestRPCErrorIsWrapped(t *testing.T) {
	client, srv := newTestClient(t)
	srv.Handle("getBalance", func([]json.RawMessage) (any, error) {
		return nil, &rpctest.Error{Code: -32602, Message: "Invalid param: WrongSize"}
	})

	_, err := client.GetBalance(context.Background(), "bad")
	if err == nil || !strings.Contains(err.Error(), "getBalance") || !strings.Contains(err.Error(), "WrongSize") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestGetTokenAccountsByOwner(t *testing.T) {
	client, srv := newTestClient(t)
	srv.Result("getTokenAccountsByOwner", map[string]any{
		"context": map[string]any{"slot": 1},
		"value": []any{
			map[string]any{
				"pubkey": "Acc1",
				"account": map[string]any{
					"lamports": 2039280,
					"owner":    TokenProgramID,
					"data": map[string]any{
						"program": "spl-token",
						"parsed": map[string]any{
							"type": "account",
							"info": map[string]any{
								"mint":        "MintA",
								"owner":       "Owner1",
								"tokenAmount": map[string]any{"amount": "0", "decimals": 6, "uiAmount": 0.0},
							},
						},
					},
				},
			},
		},
	})

	accounts, err := client.GetTokenAccountsByOwner(context.Background(), "Owner1", TokenProgramID)
	if err != nil {
		t.Fatalf("token accounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected one account, got %d", len(accounts))
	}
	acc := accounts[0]
	if acc.Pubkey != "Acc1" || acc.Mint != "MintA" || acc.Program != TokenProgramID || acc.Lamports != 2039280 || !acc.Empty() {
		t.Fatalf("unexpected account %+v", acc)
	}
	params := string(srv.LastParams("getTokenAccountsByOwner"))
	if !strings.Contains(params, `"encoding":"jsonParsed"`) || !strings.Contains(params, TokenProgramID) {
		t.Fatalf("unexpected params %s", params)
	}
}

func TestVoteAccountsFind(t *testing.T) {
	client, srv := newTestClient(t)
	srv.Result("getVoteAccounts", map[string]any{
		"current":    []any{map[string]any{"votePubkey": "VoteA", "nodePubkey": "NodeA", "activatedStake": 42, "commission": 5}},
		"delinquent": []any{map[string]any{"votePubkey": "VoteB", "nodePubkey": "NodeB"}},
	})

	accounts, err := client.GetVoteAccounts(context.Background())
	if err != nil {
		t.Fatalf("vote accounts: %v", err)
	}
	if acc, delinquent, ok := accounts.Find("NodeA"); !ok || delinquent || acc.Commission != 5 {
		t.Fatalf("unexpected lookup %+v %v %v", acc, delinquent, ok)
	}
	if _, delinquent, ok := accounts.Find("VoteB"); !ok || !delinquent {
		t.Fatalf("expected delinquent validator")
	}
	if _, _, ok := accounts.Find("missing"); ok {
		t.Fatalf("expected miss")
	}
}

func TestPerformanceSamplesAndSnapshot(t *testing.T) {
	client, srv := newTestClient(t)
	srv.Result("getRecentPerformanceSamples", []any{
		map[string]any{"slot": 99, "numTransactions": 1200, "numSlots": 150, "samplePeriodSecs": 60},
	})
	srv.Result("getSlot", 12345)

	samples, err := client.GetRecentPerformanceSamples(context.Background(), 0)
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	if len(samples) != 1 || samples[0].TPS() != 20 {
		t.Fatalf("unexpected samples %+v", samples)
	}
	if (PerformanceSample{NumTransactions: 5}).TPS() != 0 {
		t.Fatalf("expected zero tps for empty period")
	}
	if got := string(srv.LastParams("getRecentPerformanceSamples")); got != "[1]" {
		t.Fatalf("expected default limit 1, got %s", got)
	}

	snap, err := client.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Height != 12345 || snap.Chain != "devnet" || snap.Type != "solana" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestClosedClient(t *testing.T) {
	client, _ := newTestClient(t)
	client.Close()
	if _, err := client.GetSlot(context.Background()); err == nil {
		t.Fatalf("expected error after close")
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error")
	}
}
