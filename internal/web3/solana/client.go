// Package solana is a thin Solana JSON-RPC client built on the go-ethereum
// JSON-RPC transport.
package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"solagent/internal/web3"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Well-known program and mint addresses.
const (
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PE4mRD3o9sB5i6x"
	USDCMint           = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// DefaultCommitment is used when Config.Commitment is empty.
const DefaultCommitment = "confirmed"

// Config describes how to reach a Solana cluster.
type Config struct {
	Name       string
	RPCURL     string
	Commitment string
	Notes      string
}

// Client issues Solana RPC calls.
type Client struct {
	name       string
	notes      string
	commitment string

	mu  sync.Mutex
	rpc *gethrpc.Client
}

// NewClient dials the configured RPC endpoint.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("solana rpc url is required")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial solana rpc: %w", err)
	}
	commitment := strings.TrimSpace(cfg.Commitment)
	if commitment == "" {
		commitment = DefaultCommitment
	}
	name := cfg.Name
	if name == "" {
		name = web3.TypeSolana
	}
	return &Client{name: name, notes: cfg.Notes, commitment: commitment, rpc: rpcClient}, nil
}

// Name returns the chain name.
func (c *Client) Name() string { return c.name }

// Type reports web3.TypeSolana.
func (c *Client) Type() string { return web3.TypeSolana }

// Close releases the RPC connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

// Call performs a raw RPC call and decodes the result into result.
func (c *Client) Call(ctx context.Context, result any, method string, params ...any) error {
	c.mu.Lock()
	rpcClient := c.rpc
	c.mu.Unlock()
	if rpcClient == nil {
		return errors.New("solana client is closed")
	}
	if err := rpcClient.CallContext(ctx, result, method, params...); err != nil {
		return fmt.Errorf("solana %s: %w", method, err)
	}
	return nil
}

type contextValue[T any] struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value T `json:"value"`
}

func (c *Client) commitmentConfig() map[string]any {
	return map[string]any{"commitment": c.commitment}
}

// GetBalance returns the lamport balance of pubkey.
func (c *Client) GetBalance(ctx context.Context, pubkey string) (uint64, error) {
	var out contextValue[uint64]
	if err := c.Call(ctx, &out, "getBalance", pubkey, c.commitmentConfig()); err != nil {
		return 0, err
	}
	return out.Value, nil
}

// GetSlot returns the current slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.Call(ctx, &slot, "getSlot", c.commitmentConfig()); err != nil {
		return 0, err
	}
	return slot, nil
}

// VoteAccount is one entry of getVoteAccounts.
type VoteAccount struct {
	VotePubkey       string `json:"votePubkey"`
	NodePubkey       string `json:"nodePubkey"`
	ActivatedStake   uint64 `json:"activatedStake"`
	Commission       int    `json:"commission"`
	EpochVoteAccount bool   `json:"epochVoteAccount"`
	LastVote         uint64 `json:"lastVote"`
}

// VoteAccounts groups current and delinquent validators.
type VoteAccounts struct {
	Current    []VoteAccount `json:"current"`
	Delinquent []VoteAccount `json:"delinquent"`
}

// Find looks a vote account up by vote or node pubkey. delinquent reports
// which list it came from.
func (v VoteAccounts) Find(pubkey string) (account VoteAccount, delinquent, ok bool) {
	for _, acc := range v.Current {
		if acc.VotePubkey == pubkey || acc.NodePubkey == pubkey {
			return acc, false, true
		}
	}
	for _, acc := range v.Delinquent {
		if acc.VotePubkey == pubkey || acc.NodePubkey == pubkey {
			return acc, true, true
		}
	}
	return VoteAccount{}, false, false
}

// GetVoteAccounts lists the cluster's validators.
func (c *Client) GetVoteAccounts(ctx context.Context) (VoteAccounts, error) {
	var out VoteAccounts
	if err := c.Call(ctx, &out, "getVoteAccounts", c.commitmentConfig()); err != nil {
		return VoteAccounts{}, err
	}
	return out, nil
}

// TokenAccount is a parsed SPL token account.
type TokenAccount struct {
	Pubkey   string  `json:"pubkey"`
	Mint     string  `json:"mint"`
	Owner    string  `json:"owner"`
	Program  string  `json:"program"`
	Amount   string  `json:"amount"`
	Decimals int     `json:"decimals"`
	UIAmount float64 `json:"ui_amount"`
	Lamports uint64  `json:"lamports"`
}

// Empty reports whether the account holds no tokens.
func (t TokenAccount) Empty() bool {
	return t.Amount == "" || strings.Trim(t.Amount, "0") == ""
}

type keyedAccount struct {
	Pubkey  string `json:"pubkey"`
	Account struct {
		Lamports uint64 `json:"lamports"`
		Owner    string `json:"owner"`
		Data     struct {
			Program string `json:"program"`
			Parsed  struct {
				Info struct {
					Mint        string `json:"mint"`
					Owner       string `json:"owner"`
					TokenAmount struct {
						Amount   string   `json:"amount"`
						Decimals int      `json:"decimals"`
						UIAmount *float64 `json:"uiAmount"`
					} `json:"tokenAmount"`
				} `json:"info"`
			} `json:"parsed"`
		} `json:"data"`
	} `json:"account"`
}

// GetTokenAccountsByOwner lists owner's token accounts under programID.
func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner, programID string) ([]TokenAccount, error) {
	var out contextValue[[]keyedAccount]
	filter := map[string]any{"programId": programID}
	opts := map[string]any{"encoding": "jsonParsed", "commitment": c.commitment}
	if err := c.Call(ctx, &out, "getTokenAccountsByOwner", owner, filter, opts); err != nil {
		return nil, err
	}
	accounts := make([]TokenAccount, 0, len(out.Value))
	for _, item := range out.Value {
		info := item.Account.Data.Parsed.Info
		acc := TokenAccount{
			Pubkey:   item.Pubkey,
			Mint:     info.Mint,
			Owner:    info.Owner,
			Program:  item.Account.Owner,
			Amount:   info.TokenAmount.Amount,
			Decimals: info.TokenAmount.Decimals,
			Lamports: item.Account.Lamports,
		}
		if info.TokenAmount.UIAmount != nil {
			acc.UIAmount = *info.TokenAmount.UIAmount
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// PerformanceSample is one entry of getRecentPerformanceSamples.
type PerformanceSample struct {
	Slot             uint64 `json:"slot"`
	NumTransactions  uint64 `json:"numTransactions"`
	NumSlots         uint64 `json:"numSlots"`
	SamplePeriodSecs uint64 `json:"samplePeriodSecs"`
}

// TPS is the sample's transactions per second, 0 for an empty period.
func (p PerformanceSample) TPS() float64 {
	if p.SamplePeriodSecs == 0 {
		return 0
	}
	return float64(p.NumTransactions) / float64(p.SamplePeriodSecs)
}

// GetRecentPerformanceSamples returns up to limit samples, newest first.
func (c *Client) GetRecentPerformanceSamples(ctx context.Context, limit int) ([]PerformanceSample, error) {
	if limit <= 0 {
		limit = 1
	}
	var out []PerformanceSample
	if err := c.Call(ctx, &out, "getRecentPerformanceSamples", limit); err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshot reports the current slot.
func (c *Client) Snapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	slot, err := c.GetSlot(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	return web3.ChainSnapshot{Chain: c.name, Type: web3.TypeSolana, Height: slot, Notes: c.notes}, nil
}

var _ web3.Client = (*Client)(nil)
