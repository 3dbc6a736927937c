package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"solagent/internal/capability"
	xerrors "solagent/internal/errors"
	"solagent/internal/llm"
	"solagent/internal/web3/solana"
)

// maxCloseInstructions bounds the accounts listed by one
// close_empty_token_accounts call.
const maxCloseInstructions = 40

type balanceParams struct {
	Pubkey string `json:"pubkey" jsonschema:"description=Base58 wallet address,minLength=32,maxLength=44,pattern=^[1-9A-HJ-NP-Za-km-z]+$"`
	Chain  string `json:"chain,omitempty" jsonschema:"description=Configured chain name"`
}

type balanceResult struct {
	Pubkey   string  `json:"pubkey"`
	Chain    string  `json:"chain"`
	Lamports uint64  `json:"lamports"`
	SOL      float64 `json:"sol"`
}

func balanceGroup(cfg Config) capability.Group {
	return func(r *capability.Registry) error {
		return r.Register(capability.Descriptor{
			Name:        "get_balance",
			Aliases:     []string{"balance", "sol_balance"},
			Version:     Version,
			Backend:     cfg.Backend,
			Description: "Get the SOL balance of a wallet address.",
			Schema:      capability.SchemaFor(&balanceParams{}),
		}, capability.Func(func(ctx context.Context, raw json.RawMessage, _ llm.Backend) (string, error) {
			var p balanceParams
			if err := decodeParams("get_balance", raw, &p); err != nil {
				return "", err
			}
			client, err := cfg.Chains.Solana(p.Chain)
			if err != nil {
				return "", err
			}
			lamports, err := client.GetBalance(ctx, p.Pubkey)
			if err != nil {
				return "", err
			}
			return encodeResult(balanceResult{
				Pubkey:   p.Pubkey,
				Chain:    client.Name(),
				Lamports: lamports,
				SOL:      float64(lamports) / solana.LamportsPerSOL,
			})
		}))
	}
}

type stakeParams struct {
	Amount    float64 `json:"amount" jsonschema:"description=Amount of SOL to delegate,exclusiveMinimum=0"`
	Validator string  `json:"validator" jsonschema:"description=Vote account or identity of the validator,minLength=32,maxLength=44"`
	Chain     string  `json:"chain,omitempty" jsonschema:"description=Configured chain name"`
}

type stakePlan struct {
	Action         string  `json:"action"`
	Status         string  `json:"status"`
	Chain          string  `json:"chain"`
	AmountSOL      float64 `json:"amount_sol"`
	Lamports       uint64  `json:"lamports"`
	VoteAccount    string  `json:"vote_account"`
	Commission     int     `json:"commission"`
	ActivatedStake uint64  `json:"activated_stake"`
}

func stakingGroup(cfg Config) capability.Group {
	return func(r *capability.Registry) error {
		return r.Register(capability.Descriptor{
			Name:        "stake_sol",
			Aliases:     []string{"stake"},
			Version:     Version,
			Backend:     cfg.Backend,
			Description: "Plan a delegation of SOL to an active validator.",
			Schema:      capability.SchemaFor(&stakeParams{}),
		}, capability.Func(func(ctx context.Context, raw json.RawMessage, _ llm.Backend) (string, error) {
			var p stakeParams
			if err := decodeParams("stake_sol", raw, &p); err != nil {
				return "", err
			}
			if p.Amount <= 0 || math.IsInf(p.Amount, 0) {
				return "", xerrors.New(xerrors.CodeInvalidArgument, "stake amount must be positive")
			}
			client, err := cfg.Chains.Solana(p.Chain)
			if err != nil {
				return "", err
			}
			accounts, err := client.GetVoteAccounts(ctx)
			if err != nil {
				return "", err
			}
			vote, delinquent, ok := accounts.Find(strings.TrimSpace(p.Validator))
			if !ok {
				return "", xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("validator %s is not a vote account on %s", p.Validator, client.Name()))
			}
			if delinquent {
				return "", xerrors.New(xerrors.CodeConflict, fmt.Sprintf("validator %s is delinquent", p.Validator))
			}
			return encodeResult(stakePlan{
				Action:         "delegate",
				Status:         "planned",
				Chain:          client.Name(),
				AmountSOL:      p.Amount,
				Lamports:       uint64(math.Round(p.Amount * solana.LamportsPerSOL)),
				VoteAccount:    vote.VotePubkey,
				Commission:     vote.Commission,
				ActivatedStake: vote.ActivatedStake,
			})
		}))
	}
}

type tokenAccountsParams struct {
	Owner string `json:"owner" jsonschema:"description=Base58 wallet address owning the token accounts,minLength=32,maxLength=44,pattern=^[1-9A-HJ-NP-Za-km-z]+$"`
	Chain string `json:"chain,omitempty" jsonschema:"description=Configured chain name"`
}

type emptyAccount struct {
	Pubkey   string `json:"pubkey"`
	Mint     string `json:"mint"`
	Program  string `json:"program"`
	Lamports uint64 `json:"lamports"`
}

type tokenAccountsResult struct {
	Owner               string         `json:"owner"`
	Chain               string         `json:"chain"`
	Scanned             int            `json:"scanned"`
	EmptyAccounts       []emptyAccount `json:"empty_accounts"`
	ReclaimableLamports uint64         `json:"reclaimable_lamports"`
	Truncated           bool           `json:"truncated"`
}

func tokenAccountsGroup(cfg Config) capability.Group {
	return func(r *capability.Registry) error {
		return r.Register(capability.Descriptor{
			Name:        "close_empty_token_accounts",
			Aliases:     []string{"close_empty_accounts"},
			Version:     Version,
			Backend:     cfg.Backend,
			Description: "List empty SPL token accounts of a wallet that can be closed to reclaim rent.",
			Schema:      capability.SchemaFor(&tokenAccountsParams{}),
		}, capability.Func(func(ctx context.Context, raw json.RawMessage, _ llm.Backend) (string, error) {
			var p tokenAccountsParams
			if err := decodeParams("close_empty_token_accounts", raw, &p); err != nil {
				return "", err
			}
			client, err := cfg.Chains.Solana(p.Chain)
			if err != nil {
				return "", err
			}
			res := tokenAccountsResult{Owner: p.Owner, Chain: client.Name(), EmptyAccounts: []emptyAccount{}}
			for _, program := range []string{solana.TokenProgramID, solana.Token2022ProgramID} {
				accounts, err := client.GetTokenAccountsByOwner(ctx, p.Owner, program)
				if err != nil {
					return "", err
				}
				res.Scanned += len(accounts)
				for _, acc := range accounts {
					if !acc.Empty() || acc.Mint == solana.USDCMint {
						continue
					}
					if len(res.EmptyAccounts) >= maxCloseInstructions {
						res.Truncated = true
						break
					}
					res.EmptyAccounts = append(res.EmptyAccounts, emptyAccount{
						Pubkey:   acc.Pubkey,
						Mint:     acc.Mint,
						Program:  program,
						Lamports: acc.Lamports,
					})
					res.ReclaimableLamports += acc.Lamports
				}
			}
			return encodeResult(res)
		}))
	}
}

type tpsParams struct {
	Chain string `json:"chain,omitempty" jsonschema:"description=Configured chain name"`
}

type tpsResult struct {
	Chain string  `json:"chain"`
	TPS   float64 `json:"tps"`
	Slot  uint64  `json:"slot,omitempty"`
}

func tpsGroup(cfg Config) capability.Group {
	return func(r *capability.Registry) error {
		return r.Register(capability.Descriptor{
			Name:        "get_tps",
			Aliases:     []string{"tps"},
			Version:     Version,
			Backend:     cfg.Backend,
			Description: "Get the current transactions per second of the Solana network.",
			Schema:      capability.SchemaFor(&tpsParams{}),
		}, capability.Func(func(ctx context.Context, raw json.RawMessage, _ llm.Backend) (string, error) {
			var p tpsParams
			if err := decodeParams("get_tps", raw, &p); err != nil {
				return "", err
			}
			client, err := cfg.Chains.Solana(p.Chain)
			if err != nil {
				return "", err
			}
			samples, err := client.GetRecentPerformanceSamples(ctx, 1)
			if err != nil {
				return "", err
			}
			res := tpsResult{Chain: client.Name()}
			if len(samples) > 0 {
				res.TPS = samples[0].TPS()
				res.Slot = samples[0].Slot
			}
			return encodeResult(res)
		}))
	}
}
