// Package builtin provides the capability groups shipped with solagentd.
// Each group is bound to one or more tags and registered on demand through
// capability.Registry.RegisterByTags.
package builtin

import (
	"encoding/json"
	"fmt"

	"solagent/internal/capability"
	xerrors "solagent/internal/errors"
	"solagent/internal/web3/ethereum"
	"solagent/internal/web3/solana"
)

// Version is stamped on every built-in descriptor.
const Version = "1.0.0"

// ChainProvider hands out chain clients by name. An empty name selects the
// default chain of the requested type.
type ChainProvider interface {
	Solana(name string) (*solana.Client, error)
	EVM(name string) (*ethereum.Client, error)
}

// Config is shared by all built-in groups.
type Config struct {
	// Backend is the completion backend named in every descriptor.
	Backend string
	Chains  ChainProvider
}

// Tags maps each accepted tag to its group. Original tool names are
// accepted alongside the short tags.
func Tags(cfg Config) map[string]capability.Group {
	balance := balanceGroup(cfg)
	staking := stakingGroup(cfg)
	tokens := tokenAccountsGroup(cfg)
	tps := tpsGroup(cfg)
	return map[string]capability.Group{
		"balance":                    balance,
		"get_balance":                balance,
		"staking":                    staking,
		"stake_sol":                  staking,
		"token_accounts":             tokens,
		"close_empty_token_accounts": tokens,
		"tps":                        tps,
		"get_tps":                    tps,
		"evm":                        evmGroup(cfg),
	}
}

// Options binds every built-in group to a registry under construction.
func Options(cfg Config) []capability.Option {
	tags := Tags(cfg)
	opts := make([]capability.Option, 0, len(tags))
	for tag, group := range tags {
		opts = append(opts, capability.WithGroup(tag, group))
	}
	return opts
}

func decodeParams(name string, raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("decode %s parameters", name))
	}
	return nil
}

func encodeResult(v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
