// Package provider builds the named chain clients used by capabilities.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"solagent/internal/config"
	"solagent/internal/web3"
	"solagent/internal/web3/ethereum"
	"solagent/internal/web3/solana"
)

// FallbackChain names the Solana chain created from web3.rpc_url.
const FallbackChain = "solana"

// Registry manages chain clients keyed by name.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Client)
	fail := func(err error) (*Registry, error) {
		for _, c := range clients {
			c.Close()
		}
		return nil, err
	}
	for _, name := range defs.Names() {
		chain := defs.Chains[name]
		var client web3.Client
		switch chain.NormalizedType() {
		case web3.TypeSolana:
			commitment := chain.Commitment
			if commitment == "" {
				commitment = cfg.Commitment
			}
			client, err = solana.NewClient(ctx, solana.Config{
				Name:       name,
				RPCURL:     chain.RPCURL,
				Commitment: commitment,
				Notes:      chain.Description,
			})
		case web3.TypeEVM:
			client, err = ethereum.NewClient(ctx, ethereum.Config{
				Name:   name,
				RPCURL: chain.RPCURL,
				Notes:  chain.Description,
			})
		default:
			err = fmt.Errorf("unsupported chain type %s", chain.Type)
		}
		if err != nil {
			return fail(fmt.Errorf("init chain %s: %w", name, err))
		}
		clients[name] = client
	}

	defaultChain := cfg.DefaultChain
	if !hasType(clients, web3.TypeSolana) && strings.TrimSpace(cfg.RPCURL) != "" {
		if _, taken := clients[FallbackChain]; !taken {
			client, err := solana.NewClient(ctx, solana.Config{Name: FallbackChain, RPCURL: cfg.RPCURL, Commitment: cfg.Commitment})
			if err != nil {
				return fail(err)
			}
			clients[FallbackChain] = client
			if defaultChain == "" {
				defaultChain = FallbackChain
			}
		}
	}

	if len(clients) == 0 {
		return nil, errors.New("no chain rpc endpoint configured")
	}

	if defaultChain == "" {
		defaultChain = sortedNames(clients)[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		return fail(fmt.Errorf("default chain %s is not configured", defaultChain))
	}

	return &Registry{defaultChain: defaultChain, clients: clients}, nil
}

// NewStaticRegistry wraps already constructed clients.
func NewStaticRegistry(defaultChain string, clients ...web3.Client) *Registry {
	r := &Registry{defaultChain: defaultChain, clients: make(map[string]web3.Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	if r.defaultChain == "" && len(clients) > 0 {
		r.defaultChain = clients[0].Name()
	}
	return r
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("chain registry is not initialised")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("default chain %s is not registered", r.defaultChain)
	}
	return client, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Solana returns the named Solana client. An empty name selects the default
// chain when it is a Solana chain, otherwise the first Solana chain by name.
func (r *Registry) Solana(name string) (*solana.Client, error) {
	client, err := r.pick(name, web3.TypeSolana)
	if err != nil {
		return nil, err
	}
	return client.(*solana.Client), nil
}

// EVM is the EVM counterpart of Solana.
func (r *Registry) EVM(name string) (*ethereum.Client, error) {
	client, err := r.pick(name, web3.TypeEVM)
	if err != nil {
		return nil, err
	}
	return client.(*ethereum.Client), nil
}

func (r *Registry) pick(name, chainType string) (web3.Client, error) {
	if r == nil {
		return nil, errors.New("chain registry is not initialised")
	}
	if name != "" {
		client, ok := r.clients[name]
		if !ok {
			return nil, fmt.Errorf("chain %s is not configured", name)
		}
		if client.Type() != chainType {
			return nil, fmt.Errorf("chain %s is %s, not %s", name, client.Type(), chainType)
		}
		return client, nil
	}
	if client, ok := r.clients[r.defaultChain]; ok && client.Type() == chainType {
		return client, nil
	}
	for _, n := range sortedNames(r.clients) {
		if r.clients[n].Type() == chainType {
			return r.clients[n], nil
		}
	}
	return nil, fmt.Errorf("no %s chain configured", chainType)
}

// Snapshots collects the head of every chain. Failing chains are reported
// through the returned error while the others are still listed.
func (r *Registry) Snapshots(ctx context.Context) ([]web3.ChainSnapshot, error) {
	if r == nil {
		return nil, nil
	}
	var errs []error
	out := make([]web3.ChainSnapshot, 0, len(r.clients))
	for _, name := range sortedNames(r.clients) {
		snap, err := r.clients[name].Snapshot(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		out = append(out, snap)
	}
	return out, errors.Join(errs...)
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	return sortedNames(r.clients)
}

func hasType(clients map[string]web3.Client, chainType string) bool {
	for _, c := range clients {
		if c.Type() == chainType {
			return true
		}
	}
	return false
}

func sortedNames(clients map[string]web3.Client) []string {
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
