package builtin

import (
	"context"
	"encoding/json"
	"math/big"

	"solagent/internal/capability"
	"solagent/internal/llm"
)

var weiPerEther = new(big.Float).SetInt(big.NewInt(1_000_000_000_000_000_000))

type evmAddressParams struct {
	Address string `json:"address" jsonschema:"description=Hex encoded account address,pattern=^0x[0-9a-fA-F]{40}$"`
	Chain   string `json:"chain,omitempty" jsonschema:"description=Configured chain name"`
}

type evmBalanceResult struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
	Wei     string `json:"wei"`
	Ether   string `json:"ether"`
}

type evmNonceResult struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
	Nonce   uint64 `json:"nonce"`
}

func evmGroup(cfg Config) capability.Group {
	return func(r *capability.Registry) error {
		schema := capability.SchemaFor(&evmAddressParams{})
		err := r.Register(capability.Descriptor{
			Name:        "eth_get_balance",
			Aliases:     []string{"eth_balance"},
			Version:     Version,
			Backend:     cfg.Backend,
			Description: "Get the native balance of an EVM account.",
			Schema:      schema,
		}, capability.Func(func(ctx context.Context, raw json.RawMessage, _ llm.Backend) (string, error) {
			var p evmAddressParams
			if err := decodeParams("eth_get_balance", raw, &p); err != nil {
				return "", err
			}
			client, err := cfg.Chains.EVM(p.Chain)
			if err != nil {
				return "", err
			}
			wei, err := client.Balance(ctx, p.Address)
			if err != nil {
				return "", err
			}
			ether := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther)
			return encodeResult(evmBalanceResult{
				Address: p.Address,
				Chain:   client.Name(),
				Wei:     wei.String(),
				Ether:   ether.Text('f', 18),
			})
		}))
		if err != nil {
			return err
		}
		return r.Register(capability.Descriptor{
			Name:        "eth_get_transaction_count",
			Aliases:     []string{"eth_nonce"},
			Version:     Version,
			Backend:     cfg.Backend,
			Description: "Get the pending transaction count of an EVM account.",
			Schema:      schema,
		}, capability.Func(func(ctx context.Context, raw json.RawMessage, _ llm.Backend) (string, error) {
			var p evmAddressParams
			if err := decodeParams("eth_get_transaction_count", raw, &p); err != nil {
				return "", err
			}
			client, err := cfg.Chains.EVM(p.Chain)
			if err != nil {
				return "", err
			}
			nonce, err := client.Nonce(ctx, p.Address)
			if err != nil {
				return "", err
			}
			return encodeResult(evmNonceResult{Address: p.Address, Chain: client.Name(), Nonce: nonce})
		}))
	}
}
