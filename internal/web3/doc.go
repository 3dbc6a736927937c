// Package web3 holds chain connectivity shared by the built-in
// capabilities: the chain client contract, chain definition files and the
// Solana and EVM JSON-RPC clients in its subpackages.
package web3
