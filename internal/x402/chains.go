package x402

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Chain describes a network that accepts x402 USDC payments.
type Chain struct {
	ID          int64
	Network     string
	Name        string
	ExplorerURL string
	RPCURL      string
	USDC        common.Address
}

const (
	ChainIDAvalancheFuji    int64 = 43113
	ChainIDAvalancheMainnet int64 = 43114
)

var chains = map[int64]Chain{
	ChainIDAvalancheFuji: {
		ID:          ChainIDAvalancheFuji,
		Network:     "avalanche-fuji",
		Name:        "Avalanche Fuji",
		ExplorerURL: "https://testnet.snowtrace.io",
		RPCURL:      "https://api.avax-test.network/ext/bc/C/rpc",
		USDC:        common.HexToAddress("0x5425890298aed601595a70AB815c96711a31Bc65"),
	},
	ChainIDAvalancheMainnet: {
		ID:          ChainIDAvalancheMainnet,
		Network:     "avalanche",
		Name:        "Avalanche",
		ExplorerURL: "https://snowtrace.io",
		RPCURL:      "https://api.avax.network/ext/bc/C/rpc",
		USDC:        common.HexToAddress("0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"),
	},
}

// UnknownChainError is returned for chain ids or network names that are not
// in the chain table. Callers pick a default explicitly.
type UnknownChainError struct {
	ChainID int64
	Network string
}

func (e *UnknownChainError) Error() string {
	if e.Network != "" {
		return fmt.Sprintf("unknown network %q", e.Network)
	}
	return fmt.Sprintf("unknown chain id %d", e.ChainID)
}

// ChainByID looks up a chain by EVM chain id.
func ChainByID(id int64) (Chain, error) {
	c, ok := chains[id]
	if !ok {
		return Chain{}, &UnknownChainError{ChainID: id}
	}
	return c, nil
}

// ChainByNetwork looks up a chain by its x402 network name.
func ChainByNetwork(network string) (Chain, error) {
	for _, c := range chains {
		if strings.EqualFold(c.Network, network) {
			return c, nil
		}
	}
	return Chain{}, &UnknownChainError{Network: network}
}

// ExplorerTxURL builds the block explorer link for a transaction.
func ExplorerTxURL(txHash string, chainID int64) (string, error) {
	c, err := ChainByID(chainID)
	if err != nil {
		return "", err
	}
	return c.ExplorerURL + "/tx/" + txHash, nil
}
