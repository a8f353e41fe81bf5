// Package network describes the single public test network the service
// talks to. Keeping chain facts in one place means the RPC endpoint, the
// signer and the explorer links cannot disagree about which chain is in use.
package network

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Network defines the chain parameters the service depends on.
type Network struct {
	// Name is the canonical identifier (e.g., "sepolia").
	Name string

	// ChainID is the EIP-155 chain identifier used for signing and for the
	// readiness check against eth_chainId.
	ChainID uint64

	// RPCURLTemplate is the hosted endpoint with a single %s for the API key.
	RPCURLTemplate string

	// ExplorerURL is the block explorer base, without a trailing slash.
	ExplorerURL string

	// SupportsEIP1559 selects dynamic-fee transactions over legacy ones.
	SupportsEIP1559 bool
}

// Sepolia returns the Sepolia test network definition.
func Sepolia() *Network {
	return &Network{
		Name:            "sepolia",
		ChainID:         11155111,
		RPCURLTemplate:  "https://sepolia.infura.io/v3/%s",
		ExplorerURL:     "https://sepolia.etherscan.io",
		SupportsEIP1559: true,
	}
}

// String returns the canonical name of the network.
func (n *Network) String() string {
	if n == nil {
		return "unknown"
	}
	return n.Name
}

// ChainIDBig returns the chain ID as a big.Int for transaction signers.
func (n *Network) ChainIDBig() *big.Int {
	return new(big.Int).SetUint64(n.ChainID)
}

// RPCURL fills the endpoint template with an API key.
func (n *Network) RPCURL(apiKey string) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", fmt.Errorf("%s: RPC API key is empty", n.Name)
	}
	return fmt.Sprintf(n.RPCURLTemplate, apiKey), nil
}

// TxURL returns the explorer page for a transaction.
func (n *Network) TxURL(hash common.Hash) string {
	return n.ExplorerURL + "/tx/" + hash.Hex()
}

// AddressURL returns the explorer page for an account or contract.
func (n *Network) AddressURL(addr common.Address) string {
	return n.ExplorerURL + "/address/" + addr.Hex()
}
