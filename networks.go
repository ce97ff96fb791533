package agentpay

import (
	"fmt"
	"math/big"
)

// NetworkConfig holds per-network chain parameters.
type NetworkConfig struct {
	ChainID     int64
	USDCAddress string
	ExplorerURL string
}

// Networks maps the network identifiers used in payment requirements to
// their chain parameters.
var Networks = map[string]NetworkConfig{
	"base": {
		ChainID:     8453,
		USDCAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		ExplorerURL: "https://basescan.org",
	},
	"base-sepolia": {
		ChainID:     84532,
		USDCAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		ExplorerURL: "https://sepolia.basescan.org",
	},
	"ethereum": {
		ChainID:     1,
		USDCAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		ExplorerURL: "https://etherscan.io",
	},
	"sepolia": {
		ChainID:     11155111,
		USDCAddress: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
		ExplorerURL: "https://sepolia.etherscan.io",
	},
}

// ChainID resolves a network identifier to its chain id.
func ChainID(network string) (*big.Int, error) {
	cfg, ok := Networks[network]
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	return big.NewInt(cfg.ChainID), nil
}

// ExplorerTxURL returns the block-explorer URL for a transaction hash, or
// an empty string for networks without a configured explorer.
func ExplorerTxURL(network, txHash string) string {
	cfg, ok := Networks[network]
	if !ok || cfg.ExplorerURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", cfg.ExplorerURL, txHash)
}
