package registry

import (
	"fmt"
	"strings"
)

// Public default RPC endpoints by chain ID, used when no custom URL is set.
var defaultRPCByChainID = map[int64]string{
	1:        "https://eth.llamarpc.com",
	137:      "https://polygon-rpc.com",
	80002:    "https://rpc-amoy.polygon.technology",
	11155111: "https://ethereum-sepolia-rpc.publicnode.com",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

// ResolveRPCURL prefers the custom URL over the chain default.
func ResolveRPCURL(custom string, chainID int64) (string, error) {
	if strings.TrimSpace(custom) != "" {
		return strings.TrimSpace(custom), nil
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d", chainID)
}
