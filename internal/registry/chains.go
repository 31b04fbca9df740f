package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// ChainTemplate is a known EVM chain definition. Templates are merged with
// user supplied RPC URLs to build the wallet's chain map.
type ChainTemplate struct {
	Name           string         `json:"name"`
	ChainID        int64          `json:"chain_id"`
	Layer          Layer          `json:"layer"`
	NativeCurrency NativeCurrency `json:"native_currency"`
	ExplorerURL    string         `json:"explorer_url"`
	IsTestnet      bool           `json:"is_testnet"`
}

type Layer string

const (
	LayerL1 Layer = "l1"
	LayerL2 Layer = "l2"
)

const (
	ChainEthereum = "ethereum"
	ChainSepolia  = "sepolia"
	ChainPolygon  = "polygon"
	ChainAmoy     = "amoy"
)

var chainTemplates = map[string]ChainTemplate{
	ChainEthereum: {
		Name:           ChainEthereum,
		ChainID:        1,
		Layer:          LayerL1,
		NativeCurrency: NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
		ExplorerURL:    "https://etherscan.io",
	},
	ChainSepolia: {
		Name:           ChainSepolia,
		ChainID:        11155111,
		Layer:          LayerL1,
		NativeCurrency: NativeCurrency{Name: "Sepolia Ether", Symbol: "ETH", Decimals: 18},
		ExplorerURL:    "https://sepolia.etherscan.io",
		IsTestnet:      true,
	},
	ChainPolygon: {
		Name:           ChainPolygon,
		ChainID:        137,
		Layer:          LayerL2,
		NativeCurrency: NativeCurrency{Name: "POL", Symbol: "POL", Decimals: 18},
		ExplorerURL:    "https://polygonscan.com",
	},
	ChainAmoy: {
		Name:           ChainAmoy,
		ChainID:        80002,
		Layer:          LayerL2,
		NativeCurrency: NativeCurrency{Name: "POL", Symbol: "POL", Decimals: 18},
		ExplorerURL:    "https://amoy.polygonscan.com",
		IsTestnet:      true,
	},
}

// NetworkPair names the L1 and L2 chains used for a network selection.
type NetworkPair struct {
	L1 string
	L2 string
}

func Network(name string) (NetworkPair, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mainnet":
		return NetworkPair{L1: ChainEthereum, L2: ChainPolygon}, nil
	case "testnet":
		return NetworkPair{L1: ChainSepolia, L2: ChainAmoy}, nil
	default:
		return NetworkPair{}, fmt.Errorf("unknown network %q", name)
	}
}

func ChainTemplateByName(name string) (ChainTemplate, bool) {
	tpl, ok := chainTemplates[strings.ToLower(strings.TrimSpace(name))]
	return tpl, ok
}

func ChainTemplateByID(chainID int64) (ChainTemplate, bool) {
	for _, tpl := range chainTemplates {
		if tpl.ChainID == chainID {
			return tpl, true
		}
	}
	return ChainTemplate{}, false
}

// LookupChain accepts a chain name, a decimal chain id or a CAIP-2 style
// "eip155:<id>" reference.
func LookupChain(ref string) (ChainTemplate, bool) {
	clean := strings.ToLower(strings.TrimSpace(ref))
	if tpl, ok := ChainTemplateByName(clean); ok {
		return tpl, true
	}
	clean = strings.TrimPrefix(clean, "eip155:")
	id, err := strconv.ParseInt(clean, 10, 64)
	if err != nil {
		return ChainTemplate{}, false
	}
	return ChainTemplateByID(id)
}

func ChainNames() []string {
	names := make([]string, 0, len(chainTemplates))
	for name := range chainTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c ChainTemplate) CAIP2() string {
	return fmt.Sprintf("eip155:%d", c.ChainID)
}

func (c ChainTemplate) TxURL(txHash string) string {
	if c.ExplorerURL == "" || txHash == "" {
		return ""
	}
	return strings.TrimRight(c.ExplorerURL, "/") + "/tx/" + txHash
}
