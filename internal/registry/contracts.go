package registry

import (
	"strings"
)

// Contract names accepted in configuration overrides.
const (
	ContractStakeManager     = "stake_manager"
	ContractRootChainManager = "root_chain_manager"
	ContractERC20Predicate   = "erc20_predicate"
	ContractEtherPredicate   = "ether_predicate"
	ContractStakingToken     = "staking_token"
	ContractGovernor         = "governor"
)

// PolygonContracts are the L1 contracts of the Polygon PoS deployment that
// belongs to an Ethereum chain. Empty fields must be supplied through
// configuration overrides before the dependent operation can run.
type PolygonContracts struct {
	StakeManager     string `json:"stake_manager"`
	RootChainManager string `json:"root_chain_manager"`
	ERC20Predicate   string `json:"erc20_predicate"`
	EtherPredicate   string `json:"ether_predicate"`
	StakingToken     string `json:"staking_token"`
}

var polygonContractsByChain = map[string]PolygonContracts{
	ChainEthereum: {
		StakeManager:     "0x5e3Ef299fDDf15eAa0432E6e66473ace8c13D908",
		RootChainManager: "0xA0c68C638235ee32657e8f720a23ceC1bFc77C77",
		ERC20Predicate:   "0x40ec5B33f54e0E8A33A975908C5BA1c14e5BbbDf",
		EtherPredicate:   "0x8484Ef722627bf18ca5Ae6BcF031c23E6e922B30",
		StakingToken:     "0x7D1AfA7B718fb893dB30A3aBc0Cfc608AaCfeBB0",
	},
	ChainSepolia: {
		StakeManager:     "0x4AE8f648B1Ec892B6cc68C89cc088583964d08bE",
		RootChainManager: "0x34F5A25B627f50Bb3f5cAb72807c4D4F405a9232",
		ERC20Predicate:   "0x4258C75b752c812B7Fa586bdeb259f2d4bd17f4F",
	},
}

// Contracts returns the Polygon contract set of an L1 chain, with any
// overrides (keyed by contract name) applied on top.
func Contracts(l1Chain string, overrides map[string]string) (PolygonContracts, bool) {
	set, ok := polygonContractsByChain[strings.ToLower(strings.TrimSpace(l1Chain))]
	if !ok && len(overrides) == 0 {
		return PolygonContracts{}, false
	}
	for name, addr := range overrides {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case ContractStakeManager:
			set.StakeManager = addr
		case ContractRootChainManager:
			set.RootChainManager = addr
		case ContractERC20Predicate:
			set.ERC20Predicate = addr
		case ContractEtherPredicate:
			set.EtherPredicate = addr
		case ContractStakingToken:
			set.StakingToken = addr
		}
	}
	return set, true
}
