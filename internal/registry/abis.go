package registry

// ABI fragments for the Polygon PoS contracts the orchestrator talks to.
const (
	ERC20ABI = `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
	]`

	StakeManagerABI = `[
		{"name":"getValidatorContract","type":"function","stateMutability":"view","inputs":[{"name":"validatorId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
		{"name":"validators","type":"function","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[
			{"name":"amount","type":"uint256"},
			{"name":"reward","type":"uint256"},
			{"name":"activationEpoch","type":"uint256"},
			{"name":"deactivationEpoch","type":"uint256"},
			{"name":"jailTime","type":"uint256"},
			{"name":"signer","type":"address"},
			{"name":"contractAddress","type":"address"},
			{"name":"status","type":"uint8"},
			{"name":"commissionRate","type":"uint256"},
			{"name":"lastCommissionUpdate","type":"uint256"},
			{"name":"delegatorsReward","type":"uint256"},
			{"name":"delegatedAmount","type":"uint256"},
			{"name":"initialRewardPerStake","type":"uint256"}
		]},
		{"name":"currentEpoch","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"token","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
	]`

	ValidatorShareABI = `[
		{"name":"buyVoucher","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_amount","type":"uint256"},{"name":"_minSharesToMint","type":"uint256"}],"outputs":[{"name":"amountToDeposit","type":"uint256"}]},
		{"name":"sellVoucher","type":"function","stateMutability":"nonpayable","inputs":[{"name":"claimAmount","type":"uint256"},{"name":"maximumSharesToBurn","type":"uint256"}],"outputs":[]},
		{"name":"withdrawRewards","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]},
		{"name":"getTotalStake","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"}]},
		{"name":"getLiquidRewards","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	RootChainManagerABI = `[
		{"name":"depositFor","type":"function","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"},{"name":"rootToken","type":"address"},{"name":"depositData","type":"bytes"}],"outputs":[]},
		{"name":"depositEtherFor","type":"function","stateMutability":"payable","inputs":[{"name":"user","type":"address"}],"outputs":[]},
		{"name":"checkpointManagerAddress","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"tokenToType","type":"function","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"bytes32"}]},
		{"name":"typeToPredicate","type":"function","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]}
	]`

	CheckpointManagerABI = `[
		{"name":"currentHeaderBlock","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"headerBlocks","type":"function","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[
			{"name":"root","type":"bytes32"},
			{"name":"start","type":"uint256"},
			{"name":"end","type":"uint256"},
			{"name":"createdAt","type":"uint256"},
			{"name":"proposer","type":"address"}
		]}
	]`

	GovernorABI = `[
		{"name":"propose","type":"function","stateMutability":"nonpayable","inputs":[{"name":"targets","type":"address[]"},{"name":"values","type":"uint256[]"},{"name":"calldatas","type":"bytes[]"},{"name":"description","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"castVote","type":"function","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"},{"name":"support","type":"uint8"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"castVoteWithReason","type":"function","stateMutability":"nonpayable","inputs":[{"name":"proposalId","type":"uint256"},{"name":"support","type":"uint8"},{"name":"reason","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"state","type":"function","stateMutability":"view","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"hashProposal","type":"function","stateMutability":"pure","inputs":[{"name":"targets","type":"address[]"},{"name":"values","type":"uint256[]"},{"name":"calldatas","type":"bytes[]"},{"name":"descriptionHash","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]}
	]`
)
