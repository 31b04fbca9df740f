package extract

import (
	"math/big"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/llm"
)

type DelegateParams struct {
	ValidatorID uint64   `json:"validatorId"`
	AmountWei   *big.Int `json:"amountWei"`
}

type UndelegateParams struct {
	ValidatorID     uint64   `json:"validatorId"`
	SharesAmountWei *big.Int `json:"sharesAmountWei"`
}

// ValidatorParams serves every request keyed only by a validator id.
type ValidatorParams struct {
	ValidatorID uint64 `json:"validatorId"`
}

type BridgeParams struct {
	// TokenAddressL1 is an L1 token address or NativeToken.
	TokenAddressL1     string   `json:"tokenAddressL1"`
	AmountWei          *big.Int `json:"amountWei"`
	RecipientAddressL2 string   `json:"recipientAddressL2,omitempty"`
}

func (p BridgeParams) Native() bool { return p.TokenAddressL1 == NativeToken }

type CheckpointParams struct {
	BlockNumber uint64 `json:"blockNumber"`
}

type ProposeParams struct {
	Targets     []string   `json:"targets"`
	Values      []*big.Int `json:"values"`
	Calldatas   []string   `json:"calldatas"`
	Description string     `json:"description"`
}

type VoteParams struct {
	ProposalID *big.Int `json:"proposalId"`
	// Support follows the Governor convention: 0 against, 1 for, 2 abstain.
	Support uint8  `json:"support"`
	Reason  string `json:"reason,omitempty"`
}

// BalanceParams selects a balance; both fields are optional.
type BalanceParams struct {
	Chain        string `json:"chain,omitempty"`
	TokenAddress string `json:"tokenAddress,omitempty"`
}

type HeimdallVoteParams struct {
	ProposalID uint64 `json:"proposalId"`
	Option     string `json:"option"`
}

type HeimdallTransferParams struct {
	RecipientAddress string   `json:"recipientAddress"`
	Amount           *big.Int `json:"amount"`
	Denom            string   `json:"denom"`
}

var validatorIDField = Field{
	Name:        "validatorId",
	Aliases:     []string{"validator_id", "validator"},
	Description: "positive integer id of the validator",
	Required:    true,
	Normalize:   normalizePositiveID,
	Manual:      manualValidatorID,
}

// newSchema closes the builder over spec; get returns a normalized value of a
// field that already passed checkRequired.
func newSchema[T any](spec Spec, build func(get func(string) string) (T, error)) Schema[T] {
	return Schema[T]{
		Spec: spec,
		Build: func(f Fields) (T, error) {
			if err := checkRequired(spec, f); err != nil {
				var zero T
				return zero, err
			}
			return build(func(name string) string { return normalized(spec, f, name) })
		},
	}
}

func amountField(name, description string, aliases ...string) Field {
	return Field{
		Name:        name,
		Aliases:     aliases,
		Description: description,
		Required:    true,
		Normalize:   normalizeAmountWei,
		Manual:      manualAmountWei,
	}
}

var Delegate = newSchema(Spec{
	Name:        "delegate",
	Description: "The user wants to delegate (stake) tokens to a validator on Ethereum L1.",
	Fields: []Field{
		validatorIDField,
		amountField("amountWei", "amount to delegate in wei, as a decimal integer string", "amount_wei", "amount"),
	},
}, func(get func(string) string) (DelegateParams, error) {
	return DelegateParams{
		ValidatorID: parseUint(get("validatorId")),
		AmountWei:   mustBig(get("amountWei")),
	}, nil
})

var Undelegate = newSchema(Spec{
	Name:        "undelegate",
	Description: "The user wants to undelegate (unstake) shares from a validator on Ethereum L1.",
	Fields: []Field{
		validatorIDField,
		amountField("sharesAmountWei", "amount of shares to sell in wei, as a decimal integer string", "shares_amount_wei", "amountWei", "amount"),
	},
}, func(get func(string) string) (UndelegateParams, error) {
	return UndelegateParams{
		ValidatorID:     parseUint(get("validatorId")),
		SharesAmountWei: mustBig(get("sharesAmountWei")),
	}, nil
})

// ValidatorSchema builds a validator-id-only schema for the named request.
func ValidatorSchema(name, description string) Schema[ValidatorParams] {
	spec := Spec{Name: name, Description: description, Fields: []Field{validatorIDField}}
	return newSchema(spec, func(get func(string) string) (ValidatorParams, error) {
		return ValidatorParams{ValidatorID: parseUint(get("validatorId"))}, nil
	})
}

var (
	WithdrawRewards = ValidatorSchema("withdraw_rewards", "The user wants to withdraw staking rewards from a validator.")
	RestakeRewards  = ValidatorSchema("restake_rewards", "The user wants to restake (compound) rewards earned from a validator.")
	ValidatorInfo   = ValidatorSchema("validator_info", "The user asks for information about a validator.")
	DelegatorInfo   = ValidatorSchema("delegator_info", "The user asks for their delegation and pending rewards with a validator.")
)

var Bridge = newSchema(Spec{
	Name:        "bridge_deposit",
	Description: "The user wants to bridge tokens from Ethereum L1 to Polygon.",
	Fields: []Field{
		{
			Name:        "tokenAddressL1",
			Aliases:     []string{"token_address_l1", "tokenAddress", "token"},
			Description: "L1 token contract address, or ETH for native ether",
			Required:    true,
			Normalize:   normalizeToken,
			Manual:      manualBridgeToken,
		},
		amountField("amountWei", "amount to bridge in wei, as a decimal integer string", "amount_wei", "amount"),
		{
			Name:        "recipientAddressL2",
			Aliases:     []string{"recipient_address_l2", "recipient", "to"},
			Description: "Polygon recipient address, defaults to the sender",
			Normalize:   normalizeAddress,
			Manual:      manualBridgeRecipient,
		},
	},
}, func(get func(string) string) (BridgeParams, error) {
	return BridgeParams{
		TokenAddressL1:     get("tokenAddressL1"),
		AmountWei:          mustBig(get("amountWei")),
		RecipientAddressL2: get("recipientAddressL2"),
	}, nil
})

var Checkpoint = newSchema(Spec{
	Name:        "checkpoint_status",
	Description: "The user asks whether a Polygon block has been checkpointed to Ethereum.",
	Fields: []Field{{
		Name:        "blockNumber",
		Aliases:     []string{"block_number", "block"},
		Description: "Polygon block number",
		Required:    true,
		Normalize:   normalizeUint,
		Manual:      manualBlockNumber,
	}},
}, func(get func(string) string) (CheckpointParams, error) {
	return CheckpointParams{BlockNumber: parseUint(get("blockNumber"))}, nil
})

var Propose = newSchema(Spec{
	Name:        "governance_propose",
	Description: "The user wants to create a governance proposal on the Polygon governor.",
	Fields: []Field{
		{Name: "targets", Description: "array of target contract addresses", Required: true, Normalize: normalizeList(normalizeAddress), Manual: manualAllAddresses},
		{Name: "values", Description: "array of wei values, one per target", Required: true, Normalize: normalizeList(normalizeBigUint)},
		{Name: "calldatas", Description: "array of 0x-prefixed calldata, one per target", Required: true, Normalize: normalizeList(normalizeHexData), Manual: manualHexData},
		{Name: "description", Description: "proposal description", Required: true, Normalize: normalizeText, Manual: manualDescription},
	},
}, func(get func(string) string) (ProposeParams, error) {
	targets := splitList(get("targets"))
	rawValues := splitList(get("values"))
	calldatas := splitList(get("calldatas"))
	if len(rawValues) != len(targets) || len(calldatas) != len(targets) {
		return ProposeParams{}, clierr.Validation("governance_propose needs one value and one calldata per target (targets=%d values=%d calldatas=%d)", len(targets), len(rawValues), len(calldatas))
	}
	values := make([]*big.Int, len(rawValues))
	for i, v := range rawValues {
		values[i] = mustBig(v)
	}
	return ProposeParams{
		Targets:     targets,
		Values:      values,
		Calldatas:   calldatas,
		Description: get("description"),
	}, nil
})

var Vote = newSchema(Spec{
	Name:        "governance_vote",
	Description: "The user wants to vote on a Polygon governance proposal.",
	Fields: []Field{
		{Name: "proposalId", Aliases: []string{"proposal_id", "proposal"}, Description: "proposal id as a decimal integer string", Required: true, Normalize: normalizeBigUint, Manual: manualProposalID},
		{Name: "support", Aliases: []string{"vote", "option"}, Description: "for, against or abstain", Required: true, Normalize: normalizeSupport, Manual: manualSupport},
		{Name: "reason", Description: "optional reason for the vote", Normalize: normalizeText, Manual: manualReason},
	},
}, func(get func(string) string) (VoteParams, error) {
	return VoteParams{
		ProposalID: mustBig(get("proposalId")),
		Support:    uint8(parseUint(get("support"))),
		Reason:     get("reason"),
	}, nil
})

var Balance = newSchema(Spec{
	Name:        "balance",
	Description: "The user asks for a native or ERC20 token balance on Ethereum or Polygon.",
	Fields: []Field{
		{Name: "chain", Aliases: []string{"network"}, Description: "ethereum or polygon, defaults to ethereum", Normalize: normalizeChain, Manual: manualChain},
		{Name: "tokenAddress", Aliases: []string{"token_address", "token"}, Description: "ERC20 token address, empty for the native currency", Normalize: normalizeAddress, Manual: manualFirstAddress},
	},
}, func(get func(string) string) (BalanceParams, error) {
	return BalanceParams{Chain: get("chain"), TokenAddress: get("tokenAddress")}, nil
})

var HeimdallVote = newSchema(Spec{
	Name:        "heimdall_vote",
	Description: "The user wants to vote on a Heimdall governance proposal.",
	Fields: []Field{
		{Name: "proposalId", Aliases: []string{"proposal_id", "proposal"}, Description: "Heimdall proposal id", Required: true, Normalize: normalizePositiveID, Manual: manualProposalID},
		{Name: "option", Aliases: []string{"vote", "support"}, Description: "YES, NO, ABSTAIN or NO_WITH_VETO", Required: true, Normalize: normalizeHeimdallOption, Manual: manualHeimdallOption},
	},
}, func(get func(string) string) (HeimdallVoteParams, error) {
	return HeimdallVoteParams{
		ProposalID: parseUint(get("proposalId")),
		Option:     get("option"),
	}, nil
})

var HeimdallTransfer = newSchema(Spec{
	Name:        "heimdall_transfer",
	Description: "The user wants to transfer tokens on the Heimdall chain.",
	Fields: []Field{
		{Name: "recipientAddress", Aliases: []string{"recipient_address", "recipient", "to"}, Description: "heimdall1... recipient address", Required: true, Normalize: normalizeHeimdallAddress, Manual: manualHeimdallAddress},
		amountField("amount", "amount in the smallest unit, as a decimal integer string", "amountWei"),
		{Name: "denom", Description: "token denomination, defaults to matic", Normalize: normalizeText},
	},
}, func(get func(string) string) (HeimdallTransferParams, error) {
	denom := strings.ToLower(get("denom"))
	if denom == "" {
		denom = "matic"
	}
	return HeimdallTransferParams{
		RecipientAddress: get("recipientAddress"),
		Amount:           mustBig(get("amount")),
		Denom:            denom,
	}, nil
})

// DefaultStrategies is the usual order: structured model output, free-text
// model output, then regular expressions over the user text.
func DefaultStrategies(model llm.Model) []Strategy {
	return []Strategy{StructuredModel{Model: model}, TextModel{Model: model}, Manual{}}
}

func parseUint(s string) uint64 {
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
