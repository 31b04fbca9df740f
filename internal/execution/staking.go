package execution

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/units"
	"github.com/ggonzalez94/polygon-agent/internal/wallet"
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func validateStakeInput(validatorID uint64, amount *big.Int, what string) error {
	if validatorID == 0 {
		return clierr.Validation("validator id must be a positive integer")
	}
	if amount == nil || amount.Sign() <= 0 {
		return clierr.Validation("%s must be a positive integer amount in wei", what)
	}
	return nil
}

// Delegate buys validator shares with amount of the staking token. A short
// allowance is approved and confirmed first; the delegation itself is
// returned as soon as it is broadcast.
func (o *Orchestrator) Delegate(ctx context.Context, validatorID uint64, amount *big.Int) (TxResult, error) {
	if err := validateStakeInput(validatorID, amount, "delegation amount"); err != nil {
		return TxResult{}, err
	}
	ctx, r := o.begin(ctx, ProtocolDelegate, o.wallet.L1(), map[string]string{
		"validator_id": strconv.FormatUint(validatorID, 10),
		"amount_wei":   amount.String(),
	})
	res, err := o.delegate(ctx, r, validatorID, amount)
	return res, r.finish(err)
}

func (o *Orchestrator) delegate(ctx context.Context, r *run, validatorID uint64, amount *big.Int) (TxResult, error) {
	c, err := o.l1(ctx, wallet.RoleWrite)
	if err != nil {
		return TxResult{}, err
	}
	share, err := o.resolveShareContract(ctx, r, c, validatorID)
	if err != nil {
		return TxResult{}, err
	}
	token, err := o.stakingToken(ctx, c)
	if err != nil {
		return TxResult{}, err
	}
	approvals, err := o.ensureAllowance(ctx, r, c, allowanceRequest{
		Token:   token,
		Spender: share,
		Need:    amount,
		Approve: amount,
		Cap:     amount,
	})
	if err != nil {
		return TxResult{}, err
	}
	sent, err := o.send(ctx, r, c, txRequest{
		Step:   StepTypeDelegate,
		To:     share,
		ABI:    &validatorShareABI,
		Method: "buyVoucher",
		Args:   []any{amount, big.NewInt(0)},
	})
	if err != nil {
		return TxResult{}, err
	}
	return r.result(c, sent, approvals), nil
}

// Undelegate sells shares worth amount. No approval is needed.
func (o *Orchestrator) Undelegate(ctx context.Context, validatorID uint64, amount *big.Int) (TxResult, error) {
	if err := validateStakeInput(validatorID, amount, "undelegation amount"); err != nil {
		return TxResult{}, err
	}
	ctx, r := o.begin(ctx, ProtocolUndelegate, o.wallet.L1(), map[string]string{
		"validator_id":      strconv.FormatUint(validatorID, 10),
		"shares_amount_wei": amount.String(),
	})
	res, err := func() (TxResult, error) {
		c, err := o.l1(ctx, wallet.RoleWrite)
		if err != nil {
			return TxResult{}, err
		}
		share, err := o.resolveShareContract(ctx, r, c, validatorID)
		if err != nil {
			return TxResult{}, err
		}
		sent, err := o.send(ctx, r, c, txRequest{
			Step:   StepTypeUndelegate,
			To:     share,
			ABI:    &validatorShareABI,
			Method: "sellVoucher",
			Args:   []any{amount, maxUint256},
		})
		if err != nil {
			return TxResult{}, err
		}
		return r.result(c, sent, nil), nil
	}()
	return res, r.finish(err)
}

// WithdrawRewards claims liquid rewards without checking that any exist; a
// zero-reward withdrawal surfaces as a normal transaction failure.
func (o *Orchestrator) WithdrawRewards(ctx context.Context, validatorID uint64) (TxResult, error) {
	if validatorID == 0 {
		return TxResult{}, clierr.Validation("validator id must be a positive integer")
	}
	ctx, r := o.begin(ctx, ProtocolWithdrawRewards, o.wallet.L1(), map[string]string{
		"validator_id": strconv.FormatUint(validatorID, 10),
	})
	res, err := func() (TxResult, error) {
		c, err := o.l1(ctx, wallet.RoleWrite)
		if err != nil {
			return TxResult{}, err
		}
		share, err := o.resolveShareContract(ctx, r, c, validatorID)
		if err != nil {
			return TxResult{}, err
		}
		sent, err := o.sendWithdraw(ctx, r, c, share)
		if err != nil {
			return TxResult{}, err
		}
		return r.result(c, sent, nil), nil
	}()
	return res, r.finish(err)
}

func (o *Orchestrator) sendWithdraw(ctx context.Context, r *run, c *wallet.Client, share common.Address) (sentTx, error) {
	return o.send(ctx, r, c, txRequest{
		Step:   StepTypeWithdrawRewards,
		To:     share,
		ABI:    &validatorShareABI,
		Method: "withdrawRewards",
	})
}

// RestakeResult reports a restake. NoRewards runs send nothing.
type RestakeResult struct {
	NoRewards      bool      `json:"no_rewards"`
	Message        string    `json:"message"`
	RewardsWei     *big.Int  `json:"rewards_wei,omitempty"`
	WithdrawTxHash string    `json:"withdraw_tx_hash,omitempty"`
	Delegation     *TxResult `json:"delegation,omitempty"`
}

// RestakeRewards withdraws pending rewards, waits for the withdrawal to
// confirm, then delegates exactly the withdrawn amount.
func (o *Orchestrator) RestakeRewards(ctx context.Context, validatorID uint64) (RestakeResult, error) {
	if validatorID == 0 {
		return RestakeResult{}, clierr.Validation("validator id must be a positive integer")
	}
	ctx, r := o.begin(ctx, ProtocolRestakeRewards, o.wallet.L1(), map[string]string{
		"validator_id": strconv.FormatUint(validatorID, 10),
	})
	res, err := o.restake(ctx, r, validatorID)
	return res, r.finish(err)
}

func (o *Orchestrator) restake(ctx context.Context, r *run, validatorID uint64) (RestakeResult, error) {
	r.state("reading_rewards")
	info, err := o.GetDelegatorInfo(ctx, validatorID)
	if err != nil {
		return RestakeResult{}, err
	}
	if info == nil || info.PendingRewards == nil || info.PendingRewards.Sign() <= 0 {
		return RestakeResult{NoRewards: true, Message: fmt.Sprintf("No rewards to restake for validator %d.", validatorID)}, nil
	}
	rewards := new(big.Int).Set(info.PendingRewards)
	r.action.Params["rewards_wei"] = rewards.String()

	c, err := o.l1(ctx, wallet.RoleWrite)
	if err != nil {
		return RestakeResult{}, err
	}
	share := common.HexToAddress(info.ShareContract)
	sent, err := o.sendWithdraw(ctx, r, c, share)
	if err != nil {
		return RestakeResult{RewardsWei: rewards}, err
	}
	out := RestakeResult{RewardsWei: rewards, WithdrawTxHash: sent.Hash.Hex()}
	if _, err := o.waitReceipt(ctx, r, c, sent); err != nil {
		return out, err
	}

	delegated, err := o.delegate(ctx, r, validatorID, rewards)
	if err != nil {
		return out, err
	}
	out.Delegation = &delegated
	out.Message = fmt.Sprintf("Restaked %s of rewards with validator %d.", units.FormatEther(rewards, "POL"), validatorID)
	return out, nil
}

// resolveShareContract maps a validator id to its ValidatorShare contract.
func (o *Orchestrator) resolveShareContract(ctx context.Context, r *run, b wallet.Backend, validatorID uint64) (common.Address, error) {
	r.state("resolving_share_contract", "validator_id", validatorID)
	set, err := o.contracts()
	if err != nil {
		return common.Address{}, err
	}
	stakeManager, err := o.contractAddress("stake manager", set.StakeManager)
	if err != nil {
		return common.Address{}, err
	}
	share, err := shareContract(ctx, b, stakeManager, validatorID)
	if err != nil {
		return common.Address{}, err
	}
	if share == (common.Address{}) {
		return common.Address{}, clierr.Contract(stakeManager.Hex(), "getValidatorContract",
			fmt.Sprintf("validator %d has no share contract", validatorID), nil)
	}
	return share, nil
}

func shareContract(ctx context.Context, b wallet.Backend, stakeManager common.Address, validatorID uint64) (common.Address, error) {
	return callAddress(ctx, b, stakeManager, stakeManagerABI, "getValidatorContract", new(big.Int).SetUint64(validatorID))
}

// stakingToken prefers the configured token and asks the StakeManager
// otherwise.
func (o *Orchestrator) stakingToken(ctx context.Context, b wallet.Backend) (common.Address, error) {
	set, err := o.contracts()
	if err != nil {
		return common.Address{}, err
	}
	if set.StakingToken != "" {
		return o.contractAddress("staking token", set.StakingToken)
	}
	stakeManager, err := o.contractAddress("stake manager", set.StakeManager)
	if err != nil {
		return common.Address{}, err
	}
	token, err := callAddress(ctx, b, stakeManager, stakeManagerABI, "token")
	if err != nil {
		return common.Address{}, err
	}
	if token == (common.Address{}) {
		return common.Address{}, clierr.Contract(stakeManager.Hex(), "token", "stake manager returned a zero staking token", nil)
	}
	return token, nil
}

type allowanceRequest struct {
	Token   common.Address
	Spender common.Address
	// Need is the allowance the next call consumes.
	Need *big.Int
	// Approve is the amount granted when the allowance is short.
	Approve *big.Int
	Cap     *big.Int
	// ResetFirst zeroes a smaller nonzero allowance before approving.
	ResetFirst bool
}

// ensureAllowance approves and waits for confirmation when the current
// allowance is below Need. It returns the hashes of confirmed approvals.
func (o *Orchestrator) ensureAllowance(ctx context.Context, r *run, c *wallet.Client, req allowanceRequest) ([]string, error) {
	r.state("checking_allowance", "token", req.Token.Hex(), "spender", req.Spender.Hex())
	current, err := callBig(ctx, c, req.Token, erc20ABI, "allowance", c.Address(), req.Spender)
	if err != nil {
		return nil, err
	}
	if current.Cmp(req.Need) >= 0 {
		return nil, nil
	}

	var hashes []string
	approve := func(step StepType, amount *big.Int, capAmount *big.Int) error {
		r.state("approving", "amount", amount.String())
		sent, err := o.send(ctx, r, c, txRequest{
			Step:        step,
			To:          req.Token,
			ABI:         &erc20ABI,
			Method:      "approve",
			Args:        []any{req.Spender, amount},
			Multiplier:  o.opts.ApprovalGasMultiplier,
			ApprovalCap: capAmount,
		})
		if err != nil {
			return err
		}
		if _, err := o.waitReceipt(ctx, r, c, sent); err != nil {
			return err
		}
		hashes = append(hashes, sent.Hash.Hex())
		return nil
	}
	if req.ResetFirst && current.Sign() > 0 {
		if err := approve(StepTypeApprovalReset, new(big.Int), nil); err != nil {
			return hashes, err
		}
	}
	if err := approve(StepTypeApproval, req.Approve, req.Cap); err != nil {
		return hashes, err
	}
	return hashes, nil
}
