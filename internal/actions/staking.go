package actions

import (
	"context"
	"fmt"

	"github.com/ggonzalez94/polygon-agent/internal/extract"
	"github.com/ggonzalez94/polygon-agent/internal/units"
)

// StakeSymbol is the staking token symbol used in user-facing text.
const StakeSymbol = "POL"

func Delegate() Action {
	return &action{
		name:        "DELEGATE_L1",
		similes:     []string{"STAKE_L1", "DELEGATE_TO_VALIDATOR", "STAKE_POL", "STAKE_MATIC"},
		description: "Delegates (stakes) POL/MATIC to a Polygon validator through the L1 StakeManager.",
		needsWallet: true,
		handle: func(ctx context.Context, rt Runtime, msg Message) (Result, error) {
			p, err := params(ctx, rt, extract.Delegate, msg)
			if err != nil {
				return Result{}, err
			}
			orch, err := orchestrator(rt)
			if err != nil {
				return Result{}, err
			}
			res, err := orch.Delegate(ctx, p.ValidatorID, p.AmountWei)
			if err != nil {
				return Result{}, err
			}
			text := fmt.Sprintf("Delegation of %s to validator %d submitted. %s",
				units.FormatEther(p.AmountWei, StakeSymbol), p.ValidatorID, txLine(res))
			return success(text, res)
		},
	}
}

func Undelegate() Action {
	return &action{
		name:        "UNDELEGATE_L1",
		similes:     []string{"UNSTAKE_L1", "SELL_VOUCHER", "UNDELEGATE_FROM_VALIDATOR"},
		description: "Undelegates shares from a Polygon validator by selling vouchers on L1.",
		needsWallet: true,
		handle: func(ctx context.Context, rt Runtime, msg Message) (Result, error) {
			p, err := params(ctx, rt, extract.Undelegate, msg)
			if err != nil {
				return Result{}, err
			}
			orch, err := orchestrator(rt)
			if err != nil {
				return Result{}, err
			}
			res, err := orch.Undelegate(ctx, p.ValidatorID, p.SharesAmountWei)
			if err != nil {
				return Result{}, err
			}
			text := fmt.Sprintf("Undelegation of %s shares from validator %d submitted. Tokens unlock after the unbonding period. %s",
				units.FromBaseUnits(p.SharesAmountWei, units.Decimals), p.ValidatorID, txLine(res))
			return success(text, res)
		},
	}
}

func WithdrawRewards() Action {
	return &action{
		name:        "WITHDRAW_REWARDS_L1",
		similes:     []string{"CLAIM_REWARDS_L1", "CLAIM_STAKING_REWARDS", "WITHDRAW_STAKING_REWARDS"},
		description: "Withdraws pending delegation rewards from a Polygon validator on L1.",
		needsWallet: true,
		handle: func(ctx context.Context, rt Runtime, msg Message) (Result, error) {
			p, err := params(ctx, rt, extract.WithdrawRewards, msg)
			if err != nil {
				return Result{}, err
			}
			orch, err := orchestrator(rt)
			if err != nil {
				return Result{}, err
			}
			res, err := orch.WithdrawRewards(ctx, p.ValidatorID)
			if err != nil {
				return Result{}, err
			}
			return success(fmt.Sprintf("Reward withdrawal from validator %d submitted. %s", p.ValidatorID, txLine(res)), res)
		},
	}
}

func RestakeRewards() Action {
	return &action{
		name:        "RESTAKE_REWARDS_L1",
		similes:     []string{"COMPOUND_REWARDS_L1", "REDELEGATE_REWARDS", "RESTAKE"},
		description: "Withdraws pending rewards from a validator, waits for confirmation, then delegates them back.",
		needsWallet: true,
		handle: func(ctx context.Context, rt Runtime, msg Message) (Result, error) {
			p, err := params(ctx, rt, extract.RestakeRewards, msg)
			if err != nil {
				return Result{}, err
			}
			orch, err := orchestrator(rt)
			if err != nil {
				return Result{}, err
			}
			res, err := orch.RestakeRewards(ctx, p.ValidatorID)
			if err != nil {
				return Result{}, err
			}
			text := res.Message
			if res.Delegation != nil {
				text += " " + txLine(*res.Delegation)
			}
			return success(text, res)
		},
	}
}
