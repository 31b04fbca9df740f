package actions

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ggonzalez94/polygon-agent/internal/execution"
	"github.com/ggonzalez94/polygon-agent/internal/extract"
	"github.com/ggonzalez94/polygon-agent/internal/gas"
	"github.com/ggonzalez94/polygon-agent/internal/units"
)

func ValidatorInfo() Action {
	return &action{
		name:        "GET_VALIDATOR_INFO",
		similes:     []string{"VALIDATOR_INFO", "QUERY_VALIDATOR", "VALIDATOR_DETAILS"},
		description: "Reads a Polygon validator's status, stake, commission and addresses from the L1 StakeManager.",
		handle: func(ctx context.Context, rt Runtime, msg Message) (Result, error) {
			p, err := params(ctx, rt, extract.ValidatorInfo, msg)
			if err != nil {
				return Result{}, err
			}
			orch, err := orchestrator(rt)
			if err != nil {
				return Result{}, err
			}
			info, err := orch.GetValidatorInfo(ctx, p.ValidatorID)
			if err != nil {
				return Result{}, err
			}
			if info == nil {
				return success(fmt.Sprintf("Validator %d was not found.", p.ValidatorID), nil)
			}
			text := fmt.Sprintf("Validator %d is %s (inferred). Total stake %s, commission %.2f%%, signer %s, share contract %s.",
				info.ID, info.Status, units.FormatEther(info.TotalStake, StakeSymbol), info.CommissionRate*100,
				info.SignerAddress, info.ContractAddress)
			return success(text, info)
		},
	}
}

func DelegatorInfo() Action {
	return &action{
		name:        "GET_DELEGATOR_INFO",
		similes:     []string{"DELEGATOR_INFO", "MY_DELEGATION", "PENDING_REWARDS"},
		description: "Reads the wallet's delegated amount and pending rewards with a Polygon validator.",
		needsWallet: true,
		handle: func(ctx context.Context, rt Runtime, msg Message) (Result, error) {
			p, err := params(ctx, rt, extract.DelegatorInfo, msg)
			if err != nil {
				return Result{}, err
			}
			orch, err := orchestrator(rt)
			if err != nil {
				return Result{}, err
			}
			info, err := orch.GetDelegatorInfo(ctx, p.ValidatorID)
			if err != nil {
				return Result{}, err
			}
			if info == nil {
				return success(fmt.Sprintf("Validator %d was not found.", p.ValidatorID), nil)
			}
			text := fmt.Sprintf("Delegation with validator %d: %s staked, %s pending rewards.",
				p.ValidatorID, units.FormatEther(info.DelegatedAmount, StakeSymbol), units.FormatEther(info.PendingRewards, StakeSymbol))
			return success(text, info)
		},
	}
}

func CheckpointStatus() Action {
	return &action{
		name:        "CHECK_L2_BLOCK_CHECKPOINT",
		similes:     []string{"IS_BLOCK_CHECKPOINTED", "CHECKPOINT_STATUS", "L2_BLOCK_CHECKPOINT"},
		description: "Checks whether a Polygon block number is covered by a checkpoint on L1.",
		handle: func(ctx context.Context, rt Runtime, msg Message) (Result, error) {
			p, err := params(ctx, rt, extract.Checkpoint, msg)
			if err != nil {
				return Result{}, err
			}
			orch, err := orchestrator(rt)
			if err != nil {
				return Result{}, err
			}
			st, err := orch.IsBlockCheckpointed(ctx, p.BlockNumber)
			if err != nil {
				return Result{}, err
			}
			return success(st.Message, st)
		},
	}
}

func LastCheckpoint() Action {
	return &action{
		name:        "GET_LAST_CHECKPOINT",
		similes:     []string{"LAST_CHECKPOINTED_BLOCK", "LATEST_CHECKPOINT"},
		description: "Reads the last Polygon block checkpointed to L1.",
		handle: func(ctx context.Context, rt Runtime, _ Message) (Result, error) {
			orch, err := orchestrator(rt)
			if err != nil {
				return Result{}, err
			}
			last, err := orch.GetLastCheckpointedBlock(ctx)
			if err != nil {
				return Result{}, err
			}
			return success(fmt.Sprintf("The last checkpointed Polygon block is %d.", last),
				map[string]uint64{"last_checkpointed_block": last})
		},
	}
}

func GasEstimates() Action {
	return &action{
		name:        "GET_GAS_ESTIMATES",
		similes:     []string{"GAS_PRICE", "L1_GAS_FEES", "CHECK_GAS"},
		description: "Reports current L1 fee suggestions from the gas oracle, or the node gas price when the oracle is unavailable.",
		handle: func(ctx context.Context, rt Runtime, _ Message) (Result, error) {
			orch, err := orchestrator(rt)
			if err != nil {
				return Result{}, err
			}
			est, err := orch.GasEstimates(ctx, "")
			if err != nil {
				return Result{}, err
			}
			return success(describeGas(est), est)
		},
	}
}

func describeGas(est gas.Estimate) string {
	if est.IsFallback() {
		return fmt.Sprintf("Gas oracle unavailable; current gas price is %s gwei.", gwei(est.FallbackGasPrice))
	}
	var parts []string
	for _, tier := range []struct {
		name string
		fee  *gas.PriorityFee
	}{{"safe low", est.SafeLow}, {"average", est.Average}, {"fast", est.Fast}} {
		if tier.fee != nil && tier.fee.MaxPriorityFeePerGas != nil {
			parts = append(parts, fmt.Sprintf("%s %s gwei", tier.name, gwei(tier.fee.MaxPriorityFeePerGas)))
		}
	}
	text := "Priority fees: " + strings.Join(parts, ", ") + "."
	if est.EstimatedBaseFee != nil {
		text += fmt.Sprintf(" Base fee %s gwei.", gwei(est.EstimatedBaseFee))
	}
	return text
}

func gwei(v *big.Int) string {
	return units.FromBaseUnits(v, 9)
}

func Balance() Action {
	return &action{
		name:        "GET_BALANCE",
		similes:     []string{"CHECK_BALANCE", "WALLET_BALANCE", "TOKEN_BALANCE"},
		description: "Reads the wallet's native or ERC20 balance on Ethereum or Polygon.",
		needsWallet: true,
		handle: func(ctx context.Context, rt Runtime, msg Message) (Result, error) {
			p, err := params(ctx, rt, extract.Balance, msg)
			if err != nil {
				return Result{}, err
			}
			orch, err := orchestrator(rt)
			if err != nil {
				return Result{}, err
			}
			chain := orch.Wallet().L1()
			if p.Chain == "l2" {
				chain = orch.Wallet().L2()
			}
			var bal execution.Balance
			if p.TokenAddress == "" {
				bal, err = orch.NativeBalance(ctx, chain, "")
			} else {
				bal, err = orch.TokenBalance(ctx, chain, p.TokenAddress, "")
			}
			if err != nil {
				return Result{}, err
			}
			return success(fmt.Sprintf("Balance of %s on %s: %s.", bal.Owner, bal.Chain, bal.Display), bal)
		},
	}
}
