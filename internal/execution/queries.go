package execution

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/units"
	"github.com/ggonzalez94/polygon-agent/internal/wallet"
)

type ValidatorStatus string

const (
	ValidatorInactive  ValidatorStatus = "Inactive"
	ValidatorActive    ValidatorStatus = "Active"
	ValidatorUnbonding ValidatorStatus = "Unbonding"
	ValidatorJailed    ValidatorStatus = "Jailed"
)

// StatusCaveat accompanies every ValidatorInfo. The StakeManager version
// queried here has no authoritative status flag.
const StatusCaveat = "status is inferred from the share contract, stake and epoch fields, not read from an on-chain status flag"

// ValidatorInfo is a point-in-time read of StakeManager.validators.
type ValidatorInfo struct {
	ID              uint64          `json:"validator_id"`
	Status          ValidatorStatus `json:"status"`
	StatusInferred  bool            `json:"status_inferred"`
	StatusCaveat    string          `json:"status_caveat"`
	TotalStake      *big.Int        `json:"total_stake"`
	OwnStake        *big.Int        `json:"own_stake"`
	DelegatedAmount *big.Int        `json:"delegated_amount"`
	// CommissionRate is a fraction between 0 and 1.
	CommissionRate    float64  `json:"commission_rate"`
	SignerAddress     string   `json:"signer_address"`
	ContractAddress   string   `json:"contract_address"`
	ActivationEpoch   uint64   `json:"activation_epoch"`
	DeactivationEpoch uint64   `json:"deactivation_epoch"`
	JailEndEpoch      uint64   `json:"jail_end_epoch"`
	CurrentEpoch      uint64   `json:"current_epoch,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
}

// Validator tuple indexes in StakeManager.validators.
const (
	validatorAmount            = 0
	validatorActivationEpoch   = 2
	validatorDeactivationEpoch = 3
	validatorJailTime          = 4
	validatorSigner            = 5
	validatorCommissionRate    = 8
	validatorDelegatedAmount   = 11
)

func (o *Orchestrator) stakeManager() (common.Address, error) {
	set, err := o.contracts()
	if err != nil {
		return common.Address{}, err
	}
	return o.contractAddress("stake manager", set.StakeManager)
}

// GetValidatorInfo returns nil, nil when the validator has no share contract.
// The current epoch is optional; without it jailing cannot be detected and a
// warning is attached instead.
func (o *Orchestrator) GetValidatorInfo(ctx context.Context, validatorID uint64) (*ValidatorInfo, error) {
	if validatorID == 0 {
		return nil, clierr.Validation("validator id must be a positive integer")
	}
	c, err := o.l1(ctx, wallet.RoleRead)
	if err != nil {
		return nil, err
	}
	stakeManager, err := o.stakeManager()
	if err != nil {
		return nil, err
	}
	id := new(big.Int).SetUint64(validatorID)

	var (
		share    common.Address
		fields   []any
		epoch    *big.Int
		epochErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		share, err = shareContract(gctx, c, stakeManager, validatorID)
		return err
	})
	g.Go(func() error {
		var err error
		fields, err = callView(gctx, c, stakeManager, stakeManagerABI, "validators", id)
		return err
	})
	g.Go(func() error {
		epoch, epochErr = callBig(gctx, c, stakeManager, stakeManagerABI, "currentEpoch")
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if share == (common.Address{}) {
		return nil, nil
	}

	info := &ValidatorInfo{
		ID:              validatorID,
		StatusInferred:  true,
		StatusCaveat:    StatusCaveat,
		ContractAddress: share.Hex(),
		OwnStake:        fieldBig(fields, validatorAmount),
		DelegatedAmount: fieldBig(fields, validatorDelegatedAmount),
	}
	info.TotalStake = new(big.Int).Add(info.OwnStake, info.DelegatedAmount)
	info.ActivationEpoch = fieldBig(fields, validatorActivationEpoch).Uint64()
	info.DeactivationEpoch = fieldBig(fields, validatorDeactivationEpoch).Uint64()
	info.JailEndEpoch = fieldBig(fields, validatorJailTime).Uint64()
	if signer, ok := fieldAddress(fields, validatorSigner); ok {
		info.SignerAddress = signer.Hex()
	} else {
		info.Warnings = append(info.Warnings, "signer address unavailable")
	}
	if rate, ok := fieldValue(fields, validatorCommissionRate); ok {
		info.CommissionRate = commissionFraction(rate)
	} else {
		info.Warnings = append(info.Warnings, "commission rate unavailable, reported as 0")
	}
	if epochErr == nil && epoch != nil {
		info.CurrentEpoch = epoch.Uint64()
	} else {
		o.log.Debug("current epoch unavailable", "validator_id", validatorID, "error", epochErr)
		info.Warnings = append(info.Warnings, "current epoch unavailable, jail status not checked")
	}
	info.Status = inferValidatorStatus(info)
	return info, nil
}

func inferValidatorStatus(v *ValidatorInfo) ValidatorStatus {
	switch {
	case v.DeactivationEpoch > 0:
		return ValidatorUnbonding
	case v.CurrentEpoch > 0 && v.JailEndEpoch > v.CurrentEpoch:
		return ValidatorJailed
	case v.TotalStake.Sign() > 0:
		return ValidatorActive
	default:
		return ValidatorInactive
	}
}

// commissionFraction converts the percentage stored on-chain to 0..1.
func commissionFraction(rate *big.Int) float64 {
	f, _ := decimal.NewFromBigInt(rate, 0).Div(decimal.NewFromInt(100)).Float64()
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func fieldValue(fields []any, i int) (*big.Int, bool) {
	if i >= len(fields) {
		return nil, false
	}
	return toBigInt(fields[i])
}

// fieldBig substitutes zero for a missing numeric field.
func fieldBig(fields []any, i int) *big.Int {
	if v, ok := fieldValue(fields, i); ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func fieldAddress(fields []any, i int) (common.Address, bool) {
	if i >= len(fields) {
		return common.Address{}, false
	}
	return toAddress(fields[i])
}

// DelegatorInfo is the wallet's position with one validator.
type DelegatorInfo struct {
	ValidatorID     uint64   `json:"validator_id"`
	Delegator       string   `json:"delegator"`
	ShareContract   string   `json:"share_contract"`
	DelegatedAmount *big.Int `json:"delegated_amount"`
	PendingRewards  *big.Int `json:"pending_rewards"`
	Warnings        []string `json:"warnings,omitempty"`
}

// GetDelegatorInfo reads the wallet's stake and liquid rewards. It returns
// nil, nil when the validator has no share contract. Pending rewards are
// required; a failed stake read is reported as zero with a warning.
func (o *Orchestrator) GetDelegatorInfo(ctx context.Context, validatorID uint64) (*DelegatorInfo, error) {
	if validatorID == 0 {
		return nil, clierr.Validation("validator id must be a positive integer")
	}
	owner := o.wallet.Address()
	if owner == (common.Address{}) {
		return nil, clierr.New(clierr.CodeSigner, "delegator info requires a wallet key")
	}
	c, err := o.l1(ctx, wallet.RoleRead)
	if err != nil {
		return nil, err
	}
	stakeManager, err := o.stakeManager()
	if err != nil {
		return nil, err
	}
	share, err := shareContract(ctx, c, stakeManager, validatorID)
	if err != nil {
		return nil, err
	}
	if share == (common.Address{}) {
		return nil, nil
	}

	info := &DelegatorInfo{ValidatorID: validatorID, Delegator: owner.Hex(), ShareContract: share.Hex()}
	var stakeErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info.DelegatedAmount, stakeErr = callBig(gctx, c, share, validatorShareABI, "getTotalStake", owner)
		return nil
	})
	g.Go(func() error {
		var err error
		info.PendingRewards, err = callBig(gctx, c, share, validatorShareABI, "getLiquidRewards", owner)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if stakeErr != nil || info.DelegatedAmount == nil {
		o.log.Debug("delegated amount unavailable", "validator_id", validatorID, "error", stakeErr)
		info.DelegatedAmount = new(big.Int)
		info.Warnings = append(info.Warnings, "delegated amount unavailable, reported as 0")
	}
	return info, nil
}

// checkpointManager resolves the CheckpointManager (RootChain) through the
// RootChainManager.
func (o *Orchestrator) checkpointManager(ctx context.Context, b wallet.Backend) (common.Address, error) {
	set, err := o.contracts()
	if err != nil {
		return common.Address{}, err
	}
	rootChainManager, err := o.contractAddress("root chain manager", set.RootChainManager)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := callAddress(ctx, b, rootChainManager, rootChainManagerABI, "checkpointManagerAddress")
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, clierr.Contract(rootChainManager.Hex(), "checkpointManagerAddress", "checkpoint manager is not set", nil)
	}
	return addr, nil
}

// GetLastCheckpointedBlock returns the last L2 block covered by a checkpoint
// on L1.
func (o *Orchestrator) GetLastCheckpointedBlock(ctx context.Context) (uint64, error) {
	c, err := o.l1(ctx, wallet.RoleRead)
	if err != nil {
		return 0, err
	}
	manager, err := o.checkpointManager(ctx, c)
	if err != nil {
		return 0, err
	}
	headerID, err := callBig(ctx, c, manager, checkpointManagerABI, "currentHeaderBlock")
	if err != nil {
		return 0, err
	}
	header, err := callView(ctx, c, manager, checkpointManagerABI, "headerBlocks", headerID)
	if err != nil {
		return 0, err
	}
	end, ok := fieldValue(header, 2)
	if !ok {
		return 0, clierr.Contract(manager.Hex(), "headerBlocks", "header block has no end field", nil)
	}
	return end.Uint64(), nil
}

// CheckpointStatus reports whether an L2 block is covered by a checkpoint.
type CheckpointStatus struct {
	BlockNumber           uint64 `json:"block_number"`
	LastCheckpointedBlock uint64 `json:"last_checkpointed_block"`
	IsCheckpointed        bool   `json:"is_checkpointed"`
	PendingBlocks         uint64 `json:"pending_blocks"`
	Message               string `json:"message"`
}

func (o *Orchestrator) IsBlockCheckpointed(ctx context.Context, blockNumber uint64) (CheckpointStatus, error) {
	if blockNumber == 0 {
		return CheckpointStatus{}, clierr.Validation("block number must be a positive integer")
	}
	last, err := o.GetLastCheckpointedBlock(ctx)
	if err != nil {
		return CheckpointStatus{}, err
	}
	return checkpointStatus(blockNumber, last), nil
}

func checkpointStatus(block, last uint64) CheckpointStatus {
	st := CheckpointStatus{BlockNumber: block, LastCheckpointedBlock: last}
	if block <= last {
		st.IsCheckpointed = true
		st.Message = fmt.Sprintf("Block %d is checkpointed on L1 (last checkpointed block %d).", block, last)
		return st
	}
	st.PendingBlocks = block - last
	st.Message = fmt.Sprintf("Block %d is not checkpointed yet; %d blocks pending after last checkpointed block %d.", block, st.PendingBlocks, last)
	return st
}

// Balance is a native or ERC20 balance in base units.
type Balance struct {
	Chain    string   `json:"chain"`
	Owner    string   `json:"owner"`
	Token    string   `json:"token,omitempty"`
	Symbol   string   `json:"symbol"`
	Decimals int      `json:"decimals"`
	Amount   *big.Int `json:"amount"`
	Display  string   `json:"display"`
}

func (o *Orchestrator) balanceOwner(raw string) (common.Address, error) {
	if strings.TrimSpace(raw) != "" {
		return parseAddress("owner", raw)
	}
	owner := o.wallet.Address()
	if owner == (common.Address{}) {
		return common.Address{}, clierr.Validation("owner address is required when no wallet key is configured")
	}
	return owner, nil
}

// NativeBalance reads the native balance on chain, or on L1 when chain is
// empty. An empty owner means the wallet address.
func (o *Orchestrator) NativeBalance(ctx context.Context, chain, owner string) (Balance, error) {
	if strings.TrimSpace(chain) == "" {
		chain = o.wallet.L1()
	}
	addr, err := o.balanceOwner(owner)
	if err != nil {
		return Balance{}, err
	}
	c, err := o.wallet.Client(ctx, chain, wallet.RoleRead)
	if err != nil {
		return Balance{}, err
	}
	amount, err := c.BalanceAt(ctx, addr, nil)
	if err != nil {
		return Balance{}, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("fetch %s balance", c.Chain.Name), err)
	}
	cur := c.Chain.NativeCurrency
	return Balance{
		Chain:    c.Chain.Name,
		Owner:    addr.Hex(),
		Symbol:   cur.Symbol,
		Decimals: cur.Decimals,
		Amount:   amount,
		Display:  units.FromBaseUnits(amount, cur.Decimals) + " " + cur.Symbol,
	}, nil
}

// TokenBalance reads an ERC20 balance. Symbol and decimals are optional
// metadata and default to "TOKEN" and 18.
func (o *Orchestrator) TokenBalance(ctx context.Context, chain, token, owner string) (Balance, error) {
	if strings.TrimSpace(chain) == "" {
		chain = o.wallet.L1()
	}
	tokenAddr, err := parseAddress("token", token)
	if err != nil {
		return Balance{}, err
	}
	addr, err := o.balanceOwner(owner)
	if err != nil {
		return Balance{}, err
	}
	c, err := o.wallet.Client(ctx, chain, wallet.RoleRead)
	if err != nil {
		return Balance{}, err
	}

	out := Balance{Chain: c.Chain.Name, Owner: addr.Hex(), Token: tokenAddr.Hex(), Symbol: "TOKEN", Decimals: 18}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.Amount, err = callBig(gctx, c, tokenAddr, erc20ABI, "balanceOf", addr)
		return err
	})
	g.Go(func() error {
		if values, err := callView(gctx, c, tokenAddr, erc20ABI, "symbol"); err == nil {
			if s, ok := values[0].(string); ok && strings.TrimSpace(s) != "" {
				out.Symbol = s
			}
		}
		return nil
	})
	g.Go(func() error {
		if d, err := callBig(gctx, c, tokenAddr, erc20ABI, "decimals"); err == nil && d.IsInt64() && d.Int64() <= 77 {
			out.Decimals = int(d.Int64())
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Balance{}, err
	}
	out.Display = units.FromBaseUnits(out.Amount, out.Decimals) + " " + out.Symbol
	return out, nil
}
