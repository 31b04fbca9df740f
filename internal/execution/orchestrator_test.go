package execution

import (
	"context"
	"math/big"
	"regexp"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/gas"
	"github.com/ggonzalez94/polygon-agent/internal/wallet"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

func TestDelegateRejectsNonPositiveAmountBeforeNetwork(t *testing.T) {
	h := newHarness(t, nil)
	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		_, err := h.orch.Delegate(context.Background(), 5, amount)
		if !clierr.IsValidation(err) {
			t.Fatalf("expected validation error for %v, got %v", amount, err)
		}
	}
	if h.dials != 0 || h.chain.callCount() != 0 {
		t.Fatalf("expected no network activity, got dials=%d calls=%d", h.dials, h.chain.callCount())
	}
}

func TestDelegateSkipsApprovalWhenAllowanceSufficient(t *testing.T) {
	h := newHarness(t, nil)
	h.stakeTo(ether(100))

	res, err := h.orch.Delegate(context.Background(), 5, ether(10))
	if err != nil {
		t.Fatalf("Delegate failed: %v", err)
	}
	if got := h.chain.sentMethods(); len(got) != 1 || got[0] != "buyVoucher" {
		t.Fatalf("expected only buyVoucher, got %v", got)
	}
	if !txHashPattern.MatchString(res.TxHash) {
		t.Fatalf("unexpected tx hash %q", res.TxHash)
	}
	if len(res.ApprovalTxHashes) != 0 {
		t.Fatalf("expected no approvals, got %v", res.ApprovalTxHashes)
	}
	tx := h.chain.sent[0]
	if tx.To != testShare {
		t.Fatalf("expected delegation to share contract, got %s", tx.To.Hex())
	}
	if amount := tx.Args[0].(*big.Int); amount.Cmp(ether(10)) != 0 {
		t.Fatalf("unexpected delegation amount %s", amount)
	}
	if minShares := tx.Args[1].(*big.Int); minShares.Sign() != 0 {
		t.Fatalf("expected zero min shares, got %s", minShares)
	}
}

func TestDelegateApprovesAndConfirmsBeforeBuyVoucher(t *testing.T) {
	h := newHarness(t, nil)
	h.stakeTo(big.NewInt(0))

	res, err := h.orch.Delegate(context.Background(), 5, ether(10))
	if err != nil {
		t.Fatalf("Delegate failed: %v", err)
	}
	events := h.chain.eventLog()
	want := []string{"send:approve", "receipt:approve", "send:buyVoucher"}
	if len(events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, events)
		}
	}
	approve := h.chain.sent[0]
	if approve.To != common.HexToAddress(mainnetContracts(t).StakingToken) {
		t.Fatalf("expected approval on staking token, got %s", approve.To.Hex())
	}
	if spender := approve.Args[0].(common.Address); spender != testShare {
		t.Fatalf("expected share contract spender, got %s", spender.Hex())
	}
	if amount := approve.Args[1].(*big.Int); amount.Cmp(ether(10)) != 0 {
		t.Fatalf("expected approval of exactly the amount, got %s", amount)
	}
	if len(res.ApprovalTxHashes) != 1 || res.ApprovalTxHashes[0] != approve.Hash.Hex() {
		t.Fatalf("unexpected approval hashes %v", res.ApprovalTxHashes)
	}
}

func TestDelegateMissingShareContractIsContractError(t *testing.T) {
	h := newHarness(t, nil)
	h.stakeTo(ether(100))
	h.chain.returns("getValidatorContract", common.Address{})

	_, err := h.orch.Delegate(context.Background(), 9999, ether(1))
	if !clierr.IsContract(err) {
		t.Fatalf("expected contract error, got %v", err)
	}
	if len(h.chain.sentMethods()) != 0 {
		t.Fatal("expected no transaction")
	}
}

func TestDelegateInsufficientBalanceAbortsBeforeSigning(t *testing.T) {
	h := newHarness(t, nil)
	h.stakeTo(ether(100))
	h.chain.balance = big.NewInt(1000)

	_, err := h.orch.Delegate(context.Background(), 5, ether(1))
	if !clierr.IsInsufficientFunds(err) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if !strings.Contains(err.Error(), "ETH") {
		t.Fatalf("expected native symbol in message, got %v", err)
	}
	if len(h.chain.sentMethods()) != 0 {
		t.Fatal("expected nothing broadcast")
	}
}

func TestUndelegateSellsWithoutApproval(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.returns("getValidatorContract", testShare)

	if _, err := h.orch.Undelegate(context.Background(), 5, ether(2)); err != nil {
		t.Fatalf("Undelegate failed: %v", err)
	}
	if got := h.chain.sentMethods(); len(got) != 1 || got[0] != "sellVoucher" {
		t.Fatalf("expected only sellVoucher, got %v", got)
	}
	if maxShares := h.chain.sent[0].Args[1].(*big.Int); maxShares.Cmp(maxUint256) != 0 {
		t.Fatalf("expected unbounded max shares, got %s", maxShares)
	}
}

func TestRestakeWithZeroRewardsSendsNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.returns("getValidatorContract", testShare)
	h.chain.returns("getTotalStake", ether(5), big.NewInt(1))
	h.chain.returns("getLiquidRewards", big.NewInt(0))

	res, err := h.orch.RestakeRewards(context.Background(), 5)
	if err != nil {
		t.Fatalf("RestakeRewards failed: %v", err)
	}
	if !res.NoRewards || !strings.Contains(res.Message, "No rewards") {
		t.Fatalf("expected no-rewards result, got %+v", res)
	}
	if len(h.chain.sentMethods()) != 0 {
		t.Fatalf("expected no transactions, got %v", h.chain.sentMethods())
	}
}

func TestRestakeStopsWhenWithdrawalReverts(t *testing.T) {
	h := newHarness(t, nil)
	h.stakeTo(ether(100))
	h.chain.returns("getTotalStake", ether(5), big.NewInt(1))
	h.chain.returns("getLiquidRewards", ether(2))
	h.chain.reverted["withdrawRewards"] = true

	res, err := h.orch.RestakeRewards(context.Background(), 5)
	if !clierr.Is(err, clierr.CodeReverted) {
		t.Fatalf("expected reverted error, got %v", err)
	}
	if got := h.chain.sentMethods(); len(got) != 1 || got[0] != "withdrawRewards" {
		t.Fatalf("expected only the withdrawal, got %v", got)
	}
	if res.Delegation != nil {
		t.Fatalf("expected no delegation, got %+v", res.Delegation)
	}
	typed, _ := clierr.As(err)
	if typed.TxHash != res.WithdrawTxHash {
		t.Fatalf("expected withdrawal hash on error, got %q want %q", typed.TxHash, res.WithdrawTxHash)
	}
}

func TestRestakeDelegatesExactRewardsAfterConfirmation(t *testing.T) {
	h := newHarness(t, nil)
	h.stakeTo(ether(100))
	h.chain.returns("getTotalStake", ether(5), big.NewInt(1))
	rewards := big.NewInt(1_234_567_890_000)
	h.chain.returns("getLiquidRewards", rewards)

	res, err := h.orch.RestakeRewards(context.Background(), 5)
	if err != nil {
		t.Fatalf("RestakeRewards failed: %v", err)
	}
	events := h.chain.eventLog()
	if len(events) != 3 || events[0] != "send:withdrawRewards" || events[1] != "receipt:withdrawRewards" || events[2] != "send:buyVoucher" {
		t.Fatalf("unexpected event order %v", events)
	}
	if amount := h.chain.sent[1].Args[0].(*big.Int); amount.Cmp(rewards) != 0 {
		t.Fatalf("expected delegation of the rewards, got %s", amount)
	}
	if res.Delegation == nil || !txHashPattern.MatchString(res.Delegation.TxHash) {
		t.Fatalf("expected delegation result, got %+v", res)
	}
}

func TestBridgeDepositResetsSmallAllowance(t *testing.T) {
	h := newHarness(t, nil)
	token := common.HexToAddress("0x00000000000000000000000000000000000070ce")
	h.chain.returns("allowance", big.NewInt(5))
	h.chain.returns("tokenToType", [32]byte{1})
	h.chain.returns("typeToPredicate", testPredicate)

	res, err := h.orch.BridgeDeposit(context.Background(), BridgeRequest{TokenAddressL1: token.Hex(), AmountWei: ether(3)})
	if err != nil {
		t.Fatalf("BridgeDeposit failed: %v", err)
	}
	got := h.chain.sentMethods()
	if len(got) != 3 || got[0] != "approve" || got[1] != "approve" || got[2] != "depositFor" {
		t.Fatalf("unexpected transactions %v", got)
	}
	if reset := h.chain.sent[0].Args[1].(*big.Int); reset.Sign() != 0 {
		t.Fatalf("expected reset to zero, got %s", reset)
	}
	if approved := h.chain.sent[1].Args[1].(*big.Int); approved.Cmp(maxUint256) != 0 {
		t.Fatalf("expected max approval, got %s", approved)
	}
	if spender := h.chain.sent[1].Args[0].(common.Address); spender != testPredicate {
		t.Fatalf("expected predicate spender, got %s", spender.Hex())
	}
	deposit := h.chain.sent[2]
	if recipient := deposit.Args[0].(common.Address); recipient != h.wallet.Address() {
		t.Fatalf("expected wallet as default recipient, got %s", recipient.Hex())
	}
	decoded, err := uint256Args.Unpack(deposit.Args[2].([]byte))
	if err != nil || decoded[0].(*big.Int).Cmp(ether(3)) != 0 {
		t.Fatalf("unexpected deposit data %v err=%v", decoded, err)
	}
	if len(res.ApprovalTxHashes) != 2 {
		t.Fatalf("expected two approvals, got %v", res.ApprovalTxHashes)
	}
}

func TestBridgeDepositUnmappedTokenFails(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.returns("tokenToType", [32]byte{})

	_, err := h.orch.BridgeDeposit(context.Background(), BridgeRequest{
		TokenAddressL1: "0x00000000000000000000000000000000000070ce",
		AmountWei:      ether(1),
	})
	if !clierr.Is(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestBridgeDepositNativeEther(t *testing.T) {
	h := newHarness(t, nil)
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000ef")

	if _, err := h.orch.BridgeDeposit(context.Background(), BridgeRequest{Native: true, AmountWei: ether(1), RecipientL2: recipient.Hex()}); err != nil {
		t.Fatalf("BridgeDeposit failed: %v", err)
	}
	got := h.chain.sent
	if len(got) != 1 || got[0].Method != "depositEtherFor" || got[0].Value.Cmp(ether(1)) != 0 {
		t.Fatalf("unexpected transactions %+v", got)
	}
	if got[0].Args[0].(common.Address) != recipient {
		t.Fatalf("unexpected recipient %v", got[0].Args[0])
	}
}

func TestGetValidatorInfoUnknownReturnsNil(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.returns("getValidatorContract", common.Address{})
	h.chain.returns("validators", validatorTuple(big.NewInt(0), big.NewInt(0), 0, 0)...)
	h.chain.returns("currentEpoch", big.NewInt(10))

	info, err := h.orch.GetValidatorInfo(context.Background(), 424242)
	if err != nil {
		t.Fatalf("GetValidatorInfo failed: %v", err)
	}
	if info != nil {
		t.Fatalf("expected nil info, got %+v", info)
	}
}

func TestGetValidatorInfoTotalStake(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.returns("getValidatorContract", testShare)
	h.chain.returns("validators", validatorTuple(ether(100), ether(50), 10, 0)...)
	h.chain.returns("currentEpoch", big.NewInt(2000))

	info, err := h.orch.GetValidatorInfo(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetValidatorInfo failed: %v", err)
	}
	if info.TotalStake.Cmp(ether(150)) != 0 {
		t.Fatalf("expected total stake 150 ether, got %s", info.TotalStake)
	}
	if info.Status != ValidatorActive || !info.StatusInferred {
		t.Fatalf("expected inferred active status, got %s", info.Status)
	}
	if info.CommissionRate != 0.1 {
		t.Fatalf("expected commission 0.1, got %v", info.CommissionRate)
	}
	if info.ContractAddress != testShare.Hex() || len(info.Warnings) != 0 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestGetValidatorInfoToleratesMissingEpoch(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.returns("getValidatorContract", testShare)
	h.chain.returns("validators", validatorTuple(ether(1), big.NewInt(0), 5, 3000)...)

	info, err := h.orch.GetValidatorInfo(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetValidatorInfo failed: %v", err)
	}
	if info.Status != ValidatorActive || len(info.Warnings) != 1 {
		t.Fatalf("expected active with one warning, got %s %v", info.Status, info.Warnings)
	}
}

func TestInferValidatorStatus(t *testing.T) {
	cases := []struct {
		name string
		info ValidatorInfo
		want ValidatorStatus
	}{
		{"unbonding", ValidatorInfo{TotalStake: ether(1), DeactivationEpoch: 9}, ValidatorUnbonding},
		{"jailed", ValidatorInfo{TotalStake: ether(1), JailEndEpoch: 20, CurrentEpoch: 10}, ValidatorJailed},
		{"jail served", ValidatorInfo{TotalStake: ether(1), JailEndEpoch: 5, CurrentEpoch: 10}, ValidatorActive},
		{"no stake", ValidatorInfo{TotalStake: new(big.Int)}, ValidatorInactive},
	}
	for _, tc := range cases {
		if got := inferValidatorStatus(&tc.info); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestGetDelegatorInfo(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.returns("getValidatorContract", testShare)
	h.chain.returns("getTotalStake", ether(7), big.NewInt(1))
	h.chain.returns("getLiquidRewards", ether(1))

	info, err := h.orch.GetDelegatorInfo(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetDelegatorInfo failed: %v", err)
	}
	if info.DelegatedAmount.Cmp(ether(7)) != 0 || info.PendingRewards.Cmp(ether(1)) != 0 {
		t.Fatalf("unexpected delegator info %+v", info)
	}
	if info.Delegator != h.wallet.Address().Hex() {
		t.Fatalf("expected wallet as delegator, got %s", info.Delegator)
	}
}

func TestIsBlockCheckpointedPending(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.returns("checkpointManagerAddress", testCheckpoints)
	h.chain.returns("currentHeaderBlock", big.NewInt(10000))
	h.chain.on("headerBlocks", func(to common.Address, args []any) ([]any, error) {
		if to != testCheckpoints || args[0].(*big.Int).Int64() != 10000 {
			t.Errorf("unexpected headerBlocks call to %s args %v", to.Hex(), args)
		}
		return []any{[32]byte{}, big.NewInt(900), big.NewInt(1000), big.NewInt(1), common.Address{}}, nil
	})

	st, err := h.orch.IsBlockCheckpointed(context.Background(), 1500)
	if err != nil {
		t.Fatalf("IsBlockCheckpointed failed: %v", err)
	}
	if st.IsCheckpointed || st.PendingBlocks != 500 || st.LastCheckpointedBlock != 1000 {
		t.Fatalf("unexpected status %+v", st)
	}
	if !strings.Contains(st.Message, "500") {
		t.Fatalf("expected pending count in message, got %q", st.Message)
	}

	st, err = h.orch.IsBlockCheckpointed(context.Background(), 1000)
	if err != nil || !st.IsCheckpointed || st.PendingBlocks != 0 {
		t.Fatalf("expected block 1000 to be checkpointed, got %+v err=%v", st, err)
	}
}

func TestResolveFeesPrefersOracle(t *testing.T) {
	h := newHarness(t, staticFees{est: gas.Estimate{
		EstimatedBaseFee: new(big.Int).Mul(big.NewInt(10), gwei),
		Average:          &gas.PriorityFee{MaxPriorityFeePerGas: new(big.Int).Mul(big.NewInt(2), gwei)},
	}})
	c := writeClient(t, h)
	fees, err := h.orch.resolveFees(context.Background(), c)
	if err != nil {
		t.Fatalf("resolveFees failed: %v", err)
	}
	if fees.Source != "oracle" || fees.MaxFeePerGas.Cmp(new(big.Int).Mul(big.NewInt(22), gwei)) != 0 {
		t.Fatalf("unexpected fees %+v", fees)
	}
}

func TestResolveFeesFallsBackToProvider(t *testing.T) {
	h := newHarness(t, nil)
	fees, err := h.orch.resolveFees(context.Background(), writeClient(t, h))
	if err != nil {
		t.Fatalf("resolveFees failed: %v", err)
	}
	if fees.Source != "provider" || fees.MaxFeePerGas.Cmp(new(big.Int).Mul(big.NewInt(21), gwei)) != 0 {
		t.Fatalf("unexpected fees %+v", fees)
	}
}

func TestResolveFeesFallsBackToLegacyGasPrice(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.noFees = true
	fees, err := h.orch.resolveFees(context.Background(), writeClient(t, h))
	if err != nil {
		t.Fatalf("resolveFees failed: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(3), gwei)
	if fees.Source != "legacy" || fees.MaxFeePerGas.Cmp(want) != 0 || fees.MaxPriorityFeePerGas.Cmp(want) != 0 {
		t.Fatalf("unexpected fees %+v", fees)
	}
}

func TestResolveFeesFailsWhenNothingResolves(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.noFees = true
	h.chain.gasPrice = nil
	_, err := h.orch.resolveFees(context.Background(), writeClient(t, h))
	if !clierr.Is(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestVoteRequiresGovernor(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.orch.Vote(context.Background(), VoteRequest{ProposalID: big.NewInt(1), Support: VoteFor})
	if !clierr.Is(err, clierr.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	_, err = h.orch.Vote(context.Background(), VoteRequest{ProposalID: big.NewInt(1), Support: 7})
	if !clierr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVoteWithReasonOnL2(t *testing.T) {
	h := newHarness(t, nil)
	governor := common.HexToAddress("0x0000000000000000000000000000000000000a0e")
	h.orch.opts.GovernorAddress = governor.Hex()

	res, err := h.orch.Vote(context.Background(), VoteRequest{ProposalID: big.NewInt(42), Support: VoteFor, Reason: "ship it"})
	if err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	if res.Chain != h.wallet.L2() {
		t.Fatalf("expected vote on %s, got %s", h.wallet.L2(), res.Chain)
	}
	tx := h.chain.sent[0]
	if tx.Method != "castVoteWithReason" || tx.To != governor || tx.Args[2].(string) != "ship it" {
		t.Fatalf("unexpected vote tx %+v", tx)
	}
}

func TestProtocolRunIsJournaled(t *testing.T) {
	store := openTestStore(t)
	h := newHarness(t, nil, WithStore(store))
	h.stakeTo(big.NewInt(0))

	res, err := h.orch.Delegate(context.Background(), 5, ether(1))
	if err != nil {
		t.Fatalf("Delegate failed: %v", err)
	}
	action, err := store.Get(res.ActionID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if action.Status != ActionStatusCompleted || action.Protocol != ProtocolDelegate {
		t.Fatalf("unexpected action %+v", action)
	}
	if len(action.Steps) != 2 {
		t.Fatalf("expected two steps, got %+v", action.Steps)
	}
	if action.Steps[0].Status != StepStatusConfirmed || action.Steps[1].Status != StepStatusSubmitted {
		t.Fatalf("unexpected step statuses %s, %s", action.Steps[0].Status, action.Steps[1].Status)
	}
	if action.LastTxHash() != res.TxHash {
		t.Fatalf("expected last tx hash %s, got %s", res.TxHash, action.LastTxHash())
	}
}

func writeClient(t *testing.T, h *harness) *wallet.Client {
	t.Helper()
	c, err := h.wallet.Client(context.Background(), h.wallet.L1(), wallet.RoleWrite)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c
}

// validatorTuple builds StakeManager.validators output values.
func validatorTuple(own, delegated *big.Int, commission, jailTime int64) []any {
	return []any{
		own,
		big.NewInt(0),
		big.NewInt(1),
		big.NewInt(0),
		big.NewInt(jailTime),
		common.HexToAddress("0x0000000000000000000000000000000000005167"),
		testShare,
		uint8(1),
		big.NewInt(commission),
		big.NewInt(0),
		big.NewInt(0),
		delegated,
		big.NewInt(0),
	}
}
