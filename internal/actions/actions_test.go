package actions

import (
	"context"
	"errors"
	"math/big"
	"regexp"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/polygon-agent/internal/config"
	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/execution"
	"github.com/ggonzalez94/polygon-agent/internal/service"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

func TestDelegateEndToEndFromText(t *testing.T) {
	chain := newFakeChain()
	chain.returns("getValidatorContract", testShare)
	chain.returns("allowance", big.NewInt(0))
	rt := newPolygonRuntime(t, chain)

	var streamed []Result
	res := Delegate().Handle(context.Background(), rt, Message{Text: "delegate 10 MATIC to validator 5"}, func(r Result) {
		streamed = append(streamed, r)
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if got := strings.Join(chain.methods(), ","); got != "approve,buyVoucher" {
		t.Fatalf("expected approve then buyVoucher, got %s", got)
	}
	buy := chain.sent[1]
	want, _ := new(big.Int).SetString("10000000000000000000", 10)
	if buy.Args[0].(*big.Int).Cmp(want) != 0 || buy.Args[1].(*big.Int).Sign() != 0 {
		t.Fatalf("unexpected buyVoucher args %v", buy.Args)
	}
	tx, ok := res.Data.(execution.TxResult)
	if !ok || !txHashPattern.MatchString(tx.TxHash) || tx.TxHash != buy.Hash.Hex() {
		t.Fatalf("expected delegation tx hash in data, got %#v", res.Data)
	}
	if len(tx.ApprovalTxHashes) != 1 {
		t.Fatalf("expected one approval hash, got %v", tx.ApprovalTxHashes)
	}
	if len(res.Actions) != 1 || res.Actions[0] != "DELEGATE_L1" {
		t.Fatalf("unexpected actions %v", res.Actions)
	}
	if len(streamed) != 1 || streamed[0].Text != res.Text {
		t.Fatalf("expected callback with final result, got %+v", streamed)
	}
	if !strings.Contains(res.Text, "10 POL") {
		t.Fatalf("expected amount in text, got %q", res.Text)
	}
}

func TestDelegateMissingAmountFailsBeforeNetwork(t *testing.T) {
	chain := newFakeChain()
	rt := newPolygonRuntime(t, chain)

	res := Delegate().Handle(context.Background(), rt, Message{Text: "delegate to validator 5"}, nil)
	if res.Success || res.ErrorType != "validation_error" {
		t.Fatalf("expected validation failure, got %+v", res)
	}
	if res.Err() == nil {
		t.Fatal("expected typed cause on failure")
	}
	if chain.calls != 0 {
		t.Fatalf("expected no chain calls, got %d", chain.calls)
	}
}

func TestRestakeWithoutRewardsSucceedsWithoutTransactions(t *testing.T) {
	chain := newFakeChain()
	chain.returns("getValidatorContract", testShare)
	chain.returns("getTotalStake", big.NewInt(5), big.NewInt(1))
	chain.returns("getLiquidRewards", big.NewInt(0))
	rt := newPolygonRuntime(t, chain)

	res := RestakeRewards().Handle(context.Background(), rt, Message{Text: "restake my rewards from validator 5"}, nil)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if !strings.Contains(strings.ToLower(res.Text), "no rewards") {
		t.Fatalf("expected no rewards text, got %q", res.Text)
	}
	if len(chain.methods()) != 0 {
		t.Fatalf("expected no transactions, got %v", chain.methods())
	}
}

func TestCheckpointStatusReportsPendingBlocks(t *testing.T) {
	chain := newFakeChain()
	chain.returns("checkpointManagerAddress", common.HexToAddress("0x0000000000000000000000000000000000000c4e"))
	chain.returns("currentHeaderBlock", big.NewInt(10000))
	chain.returns("headerBlocks", [32]byte{}, big.NewInt(900), big.NewInt(1000), big.NewInt(1), common.Address{})
	rt := newPolygonRuntime(t, chain)

	res := CheckpointStatus().Handle(context.Background(), rt, Message{Text: "is block 1500 checkpointed?"}, nil)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	st, ok := res.Data.(execution.CheckpointStatus)
	if !ok || st.IsCheckpointed || st.PendingBlocks != 500 {
		t.Fatalf("unexpected status %#v", res.Data)
	}
}

func TestValidatorInfoNotFoundIsNotAFailure(t *testing.T) {
	chain := newFakeChain()
	chain.returns("getValidatorContract", common.Address{})
	chain.returns("validators", big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0),
		common.Address{}, common.Address{}, uint8(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0))
	chain.returns("currentEpoch", big.NewInt(1))
	rt := newPolygonRuntime(t, chain)

	res := ValidatorInfo().Handle(context.Background(), rt, Message{Text: "show validator 77"}, nil)
	if !res.Success || res.Data != nil || !strings.Contains(res.Text, "not found") {
		t.Fatalf("expected not found result, got %+v", res)
	}
}

func TestGasEstimatesReportsOracleFailure(t *testing.T) {
	rt := newPolygonRuntime(t, newFakeChain())
	res := GasEstimates().Handle(context.Background(), rt, Message{}, nil)
	if res.Success || res.ErrorType != "internal_error" || !strings.Contains(res.Error, "oracle down") {
		t.Fatalf("expected oracle failure, got %+v", res)
	}
	if len(res.Actions) != 1 || res.Actions[0] != "GET_GAS_ESTIMATES" {
		t.Fatalf("unexpected actions %v", res.Actions)
	}
}

func TestFailureKeepsChainCurrencyInFundsMessage(t *testing.T) {
	cause := errors.New("insufficient funds for gas * price + value: have 1000 want 5000")
	msg, ok := clierr.FormatInsufficientFunds(cause, "POL")
	if !ok {
		t.Fatal("expected insufficient funds to be detected")
	}
	res := failure("GOVERNANCE_VOTE", clierr.Wrap(clierr.CodeInsufficientFunds, msg, cause))
	if res.Success || res.ErrorType != "insufficient_funds" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Error, "Insufficient POL balance") || strings.Contains(res.Error, "ETH") {
		t.Fatalf("expected POL shortfall message, got %q", res.Error)
	}
}

func TestMissingPolygonServiceIsServiceError(t *testing.T) {
	rt := &testRuntime{settings: enabledSettings(), services: service.NewRegistry(config.Settings{})}
	res := LastCheckpoint().Handle(context.Background(), rt, Message{}, nil)
	if res.Success || res.ErrorType != "service_error" {
		t.Fatalf("expected service error, got %+v", res)
	}
}

type fakeHeimdall struct {
	votes []string
}

func (f *fakeHeimdall) Type() string { return service.TypeHeimdall }

func (f *fakeHeimdall) Stop(context.Context) error { return nil }

func (f *fakeHeimdall) Vote(_ context.Context, id uint64, option string) (string, error) {
	f.votes = append(f.votes, option)
	return "HEIMDALLTX", nil
}

func (f *fakeHeimdall) Transfer(context.Context, string, *big.Int, string) (string, error) {
	return "", errors.New("not used")
}

func heimdallSettings() map[string]string {
	s := enabledSettings()
	s[config.KeyHeimdallRPCURL] = "https://heimdall.example"
	return s
}

func TestHeimdallVoteWithoutServiceReturnsServiceError(t *testing.T) {
	rt := &testRuntime{settings: heimdallSettings(), services: service.NewRegistry(config.Settings{})}
	a := HeimdallVote()
	if !a.Validate(rt) {
		t.Fatal("expected heimdall vote to validate with rpc url and key")
	}
	res := a.Handle(context.Background(), rt, Message{Text: "vote yes on heimdall proposal 12"}, nil)
	if res.Success || res.ErrorType != "service_error" {
		t.Fatalf("expected service error, got %+v", res)
	}
}

func TestHeimdallVoteUsesRegisteredService(t *testing.T) {
	h := &fakeHeimdall{}
	reg := service.NewRegistry(config.Settings{})
	_ = reg.Register(service.TypeHeimdall, func(context.Context, config.Settings) (service.Service, error) { return h, nil })
	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	rt := &testRuntime{settings: heimdallSettings(), services: reg}

	res := HeimdallVote().Handle(context.Background(), rt, Message{Text: "vote yes on heimdall proposal 12"}, nil)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(h.votes) != 1 || h.votes[0] != "YES" {
		t.Fatalf("unexpected votes %v", h.votes)
	}
}

func TestValidateGatesOnFeatureFlagAndWallet(t *testing.T) {
	rt := &testRuntime{settings: enabledSettings()}
	if !Delegate().Validate(rt) || !ValidatorInfo().Validate(rt) {
		t.Fatal("expected actions to validate when enabled with a key")
	}

	rt.settings[config.KeyPluginsEnabled] = "false"
	for _, a := range All() {
		if a.Validate(rt) {
			t.Fatalf("expected %s to be disabled by the feature flag", a.Name())
		}
	}

	rt.settings = map[string]string{config.KeyPluginsEnabled: "true"}
	if Delegate().Validate(rt) {
		t.Fatal("expected delegate to need a wallet key")
	}
	if !ValidatorInfo().Validate(rt) {
		t.Fatal("expected read-only query to validate without a key")
	}
	if HeimdallTransfer().Validate(rt) {
		t.Fatal("expected heimdall transfer to need HEIMDALL_RPC_URL")
	}

	rt.settings[config.KeyTEEMode] = "docker"
	rt.settings[config.KeyWalletSecretSalt] = "salt"
	if !Delegate().Validate(rt) {
		t.Fatal("expected TEE wallet to satisfy the key requirement")
	}
}

func TestFindMatchesNamesAndSimiles(t *testing.T) {
	list := All()
	if len(list) != 15 {
		t.Fatalf("expected 15 actions, got %d", len(list))
	}
	if a, ok := Find(list, "delegate_l1"); !ok || a.Name() != "DELEGATE_L1" {
		t.Fatalf("expected delegate by name, got %v %v", a, ok)
	}
	if a, ok := Find(list, "stake matic"); !ok || a.Name() != "DELEGATE_L1" {
		t.Fatalf("expected delegate by simile, got %v %v", a, ok)
	}
	if _, ok := Find(list, "swap"); ok {
		t.Fatal("expected unknown action to be missing")
	}
	seen := map[string]bool{}
	for _, a := range list {
		if seen[a.Name()] {
			t.Fatalf("duplicate action %s", a.Name())
		}
		seen[a.Name()] = true
	}
}
