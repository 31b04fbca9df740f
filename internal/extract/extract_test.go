package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/llm"
)

func modelReplies(structured, text string, structuredErr error) llm.Model {
	return llm.Func(func(_ context.Context, model llm.ModelType, _ string) (string, error) {
		if model.Structured() {
			return structured, structuredErr
		}
		return text, nil
	})
}

func TestDelegateManualExtraction(t *testing.T) {
	res, err := Run(context.Background(), Delegate, Request{Text: "delegate 10 MATIC to validator 5"}, DefaultStrategies(nil)...)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Params.ValidatorID != 5 {
		t.Fatalf("expected validator 5, got %d", res.Params.ValidatorID)
	}
	if res.Params.AmountWei.String() != "10000000000000000000" {
		t.Fatalf("unexpected amount: %s", res.Params.AmountWei)
	}
	if len(res.Sources) != 1 || res.Sources[0] != "manual" {
		t.Fatalf("unexpected sources: %v", res.Sources)
	}
}

func TestModelErrorFieldAborts(t *testing.T) {
	calls := 0
	model := llm.Func(func(context.Context, llm.ModelType, string) (string, error) {
		calls++
		return `{"error": "which validator?"}`, nil
	})
	_, err := Run(context.Background(), Delegate, Request{Text: "delegate 10 MATIC to validator 5"}, DefaultStrategies(model)...)
	if !clierr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "which validator?") {
		t.Fatalf("expected model message in error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single model call, got %d", calls)
	}
}

func TestFencedFallbackAfterStructuredFailure(t *testing.T) {
	model := modelReplies("", "Sure!\n```json\n{\"validatorId\": 7, \"amountWei\": \"100\"}\n```", errors.New("model unavailable"))
	res, err := Run(context.Background(), Delegate, Request{Text: "stake with my favourite validator"}, DefaultStrategies(model)...)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Params.ValidatorID != 7 || res.Params.AmountWei.String() != "100" {
		t.Fatalf("unexpected params: %+v", res.Params)
	}
	if len(res.Sources) != 1 || res.Sources[0] != "model_text" {
		t.Fatalf("unexpected sources: %v", res.Sources)
	}
}

func TestModelValuesWinOverManual(t *testing.T) {
	textCalls := 0
	model := llm.Func(func(_ context.Context, typ llm.ModelType, _ string) (string, error) {
		if !typ.Structured() {
			textCalls++
		}
		return `{"validatorId": "9"}`, nil
	})
	res, err := Run(context.Background(), Delegate, Request{Text: "delegate 10 MATIC to validator 5"}, DefaultStrategies(model)...)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Params.ValidatorID != 9 {
		t.Fatalf("expected model validator 9, got %d", res.Params.ValidatorID)
	}
	if res.Params.AmountWei.String() != "10000000000000000000" {
		t.Fatalf("expected manual amount, got %s", res.Params.AmountWei)
	}
	if textCalls != 0 {
		t.Fatalf("text model should be skipped after a structured result, got %d calls", textCalls)
	}
	if strings.Join(res.Sources, ",") != "model_structured,manual" {
		t.Fatalf("unexpected sources: %v", res.Sources)
	}
}

func TestInvalidModelValueReplacedByManual(t *testing.T) {
	model := modelReplies(`{"validatorId": "abc", "amountWei": "5"}`, "", nil)
	res, err := Run(context.Background(), Delegate, Request{Text: "delegate to validator 12"}, DefaultStrategies(model)...)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Params.ValidatorID != 12 || res.Params.AmountWei.String() != "5" {
		t.Fatalf("unexpected params: %+v", res.Params)
	}
}

func TestMissingFieldsReported(t *testing.T) {
	_, err := Run(context.Background(), Delegate, Request{Text: "delegate please"}, Manual{})
	if !clierr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "amountWei") || !strings.Contains(err.Error(), "validatorId") {
		t.Fatalf("expected both missing fields in error, got %v", err)
	}

	model := modelReplies(`{"validatorId": 3, "amountWei": "lots"}`, "", nil)
	_, err = Run(context.Background(), Delegate, Request{Text: "delegate to validator 3"}, DefaultStrategies(model)...)
	if !clierr.IsValidation(err) || !strings.Contains(err.Error(), "invalid amountWei=lots") {
		t.Fatalf("expected invalid amount error, got %v", err)
	}
}

func TestBareNumberIsNotAnAmount(t *testing.T) {
	_, err := Run(context.Background(), Delegate, Request{Text: "delegate 10 to validator 5"}, Manual{})
	if !clierr.IsValidation(err) {
		t.Fatalf("expected validation error for unitless amount, got %v", err)
	}
}

func TestManualAmountReadsWholeNumber(t *testing.T) {
	cases := map[string]string{
		"delegate 1,500 MATIC to validator 5":      "1500000000000000000000",
		"delegate .5 MATIC to validator 5":         "500000000000000000",
		"delegate 1,000,000.25 POL to validator 5": "1000000250000000000000000",
		"delegate 1500 wei to validator 5":         "1500",
		"delegate to validator 5, amount: 2,000":   "2000",
	}
	for text, want := range cases {
		res, err := Run(context.Background(), Delegate, Request{Text: text}, Manual{})
		if err != nil {
			t.Fatalf("%q: Run failed: %v", text, err)
		}
		if res.Params.AmountWei.String() != want {
			t.Fatalf("%q: expected %s wei, got %s", text, want, res.Params.AmountWei)
		}
	}
}

func TestManualAmountRejectsMalformedNumbers(t *testing.T) {
	for _, text := range []string{
		"delegate 1,5000 MATIC to validator 5",
		"delegate 1.2.5 MATIC to validator 5",
		"delegate to validator 5, amount: 1.5",
	} {
		_, err := Run(context.Background(), Delegate, Request{Text: text}, Manual{})
		if !clierr.IsValidation(err) || !strings.Contains(err.Error(), "amountWei") {
			t.Fatalf("%q: expected missing amount, got %v", text, err)
		}
	}
}

func TestManualBlockNumber(t *testing.T) {
	res, err := Run(context.Background(), Checkpoint, Request{Text: "is block 1,500 checkpointed?"}, Manual{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Params.BlockNumber != 1500 {
		t.Fatalf("expected block 1500, got %d", res.Params.BlockNumber)
	}
	res, err = Run(context.Background(), Checkpoint, Request{Text: "check block 42."}, Manual{})
	if err != nil || res.Params.BlockNumber != 42 {
		t.Fatalf("expected block 42, got %+v err=%v", res.Params, err)
	}
	if _, err := Run(context.Background(), Checkpoint, Request{Text: "check block 1.5"}, Manual{}); !clierr.IsValidation(err) {
		t.Fatalf("expected no block from a fractional number, got %v", err)
	}
}

func TestUndelegateAcceptsAmountAlias(t *testing.T) {
	model := modelReplies(`{"validator_id": 4, "amountWei": "2500"}`, "", nil)
	res, err := Run(context.Background(), Undelegate, Request{Text: "unstake"}, DefaultStrategies(model)...)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Params.ValidatorID != 4 || res.Params.SharesAmountWei.String() != "2500" {
		t.Fatalf("unexpected params: %+v", res.Params)
	}
}

func TestBridgeNativeEtherManual(t *testing.T) {
	recipient := "0x1111111111111111111111111111111111111111"
	res, err := Run(context.Background(), Bridge, Request{Text: "bridge 0.5 ETH to " + recipient}, Manual{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Params.Native() {
		t.Fatalf("expected native ether deposit, got %q", res.Params.TokenAddressL1)
	}
	if res.Params.AmountWei.String() != "500000000000000000" {
		t.Fatalf("unexpected amount: %s", res.Params.AmountWei)
	}
	if res.Params.RecipientAddressL2 != recipient {
		t.Fatalf("unexpected recipient: %s", res.Params.RecipientAddressL2)
	}
}

func TestBridgeTokenWithoutRecipient(t *testing.T) {
	token := "0x7D1AfA7B718fb893dB30A3aBc0Cfc608AaCfeBB0"
	res, err := Run(context.Background(), Bridge, Request{Text: "bridge 25 tokens of " + token + " to polygon"}, Manual{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Params.TokenAddressL1 != token || res.Params.RecipientAddressL2 != "" {
		t.Fatalf("unexpected params: %+v", res.Params)
	}
}

func TestProposeRequiresMatchingLengths(t *testing.T) {
	model := modelReplies(`{
		"targets": ["0x1111111111111111111111111111111111111111", "0x2222222222222222222222222222222222222222"],
		"values": ["0"],
		"calldatas": ["0x", "0x"],
		"description": "upgrade"
	}`, "", nil)
	_, err := Run(context.Background(), Propose, Request{Text: "propose"}, DefaultStrategies(model)...)
	if !clierr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	model = modelReplies(`{
		"targets": ["0x1111111111111111111111111111111111111111"],
		"values": [0],
		"calldatas": ["0xdeadbeef"],
		"description": "upgrade"
	}`, "", nil)
	res, err := Run(context.Background(), Propose, Request{Text: "propose"}, DefaultStrategies(model)...)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Params.Targets) != 1 || res.Params.Values[0].Sign() != 0 || res.Params.Calldatas[0] != "0xdeadbeef" {
		t.Fatalf("unexpected params: %+v", res.Params)
	}
}

func TestVoteManual(t *testing.T) {
	res, err := Run(context.Background(), Vote, Request{Text: "vote for proposal 42 reason: good idea"}, Manual{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Params.ProposalID.String() != "42" || res.Params.Support != 1 || res.Params.Reason != "good idea" {
		t.Fatalf("unexpected params: %+v", res.Params)
	}
}

func TestHeimdallSchemas(t *testing.T) {
	res, err := Run(context.Background(), HeimdallVote, Request{Text: "vote no with veto on proposal 3"}, Manual{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Params.ProposalID != 3 || res.Params.Option != "NO_WITH_VETO" {
		t.Fatalf("unexpected vote params: %+v", res.Params)
	}

	tr, err := Run(context.Background(), HeimdallTransfer, Request{Text: "send 2 MATIC to heimdall1qqqsyqcyq5rqwzqfpg9scrg"}, Manual{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if tr.Params.Denom != "matic" || tr.Params.Amount.String() != "2000000000000000000" {
		t.Fatalf("unexpected transfer params: %+v", tr.Params)
	}
}

func TestParseModelText(t *testing.T) {
	fields, err := ParseModelText(`{"blockNumber": 123}`)
	if err != nil || fields["blockNumber"] != "123" {
		t.Fatalf("whole-response json: fields=%v err=%v", fields, err)
	}
	fields, err = ParseModelText("```json\n{not json}\n```")
	if err == nil {
		t.Fatalf("expected error for malformed response, got %v", fields)
	}
	if clierr.IsValidation(err) {
		t.Fatalf("malformed response must not be a validation error: %v", err)
	}
}

func TestNormalizeAmountWei(t *testing.T) {
	cases := map[string]string{
		"1000":         "1000",
		"1,000":        "1000",
		"7 wei":        "7",
		"1.5 POL":      "1500000000000000000",
		"2 matic":      "2000000000000000000",
		"0.000001 eth": "1000000000000",
	}
	for in, want := range cases {
		got, ok := normalizeAmountWei(in)
		if !ok || got != want {
			t.Fatalf("normalizeAmountWei(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	for _, in := range []string{"0", "-1", "abc", "1.5", "0 MATIC"} {
		if _, ok := normalizeAmountWei(in); ok {
			t.Fatalf("normalizeAmountWei(%q) should be invalid", in)
		}
	}
}

func TestBuildPromptKeepsRecentTurns(t *testing.T) {
	recent := []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8"}
	prompt := BuildPrompt(Request{Spec: Delegate.Spec, Text: "delegate", Recent: recent}, true)
	if strings.Contains(prompt, "t2\n") || !strings.Contains(prompt, "t3\n") || !strings.Contains(prompt, "t8\n") {
		t.Fatalf("expected only the last six turns, got:\n%s", prompt)
	}
	if !strings.Contains(prompt, "validatorId (required)") || !strings.Contains(prompt, "```json") {
		t.Fatalf("prompt missing field list or fence instruction:\n%s", prompt)
	}
}
