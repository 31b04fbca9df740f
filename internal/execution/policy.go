package execution

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
)

// validateTxPolicy is the last check before gas estimation and signing.
func validateTxPolicy(req txRequest, data []byte) error {
	if req.To == (common.Address{}) {
		return policyError(req, "target address is zero")
	}
	method, ok := req.ABI.Methods[req.Method]
	if !ok {
		return policyError(req, "unknown method")
	}
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return policyError(req, "calldata selector does not match method")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return policyError(req, "calldata does not decode")
	}

	switch req.Step {
	case StepTypeApproval:
		return validateApprovalPolicy(req, args)
	case StepTypeApprovalReset:
		amount, _ := argBig(args, 1)
		if amount == nil || amount.Sign() != 0 {
			return policyError(req, "allowance reset must approve zero")
		}
	case StepTypeDelegate, StepTypeUndelegate:
		amount, _ := argBig(args, 0)
		if amount == nil || amount.Sign() <= 0 {
			return policyError(req, "amount must be positive")
		}
	case StepTypeBridgeDeposit:
		user, ok := argAddress(args, 0)
		if !ok || user == (common.Address{}) {
			return policyError(req, "deposit recipient is zero")
		}
		if req.Method == "depositEtherFor" && (req.Value == nil || req.Value.Sign() <= 0) {
			return policyError(req, "ether deposit needs a positive value")
		}
	case StepTypeVote:
		support, _ := argBig(args, 1)
		if support == nil || support.Cmp(big.NewInt(int64(VoteAbstain))) > 0 {
			return policyError(req, "vote support out of range")
		}
	}
	return nil
}

func validateApprovalPolicy(req txRequest, args []any) error {
	spender, ok := argAddress(args, 0)
	if !ok || spender == (common.Address{}) {
		return policyError(req, "approval has invalid spender")
	}
	amount, ok := argBig(args, 1)
	if !ok || amount.Sign() <= 0 {
		return policyError(req, "approval has invalid amount")
	}
	if req.ApprovalCap != nil && amount.Cmp(req.ApprovalCap) > 0 {
		return policyError(req, fmt.Sprintf("approval amount %s exceeds requested amount %s", amount, req.ApprovalCap))
	}
	return nil
}

func argBig(args []any, i int) (*big.Int, bool) {
	if i >= len(args) {
		return nil, false
	}
	return toBigInt(args[i])
}

func argAddress(args []any, i int) (common.Address, bool) {
	if i >= len(args) {
		return common.Address{}, false
	}
	return toAddress(args[i])
}

func policyError(req txRequest, msg string) *clierr.Error {
	err := clierr.New(clierr.CodeBlocked, fmt.Sprintf("transaction policy: %s", msg))
	err.Contract = req.To.Hex()
	err.Method = req.Method
	return err
}
