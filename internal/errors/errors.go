package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess           Code = 0
	CodeInternal          Code = 1
	CodeUsage             Code = 2
	CodeAuth              Code = 10
	CodeRateLimited       Code = 11
	CodeUnavailable       Code = 12
	CodeUnsupported       Code = 13
	CodeBlocked           Code = 16
	CodeValidation        Code = 20
	CodeContract          Code = 21
	CodeService           Code = 22
	CodeConfiguration     Code = 23
	CodeUnsupportedChain  Code = 24
	CodeInsufficientFunds Code = 25
	CodeSigner            Code = 26
	CodeTimeout           Code = 27
	CodeReverted          Code = 28
)

// Error is a typed error that carries a stable error code. Contract errors also
// carry the contract address and method that failed.
type Error struct {
	Code     Code
	Message  string
	Contract string
	Method   string
	TxHash   string
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Contract != "" || e.Method != "" {
		msg = fmt.Sprintf("%s (contract=%s method=%s)", msg, e.Contract, e.Method)
	}
	if e.TxHash != "" {
		msg = fmt.Sprintf("%s [tx %s]", msg, e.TxHash)
	}
	if e.Cause == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Validation reports a bad or missing user-supplied parameter.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Contract reports an on-chain call that reverted or returned an unexpected result.
func Contract(contract, method, message string, cause error) *Error {
	return &Error{Code: CodeContract, Message: message, Contract: contract, Method: method, Cause: cause}
}

// Service reports a required collaborator that is unavailable or misconfigured.
func Service(message string, cause error) *Error {
	return &Error{Code: CodeService, Message: message, Cause: cause}
}

// WithTx attaches a broadcast transaction hash to an error.
func WithTx(err *Error, txHash string) *Error {
	if err == nil {
		return nil
	}
	err.TxHash = txHash
	return err
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func Is(err error, code Code) bool {
	typed, ok := As(err)
	return ok && typed.Code == code
}

func IsValidation(err error) bool { return Is(err, CodeValidation) }

func IsContract(err error) bool { return Is(err, CodeContract) }

func IsService(err error) bool { return Is(err, CodeService) }

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName maps codes to the snake_case error types used in output envelopes.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "provider_unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeBlocked:
		return "command_blocked"
	case CodeValidation:
		return "validation_error"
	case CodeContract:
		return "contract_error"
	case CodeService:
		return "service_error"
	case CodeConfiguration:
		return "configuration_error"
	case CodeUnsupportedChain:
		return "unsupported_chain"
	case CodeInsufficientFunds:
		return "insufficient_funds"
	case CodeSigner:
		return "signer_error"
	case CodeTimeout:
		return "timeout"
	case CodeReverted:
		return "transaction_reverted"
	default:
		return "internal_error"
	}
}

// IsInsufficientFunds reports whether err is, or wraps, a balance shortfall
// either detected locally or rejected by the provider.
func IsInsufficientFunds(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, CodeInsufficientFunds) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "insufficient funds")
}
