package execution

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
)

var (
	errorStringSelector = common.FromHex("0x08c379a0")
	panicSelector       = common.FromHex("0x4e487b71")
)

// rpcDataError matches go-ethereum's rpc.DataError.
type rpcDataError interface {
	Error() string
	ErrorData() interface{}
}

// decodeRevertData renders Error(string), Panic(uint256) and custom error
// selectors. Empty data yields "".
func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	selector, payload := data[:4], data[4:]
	switch {
	case bytes.Equal(selector, errorStringSelector):
		stringTy, _ := abi.NewType("string", "", nil)
		values, err := abi.Arguments{{Type: stringTy}}.Unpack(payload)
		if err == nil && len(values) == 1 {
			if reason, ok := values[0].(string); ok {
				return reason
			}
		}
	case bytes.Equal(selector, panicSelector) && len(payload) >= 32:
		code := new(big.Int).SetBytes(payload[:32])
		return fmt.Sprintf("panic code 0x%x", code)
	}
	return fmt.Sprintf("custom error %s", hexSelector(selector))
}

func hexSelector(selector []byte) string {
	return "0x" + common.Bytes2Hex(selector)
}

func decodeRevertFromError(err error) string {
	var dataErr rpcDataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	switch data := dataErr.ErrorData().(type) {
	case string:
		if strings.HasPrefix(data, "0x") {
			return decodeRevertData(common.FromHex(data))
		}
	case []byte:
		return decodeRevertData(data)
	}
	return ""
}

// wrapEVMExecutionError attaches any decodable revert reason to the message.
func wrapEVMExecutionError(code clierr.Code, message string, err error) *clierr.Error {
	if reason := decodeRevertFromError(err); reason != "" {
		message = fmt.Sprintf("%s (revert: %s)", message, reason)
	}
	return clierr.Wrap(code, message, err)
}

// contractCallError is a ContractError for a failed call or gas estimate.
func contractCallError(contract common.Address, method, stage string, err error) *clierr.Error {
	wrapped := wrapEVMExecutionError(clierr.CodeContract, stage, err)
	wrapped.Contract = contract.Hex()
	wrapped.Method = method
	return wrapped
}
