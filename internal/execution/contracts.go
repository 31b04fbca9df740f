package execution

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/registry"
	"github.com/ggonzalez94/polygon-agent/internal/wallet"
)

var (
	erc20ABI             = mustABI(registry.ERC20ABI)
	stakeManagerABI      = mustABI(registry.StakeManagerABI)
	validatorShareABI    = mustABI(registry.ValidatorShareABI)
	rootChainManagerABI  = mustABI(registry.RootChainManagerABI)
	checkpointManagerABI = mustABI(registry.CheckpointManagerABI)
	governorABI          = mustABI(registry.GovernorABI)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// callView runs a read-only contract method at the latest block.
func callView(ctx context.Context, b wallet.Backend, contract common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s call", method), err)
	}
	out, err := b.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, contractCallError(contract, method, "contract call failed", err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, clierr.Contract(contract.Hex(), method, "unexpected contract response", err)
	}
	if len(values) == 0 {
		return nil, clierr.Contract(contract.Hex(), method, "empty contract response", nil)
	}
	return values, nil
}

func callBig(ctx context.Context, b wallet.Backend, contract common.Address, parsed abi.ABI, method string, args ...any) (*big.Int, error) {
	values, err := callView(ctx, b, contract, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := toBigInt(values[0])
	if !ok {
		return nil, clierr.Contract(contract.Hex(), method, fmt.Sprintf("expected uint256, got %T", values[0]), nil)
	}
	return v, nil
}

func callAddress(ctx context.Context, b wallet.Backend, contract common.Address, parsed abi.ABI, method string, args ...any) (common.Address, error) {
	values, err := callView(ctx, b, contract, parsed, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := toAddress(values[0])
	if !ok {
		return common.Address{}, clierr.Contract(contract.Hex(), method, fmt.Sprintf("expected address, got %T", values[0]), nil)
	}
	return addr, nil
}

func toAddress(v any) (common.Address, bool) {
	switch value := v.(type) {
	case common.Address:
		return value, true
	case *common.Address:
		if value == nil {
			return common.Address{}, false
		}
		return *value, true
	default:
		return common.Address{}, false
	}
}

func toBigInt(v any) (*big.Int, bool) {
	switch value := v.(type) {
	case *big.Int:
		if value == nil {
			return nil, false
		}
		return value, true
	case uint8:
		return new(big.Int).SetUint64(uint64(value)), true
	case uint64:
		return new(big.Int).SetUint64(value), true
	default:
		return nil, false
	}
}

// parseAddress validates a configured or user-supplied hex address.
func parseAddress(name, raw string) (common.Address, error) {
	clean := strings.TrimSpace(raw)
	if !common.IsHexAddress(clean) {
		return common.Address{}, clierr.Validation("invalid %s address %q", name, raw)
	}
	addr := common.HexToAddress(clean)
	if addr == (common.Address{}) {
		return common.Address{}, clierr.Validation("%s address must not be zero", name)
	}
	return addr, nil
}
