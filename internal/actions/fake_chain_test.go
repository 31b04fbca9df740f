package actions

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ggonzalez94/polygon-agent/internal/config"
	"github.com/ggonzalez94/polygon-agent/internal/execution"
	"github.com/ggonzalez94/polygon-agent/internal/execution/signer"
	"github.com/ggonzalez94/polygon-agent/internal/gas"
	"github.com/ggonzalez94/polygon-agent/internal/llm"
	"github.com/ggonzalez94/polygon-agent/internal/registry"
	"github.com/ggonzalez94/polygon-agent/internal/service"
	"github.com/ggonzalez94/polygon-agent/internal/wallet"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

var testShare = common.HexToAddress("0x00000000000000000000000000000000000005ae")

var chainABIs = func() []abi.ABI {
	var out []abi.ABI
	for _, raw := range []string{registry.ERC20ABI, registry.StakeManagerABI, registry.ValidatorShareABI, registry.RootChainManagerABI, registry.CheckpointManagerABI, registry.GovernorABI} {
		parsed, err := abi.JSON(strings.NewReader(raw))
		if err != nil {
			panic(err)
		}
		out = append(out, parsed)
	}
	return out
}()

type sentCall struct {
	Method string
	Args   []any
	Hash   common.Hash
}

// fakeChain answers view calls by ABI method name and mines every
// transaction immediately.
type fakeChain struct {
	mu       sync.Mutex
	views    map[string][]any
	calls    int
	nonce    uint64
	sent     []sentCall
	receipts map[common.Hash]*types.Receipt
}

func newFakeChain() *fakeChain {
	return &fakeChain{views: map[string][]any{}, receipts: map[common.Hash]*types.Receipt{}}
}

func (f *fakeChain) returns(method string, values ...any) { f.views[method] = values }

func (f *fakeChain) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.Method)
	}
	return out
}

func (f *fakeChain) count() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func decode(data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("short calldata")
	}
	for i := range chainABIs {
		method, err := chainABIs[i].MethodById(data[:4])
		if err != nil {
			continue
		}
		args, err := method.Inputs.Unpack(data[4:])
		return method, args, err
	}
	return nil, nil, fmt.Errorf("unknown selector %x", data[:4])
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) { f.count(); return big.NewInt(1), nil }

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) { f.count(); return 100, nil }

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.count()
	method, _, err := decode(msg.Data)
	if err != nil {
		return nil, err
	}
	values, ok := f.views[method.Name]
	if !ok {
		return nil, fmt.Errorf("execution reverted: no handler for %s", method.Name)
	}
	return method.Outputs.Pack(values...)
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	f.count()
	return 100_000, nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.count()
	return big.NewInt(3_000_000_000), nil
}

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	f.count()
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	f.count()
	return &types.Header{Number: big.NewInt(100), BaseFee: big.NewInt(10_000_000_000)}, nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.nonce, nil
}

func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	f.count()
	return new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)), nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	method, args, err := decode(tx.Data())
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.nonce++
	f.sent = append(f.sent, sentCall{Method: method.Name, Args: args, Hash: tx.Hash()})
	f.receipts[tx.Hash()] = &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash(), BlockNumber: big.NewInt(101)}
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeChain) Close() {}

type downOracle struct{}

func (downOracle) GetFeeEstimates(context.Context, string) (gas.Estimate, error) {
	return gas.Estimate{}, errors.New("oracle down")
}

// testRuntime is a minimal host runtime over a settings map.
type testRuntime struct {
	settings map[string]string
	model    llm.Model
	services *service.Registry
}

func (r *testRuntime) GetSetting(key string) (string, bool) {
	v, ok := r.settings[key]
	return v, ok && v != ""
}

func (r *testRuntime) UseModel(ctx context.Context, model llm.ModelType, prompt string) (string, error) {
	if r.model == nil {
		return "", errors.New("no model")
	}
	return r.model.UseModel(ctx, model, prompt)
}

func (r *testRuntime) GetService(name string) (service.Service, bool) {
	if r.services == nil {
		return nil, false
	}
	return r.services.Get(name)
}

func enabledSettings() map[string]string {
	return map[string]string{
		config.KeyPluginsEnabled: "true",
		config.KeyPrivateKey:     testPrivateKey,
	}
}

// newPolygonRuntime starts a polygon service on mainnet backed by chain.
func newPolygonRuntime(t *testing.T, chain *fakeChain) *testRuntime {
	t.Helper()
	s, err := signer.NewLocalSigner(signer.LocalSignerConfig{PrivateKeyHex: testPrivateKey})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	reg := service.NewRegistry(config.Settings{Network: "mainnet"})
	err = reg.Register(service.TypePolygon, service.StartPolygon(
		service.WithSigner(s),
		service.WithoutJournal(),
		service.WithWalletOptions(wallet.WithDialer(func(context.Context, string) (wallet.Backend, wallet.RawCaller, error) {
			return chain, nil, nil
		})),
		service.WithExecutionOptions(execution.WithFeeEstimator(func(*wallet.Client) execution.FeeEstimator {
			return downOracle{}
		})),
	))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("start services: %v", err)
	}
	t.Cleanup(func() { _ = reg.Stop(context.Background()) })
	return &testRuntime{settings: enabledSettings(), services: reg}
}
