package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ggonzalez94/polygon-agent/internal/execution/signer"
	"github.com/ggonzalez94/polygon-agent/internal/gas"
	"github.com/ggonzalez94/polygon-agent/internal/registry"
	"github.com/ggonzalez94/polygon-agent/internal/wallet"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

var (
	gwei            = big.NewInt(1_000_000_000)
	testShare       = common.HexToAddress("0x00000000000000000000000000000000000005ae")
	testPredicate   = common.HexToAddress("0x0000000000000000000000000000000000000bed")
	testCheckpoints = common.HexToAddress("0x0000000000000000000000000000000000000c4e")
)

var fakeABIs = []*abi.ABI{&erc20ABI, &stakeManagerABI, &validatorShareABI, &rootChainManagerABI, &checkpointManagerABI, &governorABI}

type viewFunc func(to common.Address, args []any) ([]any, error)

type fakeTx struct {
	Method string
	To     common.Address
	Args   []any
	Value  *big.Int
	Hash   common.Hash
}

// fakeChain is an in-memory wallet.Backend. Views answer by ABI method name;
// sent transactions are decoded and recorded in order.
type fakeChain struct {
	mu sync.Mutex

	views    map[string]viewFunc
	reverted map[string]bool
	balance  *big.Int
	tip      *big.Int
	baseFee  *big.Int
	gasPrice *big.Int
	noFees   bool

	nonce    uint64
	calls    []string
	events   []string
	sent     []fakeTx
	receipts map[common.Hash]*types.Receipt
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		views:    map[string]viewFunc{},
		reverted: map[string]bool{},
		balance:  new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18)),
		tip:      new(big.Int).Set(gwei),
		baseFee:  new(big.Int).Mul(big.NewInt(10), gwei),
		gasPrice: new(big.Int).Mul(big.NewInt(3), gwei),
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (f *fakeChain) on(method string, fn viewFunc) { f.views[method] = fn }

func (f *fakeChain) returns(method string, values ...any) {
	f.on(method, func(common.Address, []any) ([]any, error) { return values, nil })
}

func (f *fakeChain) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeChain) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeChain) sentMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, tx := range f.sent {
		out = append(out, tx.Method)
	}
	return out
}

func (f *fakeChain) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func decodeCall(data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("short calldata")
	}
	for _, parsed := range fakeABIs {
		method, err := parsed.MethodById(data[:4])
		if err != nil {
			continue
		}
		args, err := method.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, nil, err
		}
		return method, args, nil
	}
	return nil, nil, fmt.Errorf("unknown selector %x", data[:4])
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) {
	f.record("chainId")
	return big.NewInt(1), nil
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	f.record("blockNumber")
	return 100, nil
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	method, args, err := decodeCall(msg.Data)
	if err != nil {
		return nil, err
	}
	f.record("call:" + method.Name)
	fn, ok := f.views[method.Name]
	if !ok {
		return nil, fmt.Errorf("execution reverted: no handler for %s", method.Name)
	}
	values, err := fn(*msg.To, args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(values...)
}

func (f *fakeChain) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	method, _, err := decodeCall(msg.Data)
	if err != nil {
		return 0, err
	}
	f.record("estimate:" + method.Name)
	return 100_000, nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.record("gasPrice")
	if f.gasPrice == nil {
		return nil, errors.New("gas price unavailable")
	}
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	f.record("tipCap")
	if f.noFees {
		return nil, errors.New("method not found")
	}
	return new(big.Int).Set(f.tip), nil
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	f.record("header")
	h := &types.Header{Number: big.NewInt(100)}
	if !f.noFees {
		h.BaseFee = new(big.Int).Set(f.baseFee)
	}
	return h, nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "nonce")
	return f.nonce, nil
}

func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	f.record("balance")
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	method, args, err := decodeCall(tx.Data())
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "send:"+method.Name)
	f.events = append(f.events, "send:"+method.Name)
	f.nonce++
	f.sent = append(f.sent, fakeTx{Method: method.Name, To: *tx.To(), Args: args, Value: tx.Value(), Hash: tx.Hash()})
	status := types.ReceiptStatusSuccessful
	if f.reverted[method.Name] {
		status = types.ReceiptStatusFailed
	}
	f.receipts[tx.Hash()] = &types.Receipt{Status: status, TxHash: tx.Hash(), BlockNumber: big.NewInt(101)}
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "receipt")
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	for _, tx := range f.sent {
		if tx.Hash == hash {
			f.events = append(f.events, "receipt:"+tx.Method)
		}
	}
	return receipt, nil
}

func (f *fakeChain) Close() {}

type staticFees struct {
	est gas.Estimate
	err error
}

func (s staticFees) GetFeeEstimates(context.Context, string) (gas.Estimate, error) {
	return s.est, s.err
}

type harness struct {
	chain  *fakeChain
	wallet *wallet.Context
	orch   *Orchestrator
	dials  int
}

// newHarness wires an orchestrator to a fake chain on mainnet. The gas
// oracle fails unless fees is given, so fees come from the fake provider.
func newHarness(t *testing.T, fees FeeEstimator, extra ...Option) *harness {
	t.Helper()
	s, err := signer.NewLocalSigner(signer.LocalSignerConfig{PrivateKeyHex: testPrivateKey})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	h := &harness{chain: newFakeChain()}
	w, err := wallet.Configure(wallet.Config{Network: "mainnet"}, s,
		wallet.WithDialer(func(context.Context, string) (wallet.Backend, wallet.RawCaller, error) {
			h.dials++
			return h.chain, nil, nil
		}))
	if err != nil {
		t.Fatalf("configure wallet: %v", err)
	}
	h.wallet = w
	if fees == nil {
		fees = staticFees{err: errors.New("oracle down")}
	}
	opts := Options{PollInterval: 5 * time.Millisecond, ReceiptTimeout: 2 * time.Second}
	extra = append([]Option{WithFeeEstimator(func(*wallet.Client) FeeEstimator { return fees })}, extra...)
	h.orch = New(w, opts, extra...)
	return h
}

// stakeTo wires a validator with a share contract and an allowance.
func (h *harness) stakeTo(allowance *big.Int) {
	h.chain.returns("getValidatorContract", testShare)
	h.chain.returns("allowance", allowance)
}

func mainnetContracts(t *testing.T) registry.PolygonContracts {
	t.Helper()
	set, ok := registry.Contracts(registry.ChainEthereum, nil)
	if !ok {
		t.Fatal("missing mainnet contracts")
	}
	return set
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}
