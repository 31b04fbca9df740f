package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ggonzalez94/polygon-agent/internal/cache"
	"github.com/ggonzalez94/polygon-agent/internal/config"
	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/gas"
	"github.com/ggonzalez94/polygon-agent/internal/httpx"
	"github.com/ggonzalez94/polygon-agent/internal/logger"
	"github.com/ggonzalez94/polygon-agent/internal/registry"
	"github.com/ggonzalez94/polygon-agent/internal/wallet"
)

const (
	tracerName = "github.com/ggonzalez94/polygon-agent/internal/execution"
	meterName  = "github.com/ggonzalez94/polygon-agent/internal/execution"
)

const (
	DefaultGasMultiplier         = 1.2
	DefaultApprovalGasMultiplier = 1.5
	DefaultReceiptTimeout        = 120 * time.Second
	DefaultPollInterval          = 2 * time.Second
)

// DefaultBalanceMargin is 0.001 native units on top of the worst-case fee.
var DefaultBalanceMargin = big.NewInt(1_000_000_000_000_000)

// FeeEstimator is the gas oracle collaborator.
type FeeEstimator interface {
	GetFeeEstimates(ctx context.Context, apiKey string) (gas.Estimate, error)
}

type Options struct {
	GasMultiplier         float64
	ApprovalGasMultiplier float64
	ReceiptTimeout        time.Duration
	PollInterval          time.Duration
	BalanceMargin         *big.Int
	// GasAPIKey enables the gas oracle; empty goes straight to eth_gasPrice.
	GasAPIKey    string
	GasOracleURL string
	// GovernorAddress is the L2 governor used by Propose and Vote.
	GovernorAddress   string
	ContractOverrides map[string]map[string]string
	// SendLockDir holds per-key lock files; empty keeps the lock in-process.
	SendLockDir string
	Cache       *cache.Store
	HTTP        *httpx.Client
}

func DefaultOptions() Options {
	return Options{
		GasMultiplier:         DefaultGasMultiplier,
		ApprovalGasMultiplier: DefaultApprovalGasMultiplier,
		ReceiptTimeout:        DefaultReceiptTimeout,
		PollInterval:          DefaultPollInterval,
		BalanceMargin:         new(big.Int).Set(DefaultBalanceMargin),
	}
}

// OptionsFromSettings maps runtime settings onto orchestrator options.
func OptionsFromSettings(s config.Settings) Options {
	opts := DefaultOptions()
	opts.GasAPIKey = s.PolygonscanKey
	opts.GasOracleURL = s.GasOracleURL
	opts.GovernorAddress = s.GovernorAddress
	opts.ContractOverrides = s.ContractOverrides
	opts.SendLockDir = s.SendLockDir
	opts.HTTP = httpx.New(s.Timeout, s.Retries)
	return opts
}

// Orchestrator builds, funds, signs and confirms Polygon PoS transactions on
// the wallet's L1 and governance transactions on its L2.
type Orchestrator struct {
	wallet  *wallet.Context
	store   *Store
	opts    Options
	newFees func(*wallet.Client) FeeEstimator

	feesMu sync.Mutex
	fees   map[string]FeeEstimator

	log        *slog.Logger
	tracer     trace.Tracer
	broadcasts metric.Int64Counter
	protocols  metric.Int64Counter
}

type Option func(*Orchestrator)

// WithStore records every protocol run in the action journal.
func WithStore(s *Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithFeeEstimator replaces the per-chain gas oracle factory.
func WithFeeEstimator(f func(*wallet.Client) FeeEstimator) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.newFees = f
		}
	}
}

func New(w *wallet.Context, opts Options, extra ...Option) *Orchestrator {
	def := DefaultOptions()
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = def.GasMultiplier
	}
	if opts.ApprovalGasMultiplier <= 1 {
		opts.ApprovalGasMultiplier = def.ApprovalGasMultiplier
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = def.ReceiptTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.BalanceMargin == nil {
		opts.BalanceMargin = def.BalanceMargin
	}
	o := &Orchestrator{
		wallet: w,
		opts:   opts,
		fees:   map[string]FeeEstimator{},
		log:    logger.Named("execution"),
		tracer: otel.Tracer(tracerName),
	}
	o.newFees = func(c *wallet.Client) FeeEstimator {
		return gas.New(gas.Config{
			OracleURL: o.opts.GasOracleURL,
			ChainID:   c.Chain.ChainID,
			HTTP:      o.opts.HTTP,
			Raw:       c.Raw(),
			Cache:     o.opts.Cache,
		})
	}
	for _, opt := range extra {
		opt(o)
	}

	meter := otel.Meter(meterName)
	o.broadcasts, _ = meter.Int64Counter("transactions_broadcast_total",
		metric.WithDescription("Signed transactions accepted by an RPC node"),
		metric.WithUnit("{transaction}"),
	)
	o.protocols, _ = meter.Int64Counter("protocol_runs_total",
		metric.WithDescription("Orchestrated protocol runs by outcome"),
		metric.WithUnit("{run}"),
	)
	return o
}

func (o *Orchestrator) Wallet() *wallet.Context { return o.wallet }

func (o *Orchestrator) Store() *Store { return o.store }

func (o *Orchestrator) feeEstimator(c *wallet.Client) FeeEstimator {
	o.feesMu.Lock()
	defer o.feesMu.Unlock()
	if f, ok := o.fees[c.Chain.Name]; ok {
		return f
	}
	f := o.newFees(c)
	o.fees[c.Chain.Name] = f
	return f
}

// GasEstimates exposes the fee oracle snapshot for a chain.
func (o *Orchestrator) GasEstimates(ctx context.Context, chain string) (gas.Estimate, error) {
	if strings.TrimSpace(chain) == "" {
		chain = o.wallet.L1()
	}
	c, err := o.wallet.Client(ctx, chain, wallet.RoleRead)
	if err != nil {
		return gas.Estimate{}, err
	}
	return o.feeEstimator(c).GetFeeEstimates(ctx, o.opts.GasAPIKey)
}

func (o *Orchestrator) contracts() (registry.PolygonContracts, error) {
	l1 := o.wallet.L1()
	set, ok := registry.Contracts(l1, o.opts.ContractOverrides[l1])
	if !ok {
		return registry.PolygonContracts{}, clierr.New(clierr.CodeConfiguration, fmt.Sprintf("no Polygon contracts known for %s", l1))
	}
	return set, nil
}

func (o *Orchestrator) contractAddress(name, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, clierr.New(clierr.CodeConfiguration, fmt.Sprintf("%s address is not configured for %s", name, o.wallet.L1()))
	}
	addr, err := parseAddress(name, raw)
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeConfiguration, fmt.Sprintf("invalid configured %s address", name), err)
	}
	return addr, nil
}

func (o *Orchestrator) l1(ctx context.Context, role wallet.Role) (*wallet.Client, error) {
	return o.wallet.Client(ctx, o.wallet.L1(), role)
}

// run tracks one protocol invocation: its journal entry and trace span.
type run struct {
	o      *Orchestrator
	action Action
	span   trace.Span
	start  time.Time
}

func (o *Orchestrator) begin(ctx context.Context, protocol, chain string, params map[string]string) (context.Context, *run) {
	ctx, span := o.tracer.Start(ctx, "execution."+protocol,
		trace.WithAttributes(attribute.String("protocol", protocol), attribute.String("chain", chain)),
	)
	action := NewAction(NewActionID(), protocol, chain)
	action.FromAddress = o.wallet.Address().Hex()
	for k, v := range params {
		action.Params[k] = v
	}
	r := &run{o: o, action: action, span: span, start: time.Now()}
	o.log.Debug("protocol started", "protocol", protocol, "action_id", action.ActionID, "chain", chain)
	r.save()
	return ctx, r
}

func (r *run) save() {
	if r.o.store == nil {
		return
	}
	r.action.Touch()
	if err := r.o.store.Save(r.action); err != nil {
		r.o.log.Warn("action journal write failed", "action_id", r.action.ActionID, "error", err)
	}
}

func (r *run) state(name string, attrs ...any) {
	r.span.AddEvent(name)
	r.o.log.Debug("protocol state", append([]any{"protocol", r.action.Protocol, "state", name}, attrs...)...)
}

func (r *run) addStep(req txRequest, chain string) int {
	value := "0"
	if req.Value != nil {
		value = req.Value.String()
	}
	r.action.Steps = append(r.action.Steps, ActionStep{
		StepID: fmt.Sprintf("%s-%d", req.Step, len(r.action.Steps)+1),
		Type:   req.Step,
		Status: StepStatusPending,
		Chain:  chain,
		Target: req.To.Hex(),
		Method: req.Method,
		Value:  value,
	})
	return len(r.action.Steps) - 1
}

func (r *run) stepSubmitted(i int, hash string, gasLimit uint64) {
	r.action.Steps[i].Status = StepStatusSubmitted
	r.action.Steps[i].TxHash = hash
	r.action.Steps[i].GasLimit = gasLimit
	r.save()
}

func (r *run) stepConfirmed(i int) {
	r.action.Steps[i].Status = StepStatusConfirmed
	r.action.Steps[i].Waited = true
	r.save()
}

func (r *run) stepFailed(i int, err error) error {
	r.action.Steps[i].Status = StepStatusFailed
	r.action.Steps[i].Error = err.Error()
	r.save()
	return err
}

// finish closes the journal entry and span and passes err through.
func (r *run) finish(err error) error {
	outcome := "completed"
	if err != nil {
		outcome = "failed"
		r.action.Status = ActionStatusFailed
		r.action.Error = err.Error()
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	} else {
		r.action.Status = ActionStatusCompleted
		r.span.SetStatus(codes.Ok, "")
	}
	r.save()
	if r.o.protocols != nil {
		r.o.protocols.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("protocol", r.action.Protocol),
			attribute.String("outcome", outcome),
		))
	}
	r.o.log.Debug("protocol finished", "protocol", r.action.Protocol, "action_id", r.action.ActionID,
		"outcome", outcome, "duration", time.Since(r.start))
	r.span.End()
	return err
}

// TxResult reports the final broadcast transaction of a protocol.
type TxResult struct {
	ActionID    string `json:"action_id"`
	Chain       string `json:"chain"`
	TxHash      string `json:"tx_hash"`
	ExplorerURL string `json:"explorer_url,omitempty"`
	// ApprovalTxHashes lists confirmed allowance transactions sent first.
	ApprovalTxHashes []string `json:"approval_tx_hashes,omitempty"`
}

func (r *run) result(c *wallet.Client, sent sentTx, approvals []string) TxResult {
	hash := sent.Hash.Hex()
	r.span.SetAttributes(attribute.String("tx_hash", hash))
	return TxResult{
		ActionID:         r.action.ActionID,
		Chain:            c.Chain.Name,
		TxHash:           hash,
		ExplorerURL:      c.Chain.TxURL(hash),
		ApprovalTxHashes: approvals,
	}
}
