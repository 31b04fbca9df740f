package gas

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ggonzalez94/polygon-agent/internal/cache"
	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/httpx"
	"github.com/ggonzalez94/polygon-agent/internal/logger"
	"github.com/ggonzalez94/polygon-agent/internal/units"
	"github.com/ggonzalez94/polygon-agent/internal/wallet"
)

const (
	tracerName = "github.com/ggonzalez94/polygon-agent/internal/gas"
	meterName  = "github.com/ggonzalez94/polygon-agent/internal/gas"
)

// DefaultOracleURL is the Etherscan multichain API; the chain is selected with
// the chainid query parameter.
const DefaultOracleURL = "https://api.etherscan.io/v2/api"

// CacheTTL is roughly one L1 block.
const CacheTTL = 12 * time.Second

// PriorityFee is one oracle tier.
type PriorityFee struct {
	MaxPriorityFeePerGas *big.Int `json:"max_priority_fee_per_gas"`
}

// Estimate is a best-effort fee snapshot. FallbackGasPrice is set only when
// the oracle path failed, in which case every tier is nil.
type Estimate struct {
	SafeLow          *PriorityFee `json:"safe_low"`
	Average          *PriorityFee `json:"average"`
	Fast             *PriorityFee `json:"fast"`
	EstimatedBaseFee *big.Int     `json:"estimated_base_fee"`
	FallbackGasPrice *big.Int     `json:"fallback_gas_price"`
}

func (e Estimate) IsFallback() bool { return e.FallbackGasPrice != nil }

type Config struct {
	OracleURL string
	ChainID   int64
	HTTP      *httpx.Client
	// Raw serves the eth_gasPrice fallback.
	Raw   wallet.RawCaller
	Cache *cache.Store
	// RequestsPerSecond bounds oracle calls; zero means 5/s.
	RequestsPerSecond float64
}

type Estimator struct {
	oracleURL string
	chainID   int64
	http      *httpx.Client
	raw       wallet.RawCaller
	cache     *cache.Store
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[Estimate]
	log       *slog.Logger

	tracer    trace.Tracer
	requests  metric.Int64Counter
	fallbacks metric.Int64Counter
}

func New(cfg Config) *Estimator {
	if strings.TrimSpace(cfg.OracleURL) == "" {
		cfg.OracleURL = DefaultOracleURL
	}
	if cfg.HTTP == nil {
		cfg.HTTP = httpx.New(10*time.Second, 1)
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	log := logger.Named("gas")
	e := &Estimator{
		oracleURL: cfg.OracleURL,
		chainID:   cfg.ChainID,
		http:      cfg.HTTP,
		raw:       cfg.Raw,
		cache:     cfg.Cache,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		log:       log,
		tracer:    otel.Tracer(tracerName),
	}
	e.breaker = gobreaker.NewCircuitBreaker[Estimate](gobreaker.Settings{
		Name:        "gas-oracle",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	meter := otel.Meter(meterName)
	e.requests, _ = meter.Int64Counter("gas_oracle_requests_total",
		metric.WithDescription("Gas oracle HTTP requests"),
		metric.WithUnit("{request}"),
	)
	e.fallbacks, _ = meter.Int64Counter("gas_oracle_fallbacks_total",
		metric.WithDescription("Fee estimates served by the eth_gasPrice fallback"),
		metric.WithUnit("{fallback}"),
	)
	return e
}

// GetFeeEstimates queries the oracle when apiKey is set and falls back to
// eth_gasPrice on any oracle failure. It only fails when the fallback fails.
func (e *Estimator) GetFeeEstimates(ctx context.Context, apiKey string) (Estimate, error) {
	ctx, span := e.tracer.Start(ctx, "gas.get_fee_estimates",
		trace.WithAttributes(attribute.Int64("chain_id", e.chainID)),
	)
	defer span.End()

	reason := "no_api_key"
	if strings.TrimSpace(apiKey) != "" {
		est, err := e.oracleEstimate(ctx, apiKey)
		if err == nil {
			span.SetAttributes(attribute.String("source", "oracle"))
			span.SetStatus(codes.Ok, "oracle")
			return est, nil
		}
		reason = "oracle_error"
		span.RecordError(err)
		e.log.Warn("gas oracle unavailable, falling back to eth_gasPrice", "chain_id", e.chainID, "error", err)
	}

	e.addFallback(ctx, reason)
	price, err := e.fallbackGasPrice(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fallback failed")
		return Estimate{}, err
	}
	span.SetAttributes(attribute.String("source", "eth_gasPrice"))
	return Estimate{FallbackGasPrice: price}, nil
}

func (e *Estimator) oracleEstimate(ctx context.Context, apiKey string) (Estimate, error) {
	key := cache.Key("gas", strconv.FormatInt(e.chainID, 10))
	var cached Estimate
	if ok, _ := cache.GetJSON(e.cache, key, &cached); ok {
		return cached, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return Estimate{}, fmt.Errorf("gas oracle rate limit: %w", err)
	}
	est, err := e.breaker.Execute(func() (Estimate, error) {
		return e.fetchOracle(ctx, apiKey)
	})
	if err != nil {
		return Estimate{}, err
	}
	_ = cache.SetJSON(e.cache, key, est, CacheTTL)
	return est, nil
}

type oracleResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type oracleResult struct {
	SafeGasPrice    string `json:"SafeGasPrice"`
	ProposeGasPrice string `json:"ProposeGasPrice"`
	FastGasPrice    string `json:"FastGasPrice"`
	SuggestBaseFee  string `json:"suggestBaseFee"`
}

func (e *Estimator) fetchOracle(ctx context.Context, apiKey string) (Estimate, error) {
	if e.requests != nil {
		e.requests.Add(ctx, 1)
	}
	params := url.Values{
		"module": {"gastracker"},
		"action": {"gasoracle"},
		"apikey": {apiKey},
	}
	if e.chainID > 0 {
		params.Set("chainid", strconv.FormatInt(e.chainID, 10))
	}
	var resp oracleResponse
	if err := e.http.GetJSON(ctx, e.oracleURL, params, &resp); err != nil {
		return Estimate{}, err
	}
	if resp.Status != "1" {
		return Estimate{}, fmt.Errorf("gas oracle error: status=%q message=%q", resp.Status, resp.Message)
	}
	var result oracleResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return Estimate{}, fmt.Errorf("decode gas oracle result: %w", err)
	}
	return parseOracleResult(result)
}

func parseOracleResult(r oracleResult) (Estimate, error) {
	base, err := units.GweiToWei(r.SuggestBaseFee)
	if err != nil {
		return Estimate{}, fmt.Errorf("suggestBaseFee: %w", err)
	}
	tier := func(name, gwei string) (*PriorityFee, error) {
		price, err := units.GweiToWei(gwei)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		tip := new(big.Int).Sub(price, base)
		if tip.Sign() < 0 {
			tip.SetInt64(0)
		}
		return &PriorityFee{MaxPriorityFeePerGas: tip}, nil
	}
	var est Estimate
	if est.SafeLow, err = tier("SafeGasPrice", r.SafeGasPrice); err != nil {
		return Estimate{}, err
	}
	if est.Average, err = tier("ProposeGasPrice", r.ProposeGasPrice); err != nil {
		return Estimate{}, err
	}
	if est.Fast, err = tier("FastGasPrice", r.FastGasPrice); err != nil {
		return Estimate{}, err
	}
	est.EstimatedBaseFee = base
	return est, nil
}

func (e *Estimator) fallbackGasPrice(ctx context.Context) (*big.Int, error) {
	if e.raw == nil {
		return nil, clierr.Service("no rpc client for eth_gasPrice fallback", nil)
	}
	var price hexutil.Big
	if err := e.raw.CallContext(ctx, &price, "eth_gasPrice"); err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "eth_gasPrice fallback failed", err)
	}
	out := price.ToInt()
	if out == nil || out.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUnavailable, "eth_gasPrice returned no price")
	}
	return new(big.Int).Set(out), nil
}

func (e *Estimator) addFallback(ctx context.Context, reason string) {
	if e.fallbacks != nil {
		e.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}
