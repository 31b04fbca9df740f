package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/units"
	"github.com/ggonzalez94/polygon-agent/internal/wallet"
)

// txRequest is an unsigned contract call. Gas, fees and nonce are resolved
// at send time and never persisted.
type txRequest struct {
	Step       StepType
	To         common.Address
	ABI        *abi.ABI
	Method     string
	Args       []any
	Value      *big.Int
	Multiplier float64
	// ApprovalCap bounds an approval amount; nil allows any amount.
	ApprovalCap *big.Int
}

type feeData struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Source               string
}

type sentTx struct {
	Hash common.Hash
	step int
}

// send runs estimate, fees, balance check, sign and broadcast for one call.
// It does not wait for the receipt.
func (o *Orchestrator) send(ctx context.Context, r *run, c *wallet.Client, req txRequest) (sentTx, error) {
	if req.Value == nil {
		req.Value = new(big.Int)
	}
	if req.Multiplier <= 1 {
		req.Multiplier = o.opts.GasMultiplier
	}
	idx := r.addStep(req, c.Chain.Name)

	data, err := req.ABI.Pack(req.Method, req.Args...)
	if err != nil {
		return sentTx{}, r.stepFailed(idx, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s calldata", req.Method), err))
	}
	if err := validateTxPolicy(req, data); err != nil {
		return sentTx{}, r.stepFailed(idx, err)
	}
	txSigner := c.Signer()
	if txSigner == nil {
		return sentTx{}, r.stepFailed(idx, clierr.New(clierr.CodeSigner, "missing signer"))
	}
	from := txSigner.Address()

	r.state("estimating_gas", "method", req.Method)
	rawGas, err := c.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &req.To, Value: req.Value, Data: data})
	if err != nil {
		return sentTx{}, r.stepFailed(idx, contractCallError(req.To, req.Method, "estimate gas", err))
	}
	gasLimit := units.ApplyMultiplierUint64(rawGas, req.Multiplier)

	r.state("resolving_fees")
	fees, err := o.resolveFees(ctx, c)
	if err != nil {
		return sentTx{}, r.stepFailed(idx, err)
	}

	r.state("checking_balance")
	if err := o.checkBalance(ctx, c, from, gasLimit, fees, req.Value); err != nil {
		return sentTx{}, r.stepFailed(idx, err)
	}

	chainID := c.ChainIDBig()
	unlock, err := acquireSendLock(ctx, o.opts.SendLockDir, chainID, from)
	if err != nil {
		return sentTx{}, r.stepFailed(idx, err)
	}
	signed, err := func() (*types.Transaction, error) {
		defer unlock()
		nonce, err := c.PendingNonceAt(ctx, from)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
		}
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fees.MaxPriorityFeePerGas,
			GasFeeCap: fees.MaxFeePerGas,
			Gas:       gasLimit,
			To:        &req.To,
			Value:     req.Value,
			Data:      data,
		})
		r.state("signing", "nonce", nonce)
		signed, err := txSigner.SignTx(chainID, tx)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
		}
		r.state("broadcasting")
		if err := c.SendTransaction(ctx, signed); err != nil {
			return nil, broadcastError(c, err)
		}
		return signed, nil
	}()
	if err != nil {
		return sentTx{}, r.stepFailed(idx, err)
	}

	hash := signed.Hash()
	r.stepSubmitted(idx, hash.Hex(), gasLimit)
	o.log.Info("transaction broadcast",
		"chain", c.Chain.Name, "method", req.Method, "to", req.To.Hex(),
		"tx_hash", hash.Hex(), "nonce", signed.Nonce(), "gas_limit", gasLimit, "fee_source", fees.Source)
	if o.broadcasts != nil {
		o.broadcasts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("chain", c.Chain.Name),
			attribute.String("method", req.Method),
		))
	}
	return sentTx{Hash: hash, step: idx}, nil
}

func broadcastError(c *wallet.Client, err error) error {
	if msg, ok := clierr.FormatInsufficientFunds(err, c.Chain.NativeCurrency.Symbol); ok {
		return clierr.Wrap(clierr.CodeInsufficientFunds, msg, err)
	}
	return wrapEVMExecutionError(clierr.CodeUnavailable, "broadcast transaction", err)
}

// resolveFees tries the gas oracle, then the provider's EIP-1559 fee data,
// then a legacy gas price applied to both fields.
func (o *Orchestrator) resolveFees(ctx context.Context, c *wallet.Client) (feeData, error) {
	var legacy *big.Int
	est, err := o.feeEstimator(c).GetFeeEstimates(ctx, o.opts.GasAPIKey)
	switch {
	case err != nil:
		o.log.Warn("gas estimator failed, using provider fee data", "chain", c.Chain.Name, "error", err)
	case est.EstimatedBaseFee != nil && est.Average != nil && est.Average.MaxPriorityFeePerGas != nil:
		return eip1559Fees(est.EstimatedBaseFee, est.Average.MaxPriorityFeePerGas, "oracle"), nil
	default:
		legacy = est.FallbackGasPrice
	}

	tip, tipErr := c.SuggestGasTipCap(ctx)
	header, headErr := c.HeaderByNumber(ctx, nil)
	if tipErr == nil && headErr == nil && tip != nil && header != nil && header.BaseFee != nil {
		return eip1559Fees(header.BaseFee, tip, "provider"), nil
	}
	o.log.Debug("provider has no eip-1559 fee data", "chain", c.Chain.Name, "tip_error", tipErr, "header_error", headErr)

	if price, err := c.SuggestGasPrice(ctx); err == nil && price != nil && price.Sign() > 0 {
		legacy = price
	}
	if legacy != nil && legacy.Sign() > 0 {
		return feeData{
			MaxFeePerGas:         new(big.Int).Set(legacy),
			MaxPriorityFeePerGas: new(big.Int).Set(legacy),
			Source:               "legacy",
		}, nil
	}
	return feeData{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("could not resolve fee data for %s", c.Chain.Name))
}

// eip1559Fees sets maxFee to twice the base fee plus the tip.
func eip1559Fees(baseFee, tip *big.Int, source string) feeData {
	maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)
	return feeData{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: new(big.Int).Set(tip), Source: source}
}

// checkBalance requires gasLimit*maxFee + value + margin before signing.
func (o *Orchestrator) checkBalance(ctx context.Context, c *wallet.Client, from common.Address, gasLimit uint64, fees feeData, value *big.Int) error {
	need := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), fees.MaxFeePerGas)
	need.Add(need, value)
	need.Add(need, o.opts.BalanceMargin)
	balance, err := c.BalanceAt(ctx, from, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "fetch wallet balance", err)
	}
	if balance.Cmp(need) >= 0 {
		return nil
	}
	cause := fmt.Errorf("insufficient funds for gas * price + value: have %s want %s", balance, need)
	msg, _ := clierr.FormatInsufficientFunds(cause, c.Chain.NativeCurrency.Symbol)
	return clierr.Wrap(clierr.CodeInsufficientFunds, msg, cause)
}

// waitReceipt blocks until the transaction is mined or the receipt timeout
// passes. Transient polling errors are retried until then.
func (o *Orchestrator) waitReceipt(ctx context.Context, r *run, c *wallet.Client, sent sentTx) (*types.Receipt, error) {
	r.state("confirming", "tx_hash", sent.Hash.Hex())
	waitCtx, cancel := context.WithTimeout(ctx, o.opts.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.TransactionReceipt(waitCtx, sent.Hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				r.stepConfirmed(sent.step)
				return receipt, nil
			}
			step := r.action.Steps[sent.step]
			reverted := clierr.New(clierr.CodeReverted, fmt.Sprintf("%s transaction reverted on-chain", step.Method))
			reverted.Contract = step.Target
			reverted.Method = step.Method
			return receipt, r.stepFailed(sent.step, clierr.WithTx(reverted, sent.Hash.Hex()))
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			o.log.Debug("receipt poll failed", "tx_hash", sent.Hash.Hex(), "error", err)
		}
		select {
		case <-waitCtx.Done():
			timeout := clierr.Wrap(clierr.CodeTimeout, "timed out waiting for receipt", waitCtx.Err())
			return nil, r.stepFailed(sent.step, clierr.WithTx(timeout, sent.Hash.Hex()))
		case <-ticker.C:
		}
	}
}
