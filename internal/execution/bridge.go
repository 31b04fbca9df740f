package execution

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/wallet"
)

// BridgeRequest is a PoS bridge deposit from L1 to L2.
type BridgeRequest struct {
	// TokenAddressL1 is ignored when Native is set.
	TokenAddressL1 string
	Native         bool
	AmountWei      *big.Int
	// RecipientL2 defaults to the wallet address.
	RecipientL2 string
}

var uint256Args = func() abi.Arguments {
	ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: ty}}
}()

// BridgeDeposit raises the predicate allowance if needed (resetting a smaller
// nonzero allowance to zero first), waits for it, then broadcasts the deposit
// without waiting. Native ether goes through depositEtherFor.
func (o *Orchestrator) BridgeDeposit(ctx context.Context, req BridgeRequest) (TxResult, error) {
	if req.AmountWei == nil || req.AmountWei.Sign() <= 0 {
		return TxResult{}, clierr.Validation("bridge amount must be a positive integer amount in wei")
	}
	var token common.Address
	if !req.Native {
		var err error
		if token, err = parseAddress("token", req.TokenAddressL1); err != nil {
			return TxResult{}, err
		}
	}
	var recipient common.Address
	if strings.TrimSpace(req.RecipientL2) != "" {
		var err error
		if recipient, err = parseAddress("recipient", req.RecipientL2); err != nil {
			return TxResult{}, err
		}
	}

	params := map[string]string{"amount_wei": req.AmountWei.String()}
	if req.Native {
		params["token"] = "ETH"
	} else {
		params["token"] = token.Hex()
	}
	if recipient != (common.Address{}) {
		params["recipient"] = recipient.Hex()
	}
	ctx, r := o.begin(ctx, ProtocolBridgeDeposit, o.wallet.L1(), params)
	res, err := o.bridgeDeposit(ctx, r, req, token, recipient)
	return res, r.finish(err)
}

func (o *Orchestrator) bridgeDeposit(ctx context.Context, r *run, req BridgeRequest, token, recipient common.Address) (TxResult, error) {
	c, err := o.l1(ctx, wallet.RoleWrite)
	if err != nil {
		return TxResult{}, err
	}
	if recipient == (common.Address{}) {
		recipient = c.Address()
	}
	set, err := o.contracts()
	if err != nil {
		return TxResult{}, err
	}
	rootChainManager, err := o.contractAddress("root chain manager", set.RootChainManager)
	if err != nil {
		return TxResult{}, err
	}

	if req.Native {
		sent, err := o.send(ctx, r, c, txRequest{
			Step:   StepTypeBridgeDeposit,
			To:     rootChainManager,
			ABI:    &rootChainManagerABI,
			Method: "depositEtherFor",
			Args:   []any{recipient},
			Value:  req.AmountWei,
		})
		if err != nil {
			return TxResult{}, err
		}
		return r.result(c, sent, nil), nil
	}

	predicate, err := o.erc20Predicate(ctx, r, c, rootChainManager, token)
	if err != nil {
		return TxResult{}, err
	}
	approvals, err := o.ensureAllowance(ctx, r, c, allowanceRequest{
		Token:      token,
		Spender:    predicate,
		Need:       req.AmountWei,
		Approve:    maxUint256,
		ResetFirst: true,
	})
	if err != nil {
		return TxResult{}, err
	}
	depositData, err := uint256Args.Pack(req.AmountWei)
	if err != nil {
		return TxResult{}, clierr.Wrap(clierr.CodeInternal, "encode deposit data", err)
	}
	sent, err := o.send(ctx, r, c, txRequest{
		Step:   StepTypeBridgeDeposit,
		To:     rootChainManager,
		ABI:    &rootChainManagerABI,
		Method: "depositFor",
		Args:   []any{recipient, token, depositData},
	})
	if err != nil {
		return TxResult{}, err
	}
	return r.result(c, sent, approvals), nil
}

// erc20Predicate asks the RootChainManager which predicate holds the token.
// A failed lookup falls back to the configured ERC20 predicate; a token with
// no registered type is not bridgeable.
func (o *Orchestrator) erc20Predicate(ctx context.Context, r *run, b wallet.Backend, rootChainManager, token common.Address) (common.Address, error) {
	r.state("resolving_predicate", "token", token.Hex())
	predicate, err := lookupPredicate(ctx, b, rootChainManager, token)
	if err == nil {
		return predicate, nil
	}
	if clierr.Is(err, clierr.CodeUnsupported) {
		return common.Address{}, err
	}
	o.log.Warn("predicate lookup failed, using configured erc20 predicate", "token", token.Hex(), "error", err)
	set, setErr := o.contracts()
	if setErr != nil {
		return common.Address{}, setErr
	}
	return o.contractAddress("erc20 predicate", set.ERC20Predicate)
}

func lookupPredicate(ctx context.Context, b wallet.Backend, rootChainManager, token common.Address) (common.Address, error) {
	values, err := callView(ctx, b, rootChainManager, rootChainManagerABI, "tokenToType", token)
	if err != nil {
		return common.Address{}, err
	}
	tokenType, ok := values[0].([32]byte)
	if !ok {
		return common.Address{}, clierr.Contract(rootChainManager.Hex(), "tokenToType", "unexpected token type", nil)
	}
	if tokenType == ([32]byte{}) {
		return common.Address{}, clierr.New(clierr.CodeUnsupported, "token "+token.Hex()+" is not mapped on the Polygon PoS bridge")
	}
	predicate, err := callAddress(ctx, b, rootChainManager, rootChainManagerABI, "typeToPredicate", tokenType)
	if err != nil {
		return common.Address{}, err
	}
	if predicate == (common.Address{}) {
		return common.Address{}, clierr.Contract(rootChainManager.Hex(), "typeToPredicate", "no predicate registered for token type", nil)
	}
	return predicate, nil
}
