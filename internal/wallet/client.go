package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ggonzalez94/polygon-agent/internal/execution/signer"
)

// Backend is the subset of ethclient.Client the orchestrator needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// RawCaller issues raw JSON-RPC calls such as eth_gasPrice.
type RawCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// Dialer connects to an RPC URL.
type Dialer func(ctx context.Context, rpcURL string) (Backend, RawCaller, error)

// DialHTTP is the default Dialer.
func DialHTTP(ctx context.Context, rpcURL string) (Backend, RawCaller, error) {
	rc, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, err
	}
	return ethclient.NewClient(rc), rc, nil
}

type Role string

const (
	RoleRead  Role = "read"
	RoleWrite Role = "write"
)

// Client is a chain-bound backend. Write clients also carry the wallet signer.
type Client struct {
	Backend
	Chain  Chain
	Role   Role
	raw    RawCaller
	signer signer.Signer
}

func (c *Client) Raw() RawCaller { return c.raw }

func (c *Client) Signer() signer.Signer { return c.signer }

// Address is the wallet address, or the zero address for read clients built
// without a key.
func (c *Client) Address() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

func (c *Client) ChainIDBig() *big.Int {
	return big.NewInt(c.Chain.ChainID)
}
