package wallet

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/polygon-agent/internal/config"
	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/execution/signer"
	"github.com/ggonzalez94/polygon-agent/internal/registry"
)

// Chain is an immutable chain definition: a registry template plus the RPC
// URLs resolved for this session.
type Chain struct {
	Name           string                  `json:"name"`
	ChainID        int64                   `json:"chain_id"`
	Layer          registry.Layer          `json:"layer"`
	DefaultRPCURL  string                  `json:"default_rpc_url"`
	CustomRPCURL   string                  `json:"custom_rpc_url,omitempty"`
	NativeCurrency registry.NativeCurrency `json:"native_currency"`
	ExplorerURL    string                  `json:"explorer_url"`
}

// RPCURL prefers the custom override.
func (c Chain) RPCURL() string {
	if strings.TrimSpace(c.CustomRPCURL) != "" {
		return strings.TrimSpace(c.CustomRPCURL)
	}
	return c.DefaultRPCURL
}

func (c Chain) TxURL(txHash string) string {
	return registry.ChainTemplate{ExplorerURL: c.ExplorerURL}.TxURL(txHash)
}

// Config lists the chains to configure and their custom RPC URLs.
type Config struct {
	Network string
	// Extra chain template names configured in addition to the network pair.
	Chains []string
	// CustomRPC maps chain name to an RPC URL override.
	CustomRPC map[string]string
}

// ConfigFromSettings maps runtime settings onto a wallet Config.
func ConfigFromSettings(s config.Settings) (Config, error) {
	pair, err := registry.Network(s.Network)
	if err != nil {
		return Config{}, clierr.Wrap(clierr.CodeConfiguration, "resolve network", err)
	}
	return Config{
		Network: s.Network,
		CustomRPC: map[string]string{
			pair.L1: s.EthereumRPCURL,
			pair.L2: s.PolygonRPCURL,
		},
	}, nil
}

// Context owns the signing key and the chain map for one agent session.
type Context struct {
	mu      sync.RWMutex
	signer  signer.Signer
	chains  map[string]Chain
	active  string
	l1, l2  string
	dial    Dialer
	clients map[string]*Client
}

type Option func(*Context)

func WithDialer(d Dialer) Option {
	return func(c *Context) {
		if d != nil {
			c.dial = d
		}
	}
}

// Configure builds the wallet context. No network calls are made.
func Configure(cfg Config, s signer.Signer, opts ...Option) (*Context, error) {
	pair, err := registry.Network(cfg.Network)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeConfiguration, "resolve network", err)
	}
	ctx := &Context{
		signer:  s,
		chains:  map[string]Chain{},
		active:  pair.L1,
		l1:      pair.L1,
		l2:      pair.L2,
		dial:    DialHTTP,
		clients: map[string]*Client{},
	}
	for _, opt := range opts {
		opt(ctx)
	}

	names := append([]string{pair.L1, pair.L2}, cfg.Chains...)
	for _, name := range names {
		chain, err := chainFromTemplate(name, cfg.CustomRPC[strings.ToLower(strings.TrimSpace(name))])
		if err != nil {
			return nil, err
		}
		ctx.chains[chain.Name] = chain
	}
	return ctx, nil
}

func chainFromTemplate(name, customRPC string) (Chain, error) {
	tpl, ok := registry.ChainTemplateByName(name)
	if !ok {
		return Chain{}, clierr.New(clierr.CodeConfiguration, fmt.Sprintf("unknown chain template %q", name))
	}
	defaultRPC, _ := registry.DefaultRPCURL(tpl.ChainID)
	chain := Chain{
		Name:           tpl.Name,
		ChainID:        tpl.ChainID,
		Layer:          tpl.Layer,
		DefaultRPCURL:  defaultRPC,
		CustomRPCURL:   strings.TrimSpace(customRPC),
		NativeCurrency: tpl.NativeCurrency,
		ExplorerURL:    tpl.ExplorerURL,
	}
	if chain.RPCURL() == "" {
		return Chain{}, clierr.New(clierr.CodeConfiguration, fmt.Sprintf("no rpc url for chain %q", tpl.Name))
	}
	return chain, nil
}

// AddChain registers a newly discovered chain. Existing entries are kept.
func (c *Context) AddChain(chain Chain) error {
	name := strings.ToLower(strings.TrimSpace(chain.Name))
	if name == "" || chain.ChainID <= 0 || chain.RPCURL() == "" {
		return clierr.New(clierr.CodeConfiguration, "chain requires name, chain id and rpc url")
	}
	chain.Name = name
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.chains[name]; exists {
		return nil
	}
	c.chains[name] = chain
	return nil
}

func (c *Context) L1() string { return c.l1 }

func (c *Context) L2() string { return c.l2 }

// Address is the wallet address, or zero when no key is configured.
func (c *Context) Address() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

func (c *Context) HasSigner() bool { return c.signer != nil }

func (c *Context) Chain(name string) (Chain, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookupLocked(name)
}

func (c *Context) lookupLocked(ref string) (Chain, error) {
	clean := strings.ToLower(strings.TrimSpace(ref))
	if chain, ok := c.chains[clean]; ok {
		return chain, nil
	}
	if id, err := strconv.ParseInt(strings.TrimPrefix(clean, "eip155:"), 10, 64); err == nil {
		for _, chain := range c.chains {
			if chain.ChainID == id {
				return chain, nil
			}
		}
	}
	return Chain{}, clierr.New(clierr.CodeUnsupportedChain, fmt.Sprintf("unsupported chain %q", ref))
}

func (c *Context) Chains() []Chain {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Chain, 0, len(c.chains))
	for _, chain := range c.chains {
		out = append(out, chain)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// SwitchActiveChain changes the chain used by ActiveClient. Explicit chain
// arguments elsewhere are unaffected.
func (c *Context) SwitchActiveChain(nameOrID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	chain, err := c.lookupLocked(nameOrID)
	if err != nil {
		return err
	}
	c.active = chain.Name
	return nil
}

func (c *Context) ActiveChain() Chain {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chains[c.active]
}

func (c *Context) ActiveClient(ctx context.Context, role Role) (*Client, error) {
	return c.Client(ctx, c.ActiveChain().Name, role)
}

// Client returns a backend bound to the chain. Clients are dialed once per
// chain and shared between roles.
func (c *Context) Client(ctx context.Context, chainName string, role Role) (*Client, error) {
	if role != RoleRead && role != RoleWrite {
		return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("unknown client role %q", role))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	chain, err := c.lookupLocked(chainName)
	if err != nil {
		return nil, err
	}
	if role == RoleWrite && c.signer == nil {
		return nil, clierr.New(clierr.CodeSigner, "write client requires a wallet key")
	}
	base, ok := c.clients[chain.Name]
	if !ok {
		backend, raw, err := c.dial(ctx, chain.RPCURL())
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("connect %s rpc", chain.Name), err)
		}
		base = &Client{Backend: backend, Chain: chain, Role: RoleRead, raw: raw}
		c.clients[chain.Name] = base
	}
	out := *base
	out.Role = role
	out.signer = c.signer
	return &out, nil
}

// Close releases every dialed backend.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, client := range c.clients {
		client.Backend.Close()
		delete(c.clients, name)
	}
}
