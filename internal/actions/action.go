package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/ggonzalez94/polygon-agent/internal/config"
	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/execution"
	"github.com/ggonzalez94/polygon-agent/internal/execution/signer"
	"github.com/ggonzalez94/polygon-agent/internal/extract"
	"github.com/ggonzalez94/polygon-agent/internal/llm"
	"github.com/ggonzalez94/polygon-agent/internal/logger"
	"github.com/ggonzalez94/polygon-agent/internal/service"
)

// Settings is the host runtime's getSetting contract.
type Settings interface {
	GetSetting(key string) (string, bool)
}

// Runtime is what a handler may use from the host.
type Runtime interface {
	Settings
	llm.Model
	GetService(name string) (service.Service, bool)
}

// Message is one user turn.
type Message struct {
	Text string
	// Recent holds earlier turns, oldest first.
	Recent []string
}

// Result is what every handler returns. Failures never escape as errors.
type Result struct {
	Text      string   `json:"text"`
	Data      any      `json:"data,omitempty"`
	Actions   []string `json:"actions"`
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
	ErrorType string   `json:"error_type,omitempty"`

	cause error
}

// Err returns the typed error behind a failed result.
func (r Result) Err() error { return r.cause }

// Callback receives the result before Handle returns.
type Callback func(Result)

type Action interface {
	Name() string
	Similes() []string
	Description() string
	// Validate is side-effect free: it only inspects settings.
	Validate(settings Settings) bool
	Handle(ctx context.Context, rt Runtime, msg Message, cb Callback) Result
}

type handlerFunc func(ctx context.Context, rt Runtime, msg Message) (Result, error)

// action is the shared implementation behind every exported action.
type action struct {
	name        string
	similes     []string
	description string
	// requires lists settings that must be present besides the feature flag.
	requires []string
	// needsWallet requires PRIVATE_KEY, or TEE_MODE with WALLET_SECRET_SALT.
	needsWallet bool
	handle      handlerFunc
}

func (a *action) Name() string        { return a.name }
func (a *action) Similes() []string   { return append([]string(nil), a.similes...) }
func (a *action) Description() string { return a.description }

func (a *action) Validate(settings Settings) bool {
	if settings == nil || !PluginsEnabled(settings) {
		return false
	}
	for _, key := range a.requires {
		if _, ok := settings.GetSetting(key); !ok {
			return false
		}
	}
	if a.needsWallet && !hasWalletKey(settings) {
		return false
	}
	return true
}

func (a *action) Handle(ctx context.Context, rt Runtime, msg Message, cb Callback) Result {
	log := logger.Named("actions")
	res, err := a.handle(ctx, rt, msg)
	if err != nil {
		log.Warn("action failed", "action", a.name, "error", err)
		res = failure(a.name, err)
	} else {
		log.Debug("action completed", "action", a.name)
	}
	res.Actions = []string{a.name}
	if cb != nil {
		cb(res)
	}
	return res
}

// PluginsEnabled reads POLYGON_PLUGINS_ENABLED. Only an explicit truthy
// value enables the actions.
func PluginsEnabled(settings Settings) bool {
	v, ok := settings.GetSetting(config.KeyPluginsEnabled)
	if !ok {
		return false
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

func hasWalletKey(settings Settings) bool {
	if _, ok := settings.GetSetting(config.KeyPrivateKey); ok {
		return true
	}
	mode, _ := settings.GetSetting(config.KeyTEEMode)
	parsed, err := signer.ParseTEEMode(mode)
	if err != nil || parsed == signer.TEEModeOff {
		return false
	}
	_, ok := settings.GetSetting(config.KeyWalletSecretSalt)
	return ok
}

func failure(name string, err error) Result {
	msg := err.Error()
	typ := clierr.TypeName(clierr.CodeInternal)
	if typed, ok := clierr.As(err); ok {
		typ = clierr.TypeName(typed.Code)
		// The sender already formatted the shortfall in the chain's own
		// native currency.
		if typed.Code == clierr.CodeInsufficientFunds && typed.Message != "" {
			msg = typed.Message
		}
	}
	return Result{
		Text:      fmt.Sprintf("%s failed: %s", name, msg),
		Success:   false,
		Error:     msg,
		ErrorType: typ,
		cause:     err,
	}
}

func success(text string, data any) (Result, error) {
	return Result{Text: text, Data: data, Success: true}, nil
}

// polygonService is the part of the polygon service the handlers use.
type polygonService interface {
	Orchestrator() *execution.Orchestrator
}

func orchestrator(rt Runtime) (*execution.Orchestrator, error) {
	svc, ok := rt.GetService(service.TypePolygon)
	if !ok {
		return nil, clierr.Service("polygon service is not running", nil)
	}
	p, ok := svc.(polygonService)
	if !ok || p.Orchestrator() == nil {
		return nil, clierr.Service(fmt.Sprintf("service %q does not expose an orchestrator", svc.Type()), nil)
	}
	return p.Orchestrator(), nil
}

func params[T any](ctx context.Context, rt Runtime, schema extract.Schema[T], msg Message) (T, error) {
	res, err := extract.Run(ctx, schema, extract.Request{Text: msg.Text, Recent: msg.Recent}, extract.DefaultStrategies(rt)...)
	if err != nil {
		var zero T
		return zero, err
	}
	logger.Named("actions").Debug("parameters extracted", "schema", schema.Name, "sources", strings.Join(res.Sources, ","))
	return res.Params, nil
}

func txLine(res execution.TxResult) string {
	if res.ExplorerURL != "" {
		return fmt.Sprintf("Transaction: %s (%s)", res.TxHash, res.ExplorerURL)
	}
	return "Transaction: " + res.TxHash
}
