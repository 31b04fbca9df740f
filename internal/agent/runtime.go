package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ggonzalez94/polygon-agent/internal/actions"
	"github.com/ggonzalez94/polygon-agent/internal/config"
	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/llm"
	"github.com/ggonzalez94/polygon-agent/internal/logger"
	"github.com/ggonzalez94/polygon-agent/internal/service"
)

// DefaultRecentTurns is how many earlier user turns are handed to extraction.
const DefaultRecentTurns = 5

// Runtime adapts settings, a model and the service registry to the
// actions.Runtime contract and dispatches actions by name.
type Runtime struct {
	settings config.Settings
	model    llm.Model
	services *service.Registry
	actions  []actions.Action

	mu        sync.Mutex
	recent    []string
	maxRecent int
}

type Option func(*Runtime)

func WithActions(list ...actions.Action) Option {
	return func(r *Runtime) { r.actions = list }
}

func WithRecentTurns(n int) Option {
	return func(r *Runtime) {
		if n >= 0 {
			r.maxRecent = n
		}
	}
}

// New builds a runtime. A nil model leaves extraction to the regular
// expression strategy.
func New(settings config.Settings, model llm.Model, services *service.Registry, opts ...Option) *Runtime {
	r := &Runtime{
		settings:  settings,
		model:     model,
		services:  services,
		actions:   actions.All(),
		maxRecent: DefaultRecentTurns,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ModelFromSettings returns the OpenAI-compatible client, or nil when no API
// key is configured.
func ModelFromSettings(s config.Settings) (llm.Model, error) {
	if strings.TrimSpace(s.OpenAIAPIKey) == "" {
		return nil, nil
	}
	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:     s.OpenAIAPIKey,
		BaseURL:    s.OpenAIBaseURL,
		SmallModel: s.SmallModel,
		LargeModel: s.LargeModel,
		Timeout:    s.Timeout,
		Retries:    s.Retries,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Runtime) GetSetting(key string) (string, bool) {
	return r.settings.GetSetting(key)
}

func (r *Runtime) UseModel(ctx context.Context, model llm.ModelType, prompt string) (string, error) {
	if r.model == nil {
		return "", clierr.Service("no language model configured", nil)
	}
	return r.model.UseModel(ctx, model, prompt)
}

func (r *Runtime) GetService(name string) (service.Service, bool) {
	if r.services == nil {
		return nil, false
	}
	return r.services.Get(name)
}

func (r *Runtime) Actions() []actions.Action {
	return append([]actions.Action(nil), r.actions...)
}

// Run validates and handles one action. Unknown or disabled actions are
// errors; handler failures come back inside the Result.
func (r *Runtime) Run(ctx context.Context, name, text string, cb actions.Callback) (actions.Result, error) {
	a, ok := actions.Find(r.actions, name)
	if !ok {
		return actions.Result{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown action %q", name))
	}
	if !a.Validate(r) {
		return actions.Result{}, clierr.New(clierr.CodeBlocked,
			fmt.Sprintf("action %s is disabled: check %s and the wallet settings", a.Name(), config.KeyPluginsEnabled))
	}

	msg := actions.Message{Text: text, Recent: r.snapshot()}
	logger.Named("agent").Info("running action", "action", a.Name())
	res := a.Handle(ctx, r, msg, cb)
	r.remember(text)
	return res, nil
}

func (r *Runtime) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.recent...)
}

func (r *Runtime) remember(text string) {
	text = strings.TrimSpace(text)
	if text == "" || r.maxRecent == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recent = append(r.recent, text)
	if len(r.recent) > r.maxRecent {
		r.recent = r.recent[len(r.recent)-r.maxRecent:]
	}
}
