package agent

import (
	"context"
	"testing"

	"github.com/ggonzalez94/polygon-agent/internal/actions"
	"github.com/ggonzalez94/polygon-agent/internal/config"
	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/llm"
	"github.com/ggonzalez94/polygon-agent/internal/service"
)

// echoAction records the messages it is handed.
type echoAction struct {
	name    string
	enabled bool
	seen    []actions.Message
}

func (a *echoAction) Name() string                   { return a.name }
func (a *echoAction) Similes() []string              { return []string{"ECHO_ALIAS"} }
func (a *echoAction) Description() string            { return "echo" }
func (a *echoAction) Validate(actions.Settings) bool { return a.enabled }
func (a *echoAction) Handle(_ context.Context, _ actions.Runtime, msg actions.Message, cb actions.Callback) actions.Result {
	a.seen = append(a.seen, msg)
	res := actions.Result{Text: msg.Text, Success: true, Actions: []string{a.name}}
	if cb != nil {
		cb(res)
	}
	return res
}

type stubService struct{}

func (stubService) Type() string               { return "stub" }
func (stubService) Stop(context.Context) error { return nil }

func TestRunUnknownActionIsUsageError(t *testing.T) {
	rt := New(config.Settings{}, nil, nil, WithActions(&echoAction{name: "ECHO", enabled: true}))
	_, err := rt.Run(context.Background(), "missing", "hi", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if clierr.ExitCode(err) != int(clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestRunDisabledActionIsBlocked(t *testing.T) {
	rt := New(config.Settings{}, nil, nil, WithActions(&echoAction{name: "ECHO"}))
	_, err := rt.Run(context.Background(), "echo", "hi", nil)
	if clierr.ExitCode(err) != int(clierr.CodeBlocked) {
		t.Fatalf("expected blocked error, got %v", err)
	}
}

func TestRunPassesCappedRecentTurns(t *testing.T) {
	echo := &echoAction{name: "ECHO", enabled: true}
	rt := New(config.Settings{}, nil, nil, WithActions(echo), WithRecentTurns(2))

	var called int
	for _, text := range []string{"one", "two", "three", "four"} {
		if _, err := rt.Run(context.Background(), "echo_alias", text, func(actions.Result) { called++ }); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	if called != 4 {
		t.Fatalf("expected callback per run, got %d", called)
	}
	last := echo.seen[len(echo.seen)-1]
	if last.Text != "four" || len(last.Recent) != 2 || last.Recent[0] != "two" || last.Recent[1] != "three" {
		t.Fatalf("unexpected last message %+v", last)
	}
	if len(echo.seen[0].Recent) != 0 {
		t.Fatalf("expected first turn without history, got %v", echo.seen[0].Recent)
	}
}

func TestUseModelWithoutModelIsServiceError(t *testing.T) {
	rt := New(config.Settings{}, nil, nil)
	_, err := rt.UseModel(context.Background(), llm.TextSmall, "prompt")
	if !clierr.IsService(err) {
		t.Fatalf("expected service error, got %v", err)
	}

	rt = New(config.Settings{}, llm.Func(func(context.Context, llm.ModelType, string) (string, error) {
		return "ok", nil
	}), nil)
	out, err := rt.UseModel(context.Background(), llm.TextSmall, "prompt")
	if err != nil || out != "ok" {
		t.Fatalf("unexpected model output %q %v", out, err)
	}
}

func TestGetServiceAndSettings(t *testing.T) {
	reg := service.NewRegistry(config.Settings{})
	if err := reg.Register("stub", func(context.Context, config.Settings) (service.Service, error) { return stubService{}, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	rt := New(config.Settings{PluginsEnabled: true, Network: "testnet"}, nil, reg)
	if _, ok := rt.GetService("stub"); !ok {
		t.Fatal("expected registered service")
	}
	if _, ok := rt.GetService(service.TypePolygon); ok {
		t.Fatal("expected polygon service to be missing")
	}
	if v, ok := rt.GetSetting(config.KeyPluginsEnabled); !ok || v != "true" {
		t.Fatalf("unexpected plugins setting %q %v", v, ok)
	}
	if len(New(config.Settings{}, nil, nil).Actions()) != len(actions.All()) {
		t.Fatal("expected default action set")
	}
}

func TestModelFromSettingsWithoutKey(t *testing.T) {
	m, err := ModelFromSettings(config.Settings{})
	if err != nil || m != nil {
		t.Fatalf("expected nil model, got %v %v", m, err)
	}
}
