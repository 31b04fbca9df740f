package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/polygon-agent/internal/agent"
	"github.com/ggonzalez94/polygon-agent/internal/cache"
	"github.com/ggonzalez94/polygon-agent/internal/config"
	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/execution"
	"github.com/ggonzalez94/polygon-agent/internal/logger"
	"github.com/ggonzalez94/polygon-agent/internal/model"
	"github.com/ggonzalez94/polygon-agent/internal/out"
	"github.com/ggonzalez94/polygon-agent/internal/policy"
	"github.com/ggonzalez94/polygon-agent/internal/schema"
	"github.com/ggonzalez94/polygon-agent/internal/service"
	"github.com/ggonzalez94/polygon-agent/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	// polygonOpts are passed to the polygon service on start.
	polygonOpts []service.PolygonOption
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner        *Runner
	flags         config.GlobalFlags
	settings      config.Settings
	root          *cobra.Command
	lastCommand   string
	lastWarnings  []string
	lastProviders []model.ProviderStatus

	cache       *cache.Store
	actionStore *execution.Store
	services    *service.Registry
	polygon     *service.PolygonService
	agent       *agent.Runtime
}

func (r *Runner) Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	state.resetCommandDiagnostics()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.ExecuteContext(ctx)
	err = normalizeRunError(err)
	if err != nil {
		state.renderError("", err, state.lastWarnings, state.lastProviders)
	}
	state.close()
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Polygon staking, bridge and governance agent",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			if err := logger.Init(logger.Config{
				Level:  settings.LogLevel,
				Format: settings.LogFormat,
				File:   settings.LogFile,
			}); err != nil {
				return clierr.Wrap(clierr.CodeConfiguration, "configure logging", err)
			}

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}
			if isActionCommand(path) && !settings.PluginsEnabled {
				return clierr.New(clierr.CodeBlocked,
					fmt.Sprintf("agent actions are disabled by %s", config.KeyPluginsEnabled))
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "RPC and HTTP request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per HTTP request")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	cmd.PersistentFlags().StringVar(&s.flags.Network, "network", "", "Network pair (mainnet|testnet)")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newActionsCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newValidatorCommand())
	cmd.AddCommand(s.newDelegatorCommand())
	cmd.AddCommand(s.newCheckpointCommand())
	cmd.AddCommand(s.newGasCommand())
	cmd.AddCommand(s.newBalanceCommand())
	cmd.AddCommand(s.newGovernanceCommand())
	cmd.AddCommand(s.newHistoryCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = strings.Join(args, " ")
			}
			data, err := schema.Build(s.root, path)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil)
		},
	}
	return cmd
}

// ensurePolygon starts the service registry and the agent runtime on first
// use. Commands that never touch a chain do not pay for it.
func (s *runtimeState) ensurePolygon(ctx context.Context) (*service.PolygonService, error) {
	if s.polygon != nil {
		return s.polygon, nil
	}
	reg := service.NewRegistry(s.settings)
	if err := reg.Register(service.TypePolygon, service.StartPolygon(s.runner.polygonOpts...)); err != nil {
		return nil, err
	}
	if err := reg.Start(ctx); err != nil {
		return nil, err
	}
	s.services = reg

	svc, ok := reg.Get(service.TypePolygon)
	if !ok {
		return nil, clierr.Service("polygon service did not start", nil)
	}
	polygon, ok := svc.(*service.PolygonService)
	if !ok {
		return nil, clierr.Service(fmt.Sprintf("unexpected polygon service type %T", svc), nil)
	}
	s.polygon = polygon
	if s.settings.CacheEnabled {
		s.cache = polygon.Cache()
	}

	llmModel, err := agent.ModelFromSettings(s.settings)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeConfiguration, "configure language model", err)
	}
	s.agent = agent.New(s.settings, llmModel, reg)
	return polygon, nil
}

func (s *runtimeState) ensureActionStore() error {
	if s.actionStore != nil {
		return nil
	}
	store, err := execution.OpenStore(s.settings.ActionStorePath, s.settings.ActionLockPath)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "open action journal", err)
	}
	s.actionStore = store
	return nil
}

func (s *runtimeState) close() {
	if s.actionStore != nil {
		_ = s.actionStore.Close()
		s.actionStore = nil
	}
	if s.services != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.services.Stop(ctx); err != nil {
			logger.Named("app").Warn("stopping services", "error", err)
		}
		s.services = nil
	}
	_ = logger.Sync()
}

type fetchFn func(ctx context.Context) (any, []model.ProviderStatus, []string, error)

// runCachedCommand serves fresh cache entries and writes successful fetches
// back with ttl. Failed fetches are never cached.
func (s *runtimeState) runCachedCommand(ctx context.Context, commandPath, key string, ttl time.Duration, fetch fetchFn) error {
	s.resetCommandDiagnostics()
	cacheStatus := cacheMetaMiss()
	warnings := []string{}

	if s.settings.CacheEnabled && s.cache != nil {
		cached, err := s.cache.Get(key, 0)
		if err == nil && cached.Hit && !cached.Stale {
			var data any
			if err := json.Unmarshal(cached.Value, &data); err == nil {
				entryStatus := model.CacheStatus{Status: "hit", AgeMS: cached.Age.Milliseconds()}
				return s.emitSuccess(commandPath, data, warnings, entryStatus, nil)
			}
		}
	} else {
		cacheStatus = cacheMetaBypass()
	}

	ctx, cancel := context.WithTimeout(ctx, s.settings.Timeout)
	defer cancel()
	data, providerStatus, providerWarnings, err := fetch(ctx)
	warnings = append(warnings, providerWarnings...)
	s.captureCommandDiagnostics(warnings, providerStatus)
	if err != nil {
		return err
	}

	if s.settings.CacheEnabled && s.cache != nil {
		if payload, err := json.Marshal(data); err == nil {
			if err := s.cache.Set(key, payload, ttl); err == nil {
				cacheStatus = model.CacheStatus{Status: "write"}
			}
		}
	}
	return s.emitSuccess(commandPath, data, warnings, cacheStatus, providerStatus)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, providers []model.ProviderStatus) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheStatus,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string, providers []model.ProviderStatus) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := clierr.TypeName(clierr.CodeInternal)
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		typ = clierr.TypeName(cErr.Code)
		message = cErr.Error()
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Providers: providers,
			Cache:     cacheMetaBypass(),
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func cacheKey(commandPath string, req any) string {
	buf, _ := json.Marshal(req)
	sum := sha256.Sum256(append([]byte(commandPath+"|"), buf...))
	return cache.Key("cli", hex.EncodeToString(sum[:]))
}

func newRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		switch cErr.Code {
		case clierr.CodeUnavailable, clierr.CodeTimeout:
			return "unavailable"
		case clierr.CodeContract, clierr.CodeReverted:
			return "contract_error"
		default:
			return "error"
		}
	}
	return "error"
}

// providerStatus times one chain read for the envelope metadata.
func providerStatus(name string, start time.Time, err error) []model.ProviderStatus {
	return []model.ProviderStatus{{Name: name, Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass"}
}

func cacheMetaMiss() model.CacheStatus {
	return model.CacheStatus{Status: "miss"}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func isActionCommand(commandPath string) bool {
	return normalizeCommandPath(commandPath) == "actions run"
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

func (s *runtimeState) resetCommandDiagnostics() {
	s.lastWarnings = nil
	s.lastProviders = nil
}

func (s *runtimeState) captureCommandDiagnostics(warnings []string, providers []model.ProviderStatus) {
	if len(warnings) == 0 {
		s.lastWarnings = nil
	} else {
		s.lastWarnings = append([]string(nil), warnings...)
	}
	if len(providers) == 0 {
		s.lastProviders = nil
	} else {
		s.lastProviders = append([]model.ProviderStatus(nil), providers...)
	}
}
