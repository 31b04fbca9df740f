package service

import (
	"context"
	"errors"
	"strings"

	"github.com/ggonzalez94/polygon-agent/internal/cache"
	"github.com/ggonzalez94/polygon-agent/internal/config"
	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/execution"
	"github.com/ggonzalez94/polygon-agent/internal/execution/signer"
	"github.com/ggonzalez94/polygon-agent/internal/logger"
	"github.com/ggonzalez94/polygon-agent/internal/wallet"
)

// PolygonService owns the wallet context, the shared cache, the action
// journal and the orchestrator built on top of them.
type PolygonService struct {
	wallet *wallet.Context
	orch   *execution.Orchestrator
	cache  *cache.Store
	store  *execution.Store
}

type polygonOptions struct {
	walletOpts []wallet.Option
	execOpts   []execution.Option
	signer     signer.Signer
	noJournal  bool
}

type PolygonOption func(*polygonOptions)

// WithWalletOptions is passed through to wallet.Configure.
func WithWalletOptions(opts ...wallet.Option) PolygonOption {
	return func(o *polygonOptions) { o.walletOpts = append(o.walletOpts, opts...) }
}

// WithExecutionOptions is passed through to execution.New.
func WithExecutionOptions(opts ...execution.Option) PolygonOption {
	return func(o *polygonOptions) { o.execOpts = append(o.execOpts, opts...) }
}

// WithSigner replaces key discovery.
func WithSigner(s signer.Signer) PolygonOption {
	return func(o *polygonOptions) { o.signer = s }
}

// WithoutJournal skips opening the sqlite action journal.
func WithoutJournal() PolygonOption {
	return func(o *polygonOptions) { o.noJournal = true }
}

// StartPolygon returns the Starter registered under TypePolygon.
func StartPolygon(opts ...PolygonOption) Starter {
	return func(ctx context.Context, settings config.Settings) (Service, error) {
		return NewPolygonService(ctx, settings, opts...)
	}
}

func NewPolygonService(_ context.Context, settings config.Settings, opts ...PolygonOption) (*PolygonService, error) {
	o := polygonOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.Named("service.polygon")

	s := o.signer
	if s == nil {
		var err error
		s, err = loadSigner(settings)
		if err != nil {
			return nil, err
		}
		if s == nil {
			log.Warn("no wallet key configured; write actions are disabled")
		}
	}

	walletCfg, err := wallet.ConfigFromSettings(settings)
	if err != nil {
		return nil, err
	}
	w, err := wallet.Configure(walletCfg, s, o.walletOpts...)
	if err != nil {
		return nil, err
	}

	svc := &PolygonService{wallet: w}
	if settings.CacheEnabled && strings.TrimSpace(settings.CachePath) != "" {
		c, err := cache.Open(settings.CachePath, settings.CacheLockPath)
		if err != nil {
			log.Warn("cache unavailable", "error", err)
		} else {
			svc.cache = c
		}
	}
	execOpts := append([]execution.Option(nil), o.execOpts...)
	if !o.noJournal && strings.TrimSpace(settings.ActionStorePath) != "" {
		store, err := execution.OpenStore(settings.ActionStorePath, settings.ActionLockPath)
		if err != nil {
			_ = svc.Stop(context.Background())
			return nil, clierr.Wrap(clierr.CodeInternal, "open action journal", err)
		}
		svc.store = store
		execOpts = append([]execution.Option{execution.WithStore(store)}, execOpts...)
	}

	execCfg := execution.OptionsFromSettings(settings)
	execCfg.Cache = svc.cache
	svc.orch = execution.New(w, execCfg, execOpts...)

	if s != nil {
		log.Info("polygon service started", "address", w.Address().Hex(), "l1", w.L1(), "l2", w.L2())
	}
	return svc, nil
}

// loadSigner returns a nil signer when no key source is configured at all,
// which leaves the service usable for read-only queries.
func loadSigner(settings config.Settings) (signer.Signer, error) {
	mode, err := signer.ParseTEEMode(settings.TEEMode)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeConfiguration, "parse TEE_MODE", err)
	}
	s, err := signer.New(signer.Options{
		PrivateKey: settings.PrivateKey,
		TEEMode:    string(mode),
		SecretSalt: settings.WalletSecretSalt,
		AgentID:    settings.AgentID,
	})
	if err == nil {
		return s, nil
	}
	if mode == signer.TEEModeOff && strings.TrimSpace(settings.PrivateKey) == "" {
		logger.Named("service.polygon").Debug("wallet key discovery failed", "error", err)
		return nil, nil
	}
	return nil, err
}

func (p *PolygonService) Type() string { return TypePolygon }

func (p *PolygonService) Wallet() *wallet.Context { return p.wallet }

func (p *PolygonService) Orchestrator() *execution.Orchestrator { return p.orch }

func (p *PolygonService) Journal() *execution.Store { return p.store }

// Cache is nil when caching is disabled or the store could not be opened.
func (p *PolygonService) Cache() *cache.Store { return p.cache }

func (p *PolygonService) Stop(context.Context) error {
	var errs []error
	if p.wallet != nil {
		p.wallet.Close()
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			errs = append(errs, err)
		}
		p.store = nil
	}
	if p.cache != nil {
		if err := p.cache.Close(); err != nil {
			errs = append(errs, err)
		}
		p.cache = nil
	}
	return errors.Join(errs...)
}
