package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ggonzalez94/polygon-agent/internal/config"
	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
	"github.com/ggonzalez94/polygon-agent/internal/logger"
)

// Service types known to the actions.
const (
	TypePolygon  = "polygon"
	TypeHeimdall = "heimdall"
)

// Service is a long-lived collaborator started once per agent session.
type Service interface {
	Type() string
	Stop(ctx context.Context) error
}

// Starter builds and starts a service from runtime settings.
type Starter func(ctx context.Context, settings config.Settings) (Service, error)

type registration struct {
	name  string
	start Starter
}

// Registry starts services in registration order and stops them in reverse.
type Registry struct {
	mu       sync.RWMutex
	pending  []registration
	started  map[string]Service
	order    []string
	settings config.Settings
}

func NewRegistry(settings config.Settings) *Registry {
	return &Registry{settings: settings, started: map[string]Service{}}
}

// Register queues a starter under name. Names are case-insensitive.
func (r *Registry) Register(name string, start Starter) error {
	name = normalize(name)
	if name == "" {
		return clierr.Validation("service name cannot be empty")
	}
	if start == nil {
		return clierr.Validation("service %s has no starter", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.pending {
		if reg.name == name {
			return clierr.New(clierr.CodeUsage, fmt.Sprintf("service %s already registered", name))
		}
	}
	r.pending = append(r.pending, registration{name: name, start: start})
	return nil
}

// Start runs every registered starter that has not run yet. When one fails,
// services already started by this call are stopped again.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	log := logger.Named("service")

	var fresh []string
	for _, reg := range r.pending {
		if _, ok := r.started[reg.name]; ok {
			continue
		}
		svc, err := reg.start(ctx, r.settings)
		if err != nil {
			for i := len(fresh) - 1; i >= 0; i-- {
				if stopErr := r.started[fresh[i]].Stop(ctx); stopErr != nil {
					log.Warn("stop service after failed start", "service", fresh[i], "error", stopErr)
				}
				delete(r.started, fresh[i])
			}
			r.order = r.order[:len(r.order)-len(fresh)]
			if _, ok := clierr.As(err); ok {
				return err
			}
			return clierr.Service(fmt.Sprintf("start service %s", reg.name), err)
		}
		r.started[reg.name] = svc
		r.order = append(r.order, reg.name)
		fresh = append(fresh, reg.name)
		log.Debug("service started", "service", reg.name)
	}
	return nil
}

// Get returns a started service.
func (r *Registry) Get(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.started[normalize(name)]
	return svc, ok
}

// Stop stops every started service in reverse start order.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		if err := r.started[name].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
		delete(r.started, name)
	}
	r.order = nil
	return errors.Join(errs...)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
