package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// Hook lists are cached per interface at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	onInit                []OnInit
	onShutdown            []OnShutdown
	onManagedIssueCreated []OnManagedIssueCreated
	onGoalUpdated         []OnGoalUpdated
	onStateChanged        []OnStateChanged
	onPledgeCommitted     []OnPledgeCommitted
	onPledgeRefused       []OnPledgeRefused
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default()}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnManagedIssueCreated); ok {
		r.onManagedIssueCreated = append(r.onManagedIssueCreated, v)
	}
	if v, ok := p.(OnGoalUpdated); ok {
		r.onGoalUpdated = append(r.onGoalUpdated, v)
	}
	if v, ok := p.(OnStateChanged); ok {
		r.onStateChanged = append(r.onStateChanged, v)
	}
	if v, ok := p.(OnPledgeCommitted); ok {
		r.onPledgeCommitted = append(r.onPledgeCommitted, v)
	}
	if v, ok := p.(OnPledgeRefused); ok {
		r.onPledgeRefused = append(r.onPledgeRefused, v)
	}

	r.logger.Info("plugin registered", "name", p.Name())

	return nil
}

// Get returns a plugin by name, or nil.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitManagedIssueCreated emits a funding-request-created event.
func (r *Registry) EmitManagedIssueCreated(ctx context.Context, mi interface{}) {
	r.mu.RLock()
	plugins := r.onManagedIssueCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnManagedIssueCreated(ctx, mi)
		}); err != nil {
			r.logger.Warn("plugin OnManagedIssueCreated failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitGoalUpdated emits a requested-amount-changed event.
func (r *Registry) EmitGoalUpdated(ctx context.Context, mi interface{}) {
	r.mu.RLock()
	plugins := r.onGoalUpdated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnGoalUpdated(ctx, mi)
		}); err != nil {
			r.logger.Warn("plugin OnGoalUpdated failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitStateChanged emits a state transition event.
func (r *Registry) EmitStateChanged(ctx context.Context, mi interface{}, from, to string) {
	r.mu.RLock()
	plugins := r.onStateChanged
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnStateChanged(ctx, mi, from, to)
		}); err != nil {
			r.logger.Warn("plugin OnStateChanged failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitPledgeCommitted emits a ledger-write event.
func (r *Registry) EmitPledgeCommitted(ctx context.Context, pl interface{}) {
	r.mu.RLock()
	plugins := r.onPledgeCommitted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPledgeCommitted(ctx, pl)
		}); err != nil {
			r.logger.Warn("plugin OnPledgeCommitted failed", "plugin", p.Name(), "error", err)
		}
	}
}

// EmitPledgeRefused emits a commitment-refused event.
func (r *Registry) EmitPledgeRefused(ctx context.Context, pl interface{}, reason string) {
	r.mu.RLock()
	plugins := r.onPledgeRefused
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPledgeRefused(ctx, pl, reason)
		}); err != nil {
			r.logger.Warn("plugin OnPledgeRefused failed", "plugin", p.Name(), "error", err)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the funding pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
