// Package plugin provides an extensible hook system for the funding engine.
// Plugins can observe lifecycle events to extend functionality — audit
// trails, notifications, metrics — without blocking the funding pipeline.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the engine is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Managed issue hooks
// ──────────────────────────────────────────────────

// OnManagedIssueCreated is called when a funding request is first created
// for an issue.
type OnManagedIssueCreated interface {
	Plugin
	OnManagedIssueCreated(ctx context.Context, mi interface{}) error
}

// OnGoalUpdated is called when a manager changes the requested credit
// amount of an open funding request.
type OnGoalUpdated interface {
	Plugin
	OnGoalUpdated(ctx context.Context, mi interface{}) error
}

// OnStateChanged is called when a managed issue reaches a terminal state.
type OnStateChanged interface {
	Plugin
	OnStateChanged(ctx context.Context, mi interface{}, from, to string) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnPledgeCommitted is called after a funding commitment is durably
// written to the ledger.
type OnPledgeCommitted interface {
	Plugin
	OnPledgeCommitted(ctx context.Context, p interface{}) error
}

// OnPledgeRefused is called when a commitment is refused by a business
// rule (insufficient credit, rejected issue). Transient failures do not
// emit this hook.
type OnPledgeRefused interface {
	Plugin
	OnPledgeRefused(ctx context.Context, p interface{}, reason string) error
}
