// Package audithook bridges funding lifecycle events to an audit trail.
// Register the Extension as a plugin and every managed issue mutation and
// ledger write is recorded through the injected Recorder.
package audithook

import (
	"context"
	"log/slog"

	"github.com/workfund/dowfund/managed"
	"github.com/workfund/dowfund/pledge"
	"github.com/workfund/dowfund/plugin"
)

// Ensure Extension implements required interfaces.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnManagedIssueCreated = (*Extension)(nil)
	_ plugin.OnGoalUpdated         = (*Extension)(nil)
	_ plugin.OnStateChanged        = (*Extension)(nil)
	_ plugin.OnPledgeCommitted     = (*Extension)(nil)
	_ plugin.OnPledgeRefused       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so that the audithook package does not depend
// on any particular audit store — callers inject the concrete backend
// at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges funding lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Managed issue hooks
// ──────────────────────────────────────────────────

// OnManagedIssueCreated implements plugin.OnManagedIssueCreated.
func (e *Extension) OnManagedIssueCreated(ctx context.Context, payload interface{}) error {
	id, meta := managedIssueDetails(payload)
	return e.record(ctx, ActionRequestCreated, SeverityInfo, OutcomeSuccess,
		ResourceManagedIssue, id, CategoryFunding, meta, "")
}

// OnGoalUpdated implements plugin.OnGoalUpdated.
func (e *Extension) OnGoalUpdated(ctx context.Context, payload interface{}) error {
	id, meta := managedIssueDetails(payload)
	return e.record(ctx, ActionGoalUpdated, SeverityInfo, OutcomeSuccess,
		ResourceManagedIssue, id, CategoryFunding, meta, "")
}

// OnStateChanged implements plugin.OnStateChanged.
func (e *Extension) OnStateChanged(ctx context.Context, payload interface{}, from, to string) error {
	id, meta := managedIssueDetails(payload)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["from"] = from
	meta["to"] = to
	return e.record(ctx, ActionStateChanged, SeverityInfo, OutcomeSuccess,
		ResourceManagedIssue, id, CategoryFunding, meta, "")
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnPledgeCommitted implements plugin.OnPledgeCommitted.
func (e *Extension) OnPledgeCommitted(ctx context.Context, payload interface{}) error {
	id, meta := pledgeDetails(payload)
	return e.record(ctx, ActionPledgeCommitted, SeverityInfo, OutcomeSuccess,
		ResourcePledge, id, CategoryLedger, meta, "")
}

// OnPledgeRefused implements plugin.OnPledgeRefused.
func (e *Extension) OnPledgeRefused(ctx context.Context, payload interface{}, reason string) error {
	id, meta := pledgeDetails(payload)
	return e.record(ctx, ActionPledgeRefused, SeverityWarning, OutcomeDenied,
		ResourcePledge, id, CategoryLedger, meta, reason)
}

func managedIssueDetails(payload interface{}) (string, map[string]any) {
	mi, ok := payload.(*managed.ManagedIssue)
	if !ok || mi == nil {
		return "", nil
	}
	meta := map[string]any{
		"repository_id": mi.IssueID.RepositoryID.String(),
		"issue_number":  mi.IssueID.Number,
		"manager_id":    mi.ManagerID.String(),
		"state":         string(mi.State),
	}
	if mi.RequestedCredit != nil {
		meta["requested_credit"] = mi.RequestedCredit.String()
	}
	return mi.ID.String(), meta
}

func pledgeDetails(payload interface{}) (string, map[string]any) {
	p, ok := payload.(*pledge.Pledge)
	if !ok || p == nil {
		return "", nil
	}
	meta := map[string]any{
		"repository_id": p.IssueID.RepositoryID.String(),
		"issue_number":  p.IssueID.Number,
		"sponsor_key":   p.SponsorKey(),
		"credit":        p.Credit.String(),
	}
	return p.ID.String(), meta
}

func (e *Extension) record(ctx context.Context, action, severity, outcome,
	resource, resourceID, category string, metadata map[string]any, reason string,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	event := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   metadata,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if err := e.recorder.Record(ctx, event); err != nil {
		// Audit failures never fail the funding operation.
		e.logger.Warn("audit record failed",
			slog.String("action", action),
			slog.String("error", err.Error()))
	}
	return nil
}
