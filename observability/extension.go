// Package observability provides a metrics extension that records funding
// lifecycle event counts through a pluggable MetricFactory.
package observability

import (
	"context"

	"github.com/workfund/dowfund/pledge"
	"github.com/workfund/dowfund/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnManagedIssueCreated = (*MetricsExtension)(nil)
	_ plugin.OnGoalUpdated         = (*MetricsExtension)(nil)
	_ plugin.OnStateChanged        = (*MetricsExtension)(nil)
	_ plugin.OnPledgeCommitted     = (*MetricsExtension)(nil)
	_ plugin.OnPledgeRefused       = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records funding lifecycle metrics.
// Register it as a plugin to automatically track request and ledger activity.
type MetricsExtension struct {
	factory MetricFactory

	// Funding request metrics
	RequestCreated Counter
	GoalUpdated    Counter
	IssueSolved    Counter
	IssueRejected  Counter

	// Ledger metrics
	PledgeCommitted Counter
	PledgeRefused   Counter
	PledgeMinutes   Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		RequestCreated: factory.Counter("dowfund.request.created"),
		GoalUpdated:    factory.Counter("dowfund.request.goal_updated"),
		IssueSolved:    factory.Counter("dowfund.issue.solved"),
		IssueRejected:  factory.Counter("dowfund.issue.rejected"),

		PledgeCommitted: factory.Counter("dowfund.pledge.committed"),
		PledgeRefused:   factory.Counter("dowfund.pledge.refused"),
		PledgeMinutes:   factory.Histogram("dowfund.pledge.minutes"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// OnManagedIssueCreated implements plugin.OnManagedIssueCreated.
func (m *MetricsExtension) OnManagedIssueCreated(_ context.Context, _ interface{}) error {
	m.RequestCreated.Inc()
	return nil
}

// OnGoalUpdated implements plugin.OnGoalUpdated.
func (m *MetricsExtension) OnGoalUpdated(_ context.Context, _ interface{}) error {
	m.GoalUpdated.Inc()
	return nil
}

// OnStateChanged implements plugin.OnStateChanged.
func (m *MetricsExtension) OnStateChanged(_ context.Context, _ interface{}, _, to string) error {
	switch to {
	case "solved":
		m.IssueSolved.Inc()
	case "rejected":
		m.IssueRejected.Inc()
	}
	return nil
}

// OnPledgeCommitted implements plugin.OnPledgeCommitted.
func (m *MetricsExtension) OnPledgeCommitted(_ context.Context, payload interface{}) error {
	m.PledgeCommitted.Inc()
	if p, ok := payload.(*pledge.Pledge); ok && p != nil {
		m.PledgeMinutes.Observe(p.Credit.Amount.InexactFloat64())
	}
	return nil
}

// OnPledgeRefused implements plugin.OnPledgeRefused.
func (m *MetricsExtension) OnPledgeRefused(_ context.Context, _ interface{}, _ string) error {
	m.PledgeRefused.Inc()
	return nil
}
