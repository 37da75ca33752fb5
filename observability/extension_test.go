package observability

import (
	"context"
	"testing"

	"github.com/workfund/dowfund/id"
	"github.com/workfund/dowfund/issue"
	"github.com/workfund/dowfund/pledge"
	"github.com/workfund/dowfund/types"
)

type stubCounter struct{ n float64 }

func (c *stubCounter) Inc()          { c.n++ }
func (c *stubCounter) Add(v float64) { c.n += v }

type stubHistogram struct{ observed []float64 }

func (h *stubHistogram) Observe(v float64) { h.observed = append(h.observed, v) }

type stubFactory struct {
	counters   map[string]*stubCounter
	histograms map[string]*stubHistogram
}

func newStubFactory() *stubFactory {
	return &stubFactory{
		counters:   map[string]*stubCounter{},
		histograms: map[string]*stubHistogram{},
	}
}

func (f *stubFactory) Counter(name string) Counter {
	c := &stubCounter{}
	f.counters[name] = c
	return c
}

func (f *stubFactory) Histogram(name string) Histogram {
	h := &stubHistogram{}
	f.histograms[name] = h
	return h
}

func TestMetricsExtension(t *testing.T) {
	factory := newStubFactory()
	ext := NewMetricsExtension(factory)
	ctx := context.Background()

	if err := ext.OnManagedIssueCreated(ctx, nil); err != nil {
		t.Fatalf("OnManagedIssueCreated: %v", err)
	}
	if err := ext.OnStateChanged(ctx, nil, "open", "solved"); err != nil {
		t.Fatalf("OnStateChanged: %v", err)
	}
	if err := ext.OnStateChanged(ctx, nil, "open", "rejected"); err != nil {
		t.Fatalf("OnStateChanged: %v", err)
	}

	p := &pledge.Pledge{
		Entity:  types.NewEntity(),
		ID:      id.NewPledgeID(),
		IssueID: issue.IssueID{RepositoryID: id.NewRepositoryID(), Number: 1},
		UserID:  id.NewUserID(),
		Credit:  types.Minutes(30),
	}
	if err := ext.OnPledgeCommitted(ctx, p); err != nil {
		t.Fatalf("OnPledgeCommitted: %v", err)
	}
	if err := ext.OnPledgeRefused(ctx, p, "insufficient credit"); err != nil {
		t.Fatalf("OnPledgeRefused: %v", err)
	}

	want := map[string]float64{
		"dowfund.request.created":  1,
		"dowfund.issue.solved":     1,
		"dowfund.issue.rejected":   1,
		"dowfund.pledge.committed": 1,
		"dowfund.pledge.refused":   1,
	}
	for name, n := range want {
		c, ok := factory.counters[name]
		if !ok {
			t.Fatalf("counter %q not registered", name)
		}
		if c.n != n {
			t.Errorf("%s = %v, want %v", name, c.n, n)
		}
	}

	h := factory.histograms["dowfund.pledge.minutes"]
	if len(h.observed) != 1 || h.observed[0] != 30 {
		t.Errorf("pledge minutes observations = %v, want [30]", h.observed)
	}
}

func TestExpvarFactory(t *testing.T) {
	f := ExpvarFactory{}

	c := f.Counter("dowfund.test.counter")
	c.Inc()
	c.Add(2)

	h := f.Histogram("dowfund.test.histogram")
	h.Observe(5)
	h.Observe(7)

	// Re-acquiring the same name must reuse the published variable.
	f.Counter("dowfund.test.counter").Inc()
}
