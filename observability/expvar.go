package observability

import "expvar"

// ExpvarFactory publishes metrics as expvar variables, making them visible
// on the process's /debug/vars endpoint without an external metrics stack.
type ExpvarFactory struct{}

// Counter implements MetricFactory.
func (ExpvarFactory) Counter(name string) Counter {
	return &expvarCounter{v: newFloat(name)}
}

// Histogram implements MetricFactory.
// expvar has no histogram type; observations are published as a
// count and a running sum under <name>.count and <name>.sum.
func (ExpvarFactory) Histogram(name string) Histogram {
	return &expvarHistogram{
		count: newFloat(name + ".count"),
		sum:   newFloat(name + ".sum"),
	}
}

// newFloat reuses an already published variable so that repeated
// construction in tests does not panic.
func newFloat(name string) *expvar.Float {
	if v, ok := expvar.Get(name).(*expvar.Float); ok {
		return v
	}
	return expvar.NewFloat(name)
}

type expvarCounter struct {
	v *expvar.Float
}

func (c *expvarCounter) Inc()          { c.v.Add(1) }
func (c *expvarCounter) Add(n float64) { c.v.Add(n) }

type expvarHistogram struct {
	count *expvar.Float
	sum   *expvar.Float
}

func (h *expvarHistogram) Observe(v float64) {
	h.count.Add(1)
	h.sum.Add(v)
}
