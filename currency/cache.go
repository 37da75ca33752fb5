package currency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// FetchFunc pulls a fresh USD-quoted rate table from an external provider.
type FetchFunc func(ctx context.Context) (map[Code]decimal.Decimal, error)

// CachedRates is a RateSource that refreshes itself on a cron schedule and
// serves the last-known-good table in between. A failed refresh keeps the
// previous table; conversion only errors before the first successful fetch.
type CachedRates struct {
	mu      sync.RWMutex
	table   map[Code]decimal.Decimal
	fetched time.Time

	fetch   FetchFunc
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
}

// NewCachedRates creates a CachedRates refreshing on the given cron spec
// (e.g. "@every 1h"). Call Start to perform the initial fetch and begin
// the schedule; Stop to halt it.
func NewCachedRates(fetch FetchFunc, spec string, logger *slog.Logger) (*CachedRates, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &CachedRates{
		fetch:   fetch,
		cron:    cron.New(),
		logger:  logger,
		timeout: 30 * time.Second,
	}

	if _, err := c.cron.AddFunc(spec, c.refresh); err != nil {
		return nil, fmt.Errorf("currency: invalid refresh spec %q: %w", spec, err)
	}

	return c, nil
}

// Start performs a blocking initial fetch, then begins the refresh schedule.
func (c *CachedRates) Start(ctx context.Context) error {
	table, err := c.fetch(ctx)
	if err != nil {
		return fmt.Errorf("currency: initial rate fetch: %w", err)
	}
	c.store(table)

	c.cron.Start()
	return nil
}

// Stop halts the refresh schedule.
func (c *CachedRates) Stop() {
	c.cron.Stop()
}

// Rate implements RateSource from the cached table.
func (c *CachedRates) Rate(code Code) (decimal.Decimal, error) {
	if code == USD {
		return decimal.NewFromInt(1), nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.table == nil {
		return decimal.Zero, fmt.Errorf("currency: rates not loaded yet")
	}
	rate, ok := c.table[code]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("currency: no rate for %s", code)
	}
	return rate, nil
}

// FetchedAt returns when the current table was fetched.
func (c *CachedRates) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetched
}

func (c *CachedRates) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	table, err := c.fetch(ctx)
	if err != nil {
		c.logger.Warn("rate refresh failed, keeping previous table",
			"error", err,
			"fetched_at", c.FetchedAt(),
		)
		return
	}

	c.store(table)
	c.logger.Debug("rates refreshed", "currencies", len(table))
}

func (c *CachedRates) store(table map[Code]decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table = table
	c.fetched = time.Now().UTC()
}
