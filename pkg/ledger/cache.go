package ledger

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tomaspk/lendbook/pkg/models"
	"github.com/tomaspk/lendbook/pkg/money"
	"github.com/tomaspk/lendbook/pkg/store"
)

const (
	defaultCacheTTL        = 60 * time.Second
	defaultRefreshDebounce = 250 * time.Millisecond
)

// DashboardStats are the cached dashboard aggregates.
type DashboardStats struct {
	TotalDisbursed    money.Money `json:"total_disbursed"`
	TotalCollected    money.Money `json:"total_collected"`
	InterestCollected money.Money `json:"interest_collected"`
	Outstanding       money.Money `json:"outstanding"`
	TodayCollection   money.Money `json:"today_collection"`
	ComputedAt        time.Time   `json:"computed_at"`
}

type cachedStats struct {
	stats DashboardStats
	gen   uint64
	at    time.Time
}

type cachedList struct {
	loans []*models.Loan
	gen   uint64
	at    time.Time
}

// AggregateCache keeps dashboard sums and filtered loan listings so reads do
// not hit the store on every request. An entry is valid while it is younger
// than the TTL and no mutation has advanced the generation counter since it
// was computed. Concurrent recomputations of the same value are collapsed
// into one store round-trip.
type AggregateCache struct {
	storage  store.Storage
	log      *zap.Logger
	now      func() time.Time
	ttl      time.Duration
	debounce time.Duration

	mu      sync.Mutex
	gen     uint64
	stats   *cachedStats
	lists   map[string]*cachedList
	refresh *time.Timer
	stopped bool

	group singleflight.Group
}

func newAggregateCache(s store.Storage, log *zap.Logger, now func() time.Time, ttl, debounce time.Duration) *AggregateCache {
	return &AggregateCache{
		storage:  s,
		log:      log,
		now:      now,
		ttl:      ttl,
		debounce: debounce,
		lists:    make(map[string]*cachedList),
	}
}

// Invalidate marks every cached aggregate stale. The dashboard entry is kept
// around (generation-mismatched) so a later failed recompute can still fall
// back to it. A debounced background refresh coalesces bursts of mutations
// into a single recomputation.
func (c *AggregateCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.lists = make(map[string]*cachedList)

	if c.stopped || c.debounce <= 0 {
		return
	}
	if c.refresh != nil {
		c.refresh.Stop()
	}
	c.refresh = time.AfterFunc(c.debounce, func() {
		if _, err := c.Stats(); err != nil {
			c.log.Warn("background dashboard refresh failed", zap.Error(err))
		}
	})
}

// Stop cancels any pending background refresh.
func (c *AggregateCache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.refresh != nil {
		c.refresh.Stop()
	}
}

// Stats returns the dashboard aggregates, recomputing them when the cached
// value is stale or invalidated. If recomputation fails and a previous value
// exists, that value is served and a warning logged rather than failing the
// read.
func (c *AggregateCache) Stats() (DashboardStats, error) {
	c.mu.Lock()
	gen := c.gen
	if c.stats != nil && c.stats.gen == gen && c.now().Sub(c.stats.at) < c.ttl {
		st := c.stats.stats
		c.mu.Unlock()
		return st, nil
	}
	c.mu.Unlock()

	// The generation is part of the flight key: a reader that arrives after
	// an invalidation never joins a recomputation that started before it, so
	// it can never be handed pre-invalidation values.
	v, err, _ := c.group.Do(fmt.Sprintf("stats:%d", gen), func() (any, error) {
		st, err := c.computeStats()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// A flight from an older generation must not displace a newer entry.
		if c.stats == nil || c.stats.gen <= gen {
			c.stats = &cachedStats{stats: st, gen: gen, at: c.now()}
		}
		c.mu.Unlock()
		return st, nil
	})
	if err != nil {
		c.mu.Lock()
		stale := c.stats
		c.mu.Unlock()
		if stale != nil {
			c.log.Warn("dashboard recompute failed, serving last good value",
				zap.Time("computed_at", stale.stats.ComputedAt), zap.Error(err))
			return stale.stats, nil
		}
		return DashboardStats{}, err
	}
	return v.(DashboardStats), nil
}

func (c *AggregateCache) computeStats() (DashboardStats, error) {
	now := c.now()

	loanSums, err := c.storage.SumLoans(store.LoanFilter{})
	if err != nil {
		return DashboardStats{}, fmt.Errorf("failed to aggregate loans: %w", err)
	}
	paySums, err := c.storage.SumPayments(store.PaymentFilter{})
	if err != nil {
		return DashboardStats{}, fmt.Errorf("failed to aggregate payments: %w", err)
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	today, err := c.storage.SumPayments(store.PaymentFilter{From: &dayStart, To: &dayEnd})
	if err != nil {
		return DashboardStats{}, fmt.Errorf("failed to aggregate today's payments: %w", err)
	}

	return DashboardStats{
		TotalDisbursed:    loanSums.Disbursed,
		Outstanding:       loanSums.Outstanding,
		TotalCollected:    paySums.Amount.Add(paySums.Interest),
		InterestCollected: paySums.Interest,
		TodayCollection:   today.Amount.Add(today.Interest),
		ComputedAt:        now,
	}, nil
}

func listKey(f store.LoanFilter) string {
	status := ""
	if f.Status != nil {
		status = string(*f.Status)
	}
	customer := int64(0)
	if f.CustomerID != nil {
		customer = *f.CustomerID
	}
	return fmt.Sprintf("%s|%s|%d|%t|%t", f.Search, status, customer, f.IncludeInactive, f.NonTerminalOnly)
}

// Loans returns a filtered loan listing through the cache. Each distinct
// filter combination is cached under its own key, so changing a filter never
// touches the dashboard entry.
func (c *AggregateCache) Loans(f store.LoanFilter) ([]*models.Loan, error) {
	key := listKey(f)

	c.mu.Lock()
	gen := c.gen
	if e, ok := c.lists[key]; ok && e.gen == gen && c.now().Sub(e.at) < c.ttl {
		loans := e.loans
		c.mu.Unlock()
		return loans, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(fmt.Sprintf("list:%d:%s", gen, key), func() (any, error) {
		loans, err := c.storage.ListLoans(f)
		if err != nil {
			return nil, fmt.Errorf("failed to list loans: %w", err)
		}
		c.mu.Lock()
		if gen == c.gen {
			c.lists[key] = &cachedList{loans: loans, gen: gen, at: c.now()}
		}
		c.mu.Unlock()
		return loans, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*models.Loan), nil
}
