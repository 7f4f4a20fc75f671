// Package weightCache maintains a best-effort, paginated snapshot of the
// total vested weight across the whole participant population. Recomputing
// that sum synchronously is unbounded work, so it is modeled as a resumable
// fold: an accumulator, a cursor, and a completion stamp, driven forward in
// bounded batches by anyone willing to call Advance.
package weightCache

import (
	"math/big"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"
	"github.com/meridian-labs/emissions-engine/pkg/positionLedger"
	"go.uber.org/zap"
)

type CacheConfig struct {
	// BatchSize bounds the participants processed per Advance call.
	BatchSize int
	// ValidityWindow is how long a completed total stays authoritative.
	ValidityWindow time.Duration
	// SafetyCeiling bounds the population size for which a synchronous
	// full recompute is still permitted on the read path.
	SafetyCeiling int
	// WorkerCount sizes the pool that sums a batch's participants.
	WorkerCount int
}

// Status is the externally visible cache state.
type Status struct {
	CachedTotal     *big.Int
	LastCompletedAt time.Time
	InProgress      bool
	Cursor          int
	Accumulator     *big.Int
}

// Cache is the aggregate weight cache. The engine serializes mutations; the
// pond pool below only parallelizes reads within a single Advance call.
type Cache struct {
	logger *zap.Logger
	clock  clockwork.Clock
	ledger *positionLedger.Ledger
	cfg    *CacheConfig
	pool   pond.Pool

	cachedTotal     *big.Int
	lastCompletedAt time.Time

	inProgress  bool
	cursor      int
	accumulator *big.Int
}

func NewCache(cfg *CacheConfig, ledger *positionLedger.Ledger, clock clockwork.Clock, l *zap.Logger) *Cache {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	return &Cache{
		logger:      l,
		clock:       clock,
		ledger:      ledger,
		cfg:         cfg,
		pool:        pond.NewPool(workers, pond.WithQueueSize(cfg.BatchSize)),
		cachedTotal: big.NewInt(0),
		accumulator: big.NewInt(0),
	}
}

// Advance drives the paginated recomputation forward by at most one batch.
// If no cycle is in progress a new one begins at index zero. When the cursor
// reaches the population size the accumulator becomes the authoritative
// cached total. Returns whether the cycle completed on this call and how
// many participants were processed.
func (c *Cache) Advance() (completed bool, processed int) {
	if !c.inProgress {
		c.inProgress = true
		c.cursor = 0
		c.accumulator = big.NewInt(0)
	}

	population := c.ledger.ParticipantCount()
	end := c.cursor + c.cfg.BatchSize
	if end > population {
		end = population
	}

	if end > c.cursor {
		c.accumulator.Add(c.accumulator, c.sumRange(c.cursor, end))
		processed = end - c.cursor
		c.cursor = end
	}

	if c.cursor >= population {
		c.cachedTotal = new(big.Int).Set(c.accumulator)
		c.lastCompletedAt = c.clock.Now()
		c.inProgress = false
		c.logger.Sugar().Infow("weight cache refresh completed",
			zap.String("total", c.cachedTotal.String()),
			zap.Int("population", population),
		)
		return true, processed
	}
	return false, processed
}

// sumRange computes the vested-weight sum of participants [start, end) on
// the worker pool. Summation order does not matter; the fold is associative.
func (c *Cache) sumRange(start, end int) *big.Int {
	now := c.clock.Now()
	var mu sync.Mutex
	sum := big.NewInt(0)

	group := c.pool.NewGroup()
	for i := start; i < end; i++ {
		participant := c.ledger.ParticipantAt(i)
		group.Submit(func() {
			w := c.ledger.VestedWeight(participant, now)
			mu.Lock()
			sum.Add(sum, w)
			mu.Unlock()
		})
	}
	group.Wait()
	return sum
}

// TotalVestedWeight is the bounded read. An in-progress cycle's partial
// accumulator is never served; the read either recomputes within the safety
// ceiling or falls back, first to the last completed total and then to the
// monotonic raw-weight total, which is a conservative upper bound.
func (c *Cache) TotalVestedWeight() *big.Int {
	if c.inProgress {
		return c.boundedOrFallback()
	}
	if !c.lastCompletedAt.IsZero() &&
		c.clock.Now().Sub(c.lastCompletedAt) <= c.cfg.ValidityWindow &&
		c.cachedTotal.Sign() > 0 {
		return new(big.Int).Set(c.cachedTotal)
	}
	return c.boundedOrFallback()
}

func (c *Cache) boundedOrFallback() *big.Int {
	population := c.ledger.ParticipantCount()
	if population <= c.cfg.SafetyCeiling {
		return c.sumRange(0, population)
	}
	if c.cachedTotal.Sign() > 0 {
		return new(big.Int).Set(c.cachedTotal)
	}
	return c.ledger.GlobalRawWeight()
}

// ResetProgress clears the in-progress markers so a stalled cycle can be
// restarted. It deliberately leaves the cached total untouched: a malicious
// reset must not be able to zero a legitimately completed value.
func (c *Cache) ResetProgress() {
	c.inProgress = false
	c.cursor = 0
	c.logger.Sugar().Infow("weight cache progress reset")
}

// Status returns a copy of the cache state for the read-only views.
func (c *Cache) Status() *Status {
	return &Status{
		CachedTotal:     new(big.Int).Set(c.cachedTotal),
		LastCompletedAt: c.lastCompletedAt,
		InProgress:      c.inProgress,
		Cursor:          c.cursor,
		Accumulator:     new(big.Int).Set(c.accumulator),
	}
}
