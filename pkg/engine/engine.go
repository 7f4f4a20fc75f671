// Package engine wires the emission core together behind a single guarded
// facade: the position ledger, vesting curve, aggregate weight cache, epoch
// ledger, snapshot store, and claim processor, plus the external
// collaborators (reserve vault, emission source, adapter registry, token
// minter). Every mutating operation is serialized and protected against
// re-entrant invocation from collaborator callbacks.
package engine

import (
	"math/big"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/meridian-labs/emissions-engine/internal/config"
	"github.com/meridian-labs/emissions-engine/internal/metrics"
	"github.com/meridian-labs/emissions-engine/internal/metrics/metricsTypes"
	"github.com/meridian-labs/emissions-engine/pkg/claims"
	"github.com/meridian-labs/emissions-engine/pkg/epochLedger"
	"github.com/meridian-labs/emissions-engine/pkg/positionLedger"
	"github.com/meridian-labs/emissions-engine/pkg/snapshotStore"
	"github.com/meridian-labs/emissions-engine/pkg/storage"
	"github.com/meridian-labs/emissions-engine/pkg/vesting"
	"github.com/meridian-labs/emissions-engine/pkg/weightCache"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrReentrantCall          = errors.New("reentrant call")
	ErrNotAuthorized          = errors.New("caller not authorized")
	ErrAdapterNotActive       = errors.New("reserve adapter not active")
	ErrTransferAmountMismatch = errors.New("received amount does not match requested amount")
)

// ReserveVault is the reserve-custody transfer primitive. TransferIn must
// return the amount actually received, which the engine verifies against
// the requested amount.
type ReserveVault interface {
	TransferIn(from string, amount *big.Int) (*big.Int, error)
	TransferOut(to string, amount *big.Int) error
}

// AdapterRegistry is the adapter-governance predicate consulted on every
// lock.
type AdapterRegistry interface {
	IsAdapterActive(adapter string) bool
}

// Engine is the facade over the emission core.
type Engine struct {
	logger *zap.Logger
	clock  clockwork.Clock
	cfg    *config.EngineConfig

	ledger    *positionLedger.Ledger
	cache     *weightCache.Cache
	epochs    *epochLedger.Ledger
	snapshots *snapshotStore.Store
	processor *claims.Processor

	vault    ReserveVault
	registry AdapterRegistry

	sink        storage.Sink
	metricsSink *metrics.MetricsSink

	// mu protects all core state; busy trips on re-entrant invocation
	// before mu can deadlock the calling goroutine.
	mu   sync.RWMutex
	busy atomic.Bool
}

// Dependencies carries the external collaborators the engine consumes.
// Implementations are called with every value they need and must not call
// back into the engine while servicing a call: a nested mutation fails
// fast with ErrReentrantCall, but a nested view read would block on the
// lock the in-flight operation holds.
type Dependencies struct {
	Vault          ReserveVault
	Registry       AdapterRegistry
	EmissionSource epochLedger.EmissionSource
	Minter         claims.TokenMinter
	Sink           storage.Sink
	MetricsSink    *metrics.MetricsSink
}

func NewEngine(
	cfg *config.Config,
	deps *Dependencies,
	clock clockwork.Clock,
	l *zap.Logger,
) *Engine {
	ec := &cfg.EngineConfig

	curve := &vesting.Curve{
		WarmupPeriod:        ec.WarmupPeriod,
		RampPeriod:          ec.RampPeriod,
		BonusPerMonthMillis: ec.BonusPerMonthMillis,
		BonusCapMonths:      ec.BonusCapMonths,
	}

	ledger := positionLedger.NewLedger(&positionLedger.LedgerConfig{
		MaxLockMonths:    ec.MaxLockMonths,
		EarlyUnlockDelay: ec.EarlyUnlockDelay,
	}, curve, clock, l)

	cache := weightCache.NewCache(&weightCache.CacheConfig{
		BatchSize:      cfg.CacheConfig.BatchSize,
		ValidityWindow: cfg.CacheConfig.ValidityWindow,
		SafetyCeiling:  cfg.CacheConfig.SafetyCeiling,
		WorkerCount:    cfg.CacheConfig.WorkerCount,
	}, ledger, clock, l)

	epochs := epochLedger.NewLedger(
		ec.DistributionStart,
		ec.EpochDuration,
		cache,
		deps.EmissionSource,
		clock,
		l,
	)

	snapshots := snapshotStore.NewStore(ledger, epochs, clock, l)
	processor := claims.NewProcessor(ledger, epochs, snapshots, deps.Minter, l)

	metricsSink := deps.MetricsSink
	if metricsSink == nil {
		metricsSink = metrics.NewMetricsSink(l, nil)
	}
	sink := deps.Sink

	return &Engine{
		logger:      l,
		clock:       clock,
		cfg:         ec,
		ledger:      ledger,
		cache:       cache,
		epochs:      epochs,
		snapshots:   snapshots,
		processor:   processor,
		vault:       deps.Vault,
		registry:    deps.Registry,
		sink:        sink,
		metricsSink: metricsSink,
	}
}

// enter is the non-reentrant critical section prologue for mutating
// operations. It fails fast instead of deadlocking when a collaborator
// callback re-enters the engine.
func (e *Engine) enter() (func(), error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		e.busy.Store(false)
	}, nil
}

func normalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// OpenPosition locks reserve for the caller. The adapter must be active and
// the vault must report receiving exactly the requested amount.
func (e *Engine) OpenPosition(caller string, adapter string, amount *big.Int, months uint64) (*positionLedger.Position, error) {
	exit, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer exit()

	caller = normalizeAddress(caller)
	adapter = normalizeAddress(adapter)

	if !e.registry.IsAdapterActive(adapter) {
		return nil, errors.Wrapf(ErrAdapterNotActive, "adapter %s", adapter)
	}

	received, err := e.vault.TransferIn(caller, amount)
	if err != nil {
		return nil, errors.Wrap(err, "reserve transfer in failed")
	}
	if received == nil || received.Cmp(amount) != 0 {
		return nil, ErrTransferAmountMismatch
	}

	p, err := e.ledger.OpenPosition(caller, adapter, amount, months)
	if err != nil {
		return nil, err
	}

	e.metricsSink.Incr(metricsTypes.Metric_Incr_PositionsOpened, []metricsTypes.MetricsLabel{
		{Name: "adapter", Value: adapter},
	}, 1)
	e.emitPositionEvent(storage.EventPositionOpened, p, p.Amount)
	return p, nil
}

// ClosePosition removes an unlockable position and returns the reserve to
// the participant. Restricted to the unlock authority; the redemption flow
// calls this only after burning the rewards attributed to the position.
func (e *Engine) ClosePosition(caller string, participant string, positionID uint64) error {
	exit, err := e.enter()
	if err != nil {
		return err
	}
	defer exit()

	if normalizeAddress(caller) != e.cfg.UnlockAuthority {
		return ErrNotAuthorized
	}
	participant = normalizeAddress(participant)

	distributed := e.ledger.DistributedAmount(participant, positionID)
	p, err := e.ledger.ClosePosition(participant, positionID)
	if err != nil {
		return err
	}

	// A failed reserve return must not strand the deposit record: put the
	// position back exactly as it was so the close can be retried.
	if err := e.vault.TransferOut(participant, p.Amount); err != nil {
		e.ledger.ReinstatePosition(p, distributed)
		return errors.Wrap(err, "reserve transfer out failed")
	}

	e.metricsSink.Incr(metricsTypes.Metric_Incr_PositionsClosed, nil, 1)
	e.emitPositionEvent(storage.EventPositionClosed, p, p.Amount)
	return nil
}

// RequestEarlyUnlock starts the early-unlock delay on the caller's position
// and immediately stops its weight accrual.
func (e *Engine) RequestEarlyUnlock(caller string, positionID uint64) error {
	exit, err := e.enter()
	if err != nil {
		return err
	}
	defer exit()

	p, err := e.ledger.RequestEarlyUnlock(normalizeAddress(caller), positionID)
	if err != nil {
		return err
	}

	e.metricsSink.Incr(metricsTypes.Metric_Incr_EarlyUnlockRequests, nil, 1)
	e.emitPositionEvent(storage.EventEarlyUnlockRequested, p, nil)
	return nil
}

// CancelEarlyUnlock withdraws a pending early-unlock request, restoring the
// position's weight contribution.
func (e *Engine) CancelEarlyUnlock(caller string, positionID uint64) error {
	exit, err := e.enter()
	if err != nil {
		return err
	}
	defer exit()

	p, err := e.ledger.CancelEarlyUnlock(normalizeAddress(caller), positionID)
	if err != nil {
		return err
	}

	e.metricsSink.Incr(metricsTypes.Metric_Incr_EarlyUnlockCancels, nil, 1)
	e.emitPositionEvent(storage.EventEarlyUnlockCancelled, p, nil)
	return nil
}

// AdvanceCacheUpdate drives the paginated aggregate-weight recomputation
// forward by one batch. Permissionless.
func (e *Engine) AdvanceCacheUpdate() (bool, int, error) {
	exit, err := e.enter()
	if err != nil {
		return false, 0, err
	}
	defer exit()

	start := e.clock.Now()
	completed, processed := e.cache.Advance()
	e.metricsSink.Timing(metricsTypes.Metric_Timing_CacheAdvanceDuration, e.clock.Now().Sub(start), nil)

	if completed {
		e.metricsSink.Incr(metricsTypes.Metric_Incr_CacheRefreshesComplete, nil, 1)
		status := e.cache.Status()
		ev := storage.NewEvent(storage.EventCacheRefreshCompleted, e.clock.Now())
		ev.Weight = status.CachedTotal.String()
		e.writeEvent(ev)
	}
	return completed, processed, nil
}

// ResetCacheProgress clears a stalled cache cycle's progress markers.
// Permissionless; the cached total itself is preserved.
func (e *Engine) ResetCacheProgress() error {
	exit, err := e.enter()
	if err != nil {
		return err
	}
	defer exit()

	e.cache.ResetProgress()
	return nil
}

// FinalizeNextEpoch finalizes (or skips) the next pending epoch.
// Permissionless.
func (e *Engine) FinalizeNextEpoch() (*epochLedger.Epoch, error) {
	exit, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer exit()

	ep, err := e.epochs.FinalizeNext()
	if err != nil {
		return nil, err
	}
	e.recordFinalization(ep)
	return ep, nil
}

// FinalizeEpochBatch finalizes up to count pending epochs, stopping quietly
// when emissions run dry. Permissionless.
func (e *Engine) FinalizeEpochBatch(count int) (int, error) {
	exit, err := e.enter()
	if err != nil {
		return 0, err
	}
	defer exit()

	before := e.epochs.NextToFinalize()
	finalized, err := e.epochs.FinalizeBatch(count)
	if err != nil {
		return finalized, err
	}
	for id := before; id < e.epochs.NextToFinalize(); id++ {
		e.recordFinalization(e.epochs.Epoch(id))
	}
	return finalized, nil
}

func (e *Engine) recordFinalization(ep *epochLedger.Epoch) {
	if ep == nil {
		return
	}
	if ep.Skipped {
		e.metricsSink.Incr(metricsTypes.Metric_Incr_EpochsSkipped, nil, 1)
		ev := storage.NewEvent(storage.EventEpochSkipped, e.clock.Now())
		ev.Epoch = ep.ID
		e.writeEvent(ev)
		return
	}
	e.metricsSink.Incr(metricsTypes.Metric_Incr_EpochsFinalized, nil, 1)
	ev := storage.NewEvent(storage.EventEpochFinalized, e.clock.Now())
	ev.Epoch = ep.ID
	ev.Amount = ep.TotalEmission.String()
	ev.Weight = ep.TotalWeight.String()
	e.writeEvent(ev)
}

// TakeSnapshot captures the participant's weight record for a finalized
// epoch. Only the participant themselves or the lock/unlock authority may
// trigger it, so a third party cannot force snapshot timing on someone
// else.
func (e *Engine) TakeSnapshot(caller string, epoch uint64, participant string) (*snapshotStore.Snapshot, error) {
	exit, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer exit()

	caller = normalizeAddress(caller)
	participant = normalizeAddress(participant)
	if caller != participant && caller != e.cfg.LockAuthority && caller != e.cfg.UnlockAuthority {
		return nil, ErrNotAuthorized
	}

	snap, created, err := e.snapshots.Take(epoch, participant)
	if err != nil {
		return nil, err
	}
	if created {
		e.metricsSink.Incr(metricsTypes.Metric_Incr_SnapshotsTaken, nil, 1)
		ev := storage.NewEvent(storage.EventSnapshotTaken, e.clock.Now())
		ev.Participant = participant
		ev.Epoch = epoch
		ev.Weight = snap.TotalWeight.String()
		e.writeEvent(ev)
	}
	return snap, nil
}

// Claim settles the caller's share of one finalized epoch.
func (e *Engine) Claim(caller string, epoch uint64, minAmount *big.Int) (*claims.Result, error) {
	exit, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer exit()

	start := e.clock.Now()
	res, err := e.processor.Claim(epoch, normalizeAddress(caller), minAmount)
	if err != nil {
		return nil, err
	}
	e.metricsSink.Timing(metricsTypes.Metric_Timing_ClaimDuration, e.clock.Now().Sub(start), nil)

	if res.Amount.Sign() > 0 {
		e.metricsSink.Incr(metricsTypes.Metric_Incr_ClaimsProcessed, nil, 1)
		ev := storage.NewEvent(storage.EventClaimProcessed, e.clock.Now())
		ev.Participant = normalizeAddress(caller)
		ev.Epoch = epoch
		ev.Amount = res.Amount.String()
		e.writeEvent(ev)
	}
	return res, nil
}

// ClaimMultiple settles each listed epoch independently for the caller.
func (e *Engine) ClaimMultiple(caller string, epochs []uint64) (*big.Int, []*claims.Result, error) {
	return e.ClaimMultipleWithSlippage(caller, epochs, nil)
}

// ClaimMultipleWithSlippage is ClaimMultiple with per-epoch minimums.
func (e *Engine) ClaimMultipleWithSlippage(caller string, epochs []uint64, minAmounts []*big.Int) (*big.Int, []*claims.Result, error) {
	exit, err := e.enter()
	if err != nil {
		return nil, nil, err
	}
	defer exit()

	caller = normalizeAddress(caller)
	total, results, err := e.processor.ClaimMultipleWithSlippage(epochs, minAmounts, caller)
	if err != nil {
		return nil, nil, err
	}
	for _, res := range results {
		if res.Amount.Sign() == 0 {
			continue
		}
		e.metricsSink.Incr(metricsTypes.Metric_Incr_ClaimsProcessed, nil, 1)
		ev := storage.NewEvent(storage.EventClaimProcessed, e.clock.Now())
		ev.Participant = caller
		ev.Epoch = res.Epoch
		ev.Amount = res.Amount.String()
		e.writeEvent(ev)
	}
	return total, results, nil
}

func (e *Engine) emitPositionEvent(kind storage.EventKind, p *positionLedger.Position, amount *big.Int) {
	ev := storage.NewEvent(kind, e.clock.Now())
	ev.Participant = p.Participant
	ev.PositionID = p.ID
	if amount != nil {
		ev.Amount = amount.String()
	}
	ev.Weight = p.RawWeight.String()
	e.writeEvent(ev)
}

// PublishGauges pushes the current aggregate gauges to the metrics sink.
// The keeper calls this once per tick.
func (e *Engine) PublishGauges() {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rawWeight, _ := new(big.Float).SetInt(e.ledger.GlobalRawWeight()).Float64()
	cached, _ := new(big.Float).SetInt(e.cache.Status().CachedTotal).Float64()

	e.metricsSink.Gauge(metricsTypes.Metric_Gauge_TotalRawWeight, rawWeight, nil)
	e.metricsSink.Gauge(metricsTypes.Metric_Gauge_CachedVestedWeight, cached, nil)
	e.metricsSink.Gauge(metricsTypes.Metric_Gauge_Participants, float64(e.ledger.ParticipantCount()), nil)
	e.metricsSink.Gauge(metricsTypes.Metric_Gauge_PendingEpochs, float64(e.epochs.PendingCount()), nil)
}

// writeEvent journals an event. Journal failures never fail the operation
// that produced them.
func (e *Engine) writeEvent(ev *storage.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Write(ev); err != nil {
		e.logger.Sugar().Errorw("failed to write journal event",
			zap.String("kind", string(ev.Kind)),
			zap.Error(err),
		)
	}
}
