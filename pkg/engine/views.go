package engine

import (
	"math/big"
	"time"

	"github.com/meridian-labs/emissions-engine/pkg/positionLedger"
	"github.com/meridian-labs/emissions-engine/pkg/snapshotStore"
	"github.com/meridian-labs/emissions-engine/pkg/weightCache"
)

// Read-only views. These take the read lock and return copies; they carry
// no side effects. Because they block on the lock rather than trip the
// reentrancy guard, collaborator callbacks must not read back into the
// engine (see Dependencies).

// PositionView mirrors a stored position.
type PositionView struct {
	ID                     uint64
	Participant            string
	Adapter                string
	Amount                 *big.Int
	LockMonths             uint64
	CreatedAt              time.Time
	UnlockAt               time.Time
	RawWeight              *big.Int
	VestedWeight           *big.Int
	EarlyUnlockRequestedAt time.Time
	DistributedAmount      *big.Int
}

// EpochView mirrors a finalized or skipped epoch record.
type EpochView struct {
	ID            uint64
	Skipped       bool
	TotalEmission *big.Int
	TotalWeight   *big.Int
	FinalizedAt   time.Time
	Minted        *big.Int
}

func (e *Engine) positionView(p *positionLedger.Position) *PositionView {
	curve := e.ledger.Curve()
	now := e.clock.Now()
	return &PositionView{
		ID:                     p.ID,
		Participant:            p.Participant,
		Adapter:                p.Adapter,
		Amount:                 new(big.Int).Set(p.Amount),
		LockMonths:             p.LockMonths,
		CreatedAt:              p.CreatedAt,
		UnlockAt:               curve.UnlockTime(p.CreatedAt, p.LockMonths),
		RawWeight:              new(big.Int).Set(p.RawWeight),
		VestedWeight:           curve.VestedWeight(p.RawWeight, p.CreatedAt, p.HasEarlyUnlockRequest(), now),
		EarlyUnlockRequestedAt: p.EarlyUnlockRequestedAt,
		DistributedAmount:      e.ledger.DistributedAmount(p.Participant, p.ID),
	}
}

// Position returns one position, or nil.
func (e *Engine) Position(participant string, positionID uint64) *PositionView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p := e.ledger.Position(normalizeAddress(participant), positionID)
	if p == nil {
		return nil
	}
	return e.positionView(p)
}

// Positions returns a participant's active positions.
func (e *Engine) Positions(participant string) []*PositionView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	active := e.ledger.ActivePositions(normalizeAddress(participant))
	out := make([]*PositionView, 0, len(active))
	for _, p := range active {
		out = append(out, e.positionView(p))
	}
	return out
}

// ParticipantWeight returns (raw, currently vested) weight totals for a
// participant.
func (e *Engine) ParticipantWeight(participant string) (*big.Int, *big.Int) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	participant = normalizeAddress(participant)
	return e.ledger.RawWeight(participant), e.ledger.VestedWeight(participant, e.clock.Now())
}

// GlobalRawWeight returns the population-wide raw weight total.
func (e *Engine) GlobalRawWeight() *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.GlobalRawWeight()
}

// TotalVestedWeight is the cache's bounded read.
func (e *Engine) TotalVestedWeight() *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.TotalVestedWeight()
}

// CacheStatus returns the aggregate weight cache state.
func (e *Engine) CacheStatus() *weightCache.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.Status()
}

// ParticipantCount returns the population-list size.
func (e *Engine) ParticipantCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.ParticipantCount()
}

// CurrentEpoch returns the in-flight epoch id.
func (e *Engine) CurrentEpoch() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epochs.CurrentEpoch()
}

// EpochInfo returns the record for one epoch, or nil if neither finalized
// nor skipped yet.
func (e *Engine) EpochInfo(id uint64) *EpochView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ep := e.epochs.Epoch(id)
	if ep == nil {
		return nil
	}
	v := &EpochView{
		ID:      ep.ID,
		Skipped: ep.Skipped,
	}
	if !ep.Skipped {
		v.TotalEmission = new(big.Int).Set(ep.TotalEmission)
		v.TotalWeight = new(big.Int).Set(ep.TotalWeight)
		v.FinalizedAt = ep.FinalizedAt
		v.Minted = new(big.Int).Set(ep.Minted)
	}
	return v
}

// PendingEpochs is how many epochs await finalization.
func (e *Engine) PendingEpochs() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epochs.PendingCount()
}

// TimeToNextEpoch is the remaining duration of the current epoch window.
func (e *Engine) TimeToNextEpoch() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epochs.TimeToNextEpoch()
}

// SnapshotInfo returns the snapshot for (epoch, participant), or nil.
func (e *Engine) SnapshotInfo(epoch uint64, participant string) *snapshotStore.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := e.snapshots.Get(epoch, normalizeAddress(participant))
	if snap == nil {
		return nil
	}
	out := &snapshotStore.Snapshot{
		Epoch:       snap.Epoch,
		Participant: snap.Participant,
		TotalWeight: new(big.Int).Set(snap.TotalWeight),
		Positions:   make([]snapshotStore.PositionWeight, len(snap.Positions)),
		TakenAt:     snap.TakenAt,
	}
	for i, pw := range snap.Positions {
		out.Positions[i] = snapshotStore.PositionWeight{
			PositionID: pw.PositionID,
			Weight:     new(big.Int).Set(pw.Weight),
		}
	}
	return out
}

// HasClaimed reports whether a participant already claimed an epoch.
func (e *Engine) HasClaimed(epoch uint64, participant string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.processor.HasClaimed(epoch, normalizeAddress(participant))
}

// DistributedAmount is the cumulative emission amount attributed to one
// position, read by the redemption flow.
func (e *Engine) DistributedAmount(participant string, positionID uint64) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.DistributedAmount(normalizeAddress(participant), positionID)
}

// FirstLockAt returns the participant's first-lock timestamp, if any.
func (e *Engine) FirstLockAt(participant string) (time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.FirstLockAt(normalizeAddress(participant))
}
