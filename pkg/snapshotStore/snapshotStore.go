// Package snapshotStore captures the per-epoch, per-participant weight
// records that claims are computed from. A snapshot is taken at most once,
// only after its epoch has finalized, and only for participants whose first
// lock predates the finalization (the late-joiner gate). It is never
// mutated afterwards.
package snapshotStore

import (
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/meridian-labs/emissions-engine/pkg/epochLedger"
	"github.com/meridian-labs/emissions-engine/pkg/positionLedger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrEpochNotFinalized = errors.New("epoch not finalized")
	ErrUserNotEligible   = errors.New("participant not eligible for this epoch")
)

// PositionWeight is one (position, weight) pair inside a snapshot.
type PositionWeight struct {
	PositionID uint64
	Weight     *big.Int
}

// Snapshot is an immutable record of a participant's weight for one epoch.
type Snapshot struct {
	Epoch       uint64
	Participant string
	TotalWeight *big.Int
	Positions   []PositionWeight
	TakenAt     time.Time
}

// Store is the snapshot store.
type Store struct {
	logger *zap.Logger
	clock  clockwork.Clock
	ledger *positionLedger.Ledger
	epochs *epochLedger.Ledger

	// epoch -> participant -> snapshot
	snapshots map[uint64]map[string]*Snapshot
}

func NewStore(ledger *positionLedger.Ledger, epochs *epochLedger.Ledger, clock clockwork.Clock, l *zap.Logger) *Store {
	return &Store{
		logger:    l,
		clock:     clock,
		ledger:    ledger,
		epochs:    epochs,
		snapshots: make(map[uint64]map[string]*Snapshot),
	}
}

// Take captures the participant's current vested weight for the given
// epoch. Idempotent: an existing snapshot is returned unchanged with
// created=false. A zero vested weight leaves the participant
// un-snapshotted and returns nil.
//
// Weight is evaluated at call time, not as of the epoch's finalization
// timestamp; the eligibility gate plus the vesting floor bound what a late
// call can capture.
func (s *Store) Take(epoch uint64, participant string) (snap *Snapshot, created bool, err error) {
	if existing := s.Get(epoch, participant); existing != nil {
		return existing, false, nil
	}

	ep := s.epochs.Epoch(epoch)
	if !ep.Finalized() {
		return nil, false, ErrEpochNotFinalized
	}

	firstLock, ok := s.ledger.FirstLockAt(participant)
	if !ok || !firstLock.Before(ep.FinalizedAt) {
		return nil, false, ErrUserNotEligible
	}

	now := s.clock.Now()
	curve := s.ledger.Curve()
	total := big.NewInt(0)
	positions := make([]PositionWeight, 0)
	for _, p := range s.ledger.ActivePositions(participant) {
		w := curve.VestedWeight(p.RawWeight, p.CreatedAt, p.HasEarlyUnlockRequest(), now)
		if w.Sign() == 0 {
			continue
		}
		total.Add(total, w)
		positions = append(positions, PositionWeight{PositionID: p.ID, Weight: w})
	}
	if total.Sign() == 0 {
		// Nothing vested right now; the participant stays un-snapshotted
		// and may try again.
		return nil, false, nil
	}

	snap = &Snapshot{
		Epoch:       epoch,
		Participant: participant,
		TotalWeight: total,
		Positions:   positions,
		TakenAt:     now,
	}
	byParticipant, ok := s.snapshots[epoch]
	if !ok {
		byParticipant = make(map[string]*Snapshot)
		s.snapshots[epoch] = byParticipant
	}
	byParticipant[participant] = snap

	s.logger.Sugar().Infow("snapshot taken",
		zap.Uint64("epoch", epoch),
		zap.String("participant", participant),
		zap.String("totalWeight", total.String()),
		zap.Int("positions", len(positions)),
	)
	return snap, true, nil
}

// Get returns the snapshot for (epoch, participant), or nil.
func (s *Store) Get(epoch uint64, participant string) *Snapshot {
	byParticipant, ok := s.snapshots[epoch]
	if !ok {
		return nil
	}
	return byParticipant[participant]
}
