// Package positionLedger owns the locked-position records: the per-participant
// position arenas, the dense active-position indices, the incrementally
// maintained raw-weight totals, and the per-position distributed-amount
// counters consumed by the redemption flow.
package positionLedger

import (
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/meridian-labs/emissions-engine/pkg/vesting"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrInvalidAmount               = errors.New("amount must be greater than zero")
	ErrInvalidLockDuration         = errors.New("lock duration out of range")
	ErrPositionNotFound            = errors.New("position not found")
	ErrPositionStillLocked         = errors.New("position still locked")
	ErrEarlyUnlockAlreadyRequested = errors.New("early unlock already requested")
	ErrNoEarlyUnlockRequest        = errors.New("no early unlock request")
	ErrPositionAlreadyUnlockable   = errors.New("position already past its unlock time")
)

// Position is a single time-locked reserve deposit. RawWeight is fixed at
// creation; only its vested fraction changes over time.
type Position struct {
	ID          uint64
	Participant string
	Adapter     string
	Amount      *big.Int
	LockMonths  uint64
	CreatedAt   time.Time
	RawWeight   *big.Int

	// EarlyUnlockRequestedAt is zero unless an early-unlock request is
	// pending. While pending the position contributes nothing to the
	// weight totals.
	EarlyUnlockRequestedAt time.Time
}

func (p *Position) HasEarlyUnlockRequest() bool {
	return !p.EarlyUnlockRequestedAt.IsZero()
}

type participantState struct {
	positions map[uint64]*Position

	// Dense array of active position ids plus a reverse index, so removal
	// is a swap-and-pop and iteration stays allocation-free.
	activeIDs   []uint64
	activeIndex map[uint64]int

	nextPositionID uint64
	rawWeight      *big.Int
	firstLockAt    time.Time

	// Cumulative emission amounts distributed to each position. Cleared
	// when the position unlocks so no stale debt can attach to the id.
	distributed map[uint64]*big.Int
}

// Ledger is the position ledger. It performs no locking of its own; the
// engine serializes every mutation.
type Ledger struct {
	logger *zap.Logger
	clock  clockwork.Clock
	curve  *vesting.Curve

	maxLockMonths    uint64
	earlyUnlockDelay time.Duration

	participants    map[string]*participantState
	participantList []string
	globalRawWeight *big.Int
}

type LedgerConfig struct {
	MaxLockMonths    uint64
	EarlyUnlockDelay time.Duration
}

func NewLedger(cfg *LedgerConfig, curve *vesting.Curve, clock clockwork.Clock, l *zap.Logger) *Ledger {
	return &Ledger{
		logger:           l,
		clock:            clock,
		curve:            curve,
		maxLockMonths:    cfg.MaxLockMonths,
		earlyUnlockDelay: cfg.EarlyUnlockDelay,
		participants:     make(map[string]*participantState),
		participantList:  make([]string, 0),
		globalRawWeight:  big.NewInt(0),
	}
}

func (l *Ledger) participantState(participant string) *participantState {
	ps, ok := l.participants[participant]
	if !ok {
		ps = &participantState{
			positions:   make(map[uint64]*Position),
			activeIDs:   make([]uint64, 0),
			activeIndex: make(map[uint64]int),
			rawWeight:   big.NewInt(0),
			distributed: make(map[uint64]*big.Int),
		}
		l.participants[participant] = ps
	}
	return ps
}

// OpenPosition records a new lock. The first lock a participant ever makes
// also stamps their first-lock time (the epoch eligibility gate) and appends
// them to the population list the aggregate-weight cache iterates.
func (l *Ledger) OpenPosition(participant string, adapter string, amount *big.Int, months uint64) (*Position, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if months < 1 || months > l.maxLockMonths {
		return nil, errors.Wrapf(ErrInvalidLockDuration, "%d months", months)
	}

	now := l.clock.Now()
	ps := l.participantState(participant)

	ps.nextPositionID++
	p := &Position{
		ID:          ps.nextPositionID,
		Participant: participant,
		Adapter:     adapter,
		Amount:      new(big.Int).Set(amount),
		LockMonths:  months,
		CreatedAt:   now,
		RawWeight:   l.curve.RawWeight(amount, months),
	}

	ps.positions[p.ID] = p
	ps.activeIndex[p.ID] = len(ps.activeIDs)
	ps.activeIDs = append(ps.activeIDs, p.ID)

	ps.rawWeight.Add(ps.rawWeight, p.RawWeight)
	l.globalRawWeight.Add(l.globalRawWeight, p.RawWeight)

	if ps.firstLockAt.IsZero() {
		ps.firstLockAt = now
		l.participantList = append(l.participantList, participant)
	}

	l.logger.Sugar().Infow("position opened",
		zap.String("participant", participant),
		zap.Uint64("positionId", p.ID),
		zap.String("amount", amount.String()),
		zap.Uint64("months", months),
		zap.String("rawWeight", p.RawWeight.String()),
	)
	return p, nil
}

// ClosePosition removes a position whose lock has run out, either through
// the normal timeout or through a matured early-unlock request. Weight
// totals are decremented only if the early-unlock request did not already
// do so, and the distributed-amount counter is cleared.
func (l *Ledger) ClosePosition(participant string, positionID uint64) (*Position, error) {
	ps, ok := l.participants[participant]
	if !ok {
		return nil, ErrPositionNotFound
	}
	p, ok := ps.positions[positionID]
	if !ok {
		return nil, ErrPositionNotFound
	}

	now := l.clock.Now()
	unlockable := !now.Before(l.curve.UnlockTime(p.CreatedAt, p.LockMonths))
	if !unlockable && p.HasEarlyUnlockRequest() {
		unlockable = !now.Before(p.EarlyUnlockRequestedAt.Add(l.earlyUnlockDelay))
	}
	if !unlockable {
		return nil, ErrPositionStillLocked
	}

	l.removeActive(ps, positionID)
	delete(ps.positions, positionID)
	delete(ps.distributed, positionID)

	if !p.HasEarlyUnlockRequest() {
		ps.rawWeight.Sub(ps.rawWeight, p.RawWeight)
		l.globalRawWeight.Sub(l.globalRawWeight, p.RawWeight)
	}

	l.logger.Sugar().Infow("position closed",
		zap.String("participant", participant),
		zap.Uint64("positionId", positionID),
	)
	return p, nil
}

// ReinstatePosition puts back a position that ClosePosition just removed,
// because the reserve could not be returned to the participant. Weight
// totals and the distributed-amount counter are restored so the close can
// be retried.
func (l *Ledger) ReinstatePosition(p *Position, distributed *big.Int) {
	ps := l.participantState(p.Participant)

	ps.positions[p.ID] = p
	ps.activeIndex[p.ID] = len(ps.activeIDs)
	ps.activeIDs = append(ps.activeIDs, p.ID)

	if distributed != nil && distributed.Sign() > 0 {
		ps.distributed[p.ID] = new(big.Int).Set(distributed)
	}

	if !p.HasEarlyUnlockRequest() {
		ps.rawWeight.Add(ps.rawWeight, p.RawWeight)
		l.globalRawWeight.Add(l.globalRawWeight, p.RawWeight)
	}

	l.logger.Sugar().Infow("position reinstated",
		zap.String("participant", p.Participant),
		zap.Uint64("positionId", p.ID),
	)
}

// removeActive swap-and-pops positionID out of the dense active array.
func (l *Ledger) removeActive(ps *participantState, positionID uint64) {
	idx, ok := ps.activeIndex[positionID]
	if !ok {
		return
	}
	last := len(ps.activeIDs) - 1
	movedID := ps.activeIDs[last]
	ps.activeIDs[idx] = movedID
	ps.activeIndex[movedID] = idx
	ps.activeIDs = ps.activeIDs[:last]
	delete(ps.activeIndex, positionID)
}

// RequestEarlyUnlock marks a position for early unlock. The position stops
// earning immediately: its raw weight is excised from both totals. The
// request is rejected if one is already pending or if the position is
// already redeemable through the normal path.
func (l *Ledger) RequestEarlyUnlock(participant string, positionID uint64) (*Position, error) {
	ps, ok := l.participants[participant]
	if !ok {
		return nil, ErrPositionNotFound
	}
	p, ok := ps.positions[positionID]
	if !ok {
		return nil, ErrPositionNotFound
	}
	if p.HasEarlyUnlockRequest() {
		return nil, ErrEarlyUnlockAlreadyRequested
	}
	now := l.clock.Now()
	if !now.Before(l.curve.UnlockTime(p.CreatedAt, p.LockMonths)) {
		return nil, ErrPositionAlreadyUnlockable
	}

	p.EarlyUnlockRequestedAt = now
	ps.rawWeight.Sub(ps.rawWeight, p.RawWeight)
	l.globalRawWeight.Sub(l.globalRawWeight, p.RawWeight)

	l.logger.Sugar().Infow("early unlock requested",
		zap.String("participant", participant),
		zap.Uint64("positionId", positionID),
	)
	return p, nil
}

// CancelEarlyUnlock clears a pending early-unlock request and restores the
// position's weight contribution.
func (l *Ledger) CancelEarlyUnlock(participant string, positionID uint64) (*Position, error) {
	ps, ok := l.participants[participant]
	if !ok {
		return nil, ErrPositionNotFound
	}
	p, ok := ps.positions[positionID]
	if !ok {
		return nil, ErrPositionNotFound
	}
	if !p.HasEarlyUnlockRequest() {
		return nil, ErrNoEarlyUnlockRequest
	}

	p.EarlyUnlockRequestedAt = time.Time{}
	ps.rawWeight.Add(ps.rawWeight, p.RawWeight)
	l.globalRawWeight.Add(l.globalRawWeight, p.RawWeight)

	l.logger.Sugar().Infow("early unlock cancelled",
		zap.String("participant", participant),
		zap.Uint64("positionId", positionID),
	)
	return p, nil
}

// AddDistributed increments the cumulative emission amount attributed to a
// position by a claim.
func (l *Ledger) AddDistributed(participant string, positionID uint64, amount *big.Int) {
	ps := l.participantState(participant)
	cur, ok := ps.distributed[positionID]
	if !ok {
		cur = big.NewInt(0)
		ps.distributed[positionID] = cur
	}
	cur.Add(cur, amount)
}

// DistributedAmount returns the cumulative emission amount distributed to a
// position. Read by the burn-to-unlock redemption flow.
func (l *Ledger) DistributedAmount(participant string, positionID uint64) *big.Int {
	ps, ok := l.participants[participant]
	if !ok {
		return big.NewInt(0)
	}
	cur, ok := ps.distributed[positionID]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(cur)
}

// Position returns a participant's position by id, or nil.
func (l *Ledger) Position(participant string, positionID uint64) *Position {
	ps, ok := l.participants[participant]
	if !ok {
		return nil
	}
	return ps.positions[positionID]
}

// ActivePositions returns the participant's active positions in index order.
func (l *Ledger) ActivePositions(participant string) []*Position {
	ps, ok := l.participants[participant]
	if !ok {
		return nil
	}
	out := make([]*Position, 0, len(ps.activeIDs))
	for _, id := range ps.activeIDs {
		out = append(out, ps.positions[id])
	}
	return out
}

// VestedWeight sums the vested weight of a participant's active positions
// at the given instant.
func (l *Ledger) VestedWeight(participant string, now time.Time) *big.Int {
	total := big.NewInt(0)
	for _, p := range l.ActivePositions(participant) {
		total.Add(total, l.curve.VestedWeight(p.RawWeight, p.CreatedAt, p.HasEarlyUnlockRequest(), now))
	}
	return total
}

// RawWeight returns a participant's raw-weight total (early-unlock-pending
// positions excluded).
func (l *Ledger) RawWeight(participant string) *big.Int {
	ps, ok := l.participants[participant]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(ps.rawWeight)
}

// GlobalRawWeight returns the population-wide raw-weight total. It is a
// safe upper bound on vested weight, since vested <= raw always.
func (l *Ledger) GlobalRawWeight() *big.Int {
	return new(big.Int).Set(l.globalRawWeight)
}

// FirstLockAt returns when the participant first ever locked, and whether
// they have locked at all.
func (l *Ledger) FirstLockAt(participant string) (time.Time, bool) {
	ps, ok := l.participants[participant]
	if !ok || ps.firstLockAt.IsZero() {
		return time.Time{}, false
	}
	return ps.firstLockAt, true
}

// ParticipantCount returns the size of the population list.
func (l *Ledger) ParticipantCount() int {
	return len(l.participantList)
}

// ParticipantAt returns the participant at the given population index.
func (l *Ledger) ParticipantAt(i int) string {
	return l.participantList[i]
}

// Participants returns a copy of the population list.
func (l *Ledger) Participants() []string {
	out := make([]string, len(l.participantList))
	copy(out, l.participantList)
	return out
}

// Curve exposes the vesting curve the ledger prices locks with.
func (l *Ledger) Curve() *vesting.Curve {
	return l.curve
}
