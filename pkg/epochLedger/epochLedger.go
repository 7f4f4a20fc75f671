// Package epochLedger tracks epoch boundaries and finalization. Epochs are
// fixed-length windows counted from the distribution start; each finalizes
// at most once, strictly in order, and an epoch with no vested weight is
// skipped without drawing emission so nothing is ever drawn and discarded.
package epochLedger

import (
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrInvalidEpoch         = errors.New("no epoch pending finalization")
	ErrNoEmissionsAvailable = errors.New("emission source returned zero")
	ErrEpochNotFinalized    = errors.New("epoch not finalized")
)

// EmissionSource is the external fixed-decay emission calculator. A zero
// return means no emission is currently due.
type EmissionSource interface {
	ClaimEmission() (*big.Int, error)
}

// WeightSource supplies the population-wide vested-weight total read at
// finalization time.
type WeightSource interface {
	TotalVestedWeight() *big.Int
}

// Epoch is a finalized or skipped epoch record.
type Epoch struct {
	ID            uint64
	TotalEmission *big.Int
	TotalWeight   *big.Int
	FinalizedAt   time.Time
	Minted        *big.Int
	Skipped       bool
}

func (e *Epoch) Finalized() bool {
	return e != nil && !e.Skipped
}

// Ledger is the epoch ledger.
type Ledger struct {
	logger  *zap.Logger
	clock   clockwork.Clock
	weights WeightSource
	source  EmissionSource

	distributionStart time.Time
	epochDuration     time.Duration

	nextToFinalize uint64
	epochs         map[uint64]*Epoch
}

func NewLedger(
	distributionStart time.Time,
	epochDuration time.Duration,
	weights WeightSource,
	source EmissionSource,
	clock clockwork.Clock,
	l *zap.Logger,
) *Ledger {
	if distributionStart.IsZero() {
		distributionStart = clock.Now()
	}
	return &Ledger{
		logger:            l,
		clock:             clock,
		weights:           weights,
		source:            source,
		distributionStart: distributionStart,
		epochDuration:     epochDuration,
		epochs:            make(map[uint64]*Epoch),
	}
}

// CurrentEpoch derives the in-flight epoch id from elapsed time since the
// distribution start.
func (l *Ledger) CurrentEpoch() uint64 {
	elapsed := l.clock.Now().Sub(l.distributionStart)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / l.epochDuration)
}

// FinalizeNext finalizes the next pending epoch. The weight total is read
// before any emission is drawn: a zero-weight epoch advances the cursor
// without drawing, so its emission remains available to the first epoch
// that does have weight.
func (l *Ledger) FinalizeNext() (*Epoch, error) {
	if l.nextToFinalize >= l.CurrentEpoch() {
		return nil, ErrInvalidEpoch
	}

	id := l.nextToFinalize
	totalWeight := l.weights.TotalVestedWeight()
	if totalWeight.Sign() == 0 {
		ep := &Epoch{ID: id, Skipped: true}
		l.epochs[id] = ep
		l.nextToFinalize++
		l.logger.Sugar().Infow("epoch skipped, no vested weight",
			zap.Uint64("epoch", id),
		)
		return ep, nil
	}

	emission, err := l.source.ClaimEmission()
	if err != nil {
		return nil, errors.Wrap(err, "emission draw failed")
	}
	if emission == nil || emission.Sign() == 0 {
		return nil, ErrNoEmissionsAvailable
	}

	ep := &Epoch{
		ID:            id,
		TotalEmission: new(big.Int).Set(emission),
		TotalWeight:   totalWeight,
		FinalizedAt:   l.clock.Now(),
		Minted:        big.NewInt(0),
	}
	l.epochs[id] = ep
	l.nextToFinalize++

	l.logger.Sugar().Infow("epoch finalized",
		zap.Uint64("epoch", id),
		zap.String("totalEmission", ep.TotalEmission.String()),
		zap.String("totalWeight", ep.TotalWeight.String()),
	)
	return ep, nil
}

// FinalizeBatch finalizes up to count pending epochs. A zero emission draw
// stops the batch silently so progress already made in this call survives;
// zero-weight epochs are skipped and do not count against the stop.
func (l *Ledger) FinalizeBatch(count int) (int, error) {
	finalized := 0
	for i := 0; i < count; i++ {
		_, err := l.FinalizeNext()
		if errors.Is(err, ErrInvalidEpoch) || errors.Is(err, ErrNoEmissionsAvailable) {
			return finalized, nil
		}
		if err != nil {
			return finalized, err
		}
		finalized++
	}
	return finalized, nil
}

// Epoch returns the record for an epoch id, or nil if the epoch has neither
// finalized nor been skipped.
func (l *Ledger) Epoch(id uint64) *Epoch {
	return l.epochs[id]
}

// AddMinted bumps an epoch's running minted total. The claim processor calls
// this before any token leaves the engine.
func (l *Ledger) AddMinted(id uint64, amount *big.Int) error {
	ep := l.epochs[id]
	if !ep.Finalized() {
		return ErrEpochNotFinalized
	}
	ep.Minted.Add(ep.Minted, amount)
	return nil
}

// PendingCount is how many epochs are waiting to be finalized.
func (l *Ledger) PendingCount() uint64 {
	current := l.CurrentEpoch()
	if l.nextToFinalize >= current {
		return 0
	}
	return current - l.nextToFinalize
}

// TimeToNextEpoch is the remaining duration of the current epoch window.
func (l *Ledger) TimeToNextEpoch() time.Duration {
	elapsed := l.clock.Now().Sub(l.distributionStart)
	if elapsed < 0 {
		return -elapsed
	}
	return l.epochDuration - (elapsed % l.epochDuration)
}

// NextToFinalize exposes the finalization cursor.
func (l *Ledger) NextToFinalize() uint64 {
	return l.nextToFinalize
}

// DistributionStart exposes the epoch-numbering anchor.
func (l *Ledger) DistributionStart() time.Time {
	return l.distributionStart
}

// EpochDuration exposes the fixed window length.
func (l *Ledger) EpochDuration() time.Duration {
	return l.epochDuration
}
