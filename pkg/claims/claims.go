// Package claims computes and settles a participant's proportional share of
// a finalized epoch's emission, based solely on their snapshot.
package claims

import (
	"math/big"

	"github.com/meridian-labs/emissions-engine/internal/types/numbers"
	"github.com/meridian-labs/emissions-engine/pkg/epochLedger"
	"github.com/meridian-labs/emissions-engine/pkg/positionLedger"
	"github.com/meridian-labs/emissions-engine/pkg/snapshotStore"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrUserNotEligible     = errors.New("no snapshot for participant in this epoch")
	ErrSlippageExceeded    = errors.New("claimable amount below requested minimum")
	ErrArrayLengthMismatch = errors.New("epochs and minimums length mismatch")
)

// TokenMinter is the fungible-ledger mint hook, restricted to this engine's
// authority on the token side.
type TokenMinter interface {
	Mint(to string, amount *big.Int) error
}

// PositionDistribution records how much of a claim landed on one position.
type PositionDistribution struct {
	PositionID uint64
	Amount     *big.Int
}

// Result is the outcome of a single-epoch claim. A zero Amount with no
// error means the claim no-opped (unfinalized epoch, already claimed).
type Result struct {
	Epoch         uint64
	Amount        *big.Int
	Distributions []PositionDistribution
}

// Processor settles claims.
type Processor struct {
	logger    *zap.Logger
	ledger    *positionLedger.Ledger
	epochs    *epochLedger.Ledger
	snapshots *snapshotStore.Store
	minter    TokenMinter

	// epoch -> participant -> claimed
	claimed map[uint64]map[string]bool
}

func NewProcessor(
	ledger *positionLedger.Ledger,
	epochs *epochLedger.Ledger,
	snapshots *snapshotStore.Store,
	minter TokenMinter,
	l *zap.Logger,
) *Processor {
	return &Processor{
		logger:    l,
		ledger:    ledger,
		epochs:    epochs,
		snapshots: snapshots,
		minter:    minter,
		claimed:   make(map[uint64]map[string]bool),
	}
}

// Claim settles one epoch for one participant.
//
// The claimed flag and the epoch's minted counter are both set before the
// mint call, so a re-entrant mint callback observes a fully claimed state;
// if the mint itself fails both are unwound and the claim can be retried.
// The share is capped at the epoch's remaining headroom so rounding across
// many claimants can never over-distribute, and the last snapshotted
// position absorbs the per-position rounding remainder so the distribution
// sums to the minted amount exactly.
func (p *Processor) Claim(epoch uint64, participant string, minAmount *big.Int) (*Result, error) {
	zero := &Result{Epoch: epoch, Amount: big.NewInt(0)}

	ep := p.epochs.Epoch(epoch)
	if !ep.Finalized() {
		return zero, nil
	}
	if p.HasClaimed(epoch, participant) {
		return zero, nil
	}

	snap := p.snapshots.Get(epoch, participant)
	if snap == nil {
		return nil, ErrUserNotEligible
	}
	if snap.TotalWeight.Sign() == 0 {
		return zero, nil
	}

	share := numbers.ProportionalShare(ep.TotalEmission, snap.TotalWeight, ep.TotalWeight)

	headroom := new(big.Int).Sub(ep.TotalEmission, ep.Minted)
	if share.Cmp(headroom) > 0 {
		share.Set(headroom)
	}

	if minAmount != nil && minAmount.Sign() > 0 && share.Cmp(minAmount) < 0 {
		return nil, errors.Wrapf(ErrSlippageExceeded, "share %s < min %s", share, minAmount)
	}

	p.markClaimed(epoch, participant)
	if err := p.epochs.AddMinted(epoch, share); err != nil {
		p.unmarkClaimed(epoch, participant)
		return nil, err
	}

	if share.Sign() == 0 {
		return zero, nil
	}

	// A mint failure unwinds both marks; the share stays claimable.
	if err := p.minter.Mint(participant, share); err != nil {
		p.unmarkClaimed(epoch, participant)
		_ = p.epochs.AddMinted(epoch, new(big.Int).Neg(share))
		return nil, errors.Wrap(err, "mint failed")
	}

	distributions := p.distribute(participant, snap, share)

	p.logger.Sugar().Infow("claim processed",
		zap.Uint64("epoch", epoch),
		zap.String("participant", participant),
		zap.String("amount", share.String()),
	)
	return &Result{Epoch: epoch, Amount: share, Distributions: distributions}, nil
}

// distribute splits the minted share across the snapshotted positions in
// proportion to their sub-weights, last position taking the remainder.
func (p *Processor) distribute(participant string, snap *snapshotStore.Snapshot, share *big.Int) []PositionDistribution {
	distributions := make([]PositionDistribution, 0, len(snap.Positions))
	allocated := big.NewInt(0)
	for i, pw := range snap.Positions {
		var amount *big.Int
		if i == len(snap.Positions)-1 {
			amount = new(big.Int).Sub(share, allocated)
		} else {
			amount = numbers.ProportionalShare(share, pw.Weight, snap.TotalWeight)
		}
		allocated.Add(allocated, amount)
		p.ledger.AddDistributed(participant, pw.PositionID, amount)
		distributions = append(distributions, PositionDistribution{
			PositionID: pw.PositionID,
			Amount:     amount,
		})
	}
	return distributions
}

// ClaimMultiple settles each epoch in the list independently. Epochs that
// no-op or lack a snapshot are skipped; one epoch's zero result never fails
// the batch.
func (p *Processor) ClaimMultiple(epochs []uint64, participant string) (*big.Int, []*Result, error) {
	return p.ClaimMultipleWithSlippage(epochs, nil, participant)
}

// ClaimMultipleWithSlippage is ClaimMultiple with a per-epoch minimum. The
// minimums slice must match the epochs slice; a slippage violation fails
// the batch since the caller asked for that exact bound.
func (p *Processor) ClaimMultipleWithSlippage(epochs []uint64, minAmounts []*big.Int, participant string) (*big.Int, []*Result, error) {
	if minAmounts != nil && len(minAmounts) != len(epochs) {
		return nil, nil, ErrArrayLengthMismatch
	}

	total := big.NewInt(0)
	results := make([]*Result, 0, len(epochs))
	for i, epoch := range epochs {
		var min *big.Int
		if minAmounts != nil {
			min = minAmounts[i]
		}
		res, err := p.Claim(epoch, participant, min)
		if errors.Is(err, ErrUserNotEligible) {
			results = append(results, &Result{Epoch: epoch, Amount: big.NewInt(0)})
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		total.Add(total, res.Amount)
		results = append(results, res)
	}
	return total, results, nil
}

// HasClaimed reports whether the participant already claimed the epoch.
func (p *Processor) HasClaimed(epoch uint64, participant string) bool {
	byParticipant, ok := p.claimed[epoch]
	if !ok {
		return false
	}
	return byParticipant[participant]
}

func (p *Processor) unmarkClaimed(epoch uint64, participant string) {
	if byParticipant, ok := p.claimed[epoch]; ok {
		delete(byParticipant, participant)
	}
}

func (p *Processor) markClaimed(epoch uint64, participant string) {
	byParticipant, ok := p.claimed[epoch]
	if !ok {
		byParticipant = make(map[string]bool)
		p.claimed[epoch] = byParticipant
	}
	byParticipant[participant] = true
}
