package snapshotStore

import (
	"math/big"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/meridian-labs/emissions-engine/internal/logger"
	"github.com/meridian-labs/emissions-engine/internal/types/numbers"
	"github.com/meridian-labs/emissions-engine/pkg/epochLedger"
	"github.com/meridian-labs/emissions-engine/pkg/positionLedger"
	"github.com/meridian-labs/emissions-engine/pkg/vesting"
	"github.com/stretchr/testify/assert"
)

type fixedSource struct{}

func (fixedSource) ClaimEmission() (*big.Int, error) {
	return numbers.MustFromTokens("1000"), nil
}

func setup(t *testing.T) (*Store, *positionLedger.Ledger, *epochLedger.Ledger, *clockwork.FakeClock) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ledger := positionLedger.NewLedger(&positionLedger.LedgerConfig{
		MaxLockMonths:    60,
		EarlyUnlockDelay: 30 * 24 * time.Hour,
	}, vesting.NewDefaultCurve(), clock, l)

	// The weight source reads the live ledger so finalized epochs carry a
	// meaningful population total.
	epochs := epochLedger.NewLedger(clock.Now(), 24*time.Hour, liveWeight{ledger, clock}, fixedSource{}, clock, l)
	return NewStore(ledger, epochs, clock, l), ledger, epochs, clock
}

type liveWeight struct {
	ledger *positionLedger.Ledger
	clock  clockwork.Clock
}

func (w liveWeight) TotalVestedWeight() *big.Int {
	total := big.NewInt(0)
	for _, participant := range w.ledger.Participants() {
		total.Add(total, w.ledger.VestedWeight(participant, w.clock.Now()))
	}
	return total
}

func Test_Take(t *testing.T) {
	t.Run("Should reject snapshots for unfinalized epochs", func(t *testing.T) {
		store, ledger, _, _ := setup(t)

		_, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
		assert.Nil(t, err)

		_, _, err = store.Take(0, "alice")
		assert.ErrorIs(t, err, ErrEpochNotFinalized)
	})

	t.Run("Should capture per-position weights after finalization", func(t *testing.T) {
		store, ledger, epochs, clock := setup(t)

		_, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("3"), 12)
		assert.Nil(t, err)
		_, err = ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("7"), 12)
		assert.Nil(t, err)

		clock.Advance(11 * 24 * time.Hour)
		_, err = epochs.FinalizeNext()
		assert.Nil(t, err)

		snap, created, err := store.Take(0, "alice")
		assert.Nil(t, err)
		assert.True(t, created)
		assert.Equal(t, numbers.MustFromTokens("12.4"), snap.TotalWeight)
		assert.Equal(t, 2, len(snap.Positions))
		assert.Equal(t, numbers.MustFromTokens("3.72"), snap.Positions[0].Weight)
		assert.Equal(t, numbers.MustFromTokens("8.68"), snap.Positions[1].Weight)
	})

	t.Run("Should be idempotent", func(t *testing.T) {
		store, ledger, epochs, clock := setup(t)

		_, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
		assert.Nil(t, err)
		clock.Advance(11 * 24 * time.Hour)
		_, err = epochs.FinalizeNext()
		assert.Nil(t, err)

		first, created, err := store.Take(0, "alice")
		assert.Nil(t, err)
		assert.True(t, created)

		clock.Advance(24 * time.Hour)
		second, created, err := store.Take(0, "alice")
		assert.Nil(t, err)
		assert.False(t, created)
		assert.Same(t, first, second)
	})

	t.Run("Should reject participants whose first lock postdates finalization", func(t *testing.T) {
		store, ledger, epochs, clock := setup(t)

		_, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
		assert.Nil(t, err)
		clock.Advance(11 * 24 * time.Hour)
		_, err = epochs.FinalizeNext()
		assert.Nil(t, err)

		_, err = ledger.OpenPosition("late-bob", "reserve", numbers.MustFromTokens("1"), 12)
		assert.Nil(t, err)

		_, _, err = store.Take(0, "late-bob")
		assert.ErrorIs(t, err, ErrUserNotEligible)
	})

	t.Run("Should reject participants with no locks at all", func(t *testing.T) {
		store, ledger, epochs, clock := setup(t)

		_, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
		assert.Nil(t, err)
		clock.Advance(11 * 24 * time.Hour)
		_, err = epochs.FinalizeNext()
		assert.Nil(t, err)

		_, _, err = store.Take(0, "stranger")
		assert.ErrorIs(t, err, ErrUserNotEligible)
	})

	t.Run("Zero vested weight should leave the participant un-snapshotted", func(t *testing.T) {
		store, ledger, epochs, clock := setup(t)

		// Alice carries the population weight; bob locks right before
		// finalization and is eligible but entirely unvested.
		_, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
		assert.Nil(t, err)
		clock.Advance(24 * time.Hour)
		_, err = ledger.OpenPosition("bob", "reserve", numbers.MustFromTokens("1"), 12)
		assert.Nil(t, err)
		clock.Advance(10 * 24 * time.Hour)
		_, err = epochs.FinalizeNext()
		assert.Nil(t, err)

		// Request an early unlock so bob's position vests nothing even
		// after the warmup has passed.
		_, err = ledger.RequestEarlyUnlock("bob", 1)
		assert.Nil(t, err)

		snap, created, err := store.Take(0, "bob")
		assert.Nil(t, err)
		assert.False(t, created)
		assert.Nil(t, snap)
		assert.Nil(t, store.Get(0, "bob"))

		// Cancelling restores the weight and a retry succeeds.
		_, err = ledger.CancelEarlyUnlock("bob", 1)
		assert.Nil(t, err)

		snap, created, err = store.Take(0, "bob")
		assert.Nil(t, err)
		assert.True(t, created)
		assert.NotNil(t, snap)
	})
}

func Test_Get(t *testing.T) {
	store, _, _, _ := setup(t)
	assert.Nil(t, store.Get(3, "nobody"))
}
