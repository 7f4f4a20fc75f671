package positionLedger

import (
	"math/big"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/meridian-labs/emissions-engine/internal/logger"
	"github.com/meridian-labs/emissions-engine/internal/types/numbers"
	"github.com/meridian-labs/emissions-engine/pkg/vesting"
	"github.com/stretchr/testify/assert"
)

func setup(t *testing.T) (*Ledger, *clockwork.FakeClock) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ledger := NewLedger(&LedgerConfig{
		MaxLockMonths:    60,
		EarlyUnlockDelay: 30 * 24 * time.Hour,
	}, vesting.NewDefaultCurve(), clock, l)
	return ledger, clock
}

// sumRawWeights recomputes the global total from scratch for comparison
// against the incrementally maintained one.
func sumRawWeights(l *Ledger) *big.Int {
	total := big.NewInt(0)
	for _, participant := range l.Participants() {
		for _, p := range l.ActivePositions(participant) {
			if p.HasEarlyUnlockRequest() {
				continue
			}
			total.Add(total, p.RawWeight)
		}
	}
	return total
}

func Test_OpenPosition(t *testing.T) {
	t.Run("Should record the position and bump both weight totals", func(t *testing.T) {
		ledger, _ := setup(t)

		p, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("10"), 12)
		assert.Nil(t, err)
		assert.Equal(t, uint64(1), p.ID)
		assert.Equal(t, numbers.MustFromTokens("12.4"), p.RawWeight)
		assert.Equal(t, p.RawWeight, ledger.RawWeight("alice"))
		assert.Equal(t, p.RawWeight, ledger.GlobalRawWeight())
	})

	t.Run("Should stamp first-lock time only once", func(t *testing.T) {
		ledger, clock := setup(t)

		_, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 1)
		assert.Nil(t, err)
		first, ok := ledger.FirstLockAt("alice")
		assert.True(t, ok)

		clock.Advance(time.Hour)
		_, err = ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 1)
		assert.Nil(t, err)

		again, ok := ledger.FirstLockAt("alice")
		assert.True(t, ok)
		assert.Equal(t, first, again)
		assert.Equal(t, 1, ledger.ParticipantCount())
	})

	t.Run("Should reject a zero amount", func(t *testing.T) {
		ledger, _ := setup(t)

		_, err := ledger.OpenPosition("alice", "reserve", big.NewInt(0), 12)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("Should reject lock durations out of range", func(t *testing.T) {
		ledger, _ := setup(t)

		_, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 0)
		assert.ErrorIs(t, err, ErrInvalidLockDuration)

		_, err = ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 61)
		assert.ErrorIs(t, err, ErrInvalidLockDuration)
	})
}

func Test_ClosePosition(t *testing.T) {
	t.Run("Should reject closing a position that is still locked", func(t *testing.T) {
		ledger, _ := setup(t)

		p, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
		assert.Nil(t, err)

		_, err = ledger.ClosePosition("alice", p.ID)
		assert.ErrorIs(t, err, ErrPositionStillLocked)
	})

	t.Run("Should close after the lock expires and decrement totals", func(t *testing.T) {
		ledger, clock := setup(t)

		p, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 1)
		assert.Nil(t, err)

		clock.Advance(30 * 24 * time.Hour)
		closed, err := ledger.ClosePosition("alice", p.ID)
		assert.Nil(t, err)
		assert.Equal(t, p.ID, closed.ID)
		assert.Equal(t, big.NewInt(0), ledger.RawWeight("alice"))
		assert.Equal(t, big.NewInt(0), ledger.GlobalRawWeight())
		assert.Nil(t, ledger.Position("alice", p.ID))
	})

	t.Run("Should close through a matured early unlock without double-decrementing", func(t *testing.T) {
		ledger, clock := setup(t)

		p, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
		assert.Nil(t, err)

		_, err = ledger.RequestEarlyUnlock("alice", p.ID)
		assert.Nil(t, err)
		assert.Equal(t, big.NewInt(0), ledger.GlobalRawWeight())

		clock.Advance(30 * 24 * time.Hour)
		_, err = ledger.ClosePosition("alice", p.ID)
		assert.Nil(t, err)
		assert.Equal(t, big.NewInt(0), ledger.GlobalRawWeight())
	})

	t.Run("Should clear the distributed counter on close", func(t *testing.T) {
		ledger, clock := setup(t)

		p, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 1)
		assert.Nil(t, err)
		ledger.AddDistributed("alice", p.ID, big.NewInt(500))
		assert.Equal(t, big.NewInt(500), ledger.DistributedAmount("alice", p.ID))

		clock.Advance(30 * 24 * time.Hour)
		_, err = ledger.ClosePosition("alice", p.ID)
		assert.Nil(t, err)
		assert.Equal(t, big.NewInt(0), ledger.DistributedAmount("alice", p.ID))
	})

	t.Run("Should swap-and-pop the active array", func(t *testing.T) {
		ledger, clock := setup(t)

		p1, _ := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 1)
		p2, _ := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("2"), 1)
		p3, _ := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("3"), 1)

		clock.Advance(30 * 24 * time.Hour)
		_, err := ledger.ClosePosition("alice", p1.ID)
		assert.Nil(t, err)

		active := ledger.ActivePositions("alice")
		assert.Equal(t, 2, len(active))
		assert.Equal(t, p3.ID, active[0].ID)
		assert.Equal(t, p2.ID, active[1].ID)
	})

	t.Run("Should return not found for unknown ids", func(t *testing.T) {
		ledger, _ := setup(t)

		_, err := ledger.ClosePosition("alice", 42)
		assert.ErrorIs(t, err, ErrPositionNotFound)
	})
}

func Test_ReinstatePosition(t *testing.T) {
	t.Run("Should restore the position, totals and distributed counter", func(t *testing.T) {
		ledger, clock := setup(t)

		p, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 1)
		assert.Nil(t, err)
		ledger.AddDistributed("alice", p.ID, big.NewInt(500))
		rawBefore := ledger.GlobalRawWeight()

		clock.Advance(30 * 24 * time.Hour)
		closed, err := ledger.ClosePosition("alice", p.ID)
		assert.Nil(t, err)

		ledger.ReinstatePosition(closed, big.NewInt(500))
		assert.NotNil(t, ledger.Position("alice", p.ID))
		assert.Equal(t, rawBefore, ledger.GlobalRawWeight())
		assert.Equal(t, rawBefore, sumRawWeights(ledger))
		assert.Equal(t, big.NewInt(500), ledger.DistributedAmount("alice", p.ID))

		// The close stays retryable.
		_, err = ledger.ClosePosition("alice", p.ID)
		assert.Nil(t, err)
		assert.Equal(t, big.NewInt(0), ledger.GlobalRawWeight())
	})

	t.Run("Should not re-add weight for an early-unlock-pending position", func(t *testing.T) {
		ledger, clock := setup(t)

		p, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
		assert.Nil(t, err)
		_, err = ledger.RequestEarlyUnlock("alice", p.ID)
		assert.Nil(t, err)

		clock.Advance(30 * 24 * time.Hour)
		closed, err := ledger.ClosePosition("alice", p.ID)
		assert.Nil(t, err)

		ledger.ReinstatePosition(closed, nil)
		assert.NotNil(t, ledger.Position("alice", p.ID))
		assert.Equal(t, big.NewInt(0), ledger.GlobalRawWeight())
	})
}

func Test_EarlyUnlock(t *testing.T) {
	t.Run("Should excise and restore weight on request and cancel", func(t *testing.T) {
		ledger, _ := setup(t)

		p, err := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
		assert.Nil(t, err)
		raw := new(big.Int).Set(p.RawWeight)

		_, err = ledger.RequestEarlyUnlock("alice", p.ID)
		assert.Nil(t, err)
		assert.Equal(t, big.NewInt(0), ledger.RawWeight("alice"))
		assert.Equal(t, big.NewInt(0), ledger.GlobalRawWeight())

		_, err = ledger.CancelEarlyUnlock("alice", p.ID)
		assert.Nil(t, err)
		assert.Equal(t, raw, ledger.RawWeight("alice"))
		assert.Equal(t, raw, ledger.GlobalRawWeight())
	})

	t.Run("Should reject a second request while one is pending", func(t *testing.T) {
		ledger, _ := setup(t)

		p, _ := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
		_, err := ledger.RequestEarlyUnlock("alice", p.ID)
		assert.Nil(t, err)

		_, err = ledger.RequestEarlyUnlock("alice", p.ID)
		assert.ErrorIs(t, err, ErrEarlyUnlockAlreadyRequested)
	})

	t.Run("Should reject a request once the position is already unlockable", func(t *testing.T) {
		ledger, clock := setup(t)

		p, _ := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 1)
		clock.Advance(30 * 24 * time.Hour)

		_, err := ledger.RequestEarlyUnlock("alice", p.ID)
		assert.ErrorIs(t, err, ErrPositionAlreadyUnlockable)
	})

	t.Run("Should reject cancelling when nothing is pending", func(t *testing.T) {
		ledger, _ := setup(t)

		p, _ := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
		_, err := ledger.CancelEarlyUnlock("alice", p.ID)
		assert.ErrorIs(t, err, ErrNoEarlyUnlockRequest)
	})

	t.Run("Should not close before the early unlock delay matures", func(t *testing.T) {
		ledger, clock := setup(t)

		p, _ := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
		_, err := ledger.RequestEarlyUnlock("alice", p.ID)
		assert.Nil(t, err)

		clock.Advance(29 * 24 * time.Hour)
		_, err = ledger.ClosePosition("alice", p.ID)
		assert.ErrorIs(t, err, ErrPositionStillLocked)
	})
}

func Test_WeightConservation(t *testing.T) {
	t.Run("Global total should equal the recomputed sum across arbitrary operations", func(t *testing.T) {
		ledger, clock := setup(t)

		p1, _ := ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("10"), 12)
		_, _ = ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("3"), 24)
		p3, _ := ledger.OpenPosition("bob", "reserve", numbers.MustFromTokens("7"), 6)
		_, _ = ledger.OpenPosition("carol", "reserve", numbers.MustFromTokens("1"), 1)

		assert.Equal(t, sumRawWeights(ledger), ledger.GlobalRawWeight())

		_, _ = ledger.RequestEarlyUnlock("alice", p1.ID)
		assert.Equal(t, sumRawWeights(ledger), ledger.GlobalRawWeight())

		_, _ = ledger.CancelEarlyUnlock("alice", p1.ID)
		assert.Equal(t, sumRawWeights(ledger), ledger.GlobalRawWeight())

		_, _ = ledger.RequestEarlyUnlock("bob", p3.ID)
		clock.Advance(31 * 24 * time.Hour)
		_, _ = ledger.ClosePosition("bob", p3.ID)
		assert.Equal(t, sumRawWeights(ledger), ledger.GlobalRawWeight())
	})
}

func Test_VestedWeightAggregation(t *testing.T) {
	t.Run("Should sum vested weight across active positions only", func(t *testing.T) {
		ledger, clock := setup(t)

		_, _ = ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
		clock.Advance(5 * 24 * time.Hour)
		_, _ = ledger.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)

		// 15 days in, both positions are past warmup plus ramp.
		clock.Advance(10 * 24 * time.Hour)
		vested := ledger.VestedWeight("alice", clock.Now())
		assert.Equal(t, numbers.MustFromTokens("2.48"), vested)
	})
}
