// Package vesting implements the weight curve applied to locked positions:
// a duration bonus fixed at lock time, and a warmup-then-ramp vesting
// schedule evaluated against the clock.
package vesting

import (
	"math/big"
	"time"
)

// MonthDuration is the length of one lock month.
const MonthDuration = 30 * 24 * time.Hour

const millisDenominator = 1000

// Curve holds the vesting parameters. All evaluation is pure integer math;
// weights never lose precision.
type Curve struct {
	// WarmupPeriod is the initial window during which a position carries
	// zero vested weight regardless of size.
	WarmupPeriod time.Duration
	// RampPeriod is the window after warmup over which vested weight
	// climbs linearly from zero to the full raw weight.
	RampPeriod time.Duration
	// BonusPerMonthMillis is the raw-weight bonus per lock month in
	// thousandths (20 == +2%/month).
	BonusPerMonthMillis int64
	// BonusCapMonths caps the bonus accrual; longer locks extend the lock
	// but add no further bonus.
	BonusCapMonths uint64
}

// NewDefaultCurve returns the production curve: 7 day warmup, 3 day ramp,
// 2% bonus per month capped at 24 months.
func NewDefaultCurve() *Curve {
	return &Curve{
		WarmupPeriod:        7 * 24 * time.Hour,
		RampPeriod:          3 * 24 * time.Hour,
		BonusPerMonthMillis: 20,
		BonusCapMonths:      24,
	}
}

// RawWeight computes the duration-bonused weight of a lock:
//
//	weight = amount * (1000 + min(months, cap) * bonusPerMonthMillis) / 1000
//
// The result is fixed at position creation and never recomputed.
func (c *Curve) RawWeight(amount *big.Int, months uint64) *big.Int {
	bonusMonths := months
	if bonusMonths > c.BonusCapMonths {
		bonusMonths = c.BonusCapMonths
	}
	multiplier := big.NewInt(millisDenominator + int64(bonusMonths)*c.BonusPerMonthMillis)

	w := new(big.Int).Mul(amount, multiplier)
	return w.Div(w, big.NewInt(millisDenominator))
}

// VestedWeight evaluates the vested fraction of rawWeight at the given
// instant. A position with a pending early-unlock request vests nothing;
// its contribution was already excised from the aggregate totals.
func (c *Curve) VestedWeight(rawWeight *big.Int, createdAt time.Time, pendingEarlyUnlock bool, now time.Time) *big.Int {
	if pendingEarlyUnlock {
		return big.NewInt(0)
	}

	elapsed := now.Sub(createdAt)
	if elapsed < c.WarmupPeriod {
		return big.NewInt(0)
	}

	ramped := elapsed - c.WarmupPeriod
	if ramped >= c.RampPeriod {
		return new(big.Int).Set(rawWeight)
	}

	w := new(big.Int).Mul(rawWeight, big.NewInt(int64(ramped)))
	return w.Div(w, big.NewInt(int64(c.RampPeriod)))
}

// UnlockTime returns the instant at which a lock of the given duration,
// created at createdAt, becomes redeemable through the normal path.
func (c *Curve) UnlockTime(createdAt time.Time, months uint64) time.Time {
	return createdAt.Add(time.Duration(months) * MonthDuration)
}
