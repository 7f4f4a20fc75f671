package engine

import (
	"math/big"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/meridian-labs/emissions-engine/internal/config"
	"github.com/meridian-labs/emissions-engine/internal/logger"
	"github.com/meridian-labs/emissions-engine/internal/types/numbers"
	"github.com/meridian-labs/emissions-engine/pkg/simulator"
	"github.com/meridian-labs/emissions-engine/pkg/storage"
	"github.com/meridian-labs/emissions-engine/pkg/storage/memory"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

const (
	unlockAuthority = "0xunlock"
	lockAuthority   = "0xlock"
)

func testConfig(clock clockwork.Clock) *config.Config {
	return &config.Config{
		EngineConfig: config.EngineConfig{
			DistributionStart:   clock.Now(),
			EpochDuration:       24 * time.Hour,
			WarmupPeriod:        7 * 24 * time.Hour,
			RampPeriod:          3 * 24 * time.Hour,
			EarlyUnlockDelay:    30 * 24 * time.Hour,
			MaxLockMonths:       60,
			BonusPerMonthMillis: 20,
			BonusCapMonths:      24,
			LockAuthority:       lockAuthority,
			UnlockAuthority:     unlockAuthority,
		},
		CacheConfig: config.CacheConfig{
			BatchSize:      100,
			ValidityWindow: time.Hour,
			SafetyCeiling:  500,
			WorkerCount:    4,
		},
	}
}

type fixture struct {
	engine *Engine
	vault  *simulator.Vault
	minter *simulator.Minter
	sink   *memory.Sink
	clock  *clockwork.FakeClock
}

func setup(t *testing.T) *fixture {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	vault := simulator.NewVault()
	minter := simulator.NewMinter()
	sink := memory.NewSink()

	eng := NewEngine(testConfig(clock), &Dependencies{
		Vault:          vault,
		Registry:       simulator.NewAdapterRegistry("reserve"),
		EmissionSource: simulator.NewEmissionSource(numbers.MustFromTokens("1000"), nil),
		Minter:         minter,
		Sink:           sink,
	}, clock, l)

	return &fixture{engine: eng, vault: vault, minter: minter, sink: sink, clock: clock}
}

func Test_LockToClaimFlow(t *testing.T) {
	f := setup(t)

	_, err := f.engine.OpenPosition("alice", "reserve", numbers.MustFromTokens("300"), 12)
	assert.Nil(t, err)
	_, err = f.engine.OpenPosition("bob", "reserve", numbers.MustFromTokens("700"), 12)
	assert.Nil(t, err)
	assert.Equal(t, numbers.MustFromTokens("300"), f.vault.Escrowed("alice"))

	// Past warmup plus ramp; epoch 0 has elapsed.
	f.clock.Advance(11 * 24 * time.Hour)

	ep, err := f.engine.FinalizeNextEpoch()
	assert.Nil(t, err)
	assert.False(t, ep.Skipped)
	assert.Equal(t, numbers.MustFromTokens("1000"), ep.TotalEmission)
	assert.Equal(t, numbers.MustFromTokens("1240"), ep.TotalWeight)

	snap, err := f.engine.TakeSnapshot("alice", 0, "alice")
	assert.Nil(t, err)
	assert.Equal(t, numbers.MustFromTokens("372"), snap.TotalWeight)
	_, err = f.engine.TakeSnapshot("bob", 0, "bob")
	assert.Nil(t, err)

	res, err := f.engine.Claim("alice", 0, nil)
	assert.Nil(t, err)
	assert.Equal(t, numbers.MustFromTokens("300"), res.Amount)
	res, err = f.engine.Claim("bob", 0, nil)
	assert.Nil(t, err)
	assert.Equal(t, numbers.MustFromTokens("700"), res.Amount)

	assert.Equal(t, numbers.MustFromTokens("300"), f.minter.Minted("alice"))
	assert.Equal(t, numbers.MustFromTokens("700"), f.minter.Minted("bob"))
	assert.Equal(t, numbers.MustFromTokens("1000"), f.minter.TotalMinted())
	assert.True(t, f.engine.HasClaimed(0, "alice"))
}

func Test_OpenPositionGuards(t *testing.T) {
	t.Run("Should reject inactive adapters", func(t *testing.T) {
		f := setup(t)

		_, err := f.engine.OpenPosition("alice", "unknown", numbers.MustFromTokens("1"), 12)
		assert.ErrorIs(t, err, ErrAdapterNotActive)
	})

	t.Run("Should reject non-conforming transfers", func(t *testing.T) {
		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
		assert.Nil(t, err)

		clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
		eng := NewEngine(testConfig(clock), &Dependencies{
			Vault:          &shortingVault{},
			Registry:       simulator.NewAdapterRegistry("reserve"),
			EmissionSource: simulator.NewEmissionSource(numbers.MustFromTokens("1000"), nil),
			Minter:         simulator.NewMinter(),
			Sink:           memory.NewSink(),
		}, clock, l)

		_, err = eng.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
		assert.ErrorIs(t, err, ErrTransferAmountMismatch)
		assert.Nil(t, eng.Position("alice", 1))
	})

	t.Run("Should normalize caller addresses", func(t *testing.T) {
		f := setup(t)

		_, err := f.engine.OpenPosition("  ALICE  ", "reserve", numbers.MustFromTokens("1"), 12)
		assert.Nil(t, err)
		assert.NotNil(t, f.engine.Position("alice", 1))
	})
}

// shortingVault reports receiving one base unit less than requested.
type shortingVault struct{}

func (v *shortingVault) TransferIn(from string, amount *big.Int) (*big.Int, error) {
	return new(big.Int).Sub(amount, big.NewInt(1)), nil
}

func (v *shortingVault) TransferOut(to string, amount *big.Int) error {
	return nil
}

func Test_ClosePositionAuthorization(t *testing.T) {
	f := setup(t)

	_, err := f.engine.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 1)
	assert.Nil(t, err)
	f.clock.Advance(31 * 24 * time.Hour)

	err = f.engine.ClosePosition("alice", "alice", 1)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	err = f.engine.ClosePosition(unlockAuthority, "alice", 1)
	assert.Nil(t, err)
	assert.Equal(t, big.NewInt(0), f.vault.Escrowed("alice"))
}

// stuckVault escrows normally but refuses outbound transfers until
// released.
type stuckVault struct {
	*simulator.Vault
	stuck bool
}

func (v *stuckVault) TransferOut(to string, amount *big.Int) error {
	if v.stuck {
		return errors.New("reserve bridge unavailable")
	}
	return v.Vault.TransferOut(to, amount)
}

func Test_ClosePositionSurvivesFailedReserveReturn(t *testing.T) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	vault := &stuckVault{Vault: simulator.NewVault(), stuck: true}
	eng := NewEngine(testConfig(clock), &Dependencies{
		Vault:          vault,
		Registry:       simulator.NewAdapterRegistry("reserve"),
		EmissionSource: simulator.NewEmissionSource(numbers.MustFromTokens("1000"), nil),
		Minter:         simulator.NewMinter(),
		Sink:           memory.NewSink(),
	}, clock, l)

	_, err = eng.OpenPosition("alice", "reserve", numbers.MustFromTokens("10"), 1)
	assert.Nil(t, err)
	rawBefore := eng.GlobalRawWeight()
	clock.Advance(31 * 24 * time.Hour)

	err = eng.ClosePosition(unlockAuthority, "alice", 1)
	assert.NotNil(t, err)

	// The deposit record, its weight and the escrow all survive the
	// failed return.
	assert.NotNil(t, eng.Position("alice", 1))
	assert.Equal(t, rawBefore, eng.GlobalRawWeight())
	assert.Equal(t, numbers.MustFromTokens("10"), vault.Escrowed("alice"))

	// Once the vault recovers the close goes through.
	vault.stuck = false
	assert.Nil(t, eng.ClosePosition(unlockAuthority, "alice", 1))
	assert.Nil(t, eng.Position("alice", 1))
	assert.Equal(t, big.NewInt(0), vault.Escrowed("alice"))
}

func Test_SnapshotAuthorization(t *testing.T) {
	f := setup(t)

	_, err := f.engine.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
	assert.Nil(t, err)
	f.clock.Advance(11 * 24 * time.Hour)
	_, err = f.engine.FinalizeNextEpoch()
	assert.Nil(t, err)

	_, err = f.engine.TakeSnapshot("bob", 0, "alice")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = f.engine.TakeSnapshot(lockAuthority, 0, "alice")
	assert.Nil(t, err)
}

// reentrantVault calls back into the engine from inside TransferIn and
// records what it got.
type reentrantVault struct {
	engine *Engine
	inner  error
}

func (v *reentrantVault) TransferIn(from string, amount *big.Int) (*big.Int, error) {
	v.inner = v.engine.ResetCacheProgress()
	return new(big.Int).Set(amount), nil
}

func (v *reentrantVault) TransferOut(to string, amount *big.Int) error {
	return nil
}

func Test_ReentrancyGuard(t *testing.T) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	assert.Nil(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	vault := &reentrantVault{}
	eng := NewEngine(testConfig(clock), &Dependencies{
		Vault:          vault,
		Registry:       simulator.NewAdapterRegistry("reserve"),
		EmissionSource: simulator.NewEmissionSource(numbers.MustFromTokens("1000"), nil),
		Minter:         simulator.NewMinter(),
		Sink:           memory.NewSink(),
	}, clock, l)
	vault.engine = eng

	// The outer operation succeeds; the nested call fails fast instead of
	// deadlocking.
	_, err = eng.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
	assert.Nil(t, err)
	assert.ErrorIs(t, vault.inner, ErrReentrantCall)

	// The guard releases once the outer call returns.
	assert.Nil(t, eng.ResetCacheProgress())
}

func Test_EpochSkipAndCache(t *testing.T) {
	f := setup(t)

	// No locks at all: epoch 0 skips without drawing emission.
	f.clock.Advance(24 * time.Hour)
	ep, err := f.engine.FinalizeNextEpoch()
	assert.Nil(t, err)
	assert.True(t, ep.Skipped)

	_, err = f.engine.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
	assert.Nil(t, err)
	f.clock.Advance(11 * 24 * time.Hour)

	completed, processed, err := f.engine.AdvanceCacheUpdate()
	assert.Nil(t, err)
	assert.True(t, completed)
	assert.Equal(t, 1, processed)
	assert.Equal(t, numbers.MustFromTokens("1.24"), f.engine.TotalVestedWeight())

	finalized, err := f.engine.FinalizeEpochBatch(100)
	assert.Nil(t, err)
	assert.Equal(t, 11, finalized)
}

func Test_JournalEvents(t *testing.T) {
	f := setup(t)

	_, err := f.engine.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
	assert.Nil(t, err)
	err = f.engine.RequestEarlyUnlock("alice", 1)
	assert.Nil(t, err)
	err = f.engine.CancelEarlyUnlock("alice", 1)
	assert.Nil(t, err)

	f.clock.Advance(11 * 24 * time.Hour)
	_, err = f.engine.FinalizeNextEpoch()
	assert.Nil(t, err)
	_, err = f.engine.TakeSnapshot("alice", 0, "alice")
	assert.Nil(t, err)
	_, err = f.engine.Claim("alice", 0, nil)
	assert.Nil(t, err)

	for _, kind := range []storage.EventKind{
		storage.EventPositionOpened,
		storage.EventEarlyUnlockRequested,
		storage.EventEarlyUnlockCancelled,
		storage.EventEpochFinalized,
		storage.EventSnapshotTaken,
		storage.EventClaimProcessed,
	} {
		assert.Equal(t, 1, len(f.sink.EventsOfKind(kind)), "expected exactly one %s event", kind)
	}

	opened := f.sink.EventsOfKind(storage.EventPositionOpened)[0]
	assert.Equal(t, "alice", opened.Participant)
	assert.Equal(t, uint64(1), opened.PositionID)
	assert.Equal(t, numbers.MustFromTokens("1").String(), opened.Amount)
}

func Test_ClaimMultipleThroughEngine(t *testing.T) {
	f := setup(t)

	_, err := f.engine.OpenPosition("alice", "reserve", numbers.MustFromTokens("1"), 12)
	assert.Nil(t, err)
	f.clock.Advance(11 * 24 * time.Hour)

	_, err = f.engine.FinalizeNextEpoch()
	assert.Nil(t, err)
	_, err = f.engine.FinalizeNextEpoch()
	assert.Nil(t, err)

	_, err = f.engine.TakeSnapshot("alice", 0, "alice")
	assert.Nil(t, err)
	// Epoch 1 is finalized but never snapshotted; the batch skips it.
	total, results, err := f.engine.ClaimMultiple("alice", []uint64{0, 1})
	assert.Nil(t, err)
	assert.Equal(t, 2, len(results))
	assert.Equal(t, numbers.MustFromTokens("1000"), total)
}
