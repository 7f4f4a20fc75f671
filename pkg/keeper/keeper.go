// Package keeper runs the permissionless maintenance the engine is designed
// around: driving the paginated weight-cache refresh and catching epoch
// finalization up to the clock. Anyone could perform these calls; the
// keeper just makes sure somebody does.
package keeper

import (
	"github.com/meridian-labs/emissions-engine/internal/config"
	"github.com/meridian-labs/emissions-engine/pkg/engine"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Keeper struct {
	logger *zap.Logger
	cfg    *config.KeeperConfig
	engine *engine.Engine
	cron   *cron.Cron
}

func NewKeeper(cfg *config.KeeperConfig, eng *engine.Engine, l *zap.Logger) *Keeper {
	return &Keeper{
		logger: l,
		cfg:    cfg,
		engine: eng,
	}
}

// Start schedules the keeper tick. The cron spec includes seconds, matching
// the default of one tick per minute.
func (k *Keeper) Start() error {
	k.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	if _, err := k.cron.AddFunc(k.cfg.CronSpec, k.Tick); err != nil {
		return errors.Wrapf(err, "invalid keeper cron spec %q", k.cfg.CronSpec)
	}
	k.cron.Start()
	k.logger.Sugar().Infow("keeper started", zap.String("cronSpec", k.cfg.CronSpec))
	return nil
}

func (k *Keeper) Stop() {
	if k.cron != nil {
		k.cron.Stop()
	}
	k.logger.Sugar().Infow("keeper stopped")
}

// Tick performs one maintenance round: advance the cache up to the
// configured invocation budget, then finalize pending epochs.
func (k *Keeper) Tick() {
	for i := 0; i < k.cfg.CacheBudget; i++ {
		completed, processed, err := k.engine.AdvanceCacheUpdate()
		if err != nil {
			k.logger.Sugar().Warnw("cache advance failed", zap.Error(err))
			break
		}
		if completed || processed == 0 {
			break
		}
	}

	finalized, err := k.engine.FinalizeEpochBatch(k.cfg.FinalizeBatch)
	if err != nil {
		k.logger.Sugar().Warnw("epoch finalization failed", zap.Error(err))
	} else if finalized > 0 {
		k.logger.Sugar().Infow("epochs finalized", zap.Int("count", finalized))
	}

	k.engine.PublishGauges()
}
