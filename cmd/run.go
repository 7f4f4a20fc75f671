package cmd

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/meridian-labs/emissions-engine/internal/config"
	"github.com/meridian-labs/emissions-engine/internal/logger"
	"github.com/meridian-labs/emissions-engine/internal/metrics"
	"github.com/meridian-labs/emissions-engine/internal/metrics/prometheus"
	"github.com/meridian-labs/emissions-engine/internal/types/numbers"
	"github.com/meridian-labs/emissions-engine/internal/version"
	"github.com/meridian-labs/emissions-engine/pkg/apiServer"
	"github.com/meridian-labs/emissions-engine/pkg/engine"
	"github.com/meridian-labs/emissions-engine/pkg/keeper"
	"github.com/meridian-labs/emissions-engine/pkg/shutdown"
	"github.com/meridian-labs/emissions-engine/pkg/simulator"
	"github.com/meridian-labs/emissions-engine/pkg/storage"
	"github.com/meridian-labs/emissions-engine/pkg/storage/memory"
	pgStorage "github.com/meridian-labs/emissions-engine/pkg/storage/postgres"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the emission engine with its keeper and http api",
	RunE: func(cmd *cobra.Command, args []string) error {
		initRunCmd(cmd)
		cfg := config.NewConfig()

		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
		if err != nil {
			return err
		}
		defer l.Sync() //nolint:errcheck

		l.Sugar().Infow("emissions engine",
			zap.String("version", version.GetVersion()),
			zap.String("commit", version.GetCommit()),
		)

		metricsClients, err := metrics.InitMetricsSinksFromConfig(cfg, l)
		if err != nil {
			l.Sugar().Fatalw("Failed to setup metrics clients", zap.Error(err))
		}
		sink := metrics.NewMetricsSink(l, metricsClients)

		var journal storage.Sink
		if cfg.HasDatabase() {
			grm, err := pgStorage.NewGormFromDbConfig(&cfg.DatabaseConfig, l)
			if err != nil {
				l.Sugar().Fatalw("Failed to setup postgres journal", zap.Error(err))
			}
			journal = pgStorage.NewSink(grm, l)
			l.Sugar().Infow("journaling to postgres",
				zap.String("host", cfg.DatabaseConfig.Host),
				zap.String("dbName", cfg.DatabaseConfig.DbName),
			)
		} else {
			journal = memory.NewSink()
			l.Sugar().Infow("journaling in memory; set database flags to persist events")
		}

		perEpoch, err := numbers.FromTokens(cfg.SimulatorConfig.EmissionPerEpoch)
		if err != nil {
			l.Sugar().Fatalw("Invalid simulator emission per epoch", zap.Error(err))
		}
		budget, err := parseOptionalTokens(cfg.SimulatorConfig.EmissionBudget)
		if err != nil {
			l.Sugar().Fatalw("Invalid simulator emission budget", zap.Error(err))
		}

		eng := engine.NewEngine(cfg, &engine.Dependencies{
			Vault:          simulator.NewVault(),
			Registry:       simulator.NewAdapterRegistry(cfg.SimulatorConfig.Adapters...),
			EmissionSource: simulator.NewEmissionSource(perEpoch, budget),
			Minter:         simulator.NewMinter(),
			Sink:           journal,
			MetricsSink:    sink,
		}, clockwork.NewRealClock(), l)

		var kpr *keeper.Keeper
		if cfg.KeeperConfig.Enabled {
			kpr = keeper.NewKeeper(&cfg.KeeperConfig, eng, l)
			if err := kpr.Start(); err != nil {
				l.Sugar().Fatalw("Failed to start keeper", zap.Error(err))
			}
		}

		api := apiServer.NewApiServer(&cfg.ApiConfig, eng, sink, l)

		g, ctx := errgroup.WithContext(context.Background())
		g.Go(api.Start)

		promChan := make(chan bool)
		if cfg.PrometheusConfig.Enabled {
			pServer := prometheus.NewPrometheusServer(&prometheus.PrometheusServerConfig{
				Port: cfg.PrometheusConfig.Port,
			}, l)
			if err := pServer.Start(promChan); err != nil {
				l.Sugar().Fatalw("Failed to start prometheus server", zap.Error(err))
			}
		}

		l.Sugar().Info("Started emissions engine")

		gracefulShutdown := shutdown.CreateGracefulShutdownChannel()

		done := make(chan bool)
		go shutdown.ListenForShutdown(gracefulShutdown, done, func() {
			l.Sugar().Info("Shutting down...")
			if kpr != nil {
				kpr.Stop()
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
			defer cancel()
			if err := api.Shutdown(shutdownCtx); err != nil {
				l.Sugar().Errorw("api shutdown failed", zap.Error(err))
			}
			if cfg.PrometheusConfig.Enabled {
				promChan <- true
			}
			sink.Flush()
		}, time.Second*5, l)

		select {
		case <-done:
		case <-ctx.Done():
		}
		return g.Wait()
	},
}

// parseOptionalTokens parses a whole-token amount, treating empty as
// unset.
func parseOptionalTokens(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return numbers.FromTokens(s)
}

func initRunCmd(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(f.Name); err != nil {
			fmt.Printf("Failed to bind env '%s' - %+v\n", f.Name, err)
		}
	})
}
