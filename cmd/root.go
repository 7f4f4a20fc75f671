package cmd

import (
	"os"
	"strings"

	"github.com/meridian-labs/emissions-engine/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "emissions-engine",
	Short: "Runs the reserve-backed emission distribution engine",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	initConfig(rootCmd)

	rootCmd.PersistentFlags().Bool(config.Debug, false, `"true" or "false"`)

	rootCmd.PersistentFlags().String(config.DatabaseHost, "", `PostgreSQL host (empty runs the in-memory journal)`)
	rootCmd.PersistentFlags().Int(config.DatabasePort, 5432, `PostgreSQL port`)
	rootCmd.PersistentFlags().String(config.DatabaseUser, "emissions", `PostgreSQL username`)
	rootCmd.PersistentFlags().String(config.DatabasePassword, "", `PostgreSQL password`)
	rootCmd.PersistentFlags().String(config.DatabaseDbName, "", `PostgreSQL database name`)

	rootCmd.PersistentFlags().Int(config.ApiHttpPort, 7200, `http api port`)
	rootCmd.PersistentFlags().Bool(config.ApiEnableCors, true, `Enable CORS on the http api`)

	rootCmd.PersistentFlags().Bool(config.PrometheusEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().Int(config.PrometheusPort, 2112, `The port to run the prometheus server on`)

	rootCmd.PersistentFlags().Bool(config.DatadogStatsdEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().String(config.DatadogStatsdUrl, "", `e.g. "localhost:8125"`)

	rootCmd.PersistentFlags().String(config.EngineDistributionStart, "", `Epoch zero start, RFC3339 (empty anchors at process start)`)
	rootCmd.PersistentFlags().Duration(config.EngineEpochDuration, 0, `Length of one emission epoch`)
	rootCmd.PersistentFlags().Duration(config.EngineWarmupPeriod, 0, `Period after lock during which vested weight is zero`)
	rootCmd.PersistentFlags().Duration(config.EngineRampPeriod, 0, `Linear ramp from zero to full weight after warmup`)
	rootCmd.PersistentFlags().Duration(config.EngineEarlyUnlockDelay, 0, `Delay between an early unlock request and withdrawability`)
	rootCmd.PersistentFlags().Int(config.EngineMaxLockMonths, 60, `Maximum lock duration in months`)
	rootCmd.PersistentFlags().Int(config.EngineBonusPerMonth, 20, `Per-month lock bonus in thousandths`)
	rootCmd.PersistentFlags().Int(config.EngineBonusCapMonths, 24, `Months after which the lock bonus stops growing`)
	rootCmd.PersistentFlags().String(config.EngineLockAuthority, "", `Address allowed to administer snapshots alongside participants`)
	rootCmd.PersistentFlags().String(config.EngineUnlockAuthority, "", `Address allowed to close positions on behalf of participants`)

	rootCmd.PersistentFlags().Int(config.CacheBatchSize, 100, `Participants processed per cache update invocation`)
	rootCmd.PersistentFlags().Duration(config.CacheValidityWindow, 0, `How long a completed cache total stays fresh`)
	rootCmd.PersistentFlags().Int(config.CacheSafetyCeiling, 500, `Population below which the cache falls back to a full scan`)
	rootCmd.PersistentFlags().Int(config.CacheWorkerCount, 8, `Worker pool size for cache batch summation`)

	rootCmd.PersistentFlags().Bool(config.KeeperEnabled, true, `Run the background keeper`)
	rootCmd.PersistentFlags().String(config.KeeperCronSpec, "0 * * * * *", `Keeper tick schedule (cron with seconds)`)
	rootCmd.PersistentFlags().Int(config.KeeperCacheBudget, 10, `Max cache update invocations per keeper tick`)
	rootCmd.PersistentFlags().Int(config.KeeperFinalizeBatch, 5, `Max epochs finalized per keeper tick`)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runVersionCmd)

	runCmd.PersistentFlags().String(config.SimulatorEmissionPerEpoch, "1000", `Simulated emission draw per epoch, in whole tokens`)
	runCmd.PersistentFlags().String(config.SimulatorEmissionBudget, "", `Total simulated emission budget in whole tokens (empty is unlimited)`)
	runCmd.PersistentFlags().StringSlice(config.SimulatorAdapters, []string{"reserve"}, `Active reserve adapters for the simulated registry`)

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfig(cmd *cobra.Command) {
	viper.SetEnvPrefix(config.ENV_PREFIX)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.AutomaticEnv()
}
