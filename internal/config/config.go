package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const ENV_PREFIX = "EMISSIONS_ENGINE"

// Flag/viper keys. Flags are kebab-case; viper keys are the same string with
// kebab segments converted to snake_case (see KebabToSnakeCase).
const (
	Debug = "debug"

	DatabaseHost     = "database.host"
	DatabasePort     = "database.port"
	DatabaseUser     = "database.user"
	DatabasePassword = "database.password"
	DatabaseDbName   = "database.db-name"

	ApiHttpPort   = "api.http-port"
	ApiEnableCors = "api.enable-cors"

	PrometheusEnabled = "prometheus.enabled"
	PrometheusPort    = "prometheus.port"

	DatadogStatsdEnabled = "datadog.statsd.enabled"
	DatadogStatsdUrl     = "datadog.statsd.url"

	EngineDistributionStart = "engine.distribution-start"
	EngineEpochDuration     = "engine.epoch-duration"
	EngineWarmupPeriod      = "engine.warmup-period"
	EngineRampPeriod        = "engine.ramp-period"
	EngineEarlyUnlockDelay  = "engine.early-unlock-delay"
	EngineMaxLockMonths     = "engine.max-lock-months"
	EngineBonusPerMonth     = "engine.bonus-per-month-millis"
	EngineBonusCapMonths    = "engine.bonus-cap-months"
	EngineLockAuthority     = "engine.lock-authority"
	EngineUnlockAuthority   = "engine.unlock-authority"

	CacheBatchSize      = "cache.batch-size"
	CacheValidityWindow = "cache.validity-window"
	CacheSafetyCeiling  = "cache.safety-ceiling"
	CacheWorkerCount    = "cache.worker-count"

	KeeperEnabled       = "keeper.enabled"
	KeeperCronSpec      = "keeper.cron-spec"
	KeeperCacheBudget   = "keeper.cache-budget"
	KeeperFinalizeBatch = "keeper.finalize-batch"

	SimulatorEmissionPerEpoch = "simulator.emission-per-epoch"
	SimulatorEmissionBudget   = "simulator.emission-budget"
	SimulatorAdapters         = "simulator.adapters"
)

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DbName   string
}

type ApiConfig struct {
	HttpPort   int
	EnableCors bool
}

type PrometheusConfig struct {
	Enabled bool
	Port    int
}

type DatadogStatsdConfig struct {
	Enabled bool
	Url     string
}

// EngineConfig carries the economic parameters of the emission engine.
type EngineConfig struct {
	// DistributionStart anchors epoch numbering.
	DistributionStart time.Time
	EpochDuration     time.Duration
	WarmupPeriod      time.Duration
	RampPeriod        time.Duration
	EarlyUnlockDelay  time.Duration
	MaxLockMonths     uint64
	// BonusPerMonthMillis is the per-month lock bonus in thousandths
	// (20 == +2% per month).
	BonusPerMonthMillis int64
	BonusCapMonths      uint64
	LockAuthority       string
	UnlockAuthority     string
}

type CacheConfig struct {
	BatchSize      int
	ValidityWindow time.Duration
	SafetyCeiling  int
	WorkerCount    int
}

type KeeperConfig struct {
	Enabled       bool
	CronSpec      string
	CacheBudget   int
	FinalizeBatch int
}

// SimulatorConfig configures the in-process collaborators the run command
// wires when no external integrations are provided. Token amounts are
// whole-token strings.
type SimulatorConfig struct {
	EmissionPerEpoch string
	EmissionBudget   string
	Adapters         []string
}

type Config struct {
	Debug               bool
	DatabaseConfig      DatabaseConfig
	ApiConfig           ApiConfig
	PrometheusConfig    PrometheusConfig
	DatadogStatsdConfig DatadogStatsdConfig
	EngineConfig        EngineConfig
	CacheConfig         CacheConfig
	KeeperConfig        KeeperConfig
	SimulatorConfig     SimulatorConfig
}

// NewConfig reads the current viper state into a Config, applying defaults
// for anything unset. Duration keys accept Go duration strings.
func NewConfig() *Config {
	return &Config{
		Debug: viper.GetBool(normalizeFlagName(Debug)),

		DatabaseConfig: DatabaseConfig{
			Host:     viper.GetString(normalizeFlagName(DatabaseHost)),
			Port:     intOrDefault(DatabasePort, 5432),
			User:     viper.GetString(normalizeFlagName(DatabaseUser)),
			Password: viper.GetString(normalizeFlagName(DatabasePassword)),
			DbName:   viper.GetString(normalizeFlagName(DatabaseDbName)),
		},

		ApiConfig: ApiConfig{
			HttpPort:   intOrDefault(ApiHttpPort, 7200),
			EnableCors: viper.GetBool(normalizeFlagName(ApiEnableCors)),
		},

		PrometheusConfig: PrometheusConfig{
			Enabled: viper.GetBool(normalizeFlagName(PrometheusEnabled)),
			Port:    intOrDefault(PrometheusPort, 2112),
		},

		DatadogStatsdConfig: DatadogStatsdConfig{
			Enabled: viper.GetBool(normalizeFlagName(DatadogStatsdEnabled)),
			Url:     viper.GetString(normalizeFlagName(DatadogStatsdUrl)),
		},

		EngineConfig: EngineConfig{
			DistributionStart:   parseTimeOrZero(viper.GetString(normalizeFlagName(EngineDistributionStart))),
			EpochDuration:       durationOrDefault(EngineEpochDuration, 24*time.Hour),
			WarmupPeriod:        durationOrDefault(EngineWarmupPeriod, 7*24*time.Hour),
			RampPeriod:          durationOrDefault(EngineRampPeriod, 3*24*time.Hour),
			EarlyUnlockDelay:    durationOrDefault(EngineEarlyUnlockDelay, 30*24*time.Hour),
			MaxLockMonths:       uint64(intOrDefault(EngineMaxLockMonths, 60)),
			BonusPerMonthMillis: int64(intOrDefault(EngineBonusPerMonth, 20)),
			BonusCapMonths:      uint64(intOrDefault(EngineBonusCapMonths, 24)),
			LockAuthority:       strings.ToLower(viper.GetString(normalizeFlagName(EngineLockAuthority))),
			UnlockAuthority:     strings.ToLower(viper.GetString(normalizeFlagName(EngineUnlockAuthority))),
		},

		CacheConfig: CacheConfig{
			BatchSize:      intOrDefault(CacheBatchSize, 100),
			ValidityWindow: durationOrDefault(CacheValidityWindow, time.Hour),
			SafetyCeiling:  intOrDefault(CacheSafetyCeiling, 500),
			WorkerCount:    intOrDefault(CacheWorkerCount, 8),
		},

		KeeperConfig: KeeperConfig{
			Enabled:       viper.GetBool(normalizeFlagName(KeeperEnabled)),
			CronSpec:      stringOrDefault(KeeperCronSpec, "0 * * * * *"),
			CacheBudget:   intOrDefault(KeeperCacheBudget, 10),
			FinalizeBatch: intOrDefault(KeeperFinalizeBatch, 5),
		},

		SimulatorConfig: SimulatorConfig{
			EmissionPerEpoch: stringOrDefault(SimulatorEmissionPerEpoch, "1000"),
			EmissionBudget:   viper.GetString(normalizeFlagName(SimulatorEmissionBudget)),
			Adapters:         stringSliceOrDefault(SimulatorAdapters, []string{"reserve"}),
		},
	}
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseConfig.Host != "" && c.DatabaseConfig.DbName != ""
}

// KebabToSnakeCase converts a kebab-cased flag name to the snake_cased key
// viper stores it under.
func KebabToSnakeCase(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

func normalizeFlagName(name string) string {
	return KebabToSnakeCase(name)
}

// The *OrDefault helpers fall back only when the key was never set, so an
// explicitly configured zero survives.

func intOrDefault(key string, def int) int {
	key = normalizeFlagName(key)
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	return def
}

func stringOrDefault(key string, def string) string {
	key = normalizeFlagName(key)
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return def
}

func stringSliceOrDefault(key string, def []string) []string {
	key = normalizeFlagName(key)
	if viper.IsSet(key) {
		return viper.GetStringSlice(key)
	}
	return def
}

func durationOrDefault(key string, def time.Duration) time.Duration {
	key = normalizeFlagName(key)
	if viper.IsSet(key) {
		return viper.GetDuration(key)
	}
	return def
}

func parseTimeOrZero(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(fmt.Sprintf("invalid %s: %v", EngineDistributionStart, err))
	}
	return t
}
