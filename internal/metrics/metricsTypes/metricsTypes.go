package metricsTypes

import "time"

type IMetricsClient interface {
	Incr(name string, labels []MetricsLabel, value float64) error
	Gauge(name string, value float64, labels []MetricsLabel) error
	Timing(name string, value time.Duration, labels []MetricsLabel) error
	Flush()
}

type MetricsLabel struct {
	Name  string
	Value string
}

type MetricsType string

var (
	MetricsType_Incr   MetricsType = "incr"
	MetricsType_Gauge  MetricsType = "gauge"
	MetricsType_Timing MetricsType = "timing"
)

type MetricsTypeConfig struct {
	Name   string
	Labels []string
}

var (
	Metric_Incr_PositionsOpened        = "positions.opened"
	Metric_Incr_PositionsClosed        = "positions.closed"
	Metric_Incr_EarlyUnlockRequests    = "positions.earlyUnlockRequests"
	Metric_Incr_EarlyUnlockCancels     = "positions.earlyUnlockCancels"
	Metric_Incr_EpochsFinalized        = "epochs.finalized"
	Metric_Incr_EpochsSkipped          = "epochs.skipped"
	Metric_Incr_SnapshotsTaken         = "snapshots.taken"
	Metric_Incr_ClaimsProcessed        = "claims.processed"
	Metric_Incr_CacheRefreshesComplete = "cache.refreshesCompleted"
	Metric_Incr_HttpRequest            = "api.http.request"

	Metric_Gauge_TotalRawWeight     = "weights.totalRaw"
	Metric_Gauge_CachedVestedWeight = "weights.cachedVested"
	Metric_Gauge_Participants       = "participants.count"
	Metric_Gauge_PendingEpochs      = "epochs.pending"

	Metric_Timing_ClaimDuration        = "claims.duration"
	Metric_Timing_CacheAdvanceDuration = "cache.advance.duration"
	Metric_Timing_HttpDuration         = "api.http.duration"
)

var MetricTypes = map[MetricsType][]MetricsTypeConfig{
	MetricsType_Incr: {
		MetricsTypeConfig{
			Name:   Metric_Incr_PositionsOpened,
			Labels: []string{"adapter"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_PositionsClosed,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_EarlyUnlockRequests,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_EarlyUnlockCancels,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_EpochsFinalized,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_EpochsSkipped,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_SnapshotsTaken,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_ClaimsProcessed,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_CacheRefreshesComplete,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name: Metric_Incr_HttpRequest,
			Labels: []string{
				"method",
				"path",
				"status_code",
			},
		},
	},
	MetricsType_Gauge: {
		MetricsTypeConfig{
			Name:   Metric_Gauge_TotalRawWeight,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Gauge_CachedVestedWeight,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Gauge_Participants,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Gauge_PendingEpochs,
			Labels: []string{},
		},
	},
	MetricsType_Timing: {
		MetricsTypeConfig{
			Name:   Metric_Timing_ClaimDuration,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Timing_CacheAdvanceDuration,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name: Metric_Timing_HttpDuration,
			Labels: []string{
				"method",
				"path",
				"status_code",
			},
		},
	},
}
