// Package metrics fans metric writes out to every configured sink
// (prometheus, dogstatsd).
package metrics

import (
	"time"

	"github.com/meridian-labs/emissions-engine/internal/config"
	"github.com/meridian-labs/emissions-engine/internal/metrics/dogstatsd"
	"github.com/meridian-labs/emissions-engine/internal/metrics/metricsTypes"
	"github.com/meridian-labs/emissions-engine/internal/metrics/prometheus"
	"go.uber.org/zap"
)

type MetricsSink struct {
	logger  *zap.Logger
	clients []metricsTypes.IMetricsClient
}

// InitMetricsSinksFromConfig builds the metrics clients the config enables.
func InitMetricsSinksFromConfig(cfg *config.Config, l *zap.Logger) ([]metricsTypes.IMetricsClient, error) {
	clients := make([]metricsTypes.IMetricsClient, 0)

	if cfg.PrometheusConfig.Enabled {
		promClient, err := prometheus.NewPrometheusMetricsClient(&prometheus.PrometheusMetricsConfig{
			Metrics: metricsTypes.MetricTypes,
		}, l)
		if err != nil {
			return nil, err
		}
		clients = append(clients, promClient)
	}

	if cfg.DatadogStatsdConfig.Enabled {
		statsdClient, err := dogstatsd.NewDogStatsdMetricsClient(cfg.DatadogStatsdConfig.Url, l)
		if err != nil {
			return nil, err
		}
		clients = append(clients, statsdClient)
	}

	return clients, nil
}

func NewMetricsSink(l *zap.Logger, clients []metricsTypes.IMetricsClient) *MetricsSink {
	return &MetricsSink{
		logger:  l,
		clients: clients,
	}
}

func (ms *MetricsSink) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) {
	for _, client := range ms.clients {
		if err := client.Incr(name, labels, value); err != nil {
			ms.logger.Sugar().Warnw("metrics incr failed", zap.String("name", name), zap.Error(err))
		}
	}
}

func (ms *MetricsSink) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) {
	for _, client := range ms.clients {
		if err := client.Gauge(name, value, labels); err != nil {
			ms.logger.Sugar().Warnw("metrics gauge failed", zap.String("name", name), zap.Error(err))
		}
	}
}

func (ms *MetricsSink) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) {
	for _, client := range ms.clients {
		if err := client.Timing(name, value, labels); err != nil {
			ms.logger.Sugar().Warnw("metrics timing failed", zap.String("name", name), zap.Error(err))
		}
	}
}

func (ms *MetricsSink) Flush() {
	for _, client := range ms.clients {
		client.Flush()
	}
}
