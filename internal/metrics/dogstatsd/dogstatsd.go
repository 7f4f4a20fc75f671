package dogstatsd

import (
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/meridian-labs/emissions-engine/internal/metrics/metricsTypes"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const sampleRate = 1.0

type DogStatsdMetricsClient struct {
	logger *zap.Logger
	client statsd.ClientInterface
}

func NewDogStatsdMetricsClient(url string, l *zap.Logger) (*DogStatsdMetricsClient, error) {
	client, err := statsd.New(url, statsd.WithNamespace("emissions_engine."))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create statsd client")
	}
	return &DogStatsdMetricsClient{
		logger: l,
		client: client,
	}, nil
}

func formatLabels(labels []metricsTypes.MetricsLabel) []string {
	tags := make([]string, 0, len(labels))
	for _, label := range labels {
		tags = append(tags, fmt.Sprintf("%s:%s", label.Name, label.Value))
	}
	return tags
}

func (dsc *DogStatsdMetricsClient) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) error {
	return dsc.client.Count(name, int64(value), formatLabels(labels), sampleRate)
}

func (dsc *DogStatsdMetricsClient) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) error {
	return dsc.client.Gauge(name, value, formatLabels(labels), sampleRate)
}

func (dsc *DogStatsdMetricsClient) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) error {
	return dsc.client.Timing(name, value, formatLabels(labels), sampleRate)
}

func (dsc *DogStatsdMetricsClient) Flush() {
	if err := dsc.client.Flush(); err != nil {
		dsc.logger.Sugar().Warnw("Failed to flush statsd client", zap.Error(err))
	}
}
