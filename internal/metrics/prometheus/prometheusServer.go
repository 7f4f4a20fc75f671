package prometheus

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type PrometheusServerConfig struct {
	Port int
}

// PrometheusServer exposes the default registry on /metrics.
type PrometheusServer struct {
	logger *zap.Logger
	config *PrometheusServerConfig
	server *http.Server
}

func NewPrometheusServer(config *PrometheusServerConfig, l *zap.Logger) *PrometheusServer {
	return &PrometheusServer{
		logger: l,
		config: config,
	}
}

// Start launches the metrics server and returns immediately. The quit
// channel shuts the server down.
func (ps *PrometheusServer) Start(quitChan chan bool) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	ps.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", ps.config.Port),
		Handler: mux,
	}

	go func() {
		ps.logger.Sugar().Infow("prometheus server listening", zap.Int("port", ps.config.Port))
		if err := ps.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ps.logger.Sugar().Errorw("prometheus server exited", zap.Error(err))
		}
	}()

	go func() {
		<-quitChan
		if err := ps.server.Shutdown(context.Background()); err != nil {
			ps.logger.Sugar().Errorw("prometheus server shutdown failed", zap.Error(err))
		}
	}()

	return nil
}
