// Package shutdown centralizes signal handling for graceful teardown.
package shutdown

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// CreateGracefulShutdownChannel returns a channel that closes on SIGINT or
// SIGTERM.
func CreateGracefulShutdownChannel() chan os.Signal {
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)
	return gracefulShutdown
}

// ListenForShutdown blocks until a shutdown signal arrives, runs the
// handler, then waits the grace period before returning.
func ListenForShutdown(
	gracefulShutdown chan os.Signal,
	done chan bool,
	handler func(),
	gracePeriod time.Duration,
	l *zap.Logger,
) {
	<-gracefulShutdown
	l.Sugar().Infow("shutdown signal received")

	handler()

	time.Sleep(gracePeriod)
	done <- true
}
