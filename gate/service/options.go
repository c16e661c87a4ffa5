package service

import (
	"log/slog"

	"k8s.io/utils/clock"

	"github.com/wricardo/verifygate/gate/config"
	"github.com/wricardo/verifygate/gate/metrics"
)

// Option configures the verification service
type Option func(*verificationServiceImpl)

// WithClock replaces the real clock, mainly for tests
func WithClock(clk clock.WithTicker) Option {
	return func(s *verificationServiceImpl) {
		s.clock = clk
	}
}

// WithConfig sets the initial configuration (defaults otherwise)
func WithConfig(cfg *config.Config) Option {
	return func(s *verificationServiceImpl) {
		s.initial = cfg
	}
}

// WithNotifier sets where user notices are delivered
func WithNotifier(n Notifier) Option {
	return func(s *verificationServiceImpl) {
		s.notifier = n
	}
}

// WithDisconnector sets how users are forcibly disconnected
func WithDisconnector(d Disconnector) Option {
	return func(s *verificationServiceImpl) {
		s.disconnector = d
	}
}

// WithActionRunner sets how deferred actions are executed
func WithActionRunner(r ActionRunner) Option {
	return func(s *verificationServiceImpl) {
		s.runner = r
	}
}

// WithEventSinks adds lifecycle event subscribers
func WithEventSinks(sinks ...EventSink) Option {
	return func(s *verificationServiceImpl) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *verificationServiceImpl) {
		s.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *verificationServiceImpl) {
		s.logger = l
	}
}
