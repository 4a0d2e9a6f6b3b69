package dispatch

import (
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Config holds dispatch behaviour switches.
type Config struct {
	// PropagateSendErrors returns SendMessage failures to the queue so its
	// retry policy applies. When false, failures are logged and swallowed.
	PropagateSendErrors bool `mapstructure:"propagate_send_errors"`
	// BackgroundTimeout bounds each follow-up task started by RemoveJob.
	BackgroundTimeout time.Duration `mapstructure:"background_timeout"`
}

const defaultBackgroundTimeout = 30 * time.Second

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig applies cfg.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.propagateSendErrors = cfg.PropagateSendErrors
		if cfg.BackgroundTimeout > 0 {
			o.backgroundTimeout = cfg.BackgroundTimeout
		}
	}
}

// WithPropagateSendErrors toggles send error propagation.
func WithPropagateSendErrors(enabled bool) Option {
	return func(o *Orchestrator) { o.propagateSendErrors = enabled }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}
