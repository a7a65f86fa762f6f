package httpapi

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/pijaz/pijaz-go/core"
)

// BreakerConfig holds the configuration for the API server circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive transport failures that opens the circuit.
	MaxFailures int
	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration
	// MaxConcurrentRequests is the number of probes allowed while half-open.
	MaxConcurrentRequests int
}

// DefaultBreakerConfig returns a configuration suited to API server calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:           3,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 1,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.MaxFailures <= 0 {
		c.MaxFailures = def.MaxFailures
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = def.MaxConcurrentRequests
	}
	return c
}

func newBreaker(name string, cfg BreakerConfig, log zerolog.Logger) *gobreaker.CircuitBreaker {
	cfg = cfg.withDefaults()
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.MaxConcurrentRequests),
		Interval:    time.Minute,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.MaxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// Only transport failures say anything about server health.
			return err == nil || !errors.Is(err, core.ErrTransport)
		},
	})
}

// isBreakerOpen reports whether err came from an open or saturated breaker.
func isBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
