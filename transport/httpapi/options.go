package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config holds configuration for the HTTP transport.
type Config struct {
	// HTTPClient is the HTTP client to use. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Headers contains optional extra headers to include in requests.
	Headers http.Header

	// Timeout is the optional per-request timeout.
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// Limiter, when set, paces outgoing API commands.
	Limiter *rate.Limiter

	// Breaker, when set, fails commands fast while the API server is down.
	Breaker *BreakerConfig

	// Logger receives circuit state changes.
	Logger zerolog.Logger
}

// DefaultUserAgent identifies the SDK to the API server.
const DefaultUserAgent = "pijaz-go"

// Option configures the HTTP transport.
type Option func(*Config)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithHeader adds an extra header to include in requests.
func WithHeader(key, value string) Option {
	return func(c *Config) {
		if c.Headers == nil {
			c.Headers = make(http.Header)
		}
		c.Headers.Set(key, value)
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Config) {
		c.UserAgent = ua
	}
}

// WithRateLimit allows at most rps commands per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Config) {
		if burst < 1 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCircuitBreaker enables the circuit breaker.
func WithCircuitBreaker(cfg BreakerConfig) Option {
	return func(c *Config) {
		c.Breaker = &cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
