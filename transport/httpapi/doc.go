// Package httpapi is the net/http transport for talking to the Pijaz API server.
//
//	manager, err := core.NewServerManager(
//	    httpapi.New(
//	        httpapi.WithTimeout(10*time.Second),
//	        httpapi.WithRateLimit(5, 1),
//	        httpapi.WithCircuitBreaker(httpapi.DefaultBreakerConfig()),
//	    ),
//	    core.DefaultConfig(appID, apiKey),
//	)
//
// Non-2xx statuses, connection failures and per-request timeouts are
// reported as errors wrapping core.ErrTransport, which the ServerManager
// retries. Cancellation of the caller's context is returned unchanged.
package httpapi
