// Package core provides the Pijaz SDK types for turning workflows into
// authorized render URLs.
//
// Pijaz renders images from workflows. A render request must carry an access
// token obtained from the API server; tokens expire, so the SDK caches one
// per product and refreshes it shortly before the server would reject it.
//
// # ServerManager
//
// The primary entry point is [ServerManager], which wraps a [Transport] and
// adds credentials, request ids, bounded retries and token handling:
//
//	manager, err := core.NewServerManager(httpapi.New(),
//	    core.DefaultConfig(os.Getenv("PIJAZ_APP_ID"), os.Getenv("PIJAZ_API_KEY")),
//	    core.WithLogger(logger),
//	)
//
// [ServerManager.SendAPICommand] issues raw API commands. Transport failures
// are re-issued immediately with the same request_id until
// [Config].MaxAttempts tries have been made; rejections are returned at once.
//
// # Product
//
// A [Product] is a workflow plus its render parameters:
//
//	product := core.NewProduct(manager, "hello-world",
//	    core.WithPropertyDefaults(map[string]any{"message": "Hello"}),
//	)
//	product.SetRenderParameter("message", "Hi there")
//	u, err := product.GenerateURL(ctx, nil)
//
// Parameters equal to their registered default are not stored and never
// reach the render server. Changing the workflow drops the cached token.
//
// # Error Handling
//
// The package defines sentinel errors for the failure classes:
//   - [ErrTransport]: connection failure, timeout or non-2xx status (retried)
//   - [ErrRejected]: the API server answered with a non-zero result_num
//   - [ErrMalformedResponse]: the body was not a result envelope
//   - [ErrWorkflowRequired]: a token was needed but no workflow was set
//   - [ErrInvalidConfig]: NewServerManager got an unusable [Config]
//
// Use errors.Is to classify, and errors.As with [*CommandError] for the
// command name, request id and result_num:
//
//	var ce *core.CommandError
//	if errors.As(err, &ce) && errors.Is(err, core.ErrRejected) {
//	    log.Printf("%s rejected: %s", ce.Command, ce.Message)
//	}
//
// # Telemetry
//
// Implement [TelemetryHook] to observe every attempt of every command.
// Events never carry the API key or parameter values.
//
// # Thread Safety
//
// [ServerManager], [Registry] and [Product] are safe for concurrent use.
// Two goroutines rendering the same product with an expired token may both
// request a token; the last one stored wins.
package core
