package render

import (
	"context"
	"errors"
	"net/http"

	"github.com/pijaz/pijaz-go/core"
)

// Handler returns an http.Handler that serves renders of product. Query
// parameters of the incoming request are passed as additional render
// parameters for that request only.
func (f *Fetcher) Handler(product URLGenerator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.ServeHTTPFor(w, r, product)
	})
}

// ServeHTTPFor serves one render of product for r, writing an error
// response when the render cannot be produced.
func (f *Fetcher) ServeHTTPFor(w http.ResponseWriter, r *http.Request, product URLGenerator) {
	err := f.Serve(r.Context(), w, product, QueryParams(r))
	if err == nil {
		return
	}
	if IsStreamError(err) {
		f.log.Warn().Err(err).Msg("render stream interrupted")
		return
	}

	status := StatusFor(err)
	f.log.Error().Err(err).Int("status", status).Msg("render failed")
	http.Error(w, http.StatusText(status), status)
}

// QueryParams returns the first value of every query parameter of r.
func QueryParams(r *http.Request) map[string]any {
	q := r.URL.Query()
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]any, len(q))
	for k, v := range q {
		out[k] = v[0]
	}
	return out
}

// StatusFor maps a render error to the HTTP status reported to clients.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrWorkflowRequired):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrRejected):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrTransport), errors.Is(err, core.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
