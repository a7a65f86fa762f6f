package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/pijaz/pijaz-go/core"
)

// Client is the net/http implementation of core.Transport.
// GET commands carry their parameters in the query string, POST commands
// in a form-encoded body.
// Client is safe for concurrent use.
type Client struct {
	config  Config
	breaker *gobreaker.CircuitBreaker
}

// New creates an HTTP transport with the given options.
func New(opts ...Option) *Client {
	cfg := Config{
		HTTPClient: http.DefaultClient,
		UserAgent:  DefaultUserAgent,
		Logger:     zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	c := &Client{config: cfg}
	if cfg.Breaker != nil {
		c.breaker = newBreaker("pijaz-api", *cfg.Breaker, cfg.Logger)
	}
	return c
}

// Do sends one API command.
func (c *Client) Do(ctx context.Context, req *core.APIRequest) (*core.APIResponse, error) {
	command := commandName(req.URL)

	if c.config.Limiter != nil {
		if err := c.config.Limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, newNetworkError(command, err)
		}
	}

	if c.breaker == nil {
		return c.exchange(ctx, command, req)
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.exchange(ctx, command, req)
	})
	if err != nil {
		if isBreakerOpen(err) {
			return nil, newBreakerError(command, err)
		}
		return nil, err
	}
	return out.(*core.APIResponse), nil
}

// exchange performs the HTTP round trip. A per-request timeout is a
// transport failure; cancellation of the caller's context is returned as is.
func (c *Client) exchange(parent context.Context, command string, req *core.APIRequest) (*core.APIResponse, error) {
	ctx := parent
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, c.config.Timeout)
		defer cancel()
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", core.ErrInvalidCommand, err)
	}

	resp, err := c.config.HTTPClient.Do(httpReq)
	if err != nil {
		if parentErr := parent.Err(); parentErr != nil {
			return nil, parentErr
		}
		return nil, newNetworkError(command, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newNetworkError(command, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, normalizeError(command, resp.StatusCode, body)
	}

	return &core.APIResponse{Status: resp.StatusCode, Body: body}, nil
}

func (c *Client) buildRequest(ctx context.Context, req *core.APIRequest) (*http.Request, error) {
	values := make(url.Values, len(req.Params))
	for k, v := range req.Params {
		values.Set(k, v)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var (
		httpReq *http.Request
		err     error
	)
	switch method {
	case http.MethodGet:
		target := req.URL
		if len(values) > 0 {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + values.Encode()
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	case http.MethodPost:
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, req.URL, strings.NewReader(values.Encode()))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		return nil, fmt.Errorf("unsupported method %q", req.Method)
	}
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}
	for key, vals := range c.config.Headers {
		for _, v := range vals {
			httpReq.Header.Add(key, v)
		}
	}
	return httpReq, nil
}

// commandName recovers the command from an API URL for error messages.
func commandName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	return path.Base(u.Path)
}

// Compile-time check that Client implements core.Transport.
var _ core.Transport = (*Client)(nil)
