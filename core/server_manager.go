package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// ServerManager sends commands to a Pijaz API server and turns products into
// authorized render requests.
// ServerManager is safe for concurrent use across goroutines and products.
type ServerManager struct {
	cfg       Config
	transport Transport
	registry  *Registry
	telemetry TelemetryHook
	log       zerolog.Logger
	now       func() time.Time
}

// Option configures a ServerManager.
type Option func(*ServerManager)

// WithTelemetry sets the telemetry hook.
func WithTelemetry(h TelemetryHook) Option {
	return func(m *ServerManager) {
		if h != nil {
			m.telemetry = h
		}
	}
}

// WithLogger sets the logger. Defaults to a disabled logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *ServerManager) {
		m.log = l
	}
}

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(m *ServerManager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRegistry shares a request registry, mostly useful in tests.
func WithRegistry(r *Registry) Option {
	return func(m *ServerManager) {
		if r != nil {
			m.registry = r
		}
	}
}

// NewServerManager creates a ServerManager speaking through t.
// Zero-valued URLs, version, refresh fuzz and attempt count in cfg take the
// platform defaults, so a Config literal behaves like DefaultConfig.
func NewServerManager(t Transport, cfg Config, opts ...Option) (*ServerManager, error) {
	if t == nil {
		return nil, ErrNoTransport
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &ServerManager{
		cfg:       cfg,
		transport: t,
		registry:  NewRegistry(),
		telemetry: NoopTelemetryHook{},
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("component", "server_manager").Logger()
	m.log.Debug().Str("app_id", cfg.AppID).Str("api_key", cfg.APIKey.Hint()).
		Str("api_server", cfg.APIServerURL).Msg("server manager ready")
	return m, nil
}

// AppID returns the client application ID.
func (m *ServerManager) AppID() string { return m.cfg.AppID }

// APIKey returns the client API key, wrapped.
func (m *ServerManager) APIKey() Secret { return m.cfg.APIKey }

// APIServerURL returns the API server base URL.
func (m *ServerManager) APIServerURL() string { return m.cfg.APIServerURL }

// RenderServerURL returns the render server base URL.
func (m *ServerManager) RenderServerURL() string { return m.cfg.RenderServerURL }

// APIVersion returns the API version in use.
func (m *ServerManager) APIVersion() string { return m.cfg.APIVersion }

// Config returns a copy of the configuration.
func (m *ServerManager) Config() Config { return m.cfg }

// Registry exposes the in-flight request registry.
func (m *ServerManager) Registry() *Registry { return m.registry }

// SendAPICommand sends cmd to the API server and returns the info payload.
//
// Credentials and a request_id are added to the parameters. A command
// without request_id gets a fresh registry entry; a caller-supplied id is
// looked up and its attempt counter initialized if unset. Transport
// failures are re-issued immediately with the same request_id until
// Config.MaxAttempts tries have been made. Rejections (result_num != 0)
// and malformed bodies are returned after a single attempt.
func (m *ServerManager) SendAPICommand(ctx context.Context, cmd Command) (Info, error) {
	if err := cmd.validate(); err != nil {
		return nil, &CommandError{Command: cmd.Name, Message: err.Error(), Err: ErrInvalidCommand}
	}

	params := make(map[string]string, len(cmd.Params)+4)
	maps.Copy(params, cmd.Params)
	params[ParamAppID] = m.cfg.AppID
	params[ParamAPIKey] = m.cfg.APIKey.Expose()
	params[ParamAPIVersion] = m.cfg.APIVersion

	id := RequestID(params[ParamRequestID])
	if id == "" {
		id = m.registry.Create(PendingRequest{Attempts: 1})
		params[ParamRequestID] = string(id)
	} else if entry, ok := m.registry.Get(id); ok && entry.Attempts == 0 {
		m.registry.SetAttemptCount(id, 1)
	}

	req := &APIRequest{
		Method: cmd.method(),
		URL:    m.cfg.APIServerURL + cmd.Name,
		Params: params,
	}

	for {
		attempt := 1
		if entry, ok := m.registry.Get(id); ok && entry.Attempts > 0 {
			attempt = entry.Attempts
		}

		info, err := m.attempt(ctx, cmd.Name, id, attempt, req)
		if err == nil {
			m.registry.ClearAttemptCount(id)
			return info, nil
		}

		if !isRetryable(err) {
			m.registry.ClearAttemptCount(id)
			return nil, err
		}

		entry, ok := m.registry.Get(id)
		if !ok {
			// Cleaned up underneath us; nothing left to count retries against.
			m.log.Debug().Str("command", cmd.Name).Str("request_id", string(id)).
				Msg("request entry gone, not retrying")
			return nil, err
		}
		if entry.Attempts > 0 && entry.Attempts < m.cfg.MaxAttempts {
			m.registry.SetAttemptCount(id, entry.Attempts+1)
			m.log.Debug().Str("command", cmd.Name).Str("request_id", string(id)).
				Int("attempt", entry.Attempts+1).Err(err).Msg("retrying api command")
			continue
		}

		m.registry.ClearAttemptCount(id)
		m.registry.Remove(id)
		m.log.Debug().Str("command", cmd.Name).Str("request_id", string(id)).
			Int("attempts", entry.Attempts).Err(err).Msg("api command failed")
		return nil, err
	}
}

// attempt performs one try of a command and classifies the outcome.
func (m *ServerManager) attempt(ctx context.Context, command string, id RequestID, n int, req *APIRequest) (Info, error) {
	start := m.now()
	m.telemetry.OnCommandStart(CommandStartEvent{
		Command:   command,
		RequestID: id,
		Attempt:   n,
		Start:     start,
	})

	info, err := m.roundTrip(ctx, command, id, req)

	m.telemetry.OnCommandEnd(CommandEndEvent{
		Command:   command,
		RequestID: id,
		Attempt:   n,
		Start:     start,
		End:       m.now(),
		Err:       err,
	})
	return info, err
}

func (m *ServerManager) roundTrip(ctx context.Context, command string, id RequestID, req *APIRequest) (Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := m.transport.Do(ctx, req)
	if err != nil {
		return nil, annotate(err, command, id)
	}

	return decodeEnvelope(command, id, resp)
}

// decodeEnvelope parses an API response body.
func decodeEnvelope(command string, id RequestID, resp *APIResponse) (Info, error) {
	if resp == nil {
		return nil, &CommandError{Command: command, RequestID: id, Message: "empty response", Err: ErrMalformedResponse}
	}

	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, &CommandError{
			Command:   command,
			Status:    resp.Status,
			RequestID: id,
			Message:   fmt.Sprintf("error parsing response: %v", err),
			Err:       ErrMalformedResponse,
		}
	}
	if env.Result == nil || env.Result.ResultNum == nil {
		return nil, &CommandError{
			Command:   command,
			Status:    resp.Status,
			RequestID: id,
			Message:   "response has no result_num",
			Err:       ErrMalformedResponse,
		}
	}

	if num := *env.Result.ResultNum; num != 0 {
		msg := env.Result.ResultText
		if msg == "" {
			msg = "command rejected"
		}
		return nil, &CommandError{
			Command:   command,
			Status:    resp.Status,
			RequestID: id,
			ResultNum: num,
			Message:   msg,
			Err:       ErrRejected,
		}
	}

	if env.Info == nil {
		env.Info = Info{}
	}
	return env.Info, nil
}

// annotate attaches command context to a transport failure.
// Anything that is not a context error or an invalid request counts as a
// transport error.
func annotate(err error, command string, id RequestID) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrInvalidCommand) {
		return &CommandError{Command: command, RequestID: id, Message: err.Error(), Err: err}
	}

	var ce *CommandError
	if errors.As(err, &ce) {
		out := *ce
		if out.Command == "" {
			out.Command = command
		}
		out.RequestID = id
		if out.Err == nil {
			out.Err = ErrTransport
		}
		return &out
	}

	return &CommandError{
		Command:   command,
		RequestID: id,
		Message:   err.Error(),
		Err:       ErrTransport,
	}
}

// BuildRenderCommand returns the query parameters of an authorized render
// request for product.
//
// A still-valid access token is reused without any network call. Otherwise
// a get-token command is sent for the workflow (and xml, when present) in
// renderParameters; on success the new AccessInfo is stored on product.
// On failure product is left untouched and the error is returned.
// Render parameters win over access parameters on key conflicts.
func (m *ServerManager) BuildRenderCommand(ctx context.Context, product Authorizer, renderParameters map[string]string) (map[string]string, error) {
	if info := product.AccessInfo(); IsValid(info, m.now(), m.cfg.RefreshFuzz) {
		return mergeParams(info, renderParameters), nil
	}

	workflow := renderParameters[ParamWorkflow]
	if workflow == "" {
		return nil, ErrWorkflowRequired
	}

	params := map[string]string{ParamWorkflow: workflow}
	if xml := renderParameters[ParamXML]; xml != "" {
		params[ParamXML] = xml
	}

	data, err := m.SendAPICommand(ctx, Command{Name: CommandGetToken, Params: params})
	if err != nil {
		return nil, err
	}

	info, err := newAccessInfo(data, m.now())
	if err != nil {
		return nil, err
	}
	info.Workflow = workflow
	product.SetAccessInfo(info)

	m.log.Debug().Str("workflow", workflow).Dur("lifetime", info.Lifetime).Msg("acquired render access token")

	return mergeParams(info, renderParameters), nil
}

// BuildRenderServerURLRequest returns the render server URL for params.
// Parameters are query-encoded in key order.
func (m *ServerManager) BuildRenderServerURLRequest(params map[string]string) string {
	q := make(url.Values, len(params))
	for k, v := range params {
		q.Set(k, v)
	}
	return m.cfg.RenderServerURL + "render-image?" + q.Encode()
}

func mergeParams(info *AccessInfo, renderParameters map[string]string) map[string]string {
	out := info.Params()
	if out == nil {
		out = make(map[string]string, len(renderParameters))
	}
	maps.Copy(out, renderParameters)
	return out
}
