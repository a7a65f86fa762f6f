package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Commands understood by the API server.
const (
	CommandGetToken = "get-token"
)

// Parameter names shared with the API and render servers.
const (
	ParamAppID      = "app_id"
	ParamAPIKey     = "api_key"
	ParamAPIVersion = "api_version"
	ParamRequestID  = "request_id"
	ParamWorkflow   = "workflow"
	ParamXML        = "xml"
)

// Command is one API server call.
type Command struct {
	// Name is appended to the API server URL, e.g. "get-token".
	Name string

	// Params are the command parameters. SendAPICommand adds the
	// credentials and request_id to its own copy.
	Params map[string]string

	// Method is http.MethodGet (default) or http.MethodPost.
	Method string
}

func (c Command) method() string {
	if c.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(c.Method)
}

// validate rejects commands no transport can send.
func (c Command) validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: empty command name", ErrInvalidCommand)
	}
	switch c.method() {
	case http.MethodGet, http.MethodPost:
		return nil
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidCommand, c.Method)
	}
}

// Info is the opaque info payload of a successful API response.
// Numbers are kept as json.Number.
type Info map[string]any

// Result is the result block of every API response.
type Result struct {
	ResultNum  *int   `json:"result_num"`
	ResultText string `json:"result_text"`
}

// Envelope is the JSON body returned by the API server.
type Envelope struct {
	Result *Result `json:"result"`
	Info   Info    `json:"info"`
}

// APIRequest is what a Transport sends.
type APIRequest struct {
	Method string
	URL    string
	Params map[string]string
}

// APIResponse is a 2xx response body returned by a Transport.
type APIResponse struct {
	Status int
	Body   []byte
}

// Transport delivers API commands. Implementations must return an error
// wrapping ErrTransport for connection failures, timeouts and non-2xx
// statuses, and a response only for 2xx statuses.
// Transports SHOULD be safe for concurrent calls.
type Transport interface {
	Do(ctx context.Context, req *APIRequest) (*APIResponse, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *APIRequest) (*APIResponse, error)

// Do calls f.
func (f TransportFunc) Do(ctx context.Context, req *APIRequest) (*APIResponse, error) {
	return f(ctx, req)
}

// Authorizer is anything that can hold render access credentials.
// *Product is the standard implementation.
type Authorizer interface {
	AccessInfo() *AccessInfo
	SetAccessInfo(info *AccessInfo)
}
