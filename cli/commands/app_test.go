package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pijaz/pijaz-go/cli/config"
	"github.com/pijaz/pijaz-go/cli/keystore"
	"github.com/pijaz/pijaz-go/core"
	"github.com/pijaz/pijaz-go/render"
)

const tokenOK = `{"result":{"result_num":0},"info":{"lifetime":3600,"token":"t-1"}}`

// memKeystore is an in-memory keystore.Keystore.
type memKeystore struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemKeystore(pairs ...string) *memKeystore {
	ks := &memKeystore{keys: make(map[string]string)}
	for i := 0; i+1 < len(pairs); i += 2 {
		ks.keys[pairs[i]] = pairs[i+1]
	}
	return ks
}

func (m *memKeystore) Set(name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[name] = value
	return nil
}

func (m *memKeystore) Get(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.keys[name]
	if !ok {
		return "", &keystore.ErrKeyNotFound{Name: name}
	}
	return v, nil
}

func (m *memKeystore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[name]; !ok {
		return &keystore.ErrKeyNotFound{Name: name}
	}
	delete(m.keys, name)
	return nil
}

func (m *memKeystore) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.keys))
	for k := range m.keys {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

// fakeAPI answers every API command with body and records the requests.
type fakeAPI struct {
	mu   sync.Mutex
	body string
	err  error
	reqs []*core.APIRequest
}

func (f *fakeAPI) Do(ctx context.Context, req *core.APIRequest) (*core.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &core.APIResponse{Status: http.StatusOK, Body: []byte(f.body)}, nil
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type testEnv struct {
	cfg    *config.Config
	env    map[string]string
	ks     *memKeystore
	api    *fakeAPI
	stdin  string
	stdout bytes.Buffer
	stderr bytes.Buffer
	opts   []AppOption
}

func newTestEnv() *testEnv {
	return &testEnv{
		cfg: &config.Config{
			AppID:           "my-app",
			RenderServerURL: "http://render.test/",
			Workflows:       map[string]config.WorkflowConfig{},
		},
		env: map[string]string{config.EnvAPIKey: "k-env"},
		ks:  newMemKeystore(),
		api: &fakeAPI{body: tokenOK},
	}
}

func (e *testEnv) run(args ...string) error {
	opts := []AppOption{
		WithConfigLoader(func(string) (*config.Config, error) { return e.cfg, nil }),
		WithKeystoreFactory(func() (keystore.Keystore, error) { return e.ks, nil }),
		WithTransportFactory(func(*config.Config, zerolog.Logger) core.Transport { return e.api }),
		WithGetenv(func(k string) string { return e.env[k] }),
		WithIO(strings.NewReader(e.stdin), &e.stdout, &e.stderr),
	}
	opts = append(opts, e.opts...)
	return NewApp(opts...).ExecuteArgs(args)
}

func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func TestExitError(t *testing.T) {
	err := exitWithCode(ExitValidation, errors.New("test error"))

	if err.Error() != "test error" {
		t.Errorf("Error() = %q, want 'test error'", err.Error())
	}
	if got := exitCode(err); got != ExitValidation {
		t.Errorf("ExitCode() = %d, want %d", got, ExitValidation)
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		code int
		want int
	}{
		{"success", ExitSuccess, 0},
		{"validation", ExitValidation, 1},
		{"rejected", ExitRejected, 2},
		{"network", ExitNetwork, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code != tt.want {
				t.Errorf("Exit%s = %d, want %d", tt.name, tt.code, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{"rejected", &core.CommandError{Command: "get-token", ResultNum: 3, Err: core.ErrRejected}, ExitRejected, "rejected"},
		{"transport", core.TransportError("get-token", 502, nil), ExitNetwork, "network_error"},
		{"malformed", &core.CommandError{Command: "get-token", Err: core.ErrMalformedResponse}, ExitNetwork, "network_error"},
		{"deadline", context.DeadlineExceeded, ExitNetwork, "network_error"},
		{"workflow", core.ErrWorkflowRequired, ExitValidation, "validation_error"},
		{"other", errors.New("boom"), ExitValidation, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, kind := classify(tt.err)
			if code != tt.wantCode || kind != tt.wantKind {
				t.Errorf("classify() = %d, %q, want %d, %q", code, kind, tt.wantCode, tt.wantKind)
			}
		})
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"message=Hello there", "size=12", "empty=", "expr=a=b"})
	if err != nil {
		t.Fatalf("parseParams() error = %v", err)
	}

	want := map[string]string{"message": "Hello there", "size": "12", "empty": "", "expr": "a=b"}
	if len(params) != len(want) {
		t.Fatalf("parseParams() = %v, want %v", params, want)
	}
	for k, v := range want {
		if params[k] != v {
			t.Errorf("params[%q] = %v, want %q", k, params[k], v)
		}
	}

	for _, bad := range []string{"novalue", "=value"} {
		if _, err := parseParams([]string{bad}); err == nil {
			t.Errorf("parseParams(%q) error = nil, want error", bad)
		}
	}
}

func TestURLCommand(t *testing.T) {
	e := newTestEnv()

	if err := e.run("url", "hello", "message=hi"); err != nil {
		t.Fatalf("url error = %v, stderr = %s", err, e.stderr.String())
	}

	want := "http://render.test/render-image?message=hi&token=t-1&workflow=hello\n"
	if e.stdout.String() != want {
		t.Errorf("stdout = %q, want %q", e.stdout.String(), want)
	}

	if e.api.calls() != 1 {
		t.Fatalf("api calls = %d, want 1", e.api.calls())
	}
	req := e.api.reqs[0]
	if req.URL != core.DefaultAPIServerURL+core.CommandGetToken {
		t.Errorf("request URL = %q", req.URL)
	}
	if req.Params[core.ParamAppID] != "my-app" || req.Params[core.ParamAPIKey] != "k-env" {
		t.Errorf("credentials = %q/%q", req.Params[core.ParamAppID], req.Params[core.ParamAPIKey])
	}
	if req.Params[core.ParamWorkflow] != "hello" {
		t.Errorf("workflow = %q, want hello", req.Params[core.ParamWorkflow])
	}
	if req.Params[core.ParamRequestID] == "" {
		t.Error("request_id not sent")
	}
}

func TestURLCommandDefaultsAndXML(t *testing.T) {
	e := newTestEnv()
	e.cfg.Workflows["hello"] = config.WorkflowConfig{
		XML:      "http://x/h.xml",
		Defaults: map[string]string{"message": "Hello"},
	}

	if err := e.run("url", "hello", "message=Hello", "size=12"); err != nil {
		t.Fatalf("url error = %v", err)
	}

	out := e.stdout.String()
	if strings.Contains(out, "message=") {
		t.Errorf("url %q contains a default-valued parameter", out)
	}
	if !strings.Contains(out, "size=12") {
		t.Errorf("url %q missing size", out)
	}
	if !strings.Contains(out, "xml=http%3A%2F%2Fx%2Fh.xml") {
		t.Errorf("url %q missing xml", out)
	}
	if got := e.api.reqs[0].Params[core.ParamXML]; got != "http://x/h.xml" {
		t.Errorf("get-token xml = %q", got)
	}
}

func TestURLCommandXMLFlagOverridesConfig(t *testing.T) {
	e := newTestEnv()
	e.cfg.Workflows["hello"] = config.WorkflowConfig{XML: "http://x/config.xml"}

	if err := e.run("url", "hello", "--xml", "http://x/flag.xml"); err != nil {
		t.Fatalf("url error = %v", err)
	}
	if got := e.api.reqs[0].Params[core.ParamXML]; got != "http://x/flag.xml" {
		t.Errorf("get-token xml = %q, want flag value", got)
	}
}

func TestURLCommandJSON(t *testing.T) {
	e := newTestEnv()

	if err := e.run("url", "hello", "--json"); err != nil {
		t.Fatalf("url error = %v", err)
	}

	var out map[string]string
	if err := json.Unmarshal(e.stdout.Bytes(), &out); err != nil {
		t.Fatalf("stdout is not JSON: %v: %s", err, e.stdout.String())
	}
	if out["workflow"] != "hello" {
		t.Errorf("workflow = %q", out["workflow"])
	}
	if out["url"] != "http://render.test/render-image?token=t-1&workflow=hello" {
		t.Errorf("url = %q", out["url"])
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	e := newTestEnv()
	e.env[config.EnvAppID] = "env-app"

	if err := e.run("url", "hello", "--app-id", "flag-app", "--render-server", "http://flag.test/"); err != nil {
		t.Fatalf("url error = %v", err)
	}
	if got := e.api.reqs[0].Params[core.ParamAppID]; got != "flag-app" {
		t.Errorf("app_id = %q, want flag-app", got)
	}
	if !strings.HasPrefix(e.stdout.String(), "http://flag.test/render-image?") {
		t.Errorf("stdout = %q, want flag render server", e.stdout.String())
	}
}

func TestMissingAppID(t *testing.T) {
	e := newTestEnv()
	e.cfg.AppID = ""

	err := e.run("url", "hello")
	if exitCode(err) != ExitValidation {
		t.Fatalf("exit code = %d, want %d (err = %v)", exitCode(err), ExitValidation, err)
	}
	if !strings.Contains(e.stderr.String(), "app id required") {
		t.Errorf("stderr = %q", e.stderr.String())
	}
	if e.api.calls() != 0 {
		t.Errorf("api calls = %d, want 0", e.api.calls())
	}
}

func TestAPIKeyFromKeystore(t *testing.T) {
	e := newTestEnv()
	delete(e.env, config.EnvAPIKey)
	e.ks = newMemKeystore("my-app", "k-store", "prod", "k-prod")

	if err := e.run("url", "hello"); err != nil {
		t.Fatalf("url error = %v", err)
	}
	if got := e.api.reqs[0].Params[core.ParamAPIKey]; got != "k-store" {
		t.Errorf("api_key = %q, want k-store", got)
	}

	e2 := newTestEnv()
	delete(e2.env, config.EnvAPIKey)
	e2.ks = e.ks
	e2.cfg.APIKeyRef = "prod"
	if err := e2.run("url", "hello"); err != nil {
		t.Fatalf("url error = %v", err)
	}
	if got := e2.api.reqs[0].Params[core.ParamAPIKey]; got != "k-prod" {
		t.Errorf("api_key = %q, want k-prod", got)
	}
}

func TestMissingAPIKey(t *testing.T) {
	e := newTestEnv()
	delete(e.env, config.EnvAPIKey)

	err := e.run("url", "hello")
	if exitCode(err) != ExitValidation {
		t.Fatalf("exit code = %d, want %d", exitCode(err), ExitValidation)
	}
	if !strings.Contains(e.stderr.String(), "pijaz keys set my-app") {
		t.Errorf("stderr = %q, want keys set hint", e.stderr.String())
	}
}

func TestRejectedCommand(t *testing.T) {
	e := newTestEnv()
	e.api.body = `{"result":{"result_num":5,"result_text":"bad key"}}`

	err := e.run("url", "hello")
	if exitCode(err) != ExitRejected {
		t.Fatalf("exit code = %d, want %d", exitCode(err), ExitRejected)
	}
	if e.api.calls() != 1 {
		t.Errorf("api calls = %d, want 1", e.api.calls())
	}

	stderr := e.stderr.String()
	if !strings.Contains(stderr, "Error: get-token rejected: bad key") {
		t.Errorf("stderr = %q", stderr)
	}
	if !strings.Contains(stderr, "result_num: 5") {
		t.Errorf("stderr = %q, want result_num", stderr)
	}
	if strings.Count(stderr, "Error:") != 1 {
		t.Errorf("error reported %d times", strings.Count(stderr, "Error:"))
	}
	if e.stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", e.stdout.String())
	}
}

func TestRejectedCommandJSON(t *testing.T) {
	e := newTestEnv()
	e.api.body = `{"result":{"result_num":5,"result_text":"bad key"}}`

	err := e.run("url", "hello", "--json")
	if exitCode(err) != ExitRejected {
		t.Fatalf("exit code = %d, want %d", exitCode(err), ExitRejected)
	}

	stderr := e.stderr.String()
	for _, want := range []string{`"type": "rejected"`, `"result_num": 5`, `"command": "get-token"`, `"request_id"`} {
		if !strings.Contains(stderr, want) {
			t.Errorf("stderr missing %s: %s", want, stderr)
		}
	}
}

func TestNetworkFailure(t *testing.T) {
	e := newTestEnv()
	e.api.err = errors.New("connection refused")

	err := e.run("url", "hello")
	if exitCode(err) != ExitNetwork {
		t.Fatalf("exit code = %d, want %d", exitCode(err), ExitNetwork)
	}
	if e.api.calls() != core.DefaultMaxAttempts {
		t.Errorf("api calls = %d, want %d", e.api.calls(), core.DefaultMaxAttempts)
	}
	if e.api.reqs[0].Params[core.ParamRequestID] != e.api.reqs[1].Params[core.ParamRequestID] {
		t.Error("retry used a different request_id")
	}
}

func TestInvalidParameter(t *testing.T) {
	e := newTestEnv()

	err := e.run("url", "hello", "oops")
	if exitCode(err) != ExitValidation {
		t.Fatalf("exit code = %d, want %d", exitCode(err), ExitValidation)
	}
	if e.api.calls() != 0 {
		t.Errorf("api calls = %d, want 0", e.api.calls())
	}
}

// renderRecorder collects the query strings seen by a fake render server.
type renderRecorder struct {
	mu      sync.Mutex
	queries []string
}

func (r *renderRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}

func newImageServer(t *testing.T, rec *renderRecorder) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec != nil {
			rec.mu.Lock()
			rec.queries = append(rec.queries, r.URL.RawQuery)
			rec.mu.Unlock()
		}
		if r.URL.Path != "/render-image" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSaveCommand(t *testing.T) {
	rec := &renderRecorder{}
	srv := newImageServer(t, rec)

	e := newTestEnv()
	e.cfg.RenderServerURL = srv.URL + "/"
	e.opts = append(e.opts, WithFetcherOptions(render.WithHTTPClient(srv.Client())))

	path := filepath.Join(t.TempDir(), "out.png")
	if err := e.run("save", "hello", path, "message=hi"); err != nil {
		t.Fatalf("save error = %v, stderr = %s", err, e.stderr.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("file = %q, want png-bytes", data)
	}
	if !strings.Contains(e.stdout.String(), "Saved 9 bytes to "+path) {
		t.Errorf("stdout = %q", e.stdout.String())
	}
	if hits := rec.seen(); len(hits) != 1 || hits[0] != "message=hi&token=t-1&workflow=hello" {
		t.Errorf("render requests = %v", hits)
	}
}

func TestSaveCommandJSON(t *testing.T) {
	srv := newImageServer(t, nil)

	e := newTestEnv()
	e.cfg.RenderServerURL = srv.URL + "/"
	e.opts = append(e.opts, WithFetcherOptions(render.WithHTTPClient(srv.Client())))

	path := filepath.Join(t.TempDir(), "out.png")
	if err := e.run("save", "hello", path, "--json"); err != nil {
		t.Fatalf("save error = %v", err)
	}

	var out struct {
		Workflow string `json:"workflow"`
		Path     string `json:"path"`
		Bytes    int64  `json:"bytes"`
	}
	if err := json.Unmarshal(e.stdout.Bytes(), &out); err != nil {
		t.Fatalf("stdout is not JSON: %v", err)
	}
	if out.Workflow != "hello" || out.Path != path || out.Bytes != 9 {
		t.Errorf("output = %+v", out)
	}
}

func TestSaveCommandRenderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such workflow", http.StatusNotFound)
	}))
	defer srv.Close()

	e := newTestEnv()
	e.cfg.RenderServerURL = srv.URL + "/"
	e.opts = append(e.opts, WithFetcherOptions(render.WithHTTPClient(srv.Client())))

	path := filepath.Join(t.TempDir(), "out.png")
	err := e.run("save", "hello", path)
	if exitCode(err) != ExitNetwork {
		t.Fatalf("exit code = %d, want %d (err = %v)", exitCode(err), ExitNetwork, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("output file exists after failed render: %v", err)
	}
}

func TestTokenCommand(t *testing.T) {
	e := newTestEnv()

	if err := e.run("token", "hello"); err != nil {
		t.Fatalf("token error = %v", err)
	}

	out := e.stdout.String()
	for _, want := range []string{"workflow:      hello", "lifetime:      1h0m0s", "  token=t-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("stdout missing %q: %s", want, out)
		}
	}
	if strings.Contains(out, "lifetime=") {
		t.Errorf("lifetime leaked into params: %s", out)
	}
}

func TestTokenCommandJSON(t *testing.T) {
	e := newTestEnv()

	if err := e.run("token", "hello", "--json"); err != nil {
		t.Fatalf("token error = %v", err)
	}

	var out struct {
		Workflow string            `json:"workflow"`
		Lifetime int64             `json:"lifetime_seconds"`
		Params   map[string]string `json:"params"`
	}
	if err := json.Unmarshal(e.stdout.Bytes(), &out); err != nil {
		t.Fatalf("stdout is not JSON: %v", err)
	}
	if out.Workflow != "hello" || out.Lifetime != 3600 || out.Params["token"] != "t-1" {
		t.Errorf("output = %+v", out)
	}
}
