package core

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptedTransport replays one reply per call and records every request.
type scriptedTransport struct {
	mu      sync.Mutex
	replies []reply
	calls   []APIRequest
}

type reply struct {
	body string
	err  error
}

func okReply(info map[string]any) reply {
	b, _ := json.Marshal(map[string]any{
		"result": map[string]any{"result_num": 0, "result_text": "success"},
		"info":   info,
	})
	return reply{body: string(b)}
}

func rejectReply(num int, text string) reply {
	b, _ := json.Marshal(map[string]any{
		"result": map[string]any{"result_num": num, "result_text": text},
	})
	return reply{body: string(b)}
}

func transportFailure() reply {
	return reply{err: TransportError("get-token", 503, nil)}
}

func (s *scriptedTransport) Do(_ context.Context, req *APIRequest) (*APIResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, APIRequest{Method: req.Method, URL: req.URL, Params: maps.Clone(req.Params)})
	if len(s.replies) == 0 {
		return nil, TransportError("test", 0, nil)
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &APIResponse{Status: 200, Body: []byte(r.body)}, nil
}

func (s *scriptedTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(unix int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Unix(unix, 0)
}

func testConfig() Config {
	cfg := DefaultConfig("app-1", "key-1")
	cfg.APIServerURL = "http://api.test/"
	cfg.RenderServerURL = "http://render.test/"
	return cfg
}

func newTestManager(t *testing.T, tr Transport, clock *fakeClock, opts ...Option) *ServerManager {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	m, err := NewServerManager(tr, testConfig(), opts...)
	require.NoError(t, err)
	return m
}
