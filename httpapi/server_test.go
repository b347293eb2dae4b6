package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowrt.dev/engine"
	"flowrt.dev/flow"
	"flowrt.dev/node"
	"flowrt.dev/orchestrator"
	"flowrt.dev/session"
)

type publishedChecker struct{}

func (publishedChecker) FlowPublished(ctx context.Context, flowID string) (bool, bool, error) {
	return true, true, nil
}

func pingFlow() *flow.FlowDefinition {
	return &flow.FlowDefinition{
		ID:          "ping",
		EntryNodeID: "welcome",
		Published:   true,
		Nodes: []flow.Node{
			{NodeID: "welcome", Type: flow.NodeMessage, Message: &flow.MessageContent{Messages: []string{"hi"}}},
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	repo := session.NewMemoryRepository(publishedChecker{})
	store := flow.NewMemoryStore()
	store.Put(pingFlow())
	proc := node.NewProcessor(repo, nil)
	eng := engine.New(store, repo, proc, nil)
	orch := orchestrator.New(store, repo, eng, nil)
	return New(orch, Config{}, nil)
}

func TestHealthzReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointExposesTurnCounters(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/flows/ping/sessions", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRec := httptest.NewRecorder()
	s.Echo().ServeHTTP(metricsRec, metricsReq)

	assert.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), "flowrt_turns_total")
}

func TestRateLimiterRejectsBeyondConfiguredRate(t *testing.T) {
	repo := session.NewMemoryRepository(publishedChecker{})
	store := flow.NewMemoryStore()
	store.Put(pingFlow())
	proc := node.NewProcessor(repo, nil)
	eng := engine.New(store, repo, proc, nil)
	orch := orchestrator.New(store, repo, eng, nil)
	s := New(orch, Config{RatePerSecond: 0.001}, nil)

	sawTooManyRequests := false
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		rec := httptest.NewRecorder()
		s.Echo().ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			sawTooManyRequests = true
			break
		}
	}
	assert.True(t, sawTooManyRequests, "expected the rate limiter to reject at least one of 20 rapid requests")
}
