package node

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"context"

	"flowrt.dev/flow"
	"flowrt.dev/session"
)

func TestExecuteActionsAPICallStoresResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"value": 42})
	}))
	defer srv.Close()

	repo := session.NewMemoryRepository(publishedChecker{})
	s := newTestSession(t, repo, nil)
	p := NewProcessor(repo, nil)

	outcome, err := p.ExecuteActions(context.Background(), s.ID, s.Revision, []flow.ActionOp{
		{Type: OpAPICall, URL: srv.URL, Method: "GET", StoreResponse: true, ResponseKey: "lookup"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, outcome.Results[0].Result["api_call_executed"])

	got, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	stored := got.State["api_responses"].(map[string]interface{})["lookup"].(map[string]interface{})
	assert.Equal(t, float64(42), stored["data"].(map[string]interface{})["value"])
}
