package stackstorm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netbrain/internal/config"
	"netbrain/internal/logger"
	"netbrain/internal/messagebus"
)

type request struct {
	path   string
	apiKey string
	body   map[string]interface{}
}

type fakeStackstorm struct {
	mu       sync.Mutex
	requests []request
	status   []int
}

func (f *fakeStackstorm) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, request{path: r.URL.Path, apiKey: r.URL.Query().Get(apiKeyParam), body: body})
	if len(f.status) > 0 {
		code := f.status[0]
		f.status = f.status[1:]
		w.WriteHeader(code)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (f *fakeStackstorm) received() []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]request(nil), f.requests...)
}

func newTestClient(t *testing.T, dev, prod *fakeStackstorm) *Client {
	t.Helper()
	devServer := httptest.NewServer(dev)
	t.Cleanup(devServer.Close)
	prodServer := httptest.NewServer(prod)
	t.Cleanup(prodServer.Close)

	return NewClient(config.StackstormConfig{
		Dev:            config.StackstormInstance{BaseURL: devServer.URL, APIKey: "dev-key", CommentAPIKey: "dev-comment-key"},
		Prod:           config.StackstormInstance{BaseURL: prodServer.URL, APIKey: "prod-key", CommentAPIKey: "prod-comment-key"},
		AlertWebhook:   "/api/v1/webhooks/alert",
		CommentWebhook: "/api/v1/webhooks/comment",
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	}, logger.NopLogger())
}

func TestClient_SendAlertRoutesByStage(t *testing.T) {
	dev, prod := &fakeStackstorm{}, &fakeStackstorm{}
	client := newTestClient(t, dev, prod)
	ctx := context.Background()

	require.NoError(t, client.SendAlert(ctx, Alert{CID: "CID1", Title: "benchmark failed", Stage: messagebus.StageProd}))
	require.NoError(t, client.SendAlert(ctx, Alert{CID: "CID2", Title: "benchmark failed", Stage: messagebus.StageDev}))
	require.NoError(t, client.SendAlert(ctx, Alert{CID: "CID3", Title: "benchmark failed", Stage: messagebus.StageTest}))

	prodReqs := prod.received()
	require.Len(t, prodReqs, 1)
	assert.Equal(t, "/api/v1/webhooks/alert", prodReqs[0].path)
	assert.Equal(t, "prod-key", prodReqs[0].apiKey)
	assert.Equal(t, "CID1", prodReqs[0].body["cid"])
	assert.Equal(t, "netbrain-service", prodReqs[0].body["source"])

	devReqs := dev.received()
	require.Len(t, devReqs, 2)
	assert.Equal(t, "dev-key", devReqs[0].apiKey)
	assert.Equal(t, "CID2", devReqs[0].body["cid"])
	assert.Equal(t, "CID3", devReqs[1].body["cid"])
}

func TestClient_NotifyResults(t *testing.T) {
	dev, prod := &fakeStackstorm{}, &fakeStackstorm{}
	client := newTestClient(t, dev, prod)

	err := client.NotifyResults(context.Background(), Result{
		CID:           "CID1",
		SupportTicket: "INC001",
		Comment:       "raw output",
		TestName:      "Benchmark_event_1",
		Passed:        true,
		Stage:         messagebus.StageProd,
	})
	require.NoError(t, err)

	reqs := prod.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/api/v1/webhooks/comment", reqs[0].path)
	assert.Equal(t, "prod-comment-key", reqs[0].apiKey)
	assert.Equal(t, "INC001", reqs[0].body["support_ticket"])
	assert.Equal(t, "Benchmark_event_1", reqs[0].body["testname"])
	assert.Equal(t, true, reqs[0].body["passed"])
	assert.NotContains(t, reqs[0].body, "cid")
	assert.Empty(t, dev.received())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	dev, prod := &fakeStackstorm{}, &fakeStackstorm{status: []int{http.StatusBadGateway, http.StatusServiceUnavailable}}
	client := newTestClient(t, dev, prod)

	require.NoError(t, client.SendAlert(context.Background(), Alert{CID: "CID1"}))
	assert.Len(t, prod.received(), 3)
}

func TestClient_ClientErrorIsNotRetried(t *testing.T) {
	dev, prod := &fakeStackstorm{}, &fakeStackstorm{status: []int{http.StatusForbidden}}
	client := newTestClient(t, dev, prod)

	err := client.SendAlert(context.Background(), Alert{CID: "CID1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Len(t, prod.received(), 1)
}

func TestClient_ErrorsDoNotLeakAPIKey(t *testing.T) {
	client := NewClient(config.StackstormConfig{
		Prod:         config.StackstormInstance{BaseURL: "http://127.0.0.1:1", APIKey: "super-secret"},
		AlertWebhook: "/alert",
		Retry:        config.RetryConfig{MaxAttempts: 1},
	}, logger.NopLogger())

	err := client.SendAlert(context.Background(), Alert{CID: "CID1"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "super-secret")
}
