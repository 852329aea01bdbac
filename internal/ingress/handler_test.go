package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netbrain/internal/logger"
	"netbrain/internal/messagebus"
	"netbrain/internal/messages"
	"netbrain/internal/polling"
	"netbrain/pkg/cel"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeBus struct {
	mu        sync.Mutex
	submitted []messagebus.Message
	reject    bool
}

func (b *fakeBus) Submit(ctx context.Context, msgs ...messagebus.Message) []messagebus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reject {
		return msgs
	}
	b.submitted = append(b.submitted, msgs...)
	return nil
}

type fakePolling struct {
	state polling.State
}

func (p fakePolling) Snapshot() polling.State { return p.state }

func newRouter(h *Handler) *gin.Engine {
	router := gin.New()
	h.RegisterRoutes(router)
	return router
}

func post(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/request", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func fixedCID() string { return "GENERATED" }

func TestReceive_Accepted(t *testing.T) {
	bus := &fakeBus{}
	router := newRouter(NewHandler(bus, messagebus.StageDev, fixedCID, logger.NopLogger()))

	rec := post(t, router, `{"devicename":"SAP1","objectname":"hana","ipaddress":"10.0.0.1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "GENERATED", resp.CID)
	assert.Equal(t, "accepted", resp.Status)

	require.Len(t, bus.submitted, 1)
	event, ok := bus.submitted[0].(messages.PayloadReceived)
	require.True(t, ok)
	assert.Equal(t, "GENERATED", event.CorrelationID())
	assert.Equal(t, messagebus.StageDev, event.TargetStage())
	assert.Equal(t, "SAP1", event.DeviceName)
	assert.Equal(t, "hana", event.ObjectName)
	assert.Equal(t, "10.0.0.1", event.IPAddress)
}

func TestReceive_KeepsCallerCID(t *testing.T) {
	bus := &fakeBus{}
	router := newRouter(NewHandler(bus, messagebus.StageProd, fixedCID, logger.NopLogger()))

	rec := post(t, router, `{"devicename":"SAP1","ipaddress":"10.0.0.1","cid":"Caller42"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, bus.submitted, 1)
	assert.Equal(t, "Caller42", bus.submitted[0].CorrelationID())
	assert.Equal(t, messagebus.StageProd, bus.submitted[0].TargetStage())
}

func TestReceive_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"devicename":`},
		{name: "missing device", body: `{"ipaddress":"10.0.0.1"}`},
		{name: "missing ip", body: `{"devicename":"SAP1"}`},
		{name: "bad ip", body: `{"devicename":"SAP1","ipaddress":"not-an-ip"}`},
		{name: "bad cid", body: `{"devicename":"SAP1","ipaddress":"10.0.0.1","cid":"a b"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &fakeBus{}
			router := newRouter(NewHandler(bus, messagebus.StageDev, fixedCID, logger.NopLogger()))

			rec := post(t, router, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
			assert.Empty(t, bus.submitted)
		})
	}
}

func TestReceive_QueueFull(t *testing.T) {
	bus := &fakeBus{reject: true}
	router := newRouter(NewHandler(bus, messagebus.StageDev, fixedCID, logger.NopLogger()))

	rec := post(t, router, `{"devicename":"SAP1","ipaddress":"10.0.0.1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "QUEUE_FULL")
}

func TestReceive_AcceptFilter(t *testing.T) {
	eval, err := cel.NewEvaluator()
	require.NoError(t, err)
	filter, err := eval.CompileFilter(`payload.device_name.startsWith("SAP")`)
	require.NoError(t, err)

	bus := &fakeBus{}
	router := newRouter(NewHandler(bus, messagebus.StageDev, fixedCID, logger.NopLogger(), WithAcceptFilter(filter)))

	rec := post(t, router, `{"devicename":"core-1","ipaddress":"10.0.0.1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ignored"`)
	assert.Empty(t, bus.submitted)

	rec = post(t, router, `{"devicename":"SAP7","ipaddress":"10.0.0.1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, bus.submitted, 1)
}

func TestPollingState(t *testing.T) {
	view := fakePolling{state: polling.State{
		ElapsedMinutes: 12,
		Active: []polling.Assignment{
			{EntryID: "e1", Domain: "benchmarks", Campaign: "Benchmark_event_1", Test: "10.0.0.1", IntervalMinutes: 1},
		},
		Dead: map[string]int{"e2": 3},
	}}
	router := newRouter(NewHandler(&fakeBus{}, messagebus.StageDev, fixedCID, logger.NopLogger(), WithPolling(view)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/polling", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got polling.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, view.state, got)
}

func TestPollingRouteRequiresView(t *testing.T) {
	router := newRouter(NewHandler(&fakeBus{}, messagebus.StageDev, fixedCID, logger.NopLogger()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/polling", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
