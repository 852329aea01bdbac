package netbrain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netbrain/internal/config"
	"netbrain/internal/storage"
)

type stubAPI struct {
	err   error
	calls int
}

func (s *stubAPI) SubmitBenchmark(ctx context.Context, benchmark storage.Benchmark) error {
	s.calls++
	return s.err
}

func (s *stubAPI) TaskStatus(ctx context.Context, taskName string) (TaskStatus, error) {
	s.calls++
	return TaskStatus{Description: "Success."}, s.err
}

func (s *stubAPI) DeviceRawData(ctx context.Context, ipAddress, command string) (string, error) {
	s.calls++
	return "content", s.err
}

func (s *stubAPI) DeleteTask(ctx context.Context, taskName string) error {
	s.calls++
	return s.err
}

func breakerConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	}
}

func TestWrapWithCircuitBreaker_Disabled(t *testing.T) {
	stub := &stubAPI{}
	assert.Same(t, API(stub), WrapWithCircuitBreaker(stub, config.CircuitBreakerConfig{}))
}

func TestCircuitBreakerAPI_PassesResults(t *testing.T) {
	api := NewCircuitBreakerAPI(&stubAPI{}, breakerConfig())
	ctx := context.Background()

	status, err := api.TaskStatus(ctx, "task")
	require.NoError(t, err)
	assert.True(t, status.Done())

	content, err := api.DeviceRawData(ctx, "10.0.0.1", "cmd")
	require.NoError(t, err)
	assert.Equal(t, "content", content)
	assert.Equal(t, "closed", api.State())
}

func TestCircuitBreakerAPI_OpensOnFailures(t *testing.T) {
	stub := &stubAPI{err: errors.New("connection refused")}
	api := NewCircuitBreakerAPI(stub, breakerConfig())
	ctx := context.Background()

	require.Error(t, api.SubmitBenchmark(ctx, storage.Benchmark{}))
	require.Error(t, api.DeleteTask(ctx, "task"))
	assert.Equal(t, "open", api.State())

	calls := stub.calls
	err := api.DeleteTask(ctx, "task")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, calls, stub.calls)
}

func TestCircuitBreakerAPI_RejectionsDoNotTrip(t *testing.T) {
	stub := &stubAPI{err: fmt.Errorf("%w: task exists", ErrRejected)}
	api := NewCircuitBreakerAPI(stub, breakerConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, api.SubmitBenchmark(ctx, storage.Benchmark{}), ErrRejected)
	}
	stub.err = fmt.Errorf("%w: gone", ErrTaskNotFound)
	assert.ErrorIs(t, api.DeleteTask(ctx, "task"), ErrTaskNotFound)

	assert.Equal(t, "closed", api.State())
	assert.Equal(t, 6, stub.calls)
}
