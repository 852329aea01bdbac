package netbrain

import (
	"context"
	"errors"
	"fmt"

	"netbrain/internal/config"
	"netbrain/internal/storage"
	"netbrain/pkg/circuitbreaker"
)

// CircuitBreakerAPI decorates an API with a circuit breaker. Requests
// NetBrain understood and refused do not count as failures.
type CircuitBreakerAPI struct {
	api API
	cb  *circuitbreaker.Wrapper
}

// WrapWithCircuitBreaker returns api unchanged when the breaker is disabled.
func WrapWithCircuitBreaker(api API, cfg config.CircuitBreakerConfig) API {
	if !cfg.Enabled {
		return api
	}
	return NewCircuitBreakerAPI(api, cfg)
}

func NewCircuitBreakerAPI(api API, cfg config.CircuitBreakerConfig) *CircuitBreakerAPI {
	cbConfig := circuitbreaker.FromSettings("netbrain-api", cfg)
	cbConfig.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrRejected) || errors.Is(err, ErrTaskNotFound)
	}

	return &CircuitBreakerAPI{
		api: api,
		cb:  circuitbreaker.NewWrapper(cbConfig),
	}
}

func (a *CircuitBreakerAPI) SubmitBenchmark(ctx context.Context, benchmark storage.Benchmark) error {
	_, err := a.execute(ctx, func() (interface{}, error) {
		return nil, a.api.SubmitBenchmark(ctx, benchmark)
	})
	return err
}

func (a *CircuitBreakerAPI) TaskStatus(ctx context.Context, taskName string) (TaskStatus, error) {
	result, err := a.execute(ctx, func() (interface{}, error) {
		return a.api.TaskStatus(ctx, taskName)
	})
	if err != nil {
		return TaskStatus{}, err
	}

	status, ok := result.(TaskStatus)
	if !ok {
		return TaskStatus{}, fmt.Errorf("netbrain returned invalid result type")
	}
	return status, nil
}

func (a *CircuitBreakerAPI) DeviceRawData(ctx context.Context, ipAddress, command string) (string, error) {
	result, err := a.execute(ctx, func() (interface{}, error) {
		return a.api.DeviceRawData(ctx, ipAddress, command)
	})
	if err != nil {
		return "", err
	}

	content, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("netbrain returned invalid result type")
	}
	return content, nil
}

func (a *CircuitBreakerAPI) DeleteTask(ctx context.Context, taskName string) error {
	_, err := a.execute(ctx, func() (interface{}, error) {
		return nil, a.api.DeleteTask(ctx, taskName)
	})
	return err
}

func (a *CircuitBreakerAPI) State() string {
	return a.cb.State().String()
}

func (a *CircuitBreakerAPI) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	result, err := a.cb.ExecuteWithContext(ctx, fn)
	if err != nil && a.cb.IsOpen() {
		return nil, fmt.Errorf("circuit breaker is open for %s: %w", a.cb.Name(), err)
	}
	return result, err
}
