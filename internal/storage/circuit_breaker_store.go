package storage

import (
	"context"
	"fmt"

	"netbrain/internal/config"
	"netbrain/internal/polling"
	"netbrain/pkg/circuitbreaker"
	apperrors "netbrain/pkg/errors"
)

// CircuitBreakerStore decorates a polling store with a circuit breaker.
// Not-found and validation errors do not count as failures.
type CircuitBreakerStore struct {
	store polling.Store
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store polling.Store, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	if !cfg.Enabled {
		return &CircuitBreakerStore{store: store}
	}
	cbConfig := circuitbreaker.FromSettings("mongodb-polling", cfg)
	cbConfig.IsSuccessful = func(err error) bool {
		return err == nil || apperrors.IsNotFound(err) || apperrors.IsValidation(err)
	}

	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *CircuitBreakerStore) ListAssignments(ctx context.Context) ([]polling.Record, error) {
	if s.cb == nil {
		return s.store.ListAssignments(ctx)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.ListAssignments(ctx)
	})
	if err != nil {
		return nil, s.wrap(err)
	}

	records, ok := result.([]polling.Record)
	if !ok {
		return nil, fmt.Errorf("store returned invalid result type")
	}
	return records, nil
}

func (s *CircuitBreakerStore) GetAssignment(ctx context.Context, id string) (polling.Record, error) {
	if s.cb == nil {
		return s.store.GetAssignment(ctx, id)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.GetAssignment(ctx, id)
	})
	if err != nil {
		return polling.Record{}, s.wrap(err)
	}

	rec, ok := result.(polling.Record)
	if !ok {
		return polling.Record{}, fmt.Errorf("store returned invalid result type")
	}
	return rec, nil
}

func (s *CircuitBreakerStore) UpdateAssignmentField(ctx context.Context, id, field string, value interface{}) error {
	if s.cb == nil {
		return s.store.UpdateAssignmentField(ctx, id, field, value)
	}

	_, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, s.store.UpdateAssignmentField(ctx, id, field, value)
	})
	if err != nil {
		return s.wrap(err)
	}
	return nil
}

func (s *CircuitBreakerStore) State() string {
	if s.cb == nil {
		return "disabled"
	}
	return s.cb.State().String()
}

func (s *CircuitBreakerStore) wrap(err error) error {
	if s.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for %s: %w", s.cb.Name(), err)
	}
	return err
}
