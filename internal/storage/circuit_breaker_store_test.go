package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netbrain/internal/config"
	"netbrain/internal/polling"
	apperrors "netbrain/pkg/errors"
)

type stubStore struct {
	listErr error
	getErr  error
	calls   int
}

func (s *stubStore) ListAssignments(ctx context.Context) ([]polling.Record, error) {
	s.calls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return []polling.Record{{ID: "A1", Interval: 1}}, nil
}

func (s *stubStore) GetAssignment(ctx context.Context, id string) (polling.Record, error) {
	s.calls++
	if s.getErr != nil {
		return polling.Record{}, s.getErr
	}
	return polling.Record{ID: id}, nil
}

func (s *stubStore) UpdateAssignmentField(ctx context.Context, id, field string, value interface{}) error {
	s.calls++
	return nil
}

func breakerSettings() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	}
}

func TestCircuitBreakerStore_Disabled(t *testing.T) {
	stub := &stubStore{}
	store := NewCircuitBreakerStore(stub, config.CircuitBreakerConfig{})

	records, err := store.ListAssignments(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "disabled", store.State())
}

func TestCircuitBreakerStore_OpensOnFailures(t *testing.T) {
	stub := &stubStore{listErr: errors.New("connection refused")}
	store := NewCircuitBreakerStore(stub, breakerSettings())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := store.ListAssignments(ctx)
		require.Error(t, err)
	}
	assert.Equal(t, "open", store.State())

	calls := stub.calls
	_, err := store.ListAssignments(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, calls, stub.calls, "open breaker must not reach the store")
}

func TestCircuitBreakerStore_NotFoundDoesNotTrip(t *testing.T) {
	stub := &stubStore{getErr: apperrors.ErrNotFound.WithDetail("entry_id", "A1")}
	store := NewCircuitBreakerStore(stub, breakerSettings())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.GetAssignment(ctx, "A1")
		assert.True(t, apperrors.IsNotFound(err))
	}
	assert.Equal(t, "closed", store.State())
	assert.Equal(t, 5, stub.calls)
}
