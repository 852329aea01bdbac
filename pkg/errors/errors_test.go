package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelByCode(t *testing.T) {
	err := ErrNotFound.WithDetail("entry_id", "A1").WithCause(fmt.Errorf("no documents"))

	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsValidation(err))
	assert.Contains(t, err.Error(), "no documents")
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrValidation.WithDetail("field", "ipaddress")

	assert.Empty(t, ErrValidation.Details)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, ErrValidation.IsFatal())
	assert.True(t, ErrNotFound.IsFatal())
	assert.False(t, ErrUpstream.IsFatal())
	assert.True(t, ErrUpstream.AsFatal().IsFatal())
	assert.True(t, ErrUpstream.IsRetryable())
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(fmt.Errorf("boom"))
	assert.Equal(t, "INTERNAL_ERROR", resp["error_code"])

	resp = ToErrorResponse(ErrQueueFull)
	assert.Equal(t, "QUEUE_FULL", resp["error_code"])
	assert.Equal(t, http.StatusServiceUnavailable, ToHTTPStatus(ErrQueueFull))
}

func TestRecoverPanic(t *testing.T) {
	assert.NoError(t, RecoverPanic(nil))

	err := RecoverPanic("worker exploded")
	require.Error(t, err)
	assert.True(t, IsPanic(err))
	assert.Contains(t, err.Error(), "worker exploded")
	assert.False(t, IsPanic(ErrInternal))
}
