package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "circuit_open", KindCircuitOpen.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}

func TestKindOf(t *testing.T) {
	err := New(KindValidation, "current %0.1fA below minimum", 4.0)
	assert.Equal(t, KindValidation, KindOf(err))

	wrapped := fmt.Errorf("dispatch failed: %w", err)
	assert.Equal(t, KindValidation, KindOf(wrapped))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindTransport, cause, "modbus read")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transport")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(KindTransport, "reset")))
	assert.False(t, IsRetryable(New(KindTimeout, "deadline")))
	assert.False(t, IsRetryable(New(KindValidation, "bad")))
	assert.False(t, IsRetryable(New(KindCircuitOpen, "open")))
	assert.False(t, IsRetryable(nil))

	// Unclassified errors default to retryable.
	assert.True(t, IsRetryable(errors.New("flaky")))
}
