package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger, err := New("info", FormatJSON)
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("started")

	logger, err = New("debug", FormatConsole)
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger, err = New("warn", "")
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("loud", FormatJSON)
	assert.Error(t, err)

	_, err = New("info", "xml")
	assert.Error(t, err)
}

func TestMustPanics(t *testing.T) {
	assert.Panics(t, func() { Must("loud", FormatJSON) })
	assert.NotNil(t, Must("info", FormatJSON))
}
