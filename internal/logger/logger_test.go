// internal/logger/logger_test.go
package logger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func TestWithPositionAttachesContext(t *testing.T) {
	l, logs := observedLogger()

	WithPosition(l, "pos-1", "MintAAA").Info("checked")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "pos-1", fields["position_id"])
	assert.Equal(t, "MintAAA", fields["token_mint"])
}

func TestWithOperationStampsFreshCorrelationID(t *testing.T) {
	l, logs := observedLogger()

	WithOperation(l, "position_exit").Info("started")
	WithOperation(l, "position_exit").Info("started")

	entries := logs.All()
	require.Len(t, entries, 2)

	var ids []string
	for _, entry := range entries {
		fields := entry.ContextMap()
		assert.Equal(t, "position_exit", fields["operation"])

		id, ok := fields["correlation_id"].(string)
		require.True(t, ok)
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.NotEqual(t, ids[0], ids[1])
}

func TestWithSubmissionAttachesSignature(t *testing.T) {
	l, logs := observedLogger()

	WithSubmission(l, "5sig").Info("confirmed")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "5sig", entries[0].ContextMap()["tx_signature"])
}
