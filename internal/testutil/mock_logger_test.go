package testutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/testutil"
)

func TestMockLogger(t *testing.T) {
	logger := testutil.NewMockLogger()

	logger.Info("test info", logging.String("key", "value"))

	messages := logger.GetMessages()
	assert.Len(t, messages, 1)
	assert.Equal(t, "info", messages[0].Level)
	assert.Equal(t, "test info", messages[0].Message)

	logger.Clear()
	assert.Len(t, logger.GetMessages(), 0)

	logger.Error("test error")
	assert.True(t, logger.HasMessage("error", "test error"))
	assert.False(t, logger.HasMessage("info", "test info"))
}

func TestMockLogger_ChildrenShareRecord(t *testing.T) {
	root := testutil.NewMockLogger()
	child := root.Named("engine").Named("loop").With(logging.Pane("left"))

	child.Warn("pane failed", logging.Int("attempt", 2))

	msgs := root.Find("warn", "failed")
	require.Len(t, msgs, 1)
	assert.Equal(t, "engine.loop", msgs[0].Logger)
	v, ok := msgs[0].Field("pane")
	require.True(t, ok)
	assert.Equal(t, "left", v)
	_, ok = msgs[0].Field("missing")
	assert.False(t, ok)
}
