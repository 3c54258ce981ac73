package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()

	t.Run("should round-trip trace ID", func(t *testing.T) {
		ctx := WithTraceID(ctx, "trace-1")
		assert.Equal(t, "trace-1", GetTraceID(ctx))
	})

	t.Run("should round-trip turn ID", func(t *testing.T) {
		ctx := WithTurnID(ctx, "turn-1")
		assert.Equal(t, "turn-1", GetTurnID(ctx))
	})

	t.Run("should round-trip project ID and persona", func(t *testing.T) {
		ctx := WithProjectID(ctx, "proj-1")
		ctx = WithPersona(ctx, "Editor")
		assert.Equal(t, "proj-1", GetProjectID(ctx))
		assert.Equal(t, "Editor", GetPersona(ctx))
	})

	t.Run("should return empty strings for missing values", func(t *testing.T) {
		assert.Empty(t, GetTraceID(ctx))
		assert.Empty(t, GetTurnID(ctx))
		assert.Empty(t, GetProjectID(ctx))
		assert.Empty(t, GetPersona(ctx))
	})
}

func TestFromContextAndNewContext(t *testing.T) {
	src := WithTraceID(context.Background(), "trace-9")
	src = WithTurnID(src, "turn-9")
	src = WithProjectID(src, "proj-9")

	tc := FromContext(src)
	assert.Equal(t, "trace-9", tc.TraceID)
	assert.Equal(t, "turn-9", tc.TurnID)
	assert.Equal(t, "proj-9", tc.ProjectID)

	dst := NewContext(context.Background(), tc)
	assert.Equal(t, "trace-9", GetTraceID(dst))
	assert.Equal(t, "turn-9", GetTurnID(dst))
}

func TestNewTurnContext(t *testing.T) {
	ctx := NewTurnContext(context.Background(), "proj-7")

	assert.NotEmpty(t, GetTurnID(ctx))
	assert.Equal(t, "proj-7", GetProjectID(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-log")
	ctx = WithPersona(ctx, "Muse")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, "trace-log")
	assert.Contains(t, out, "Muse")
}
