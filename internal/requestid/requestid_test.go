package requestid

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	a, b := New(), New()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestFromContext_Missing(t *testing.T) {
	assert.Empty(t, FromContext(context.Background()))
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "test-123")
	assert.Equal(t, "test-123", FromContext(ctx))
}

func TestLogger_AttachesID(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithRequestID(context.Background(), "req-42")
	log := Logger(ctx, base)
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
}

func TestLogger_NoID(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	log := Logger(context.Background(), base)
	log.Info().Msg("hello")
	assert.NotContains(t, buf.String(), "request_id")
}
