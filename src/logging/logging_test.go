package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPrettyWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(NewPrettyZerologWriter(&buf))

	t.Run("single line", func(t *testing.T) {
		buf.Reset()
		logger.Info().Msg("stats recomputed")
		assert.Contains(t, buf.String(), "INFO")
		assert.Contains(t, buf.String(), "stats recomputed")
		assert.NotContains(t, buf.String(), "Fields:")
	})
	t.Run("fields and error", func(t *testing.T) {
		buf.Reset()
		logger.Error().Err(errors.New("connection refused")).Int("forum_id", 3).Msg("failed to move thread")
		out := buf.String()
		assert.Contains(t, out, "ERROR:")
		assert.Contains(t, out, "connection refused")
		assert.Contains(t, out, "forum_id: 3")
	})
	t.Run("non-json passes through", func(t *testing.T) {
		buf.Reset()
		w := NewPrettyZerologWriter(&buf)
		n, err := w.Write([]byte("plain text"))
		assert.NoError(t, err)
		assert.Equal(t, len("plain text"), n)
		assert.Equal(t, "plain text", buf.String())
	})
}

func TestExtractLogger(t *testing.T) {
	assert.Equal(t, GlobalLogger(), ExtractLogger(context.Background()))

	logger := zerolog.Nop()
	ctx := AttachLoggerToContext(&logger, context.Background())
	assert.Equal(t, &logger, ExtractLogger(ctx))
}
