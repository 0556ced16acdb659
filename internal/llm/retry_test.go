package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRetry_Success_SingleCall(t *testing.T) {
	t.Parallel()

	calls := 0

	err := Retry(context.Background(), discardLogger(), "chat", func() error {
		calls++

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_PermanentError_NoRetry(t *testing.T) {
	t.Parallel()

	calls := 0
	permanent := errors.New("bad request")

	err := Retry(context.Background(), discardLogger(), "chat", func() error {
		calls++

		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextOverflow_NoRetry(t *testing.T) {
	t.Parallel()

	calls := 0

	err := Retry(context.Background(), discardLogger(), "chat", func() error {
		calls++

		return wrapProviderError("chat", &openai.APIError{
			HTTPStatusCode: http.StatusBadRequest,
			Code:           "context_length_exceeded",
		})
	})

	assert.ErrorIs(t, err, ErrContextOverflow)
	assert.Equal(t, 1, calls)
}

func TestRetry_CancelledContext_StopsWaiting(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Retry(ctx, discardLogger(), "chat", func() error {
		calls++

		cancel()

		return &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExpBackoff_DoublesAndCaps(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond

	assert.Equal(t, 100*time.Millisecond, expBackoff(base, 0, time.Second))
	assert.Equal(t, 200*time.Millisecond, expBackoff(base, 1, time.Second))
	assert.Equal(t, 400*time.Millisecond, expBackoff(base, 2, time.Second))
	assert.Equal(t, time.Second, expBackoff(base, 10, time.Second))
}

func TestAddJitter_WithinQuarter(t *testing.T) {
	t.Parallel()

	base := 400 * time.Millisecond

	for range 100 {
		jittered := addJitter(base)
		assert.GreaterOrEqual(t, jittered, base)
		assert.LessOrEqual(t, jittered, base+base/4)
	}
}
