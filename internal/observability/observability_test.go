package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tablefang/internal/observability"
)

func TestInit_NoEndpoint_NoopProviders(t *testing.T) {
	t.Parallel()

	providers, err := observability.Init(observability.Config{})
	require.NoError(t, err)

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Logger)
	assert.Nil(t, providers.Registry)

	require.NoError(t, providers.Shutdown(context.Background()))
}

func TestInit_PrometheusBridge_ServesMetrics(t *testing.T) {
	t.Parallel()

	providers, err := observability.Init(observability.Config{Prometheus: true})
	require.NoError(t, err)

	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	metrics, err := observability.NewEngineMetrics(providers.Meter)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.CellStarted(ctx, "llm")
	metrics.CellCompleted(ctx, "llm", observability.OutcomeOK, 250*time.Millisecond)
	metrics.ChunkEmitted(ctx)
	metrics.RowsCommitted(ctx, 3)

	rec := httptest.NewRecorder()
	observability.MetricsHandler(providers.Registry).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "tablefang_cells_started")
	assert.Contains(t, body, "tablefang_rows_committed")
}

func TestNewLogger_JSON_CarriesServiceAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	log := observability.NewLogger(&buf, observability.Config{
		ServiceName: "tablefang-test",
		Env:         "ci",
		LogLevel:    "debug",
	})

	log.Info("hello", "table_id", "t1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "tablefang-test", record["service"])
	assert.Equal(t, "ci", record["env"])
	assert.Equal(t, "t1", record["table_id"])
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	log := observability.NewLogger(&buf, observability.Config{LogLevel: "warn", LogFormat: "text"})

	log.Info("dropped")
	log.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestEngineMetrics_NilReceiver_NoPanic(t *testing.T) {
	t.Parallel()

	var metrics *observability.EngineMetrics

	ctx := context.Background()
	metrics.CellStarted(ctx, "llm")
	metrics.CellCompleted(ctx, "llm", observability.OutcomeError, time.Second)
	metrics.ChunkEmitted(ctx)
	metrics.RowsCommitted(ctx, 1)
	metrics.UsageEvent(ctx, "llm")
	metrics.RowStarted(ctx)
	metrics.RowFinished(ctx)
}
