package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tablefang/internal/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err) // explicit missing file is an error

	cfg, err = config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultCellBudget, cfg.Engine.CellBudget)
	assert.Equal(t, config.DefaultMaxRowsPerRequest, cfg.Engine.MaxRowsPerRequest)
	assert.Equal(t, config.DefaultChannelBound, cfg.Engine.ChannelBound)
	assert.Equal(t, config.DefaultLLMTimeout, cfg.Engine.LLMTimeout)
	assert.Equal(t, config.DefaultDocLoadTimeout, cfg.Engine.DocLoadTimeout)
	assert.Equal(t, config.DefaultRedisAddr, cfg.Redis.Addr)
	assert.Equal(t, config.DefaultPlanID, cfg.Billing.DefaultPlanID)
	assert.Equal(t, config.DefaultFlushInterval, cfg.Billing.FlushInterval)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tablefang.yaml")

	doc := `
engine:
  cell_budget: 30
  llm_timeout: 90s
redis:
  addr: redis.internal:6380
billing:
  default_plan_id: team
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Engine.CellBudget)
	assert.Equal(t, 90*time.Second, cfg.Engine.LLMTimeout)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, "team", cfg.Billing.DefaultPlanID)

	// Untouched keys keep their defaults.
	assert.Equal(t, config.DefaultChannelBound, cfg.Engine.ChannelBound)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tablefang.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  cell_budget: 30\n"), 0o600))

	t.Setenv("TABLEFANG_ENGINE_CELL_BUDGET", "7")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.CellBudget)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"zero cell budget", "engine:\n  cell_budget: 0\n", config.ErrInvalidCellBudget},
		{"zero max rows", "engine:\n  max_rows_per_request: 0\n", config.ErrInvalidMaxRows},
		{"small channel bound", "engine:\n  channel_bound: 8\n", config.ErrInvalidChannelBound},
		{"zero multi turn window", "engine:\n  multi_turn_window: 0\n", config.ErrInvalidMultiTurnWindow},
		{"negative timeout", "engine:\n  llm_timeout: -1s\n", config.ErrInvalidTimeout},
		{"zero flush interval", "billing:\n  flush_interval: 0\n", config.ErrInvalidFlushInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tablefang.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.doc), 0o600))

			_, err := config.LoadConfig(path)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
