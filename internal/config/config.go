// Package config loads service configuration from a YAML file, TABLEFANG_*
// environment variables and defaults, in that precedence order. A local
// .env file is read first so development credentials stay out of the shell.
package config

import (
	"errors"
	"time"

	"github.com/Sumatoshi-tech/tablefang/internal/observability"
)

// Config is the top-level configuration struct for tablefang.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Engine        EngineConfig         `mapstructure:"engine"`
	Redis         RedisConfig          `mapstructure:"redis"`
	Postgres      PostgresConfig       `mapstructure:"postgres"`
	Models        ModelsConfig         `mapstructure:"models"`
	Billing       BillingConfig        `mapstructure:"billing"`
	Serve         ServeConfig          `mapstructure:"serve"`
	Observability observability.Config `mapstructure:"observability"`
}

// EngineConfig holds the execution engine knobs.
type EngineConfig struct {
	// CellBudget caps concurrent (column x row) work per request.
	CellBudget int `mapstructure:"cell_budget"`
	// MaxRowsPerRequest caps the rows of one add or regen call.
	MaxRowsPerRequest int `mapstructure:"max_rows_per_request"`
	// ChannelBound sizes the SSE multiplexer channel.
	ChannelBound int `mapstructure:"channel_bound"`
	// MultiTurnWindow caps how many prior rows feed a multi-turn prompt.
	MultiTurnWindow int `mapstructure:"multi_turn_window"`
	// LLMTimeout bounds one completion call.
	LLMTimeout time.Duration `mapstructure:"llm_timeout"`
	// EmbedTimeout bounds one embedding call.
	EmbedTimeout time.Duration `mapstructure:"embed_timeout"`
	// CodeTimeout bounds one snippet evaluation.
	CodeTimeout time.Duration `mapstructure:"code_timeout"`
	// DocLoadTimeout bounds one document load.
	DocLoadTimeout time.Duration `mapstructure:"doc_load_timeout"`
}

// RedisConfig holds the cache layer connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig holds the durable store connection settings. An empty
// DSN selects the in-memory store.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Debug bool   `mapstructure:"debug"`
}

// ModelsConfig routes model providers.
type ModelsConfig struct {
	OpenAI   ProviderConfig    `mapstructure:"openai"`
	Reranker ProviderConfig    `mapstructure:"reranker"`
	Catalog  []ModelInfoConfig `mapstructure:"catalog"`
}

// ProviderConfig is one provider endpoint.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// ModelInfoConfig is per-model metadata for the registry.
type ModelInfoConfig struct {
	ID            string `mapstructure:"id"`
	ContextLength int    `mapstructure:"context_length"`
	EmbeddingSize int    `mapstructure:"embedding_size"`
}

// BillingConfig holds the quota and flush settings.
type BillingConfig struct {
	// PlansPath points at the YAML plan catalog. Empty disables plan
	// loading; a built-in unmetered plan applies.
	PlansPath string `mapstructure:"plans_path"`
	// DefaultPlanID is the plan assigned to orgs with none recorded.
	DefaultPlanID string `mapstructure:"default_plan_id"`
	// FlushInterval is the usage-buffer drain period.
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	// FlushThreshold wakes the drainer early at this many pending events.
	FlushThreshold int `mapstructure:"flush_threshold"`
}

// ServeConfig holds the serve command settings.
type ServeConfig struct {
	// MetricsAddr is the listen address of the /metrics endpoint.
	MetricsAddr string `mapstructure:"metrics_addr"`
	// OptimizeSchedule is the cron spec of periodic index maintenance.
	// Empty disables the job.
	OptimizeSchedule string `mapstructure:"optimize_schedule"`
}

// Defaults applied when neither file nor environment sets a value.
const (
	DefaultCellBudget        = 15
	DefaultMaxRowsPerRequest = 100
	DefaultChannelBound      = 64
	DefaultMultiTurnWindow   = 100
	DefaultLLMTimeout        = 60 * time.Second
	DefaultEmbedTimeout      = 60 * time.Second
	DefaultCodeTimeout       = 120 * time.Second
	DefaultDocLoadTimeout    = 20 * time.Minute
	DefaultRedisAddr         = "localhost:6379"
	DefaultFlushInterval     = 5 * time.Second
	DefaultFlushThreshold    = 256
	DefaultMetricsAddr       = ":9090"
	DefaultOptimizeSchedule  = "@every 10m"
	DefaultPlanID            = "free"
)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidCellBudget indicates engine.cell_budget is not positive.
	ErrInvalidCellBudget = errors.New("engine.cell_budget must be positive")
	// ErrInvalidMaxRows indicates engine.max_rows_per_request is not positive.
	ErrInvalidMaxRows = errors.New("engine.max_rows_per_request must be positive")
	// ErrInvalidChannelBound indicates engine.channel_bound is below the
	// backpressure minimum.
	ErrInvalidChannelBound = errors.New("engine.channel_bound must be at least 64")
	// ErrInvalidMultiTurnWindow indicates engine.multi_turn_window is not positive.
	ErrInvalidMultiTurnWindow = errors.New("engine.multi_turn_window must be positive")
	// ErrInvalidTimeout indicates an engine timeout is not positive.
	ErrInvalidTimeout = errors.New("engine timeouts must be positive")
	// ErrInvalidFlushInterval indicates billing.flush_interval is not positive.
	ErrInvalidFlushInterval = errors.New("billing.flush_interval must be positive")
	// ErrInvalidFlushThreshold indicates billing.flush_threshold is not positive.
	ErrInvalidFlushThreshold = errors.New("billing.flush_threshold must be positive")
)

// channelBoundMin is the smallest multiplexer channel the engine accepts.
const channelBoundMin = 64

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.Engine.CellBudget <= 0 {
		return ErrInvalidCellBudget
	}

	if c.Engine.MaxRowsPerRequest <= 0 {
		return ErrInvalidMaxRows
	}

	if c.Engine.ChannelBound < channelBoundMin {
		return ErrInvalidChannelBound
	}

	if c.Engine.MultiTurnWindow <= 0 {
		return ErrInvalidMultiTurnWindow
	}

	if c.Engine.LLMTimeout <= 0 || c.Engine.EmbedTimeout <= 0 ||
		c.Engine.CodeTimeout <= 0 || c.Engine.DocLoadTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.Billing.FlushInterval <= 0 {
		return ErrInvalidFlushInterval
	}

	if c.Billing.FlushThreshold <= 0 {
		return ErrInvalidFlushThreshold
	}

	return nil
}
