package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".tablefang"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for tablefang settings.
const envPrefix = "TABLEFANG"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	// Development convenience; a missing .env is the normal case.
	_ = godotenv.Load()

	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("engine.cell_budget", DefaultCellBudget)
	viperCfg.SetDefault("engine.max_rows_per_request", DefaultMaxRowsPerRequest)
	viperCfg.SetDefault("engine.channel_bound", DefaultChannelBound)
	viperCfg.SetDefault("engine.multi_turn_window", DefaultMultiTurnWindow)
	viperCfg.SetDefault("engine.llm_timeout", DefaultLLMTimeout)
	viperCfg.SetDefault("engine.embed_timeout", DefaultEmbedTimeout)
	viperCfg.SetDefault("engine.code_timeout", DefaultCodeTimeout)
	viperCfg.SetDefault("engine.doc_load_timeout", DefaultDocLoadTimeout)

	viperCfg.SetDefault("redis.addr", DefaultRedisAddr)
	viperCfg.SetDefault("redis.db", 0)

	viperCfg.SetDefault("postgres.dsn", "")
	viperCfg.SetDefault("postgres.debug", false)

	viperCfg.SetDefault("billing.plans_path", "")
	viperCfg.SetDefault("billing.default_plan_id", DefaultPlanID)
	viperCfg.SetDefault("billing.flush_interval", DefaultFlushInterval)
	viperCfg.SetDefault("billing.flush_threshold", DefaultFlushThreshold)

	viperCfg.SetDefault("serve.metrics_addr", DefaultMetricsAddr)
	viperCfg.SetDefault("serve.optimize_schedule", DefaultOptimizeSchedule)

	viperCfg.SetDefault("observability.service_name", "tablefang")
	viperCfg.SetDefault("observability.log_level", "info")
	viperCfg.SetDefault("observability.log_format", "json")
}
