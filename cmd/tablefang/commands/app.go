// Package commands implements the tablefang CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tablefang/internal/billing"
	"github.com/Sumatoshi-tech/tablefang/internal/cache"
	"github.com/Sumatoshi-tech/tablefang/internal/config"
	"github.com/Sumatoshi-tech/tablefang/internal/dispatch"
	"github.com/Sumatoshi-tech/tablefang/internal/docload"
	"github.com/Sumatoshi-tech/tablefang/internal/engine"
	"github.com/Sumatoshi-tech/tablefang/internal/llm"
	"github.com/Sumatoshi-tech/tablefang/internal/observability"
	"github.com/Sumatoshi-tech/tablefang/internal/progress"
	"github.com/Sumatoshi-tech/tablefang/internal/rag"
	"github.com/Sumatoshi-tech/tablefang/internal/snippet"
	"github.com/Sumatoshi-tech/tablefang/internal/storage"
	"github.com/Sumatoshi-tech/tablefang/internal/storage/memstore"
	"github.com/Sumatoshi-tech/tablefang/internal/storage/pgstore"
	"github.com/Sumatoshi-tech/tablefang/internal/table"
	"github.com/uptrace/bun"
)

// connectTimeout bounds startup connections to Redis and Postgres.
const connectTimeout = 10 * time.Second

// app is the wired service shared by the subcommands.
type app struct {
	cfg     *config.Config
	obs     observability.Providers
	store   storage.Store
	db      *bun.DB
	cache   *cache.Cache
	service *table.Service
	metrics *observability.EngineMetrics

	closers []func(ctx context.Context) error
}

func (a *app) log() *slog.Logger { return a.obs.Logger }

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log().ErrorContext(ctx, "shutdown step failed", slog.String("error", err.Error()))
		}
	}
}

// buildApp loads configuration and wires the full service. withCache
// selects whether Redis-backed features (locks, progress, usage buffer)
// connect; data commands like export run without them.
func buildApp(cmd *cobra.Command, withCache bool) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	obs, err := observability.Init(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	a := &app{cfg: cfg, obs: obs}
	a.closers = append(a.closers, obs.Shutdown)

	ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
	defer cancel()

	if err := a.connectStore(ctx); err != nil {
		a.close(cmd.Context())

		return nil, err
	}

	if withCache {
		if err := a.connectCache(ctx); err != nil {
			a.close(cmd.Context())

			return nil, err
		}
	}

	a.assemble()

	return a, nil
}

func (a *app) connectStore(ctx context.Context) error {
	if a.cfg.Postgres.DSN == "" {
		a.log().InfoContext(ctx, "no postgres dsn configured, using in-memory store")
		a.store = memstore.New()

		return nil
	}

	db := pgstore.Connect(a.cfg.Postgres.DSN, a.cfg.Postgres.Debug)

	store, err := pgstore.New(ctx, db, a.log())
	if err != nil {
		_ = db.Close()

		return fmt.Errorf("connect postgres: %w", err)
	}

	a.db = db
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })

	return nil
}

func (a *app) connectCache(ctx context.Context) error {
	c, err := cache.Connect(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	a.cache = c
	a.closers = append(a.closers, func(context.Context) error { return c.Close() })

	return nil
}

// assemble builds the model registry, dispatch stack, engine and table
// service from the connected backends.
func (a *app) assemble() {
	registry := llm.NewRegistry()

	if a.cfg.Models.OpenAI.APIKey != "" {
		oai := llm.NewOpenAIEngine(a.cfg.Models.OpenAI.APIKey, a.cfg.Models.OpenAI.BaseURL)
		registry.RegisterChat("openai", oai)
		registry.RegisterEmbedder("openai", oai)
	}

	if a.cfg.Models.Reranker.BaseURL != "" {
		registry.RegisterReranker("reranker",
			llm.NewHTTPReranker(a.cfg.Models.Reranker.BaseURL, a.cfg.Models.Reranker.APIKey))
	}

	for _, info := range a.cfg.Models.Catalog {
		registry.AddModel(llm.ModelInfo{
			ID:            info.ID,
			ContextLength: info.ContextLength,
			EmbeddingSize: info.EmbeddingSize,
		})
	}

	metrics, err := observability.NewEngineMetrics(a.obs.Meter)
	if err != nil {
		a.log().Warn("engine metrics disabled", slog.String("error", err.Error()))
	}

	a.metrics = metrics

	deps := &dispatch.Deps{
		Registry:        registry,
		Retriever:       rag.NewRetriever(a.store, registry, a.log()),
		Snippets:        snippet.NewEvaluator(a.cfg.Engine.CodeTimeout),
		Metrics:         metrics,
		Log:             a.log(),
		LLMTimeout:      a.cfg.Engine.LLMTimeout,
		EmbedTimeout:    a.cfg.Engine.EmbedTimeout,
		MultiTurnWindow: a.cfg.Engine.MultiTurnWindow,
	}

	eng := engine.New(a.store, deps, a.log(), a.cfg.Engine.ChannelBound)

	var (
		loader  *docload.Loader
		tracker *progress.Tracker
	)

	if a.cache != nil {
		loader = docload.NewLoader(a.cache, a.log(), a.cfg.Engine.DocLoadTimeout)
		tracker = progress.NewTracker(a.cache, progress.DefaultTTL)
	}

	a.service = table.New(a.store, eng, registry, loader, tracker, a.cache, a.log(), table.Config{
		CellBudget:        a.cfg.Engine.CellBudget,
		MaxRowsPerRequest: a.cfg.Engine.MaxRowsPerRequest,
	})
}

// loadPlans reads the plan catalog, falling back to a single unmetered
// plan when none is configured.
func (a *app) loadPlans() (map[string]billing.Plan, error) {
	if a.cfg.Billing.PlansPath == "" {
		return map[string]billing.Plan{
			config.DefaultPlanID: {ID: config.DefaultPlanID, Free: true},
		}, nil
	}

	plans, err := billing.LoadPlans(a.cfg.Billing.PlansPath)
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}

	return plans, nil
}
