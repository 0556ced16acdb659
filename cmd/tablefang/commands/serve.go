package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tablefang/internal/billing"
	"github.com/Sumatoshi-tech/tablefang/internal/observability"
	"github.com/Sumatoshi-tech/tablefang/internal/storage/pgstore"
)

// shutdownGrace bounds the drain of in-flight work at termination.
const shutdownGrace = 15 * time.Second

// ServeCommand runs the long-lived service: the usage-event flusher, the
// metrics endpoint and scheduled index maintenance.
type ServeCommand struct{}

// NewServeCommand creates the serve subcommand.
func NewServeCommand() *cobra.Command {
	sc := &ServeCommand{}

	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tablefang service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sc.run(cmd)
		},
	}
}

func (sc *ServeCommand) run(cmd *cobra.Command) error {
	a, err := buildApp(cmd, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer func() {
		graceCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		a.close(graceCtx)
	}()

	log := a.log()

	plans, err := a.loadPlans()
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "plan catalog loaded",
		slog.Int("plans", len(plans)),
		slog.String("default", a.cfg.Billing.DefaultPlanID))

	flusher := sc.startFlusher(ctx, a)
	defer func() {
		graceCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := flusher.Stop(graceCtx); err != nil {
			log.ErrorContext(graceCtx, "flusher drain failed", slog.String("error", err.Error()))
		}
	}()

	metricsErr := sc.startMetrics(ctx, a)

	if stopJob := sc.startOptimizeJob(ctx, a); stopJob != nil {
		defer stopJob()
	}

	log.InfoContext(ctx, "tablefang serving",
		slog.String("metrics_addr", a.cfg.Serve.MetricsAddr),
		slog.Bool("postgres", a.db != nil))

	select {
	case <-ctx.Done():
		log.InfoContext(context.Background(), "shutdown signal received")

		return nil
	case err := <-metricsErr:
		return err
	}
}

// startFlusher launches the usage-buffer drainer. With Postgres
// connected events land in the usage_events relation; otherwise they
// accumulate in memory, which suits development against the memstore.
func (sc *ServeCommand) startFlusher(ctx context.Context, a *app) *billing.Flusher {
	var sink billing.Sink = &billing.MemorySink{}

	if a.db != nil {
		pgSink, err := billing.NewPGSink(ctx, a.db)
		if err != nil {
			a.log().ErrorContext(ctx, "usage sink init failed, falling back to memory",
				slog.String("error", err.Error()))
		} else {
			sink = pgSink
		}
	}

	flusher := billing.NewFlusher(
		a.cache.NewBuffer(billing.BufferKey),
		sink,
		a.log(),
		a.cfg.Billing.FlushInterval,
		a.cfg.Billing.FlushThreshold,
	)
	flusher.Start(ctx)

	return flusher
}

// startMetrics serves /metrics and /healthz. The returned channel yields
// at most one listener error.
func (sc *ServeCommand) startMetrics(ctx context.Context, a *app) <-chan error {
	errs := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if a.obs.Registry != nil {
		mux.Handle("/metrics", observability.MetricsHandler(a.obs.Registry))
	}

	server := &http.Server{
		Addr:              a.cfg.Serve.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		graceCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		_ = server.Shutdown(graceCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("metrics listener: %w", err)
		}
	}()

	return errs
}

// startOptimizeJob schedules periodic statistics refresh on the durable
// store. Returns nil when the store is in-memory or the schedule is
// disabled.
func (sc *ServeCommand) startOptimizeJob(ctx context.Context, a *app) func() {
	pg, ok := a.store.(*pgstore.Store)
	if !ok || a.cfg.Serve.OptimizeSchedule == "" {
		return nil
	}

	scheduler := cron.New()

	_, err := scheduler.AddFunc(a.cfg.Serve.OptimizeSchedule, func() {
		if err := pg.Optimize(ctx); err != nil {
			a.log().ErrorContext(ctx, "index optimization failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		a.log().ErrorContext(ctx, "optimize schedule rejected",
			slog.String("schedule", a.cfg.Serve.OptimizeSchedule),
			slog.String("error", err.Error()))

		return nil
	}

	scheduler.Start()

	return func() { <-scheduler.Stop().Done() }
}
