package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/tablefang/internal/cache"
)

// Flusher cadence and batch sizing.
const (
	// DefaultFlushInterval is the period between drain attempts.
	DefaultFlushInterval = 5 * time.Second
	// DefaultFlushThreshold wakes the flusher early once this many
	// events are pending.
	DefaultFlushThreshold = 256
	// drainBatchSize bounds one buffer pop.
	drainBatchSize = 512
	// thresholdPollInterval is how often the pending counter is probed
	// between scheduled flushes.
	thresholdPollInterval = 500 * time.Millisecond
)

// Sink persists drained usage events. Implementations must tolerate
// replayed events; the flusher dedupes within its own lifetime but a
// restart may re-deliver a batch that failed mid-write.
type Sink interface {
	WriteEvents(ctx context.Context, events []Event) error
}

// Flusher is the background drainer of the usage buffer. One instance is
// launched at process init and stopped at shutdown.
type Flusher struct {
	buffer    *cache.Buffer
	sink      Sink
	log       *slog.Logger
	interval  time.Duration
	threshold int

	mu   sync.Mutex
	seen map[string]struct{}

	stop chan struct{}
	done chan struct{}
}

// NewFlusher creates a Flusher. Non-positive interval and threshold select
// the defaults.
func NewFlusher(buffer *cache.Buffer, sink Sink, log *slog.Logger, interval time.Duration, threshold int) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}

	return &Flusher{
		buffer:    buffer,
		sink:      sink,
		log:       log,
		interval:  interval,
		threshold: threshold,
		seen:      make(map[string]struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background drain loop.
func (f *Flusher) Start(ctx context.Context) {
	go f.run(ctx)
}

// Stop ends the loop and performs one final drain so buffered events of
// completed requests survive a clean shutdown.
func (f *Flusher) Stop(ctx context.Context) error {
	close(f.stop)
	<-f.done

	return f.Flush(ctx)
}

func (f *Flusher) run(ctx context.Context) {
	defer close(f.done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	poll := time.NewTicker(thresholdPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case <-ticker.C:
			f.flushLogged(ctx)
		case <-poll.C:
			count, err := f.buffer.Count(ctx)
			if err == nil && count >= f.threshold {
				f.flushLogged(ctx)
			}
		}
	}
}

func (f *Flusher) flushLogged(ctx context.Context) {
	if err := f.Flush(ctx); err != nil {
		f.log.ErrorContext(ctx, "usage flush failed", slog.String("error", err.Error()))
	}
}

// Flush drains the buffer to the sink until empty, deduping by event id.
func (f *Flusher) Flush(ctx context.Context) error {
	for {
		payloads, err := f.buffer.Drain(ctx, drainBatchSize)
		if err != nil {
			return fmt.Errorf("billing: %w", err)
		}

		if len(payloads) == 0 {
			return nil
		}

		events := f.decodeNew(ctx, payloads)
		if len(events) == 0 {
			continue
		}

		if err := f.sink.WriteEvents(ctx, events); err != nil {
			return fmt.Errorf("billing: sink write: %w", err)
		}
	}
}

// decodeNew parses payloads and drops events already flushed in this
// flusher's lifetime.
func (f *Flusher) decodeNew(ctx context.Context, payloads []string) []Event {
	events := make([]Event, 0, len(payloads))

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, payload := range payloads {
		var event Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			f.log.WarnContext(ctx, "dropping malformed usage event", slog.String("error", err.Error()))

			continue
		}

		if _, dup := f.seen[event.ID]; dup {
			continue
		}

		f.seen[event.ID] = struct{}{}
		events = append(events, event)
	}

	return events
}

// MemorySink collects events in memory. Tests and single-node runs use it
// in place of the Postgres sink.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// WriteEvents implements Sink.
func (s *MemorySink) WriteEvents(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, events...)

	return nil
}

// Events returns a copy of everything written so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, len(s.events))
	copy(out, s.events)

	return out
}
