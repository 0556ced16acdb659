// Package progress tracks long-running operations: keyed, auto-expiring
// status records with per-stage percentages, published to watchers over
// pub/sub. Import, file embedding and reindex jobs report through it.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sumatoshi-tech/tablefang/internal/cache"
)

// State is the lifecycle phase of one tracked operation.
type State string

// Operation states.
const (
	StateStarted   State = "started"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// keyPrefix namespaces progress records in the cache.
const keyPrefix = "progress:"

// DefaultTTL keeps a record alive between writes and for a short window
// after completion. Every write extends it.
const DefaultTTL = 10 * time.Minute

// Record is the stored status of one operation. Stages map stage names
// to 0-100 percentages; the map only grows while the operation runs.
type Record struct {
	Key    string             `json:"key"`
	State  State              `json:"state"`
	Error  string             `json:"error,omitempty"`
	Stages map[string]float64 `json:"stages"`
}

// Tracker reads and writes progress records.
type Tracker struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewTracker creates a Tracker. A non-positive TTL selects DefaultTTL.
func NewTracker(c *cache.Cache, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Tracker{cache: c, ttl: ttl}
}

// Start writes a fresh started record under token, overwriting any
// previous run with the same token.
func (t *Tracker) Start(ctx context.Context, token string) error {
	return t.put(ctx, Record{Key: token, State: StateStarted, Stages: map[string]float64{}})
}

// Stage records the percentage of one named stage, clamped to [0, 100].
func (t *Tracker) Stage(ctx context.Context, token, stage string, percent float64) error {
	record, err := t.Get(ctx, token)
	if err != nil {
		return err
	}

	if percent < 0 {
		percent = 0
	}

	if percent > 100 {
		percent = 100
	}

	if record.Stages == nil {
		record.Stages = map[string]float64{}
	}

	record.Stages[stage] = percent

	return t.put(ctx, record)
}

// Complete marks the operation finished.
func (t *Tracker) Complete(ctx context.Context, token string) error {
	return t.finish(ctx, token, StateCompleted, "")
}

// Fail marks the operation failed with a message.
func (t *Tracker) Fail(ctx context.Context, token, message string) error {
	return t.finish(ctx, token, StateFailed, message)
}

func (t *Tracker) finish(ctx context.Context, token string, state State, message string) error {
	record, err := t.Get(ctx, token)
	if err != nil {
		record = Record{Key: token, Stages: map[string]float64{}}
	}

	record.State = state
	record.Error = message

	return t.put(ctx, record)
}

// Get loads the record for token. Wraps cache.ErrNotFound when no
// operation with that token is tracked.
func (t *Tracker) Get(ctx context.Context, token string) (Record, error) {
	raw, err := t.cache.Get(ctx, keyPrefix+token)
	if err != nil {
		return Record{}, fmt.Errorf("progress: %w", err)
	}

	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return Record{}, fmt.Errorf("progress: decode %q: %w", token, err)
	}

	return record, nil
}

// put stores the record, extends the TTL and publishes the new state to
// watchers of the token's channel.
func (t *Tracker) put(ctx context.Context, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("progress: encode %q: %w", record.Key, err)
	}

	key := keyPrefix + record.Key

	if err := t.cache.Set(ctx, key, string(data), t.ttl); err != nil {
		return fmt.Errorf("progress: %w", err)
	}

	if err := t.cache.Publish(ctx, key, string(data)); err != nil {
		return fmt.Errorf("progress: %w", err)
	}

	return nil
}

// Watch subscribes to updates for token. The returned channel closes when
// the context ends. Updates published before Watch is called are not
// replayed; callers needing the current state should Get first.
func (t *Tracker) Watch(ctx context.Context, token string) (<-chan Record, error) {
	sub := t.cache.Client().Subscribe(ctx, keyPrefix+token)

	// Force the subscription onto the wire before returning so callers
	// do not miss updates published right after Watch.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()

		return nil, fmt.Errorf("progress: watch %q: %w", token, err)
	}

	updates := make(chan Record)

	go func() {
		defer close(updates)
		defer func() { _ = sub.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}

				var record Record
				if err := json.Unmarshal([]byte(msg.Payload), &record); err != nil {
					continue
				}

				select {
				case updates <- record:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return updates, nil
}
