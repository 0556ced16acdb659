package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// usageEventRow is the Postgres shape of one usage event.
type usageEventRow struct {
	bun.BaseModel `bun:"table:usage_events"`

	ID               string    `bun:"id,pk"`
	Kind             string    `bun:"kind,notnull"`
	OrgID            string    `bun:"org_id,notnull"`
	ProjectID        string    `bun:"project_id,notnull"`
	Model            string    `bun:"model"`
	PromptTokens     int       `bun:"prompt_tokens"`
	CompletionTokens int       `bun:"completion_tokens"`
	Searches         int       `bun:"searches"`
	GiB              float64   `bun:"gib"`
	Count            int       `bun:"count"`
	Cost             float64   `bun:"cost,notnull"`
	CreatedAt        time.Time `bun:"created_at,notnull"`
}

// PGSink persists usage events into Postgres through bun. The primary key
// on the event id makes replayed flushes idempotent.
type PGSink struct {
	db *bun.DB
}

// NewPGSink creates a sink over an open bun connection and ensures the
// usage_events table exists.
func NewPGSink(ctx context.Context, db *bun.DB) (*PGSink, error) {
	_, err := db.NewCreateTable().
		Model((*usageEventRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("billing: create usage_events: %w", err)
	}

	return &PGSink{db: db}, nil
}

// WriteEvents implements Sink. Duplicate ids from a replayed batch are
// skipped at the database.
func (s *PGSink) WriteEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([]usageEventRow, len(events))
	for i, event := range events {
		rows[i] = usageEventRow{
			ID:               event.ID,
			Kind:             string(event.Kind),
			OrgID:            event.OrgID,
			ProjectID:        event.ProjectID,
			Model:            event.Model,
			PromptTokens:     event.PromptTokens,
			CompletionTokens: event.CompletionTokens,
			Searches:         event.Searches,
			GiB:              event.GiB,
			Count:            event.Count,
			Cost:             event.Cost,
			CreatedAt:        event.CreatedAt,
		}
	}

	_, err := s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing: insert usage events: %w", err)
	}

	return nil
}
