// Package billing meters the billable work of each request: pre-flight
// quota checks, per-request usage accumulation with tier-integrated cost,
// and an idempotent flush into the durable usage buffer.
package billing

import (
	"time"

	"github.com/google/uuid"
)

// Kind is a billable product category.
type Kind string

// Product categories.
const (
	KindLLM    Kind = "llm"
	KindEmbed  Kind = "embed"
	KindRerank Kind = "rerank"
	KindEgress Kind = "egress"
	KindDB     Kind = "db"
	KindFile   Kind = "file"
	KindImage  Kind = "image"
)

// Event is one usage record. The id is assigned at emission so the durable
// buffer can de-duplicate replays; the cost is integrated over the price
// tiers at emission so credit balance reads stay consistent.
type Event struct {
	ID               string    `json:"id"`
	Kind             Kind      `json:"kind"`
	OrgID            string    `json:"org_id"`
	ProjectID        string    `json:"project_id"`
	Model            string    `json:"model,omitempty"`
	PromptTokens     int       `json:"prompt_tokens,omitempty"`
	CompletionTokens int       `json:"completion_tokens,omitempty"`
	Searches         int       `json:"searches,omitempty"`
	GiB              float64   `json:"gib,omitempty"`
	Count            int       `json:"count,omitempty"`
	Cost             float64   `json:"cost"`
	CreatedAt        time.Time `json:"ts"`
}

// Amount returns the metered quantity in the kind's billing unit: tokens
// for llm and embed, searches for rerank, GiB for the storage kinds and
// generations for image.
func (e Event) Amount() float64 {
	switch e.Kind {
	case KindLLM:
		return float64(e.PromptTokens + e.CompletionTokens)
	case KindEmbed:
		return float64(e.PromptTokens)
	case KindRerank:
		return float64(e.Searches)
	case KindEgress, KindDB, KindFile:
		return e.GiB
	case KindImage:
		return float64(e.Count)
	default:
		return 0
	}
}

func newEventID() string {
	return uuid.Must(uuid.NewV7()).String()
}
