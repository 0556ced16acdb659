package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/tablefang/internal/cache"
)

// BufferKey is the well-known cache key of the durable usage buffer.
const BufferKey = "usage:events"

// Quota check failures.
var (
	// ErrUpgradeTier indicates a free-plan quota cap was reached.
	ErrUpgradeTier = errors.New("quota exceeded, upgrade tier")
	// ErrInsufficientCredits indicates a paid org ran out of credits.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// OrgState is the cached organization record a request bills against. The
// usage counters reflect everything flushed before this request started;
// in-flight usage of other requests is invisible until their flush.
type OrgState struct {
	OrgID     string           `json:"org_id"`
	ProjectID string           `json:"project_id"`
	PlanID    string           `json:"plan_id"`
	Credits   float64          `json:"credits"`
	Usage     map[Kind]float64 `json:"usage"`
}

// Manager accumulates the billable work of one request. Quota checks read
// the cached org record plus the request's own running totals; event
// creation integrates tiered cost immediately; ProcessAll pushes the
// accumulated events into the durable buffer exactly once.
type Manager struct {
	plan   Plan
	org    OrgState
	buffer *cache.Buffer
	log    *slog.Logger

	mu        sync.Mutex
	events    []Event
	totals    map[Kind]float64
	cost      float64
	processed bool
}

// NewManager creates a per-request Manager.
func NewManager(plan Plan, org OrgState, buffer *cache.Buffer, log *slog.Logger) *Manager {
	if org.Usage == nil {
		org.Usage = map[Kind]float64{}
	}

	return &Manager{
		plan:   plan,
		org:    org,
		buffer: buffer,
		log:    log,
		totals: map[Kind]float64{},
	}
}

// CheckLLMQuota verifies the org may spend promptTokens more LLM tokens.
// The projected spend counts against the cap, so an over-budget prompt is
// rejected before the provider call.
func (m *Manager) CheckLLMQuota(model string, promptTokens int) error {
	return m.check(KindLLM, model, float64(promptTokens))
}

// CheckEmbeddingQuota verifies the org may spend embedding tokens.
func (m *Manager) CheckEmbeddingQuota(model string) error {
	return m.check(KindEmbed, model, 0)
}

// CheckRerankQuota verifies the org may run rerank searches.
func (m *Manager) CheckRerankQuota(model string) error {
	return m.check(KindRerank, model, 0)
}

// CheckEgressQuota verifies the org may serve response bytes.
func (m *Manager) CheckEgressQuota() error {
	return m.check(KindEgress, "", 0)
}

// CheckDBQuota verifies the org may grow its database storage.
func (m *Manager) CheckDBQuota() error {
	return m.check(KindDB, "", 0)
}

// CheckFileQuota verifies the org may grow its file storage.
func (m *Manager) CheckFileQuota() error {
	return m.check(KindFile, "", 0)
}

func (m *Manager) check(kind Kind, model string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.org.Usage[kind] + m.totals[kind] + amount

	quota, metered := m.plan.Quota(kind)
	if metered && used >= quota {
		if m.plan.Free {
			return fmt.Errorf("%w: %s usage %.2f at cap %.2f", ErrUpgradeTier, kind, used, quota)
		}

		return fmt.Errorf("%w: %s usage %.2f at cap %.2f", ErrInsufficientCredits, kind, used, quota)
	}

	if !m.plan.Free && m.org.Credits-m.cost <= 0 {
		return fmt.Errorf("%w: balance %.4f, model %q", ErrInsufficientCredits, m.org.Credits-m.cost, model)
	}

	return nil
}

// CreateLLMEvents records one completion's token usage.
func (m *Manager) CreateLLMEvents(model string, promptTokens, completionTokens int) {
	m.emit(Event{Kind: KindLLM, Model: model, PromptTokens: promptTokens, CompletionTokens: completionTokens})
}

// CreateEmbedEvents records one embedding call's token usage.
func (m *Manager) CreateEmbedEvents(model string, tokens int) {
	m.emit(Event{Kind: KindEmbed, Model: model, PromptTokens: tokens})
}

// CreateRerankEvents records rerank searches.
func (m *Manager) CreateRerankEvents(model string, searches int) {
	m.emit(Event{Kind: KindRerank, Model: model, Searches: searches})
}

// CreateEgressEvents records response bytes served.
func (m *Manager) CreateEgressEvents(gib float64) {
	m.emit(Event{Kind: KindEgress, GiB: gib})
}

// CreateDBEvents records database storage growth.
func (m *Manager) CreateDBEvents(gib float64) {
	m.emit(Event{Kind: KindDB, GiB: gib})
}

// CreateFileEvents records file storage growth.
func (m *Manager) CreateFileEvents(gib float64) {
	m.emit(Event{Kind: KindFile, GiB: gib})
}

// emit assigns the event id, integrates its tiered cost from the org's
// current position on the usage ladder, and appends it to the accumulator.
// Cost integration happens here, not at flush, so credit balance reads
// stay consistent throughout the request.
func (m *Manager) emit(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	amount := event.Amount()

	event.ID = newEventID()
	event.OrgID = m.org.OrgID
	event.ProjectID = m.org.ProjectID
	event.CreatedAt = time.Now().UTC()
	event.Cost = m.plan.Cost(event.Kind, m.org.Usage[event.Kind]+m.totals[event.Kind], amount)

	m.totals[event.Kind] += amount
	m.cost += event.Cost
	m.events = append(m.events, event)
}

// Totals returns a copy of the in-request usage counters per kind.
func (m *Manager) Totals() map[Kind]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[Kind]float64, len(m.totals))
	for k, v := range m.totals {
		out[k] = v
	}

	return out
}

// Cost returns the integrated cost of the request so far.
func (m *Manager) Cost() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cost
}

// Events returns a copy of the accumulated events.
func (m *Manager) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, len(m.events))
	copy(out, m.events)

	return out
}

// ProcessAll pushes the accumulated events into the durable buffer. Called
// exactly once per request, on success or failure; a second call is a
// no-op. All events flush atomically in one buffer append.
func (m *Manager) ProcessAll(ctx context.Context) error {
	m.mu.Lock()

	if m.processed {
		m.mu.Unlock()

		return nil
	}

	m.processed = true
	events := m.events
	m.mu.Unlock()

	if len(events) == 0 {
		return nil
	}

	if m.buffer == nil {
		// No durable buffer wired; the events stay readable in memory.
		return nil
	}

	payloads := make([]string, len(events))

	for i, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("billing: encode event %s: %w", event.ID, err)
		}

		payloads[i] = string(data)
	}

	if err := m.buffer.Append(ctx, payloads...); err != nil {
		return fmt.Errorf("billing: %w", err)
	}

	m.log.DebugContext(ctx, "usage events buffered",
		slog.String("org_id", m.org.OrgID),
		slog.Int("events", len(events)),
		slog.Float64("cost", m.cost))

	return nil
}
