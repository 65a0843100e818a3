package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miroslav43/tmAgent-sub000/internal/store"
)

// MemoryStore keeps everything in process. Used for local development and in
// tests; the worker and API share one instance in that mode.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string]store.QueryRun
	events    map[string][]store.RunEvent
	stages    map[string]map[string]store.StageRecord
	seq       map[string]int64
	knowledge map[string]store.KnowledgeEntry
	settings  *store.LLMSettings
}

func New() *MemoryStore {
	return &MemoryStore{
		runs:      map[string]store.QueryRun{},
		events:    map[string][]store.RunEvent{},
		stages:    map[string]map[string]store.StageRecord{},
		seq:       map[string]int64{},
		knowledge: map[string]store.KnowledgeEntry{},
	}
}

func (m *MemoryStore) CreateQueryRun(ctx context.Context, run store.QueryRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(run.Status) == "" {
		run.Status = "pending"
	}
	m.runs[run.ID] = cloneRun(run)
	return nil
}

func (m *MemoryStore) GetQueryRun(ctx context.Context, runID string) (*store.QueryRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	cloned := cloneRun(run)
	return &cloned, nil
}

func (m *MemoryStore) ListQueryRuns(ctx context.Context) ([]store.QueryRunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.QueryRunSummary, 0, len(m.runs))
	for _, run := range m.runs {
		summary := store.QueryRunSummary{
			ID:        run.ID,
			Question:  run.Question,
			Status:    run.Status,
			CreatedAt: run.CreatedAt,
			UpdatedAt: run.UpdatedAt,
		}
		if run.Provenance != nil {
			if early, ok := run.Provenance["terminated_early"].(bool); ok {
				summary.TerminatedEarly = early
			}
		}
		results = append(results, summary)
	}
	sort.Slice(results, func(i, j int) bool {
		return parseTime(results[i].CreatedAt).After(parseTime(results[j].CreatedAt))
	})
	return results, nil
}

func (m *MemoryStore) UpdateQueryRun(ctx context.Context, run store.QueryRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.runs[run.ID]
	if !ok {
		return nil
	}
	if run.Status != "" {
		existing.Status = run.Status
	}
	if run.FinalResponse != "" {
		existing.FinalResponse = run.FinalResponse
	}
	if run.Provenance != nil {
		existing.Provenance = clonePayload(run.Provenance)
	}
	if run.UpdatedAt != "" {
		existing.UpdatedAt = run.UpdatedAt
	}
	m.runs[run.ID] = existing
	return nil
}

func (m *MemoryStore) DeleteQueryRun(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
	delete(m.events, runID)
	delete(m.stages, runID)
	delete(m.seq, runID)
	return nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Type = normalizeEventType(event.Type)
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	m.events[event.RunID] = append(m.events[event.RunID], event)
	m.applyStageRecordLocked(event)
	return nil
}

func (m *MemoryStore) applyStageRecordLocked(event store.RunEvent) {
	record, ok := store.BuildStageRecordFromEvent(event)
	if !ok {
		return
	}
	byName, ok := m.stages[event.RunID]
	if !ok {
		byName = map[string]store.StageRecord{}
		m.stages[event.RunID] = byName
	}
	if existing, ok := byName[record.Name]; ok {
		record = store.MergeStageRecord(existing, record)
	}
	byName[record.Name] = record
}

func (m *MemoryStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]store.RunEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.events[runID]
	if afterSeq <= 0 {
		return append([]store.RunEvent{}, events...), nil
	}
	filtered := []store.RunEvent{}
	for _, event := range events {
		if event.Seq > afterSeq {
			filtered = append(filtered, event)
		}
	}
	return filtered, nil
}

func (m *MemoryStore) NextSeq(ctx context.Context, runID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[runID] += 1
	return m.seq[runID], nil
}

func (m *MemoryStore) ListStageRecords(ctx context.Context, runID string) ([]store.StageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byName := m.stages[runID]
	results := make([]store.StageRecord, 0, len(byName))
	for _, record := range byName {
		record.Diagnostics = clonePayload(record.Diagnostics)
		results = append(results, record)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Seq < results[j].Seq
	})
	return results, nil
}

func (m *MemoryStore) ListKnowledge(ctx context.Context) ([]store.KnowledgeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.KnowledgeEntry, 0, len(m.knowledge))
	for _, entry := range m.knowledge {
		results = append(results, entry)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Domain < results[j].Domain
	})
	return results, nil
}

func (m *MemoryStore) GetKnowledge(ctx context.Context, domain string) (*store.KnowledgeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.knowledge[normalizeDomain(domain)]
	if !ok {
		return nil, nil
	}
	cloned := entry
	return &cloned, nil
}

func (m *MemoryStore) GetKnowledgeByDomain(ctx context.Context, domain string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.knowledge[normalizeDomain(domain)]
	if !ok {
		return "", nil
	}
	return entry.Content, nil
}

func (m *MemoryStore) UpsertKnowledge(ctx context.Context, entry store.KnowledgeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.Domain = normalizeDomain(entry.Domain)
	if existing, ok := m.knowledge[entry.Domain]; ok {
		entry.CreatedAt = existing.CreatedAt
	}
	m.knowledge[entry.Domain] = entry
	return nil
}

func (m *MemoryStore) DeleteKnowledge(ctx context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.knowledge, normalizeDomain(domain))
	return nil
}

func (m *MemoryStore) GetLLMSettings(ctx context.Context) (*store.LLMSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return nil, nil
	}
	cloned := *m.settings
	return &cloned, nil
}

func (m *MemoryStore) UpsertLLMSettings(ctx context.Context, settings store.LLMSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings != nil && settings.CreatedAt == "" {
		settings.CreatedAt = m.settings.CreatedAt
	}
	m.settings = &settings
	return nil
}

func normalizeEventType(eventType string) string {
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		return ""
	}
	return strings.ReplaceAll(normalized, "_", ".")
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

func cloneRun(run store.QueryRun) store.QueryRun {
	cloned := run
	cloned.Provenance = clonePayload(run.Provenance)
	return cloned
}

func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	cloned := make(map[string]any, len(payload))
	for key, value := range payload {
		cloned[key] = value
	}
	return cloned
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
