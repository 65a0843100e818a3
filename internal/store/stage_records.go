package store

import (
	"strings"
)

// BuildStageRecordFromEvent maps a run event onto a stage provenance record.
// Returns false for event types that do not describe a pipeline stage.
func BuildStageRecordFromEvent(event RunEvent) (StageRecord, bool) {
	eventType := normalizeEventType(event.Type)
	name := firstString(event.Payload, "stage")
	if name == "" {
		return StageRecord{}, false
	}

	record := StageRecord{
		RunID: event.RunID,
		Name:  name,
		Seq:   event.Seq,
	}
	switch eventType {
	case "stage.started":
		record.Status = "running"
		record.StartedAt = event.Timestamp
	case "stage.completed":
		record.Status = "completed"
		record.CompletedAt = event.Timestamp
		record.Detail = firstString(event.Payload, "detail", "summary")
	case "stage.degraded":
		record.Status = "degraded"
		record.CompletedAt = event.Timestamp
		record.Detail = firstString(event.Payload, "detail", "reason")
	case "stage.skipped":
		record.Status = "skipped"
		record.CompletedAt = event.Timestamp
		record.Detail = firstString(event.Payload, "detail", "reason")
	default:
		return StageRecord{}, false
	}
	record.Diagnostics = buildDiagnostics(event, record)
	return record, true
}

// MergeStageRecord folds a newer record for the same stage into an existing
// one: terminal status and timestamps win, the earliest seq is kept.
func MergeStageRecord(existing StageRecord, incoming StageRecord) StageRecord {
	merged := existing
	if merged.RunID == "" {
		merged.RunID = incoming.RunID
	}
	if merged.Name == "" {
		merged.Name = incoming.Name
	}
	if incoming.Status != "" {
		merged.Status = incoming.Status
	}
	if merged.Seq == 0 || (incoming.Seq > 0 && incoming.Seq < merged.Seq) {
		merged.Seq = incoming.Seq
	}
	if merged.StartedAt == "" && incoming.StartedAt != "" {
		merged.StartedAt = incoming.StartedAt
	}
	if incoming.CompletedAt != "" {
		merged.CompletedAt = incoming.CompletedAt
	}
	if incoming.Detail != "" {
		merged.Detail = incoming.Detail
	}
	if merged.Diagnostics == nil {
		merged.Diagnostics = map[string]any{}
	}
	for key, value := range incoming.Diagnostics {
		merged.Diagnostics[key] = value
	}
	if merged.Status == "" {
		merged.Status = "running"
	}
	return merged
}

func normalizeEventType(eventType string) string {
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	return strings.ReplaceAll(normalized, "_", ".")
}

func firstString(payload map[string]any, keys ...string) string {
	if payload == nil {
		return ""
	}
	for _, key := range keys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		if text, ok := value.(string); ok {
			if trimmed := strings.TrimSpace(text); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func buildDiagnostics(event RunEvent, record StageRecord) map[string]any {
	diagnostics := map[string]any{}
	for key, value := range event.Payload {
		diagnostics[key] = value
	}
	diagnostics["seq"] = event.Seq
	if event.Source != "" {
		diagnostics["source"] = event.Source
	}
	if record.Detail != "" {
		diagnostics["detail"] = record.Detail
	}
	return diagnostics
}
