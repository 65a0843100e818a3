package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/miroslav43/tmAgent-sub000/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{
		"query_runs",
		"run_events",
		"run_event_sequences",
		"stage_records",
		"knowledge_entries",
		"llm_settings",
	}
	for _, table := range required {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run infra/migrations/001_init.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) CreateQueryRun(ctx context.Context, run store.QueryRun) error {
	status := strings.TrimSpace(run.Status)
	if status == "" {
		status = "pending"
	}
	provenance, err := json.Marshal(orEmptyMap(run.Provenance))
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO query_runs (id, question, status, final_response, provenance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = p.db.ExecContext(
		ctx,
		query,
		run.ID,
		run.Question,
		status,
		nullString(run.FinalResponse),
		provenance,
		run.CreatedAt,
		run.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetQueryRun(ctx context.Context, runID string) (*store.QueryRun, error) {
	const query = `
		SELECT id, question, status, final_response, provenance, created_at, updated_at
		FROM query_runs
		WHERE id = $1
	`
	var finalResponse sql.NullString
	var provenanceBytes []byte
	var createdAt, updatedAt time.Time
	run := store.QueryRun{}
	if err := p.db.QueryRowContext(ctx, query, runID).Scan(
		&run.ID,
		&run.Question,
		&run.Status,
		&finalResponse,
		&provenanceBytes,
		&createdAt,
		&updatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if finalResponse.Valid {
		run.FinalResponse = finalResponse.String
	}
	if len(provenanceBytes) > 0 {
		provenance := map[string]any{}
		if err := json.Unmarshal(provenanceBytes, &provenance); err != nil {
			return nil, err
		}
		run.Provenance = provenance
	}
	run.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	run.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return &run, nil
}

func (p *PostgresStore) ListQueryRuns(ctx context.Context) ([]store.QueryRunSummary, error) {
	const query = `
		SELECT id, question, status, COALESCE(provenance->>'terminated_early', 'false'), created_at, updated_at
		FROM query_runs
		ORDER BY created_at DESC
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.QueryRunSummary{}
	for rows.Next() {
		var terminatedEarly string
		var createdAt, updatedAt time.Time
		summary := store.QueryRunSummary{}
		if err := rows.Scan(
			&summary.ID,
			&summary.Question,
			&summary.Status,
			&terminatedEarly,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, err
		}
		summary.TerminatedEarly = terminatedEarly == "true"
		summary.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
		summary.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
		results = append(results, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) UpdateQueryRun(ctx context.Context, run store.QueryRun) error {
	provenance, err := json.Marshal(orEmptyMap(run.Provenance))
	if err != nil {
		return err
	}
	const query = `
		UPDATE query_runs
		SET status = COALESCE(NULLIF($2, ''), status),
			final_response = COALESCE(NULLIF($3, ''), final_response),
			provenance = CASE WHEN $4::jsonb = '{}'::jsonb THEN provenance ELSE $4::jsonb END,
			updated_at = $5
		WHERE id = $1
	`
	_, err = p.db.ExecContext(ctx, query, run.ID, run.Status, run.FinalResponse, provenance, run.UpdatedAt)
	return err
}

func (p *PostgresStore) DeleteQueryRun(ctx context.Context, runID string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM query_runs WHERE id = $1", runID)
	return err
}

func (p *PostgresStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	event.Type = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(event.Type)), "_", ".")
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	timestamp := event.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	const query = `
		INSERT INTO run_events (run_id, seq, type, timestamp, source, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, query, event.RunID, event.Seq, event.Type, parseTimestampValue(timestamp), event.Source, encoded); err != nil {
		return err
	}
	if record, ok := store.BuildStageRecordFromEvent(event); ok {
		if err = upsertStageRecordTx(ctx, tx, record); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func upsertStageRecordTx(ctx context.Context, tx *sql.Tx, record store.StageRecord) error {
	existing, err := getStageRecordTx(ctx, tx, record.RunID, record.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		record = store.MergeStageRecord(*existing, record)
	}
	diagnostics, err := json.Marshal(orEmptyMap(record.Diagnostics))
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO stage_records (run_id, name, status, seq, started_at, completed_at, detail, diagnostics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, name)
		DO UPDATE SET
			status = EXCLUDED.status,
			seq = EXCLUDED.seq,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			detail = EXCLUDED.detail,
			diagnostics = EXCLUDED.diagnostics
	`
	_, err = tx.ExecContext(
		ctx,
		query,
		record.RunID,
		record.Name,
		record.Status,
		record.Seq,
		nullTimestamp(record.StartedAt),
		nullTimestamp(record.CompletedAt),
		nullString(record.Detail),
		diagnostics,
	)
	return err
}

func getStageRecordTx(ctx context.Context, tx *sql.Tx, runID string, name string) (*store.StageRecord, error) {
	const query = `
		SELECT run_id, name, status, seq, started_at, completed_at, detail, diagnostics
		FROM stage_records
		WHERE run_id = $1 AND name = $2
	`
	row := tx.QueryRowContext(ctx, query, runID, name)
	record, err := scanStageRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStageRecord(row rowScanner) (*store.StageRecord, error) {
	var startedAt, completedAt sql.NullTime
	var detail sql.NullString
	var diagnosticsBytes []byte
	record := store.StageRecord{}
	if err := row.Scan(
		&record.RunID,
		&record.Name,
		&record.Status,
		&record.Seq,
		&startedAt,
		&completedAt,
		&detail,
		&diagnosticsBytes,
	); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		record.StartedAt = startedAt.Time.UTC().Format(time.RFC3339Nano)
	}
	if completedAt.Valid {
		record.CompletedAt = completedAt.Time.UTC().Format(time.RFC3339Nano)
	}
	if detail.Valid {
		record.Detail = detail.String
	}
	if len(diagnosticsBytes) > 0 {
		diagnostics := map[string]any{}
		if err := json.Unmarshal(diagnosticsBytes, &diagnostics); err != nil {
			return nil, err
		}
		record.Diagnostics = diagnostics
	}
	return &record, nil
}

func (p *PostgresStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]store.RunEvent, error) {
	const query = `
		SELECT run_id, seq, type, timestamp, source, payload
		FROM run_events
		WHERE run_id = $1 AND seq > $2
		ORDER BY seq ASC
	`
	rows, err := p.db.QueryContext(ctx, query, runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.RunEvent{}
	for rows.Next() {
		var payloadBytes []byte
		var timestamp time.Time
		var event store.RunEvent
		if err := rows.Scan(&event.RunID, &event.Seq, &event.Type, &timestamp, &event.Source, &payloadBytes); err != nil {
			return nil, err
		}
		event.Timestamp = timestamp.UTC().Format(time.RFC3339Nano)
		if len(payloadBytes) > 0 {
			payload := map[string]any{}
			if err := json.Unmarshal(payloadBytes, &payload); err != nil {
				return nil, err
			}
			event.Payload = payload
		} else {
			event.Payload = map[string]any{}
		}
		results = append(results, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) NextSeq(ctx context.Context, runID string) (int64, error) {
	const query = `
		INSERT INTO run_event_sequences (run_id, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (run_id)
		DO UPDATE SET last_seq = run_event_sequences.last_seq + 1
		RETURNING last_seq
	`
	var seq int64
	if err := p.db.QueryRowContext(ctx, query, runID).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (p *PostgresStore) ListStageRecords(ctx context.Context, runID string) ([]store.StageRecord, error) {
	const query = `
		SELECT run_id, name, status, seq, started_at, completed_at, detail, diagnostics
		FROM stage_records
		WHERE run_id = $1
		ORDER BY seq ASC
	`
	rows, err := p.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.StageRecord{}
	for rows.Next() {
		record, err := scanStageRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) ListKnowledge(ctx context.Context) ([]store.KnowledgeEntry, error) {
	const query = `
		SELECT domain, title, content, builtin, created_at, updated_at
		FROM knowledge_entries
		ORDER BY domain ASC
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []store.KnowledgeEntry{}
	for rows.Next() {
		entry, err := scanKnowledgeEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *PostgresStore) GetKnowledge(ctx context.Context, domain string) (*store.KnowledgeEntry, error) {
	const query = `
		SELECT domain, title, content, builtin, created_at, updated_at
		FROM knowledge_entries
		WHERE domain = $1
	`
	entry, err := scanKnowledgeEntry(p.db.QueryRowContext(ctx, query, normalizeDomain(domain)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (p *PostgresStore) GetKnowledgeByDomain(ctx context.Context, domain string) (string, error) {
	const query = "SELECT content FROM knowledge_entries WHERE domain = $1"
	var content string
	if err := p.db.QueryRowContext(ctx, query, normalizeDomain(domain)).Scan(&content); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return content, nil
}

func scanKnowledgeEntry(row rowScanner) (*store.KnowledgeEntry, error) {
	var createdAt, updatedAt time.Time
	entry := store.KnowledgeEntry{}
	if err := row.Scan(
		&entry.Domain,
		&entry.Title,
		&entry.Content,
		&entry.Builtin,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	entry.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	entry.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return &entry, nil
}

func (p *PostgresStore) UpsertKnowledge(ctx context.Context, entry store.KnowledgeEntry) error {
	const query = `
		INSERT INTO knowledge_entries (domain, title, content, builtin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (domain)
		DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			builtin = EXCLUDED.builtin,
			updated_at = EXCLUDED.updated_at
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		normalizeDomain(entry.Domain),
		entry.Title,
		entry.Content,
		entry.Builtin,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) DeleteKnowledge(ctx context.Context, domain string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM knowledge_entries WHERE domain = $1", normalizeDomain(domain))
	return err
}

func (p *PostgresStore) GetLLMSettings(ctx context.Context) (*store.LLMSettings, error) {
	const query = `
		SELECT provider, model, base_url, api_key_enc, search_base_url, search_model, created_at, updated_at
		FROM llm_settings
		WHERE id = 1
	`
	var createdAt, updatedAt time.Time
	settings := store.LLMSettings{}
	if err := p.db.QueryRowContext(ctx, query).Scan(
		&settings.Provider,
		&settings.Model,
		&settings.BaseURL,
		&settings.APIKeyEnc,
		&settings.SearchBaseURL,
		&settings.SearchModel,
		&createdAt,
		&updatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	settings.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	settings.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	return &settings, nil
}

func (p *PostgresStore) UpsertLLMSettings(ctx context.Context, settings store.LLMSettings) error {
	const query = `
		INSERT INTO llm_settings
			(id, provider, model, base_url, api_key_enc, search_base_url, search_model, created_at, updated_at)
		VALUES
			(1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id)
		DO UPDATE SET
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			base_url = EXCLUDED.base_url,
			api_key_enc = EXCLUDED.api_key_enc,
			search_base_url = EXCLUDED.search_base_url,
			search_model = EXCLUDED.search_model,
			updated_at = EXCLUDED.updated_at
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		settings.Provider,
		settings.Model,
		settings.BaseURL,
		settings.APIKeyEnc,
		settings.SearchBaseURL,
		settings.SearchModel,
		settings.CreatedAt,
		settings.UpdatedAt,
	)
	return err
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

func nullString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullTimestamp(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return parseTimestampValue(value)
}

func parseTimestampValue(value string) any {
	if parsed, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return parsed.UTC()
	}
	return value
}

func orEmptyMap(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	return payload
}
