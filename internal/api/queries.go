package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/miroslav43/tmAgent-sub000/internal/runconfig"
	"github.com/miroslav43/tmAgent-sub000/internal/store"
)

type createQueryRequest struct {
	Question string         `json:"question"`
	Config   map[string]any `json:"config"`
}

type querySummaryResponse struct {
	ID              string `json:"id"`
	Question        string `json:"question"`
	Status          string `json:"status"`
	TerminatedEarly bool   `json:"terminated_early"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type listQueriesResponse struct {
	Queries []querySummaryResponse `json:"queries"`
}

type stageRecordResponse struct {
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	Seq         int64          `json:"seq"`
	StartedAt   string         `json:"started_at,omitempty"`
	CompletedAt string         `json:"completed_at,omitempty"`
	Detail      string         `json:"detail,omitempty"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

type queryDetailResponse struct {
	ID            string                `json:"id"`
	Question      string                `json:"question"`
	Status        string                `json:"status"`
	FinalResponse string                `json:"final_response,omitempty"`
	Provenance    map[string]any        `json:"provenance,omitempty"`
	Stages        []stageRecordResponse `json:"stages"`
	CreatedAt     string                `json:"created_at"`
	UpdatedAt     string                `json:"updated_at"`
}

func (s *Server) createQuery(w http.ResponseWriter, r *http.Request) {
	if !s.ensureLLMConfigured(w, r.Context()) {
		return
	}
	req := createQueryRequest{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		http.Error(w, "question required", http.StatusBadRequest)
		return
	}

	resolved, err := runconfig.Resolve(s.baseConfig, req.Config)
	if err != nil {
		var configErr *runconfig.ConfigError
		if errors.As(err, &configErr) {
			http.Error(w, configErr.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	id := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	run := store.QueryRun{
		ID:        id,
		Question:  question,
		Status:    "running",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateQueryRun(r.Context(), run); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if s.workflows != nil {
		if err := s.workflows.StartQuery(r.Context(), id, question, resolved.Tree()); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
	}

	seq, _ := s.store.NextSeq(r.Context(), id)
	event := store.RunEvent{
		RunID:     id,
		Seq:       seq,
		Type:      "run.started",
		Timestamp: now,
		Source:    "control_plane",
		Payload: map[string]any{
			"status":   "running",
			"question": question,
		},
	}
	_ = s.store.AppendEvent(r.Context(), event)
	s.broker.Publish(toEvent(event))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"query_id": id,
		"status":   "running",
	})
}

func (s *Server) listQueries(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListQueryRuns(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := listQueriesResponse{Queries: make([]querySummaryResponse, 0, len(runs))}
	for _, run := range runs {
		response.Queries = append(response.Queries, querySummaryResponse{
			ID:              run.ID,
			Question:        run.Question,
			Status:          run.Status,
			TerminatedEarly: run.TerminatedEarly,
			CreatedAt:       run.CreatedAt,
			UpdatedAt:       run.UpdatedAt,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) getQuery(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		http.Error(w, "query id required", http.StatusBadRequest)
		return
	}
	run, err := s.store.GetQueryRun(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "query not found", http.StatusNotFound)
		return
	}
	stages, err := s.store.ListStageRecords(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(queryDetailResponse{
		ID:            run.ID,
		Question:      run.Question,
		Status:        run.Status,
		FinalResponse: run.FinalResponse,
		Provenance:    run.Provenance,
		Stages:        toStageResponses(stages),
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
	})
}

func (s *Server) listStages(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		http.Error(w, "query id required", http.StatusBadRequest)
		return
	}
	stages, err := s.store.ListStageRecords(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"stages": toStageResponses(stages)})
}

func toStageResponses(stages []store.StageRecord) []stageRecordResponse {
	response := make([]stageRecordResponse, 0, len(stages))
	for _, stage := range stages {
		response = append(response, stageRecordResponse{
			Name:        stage.Name,
			Status:      stage.Status,
			Seq:         stage.Seq,
			StartedAt:   stage.StartedAt,
			CompletedAt: stage.CompletedAt,
			Detail:      stage.Detail,
			Diagnostics: stage.Diagnostics,
		})
	}
	return response
}

func (s *Server) deleteQuery(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		http.Error(w, "query id required", http.StatusBadRequest)
		return
	}
	if s.workflows != nil {
		_ = s.workflows.CancelQuery(r.Context(), runID)
	}
	if err := s.store.DeleteQueryRun(r.Context(), runID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelQuery(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		http.Error(w, "query id required", http.StatusBadRequest)
		return
	}
	if s.workflows != nil {
		_ = s.workflows.CancelQuery(r.Context(), runID)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_ = s.store.UpdateQueryRun(r.Context(), store.QueryRun{
		ID:        runID,
		Status:    "cancelled",
		UpdatedAt: now,
	})
	seq, _ := s.store.NextSeq(r.Context(), runID)
	event := store.RunEvent{
		RunID:     runID,
		Seq:       seq,
		Type:      "run.cancelled",
		Timestamp: now,
		Source:    "control_plane",
		Payload:   map[string]any{"reason": "user_requested"},
	}
	_ = s.store.AppendEvent(r.Context(), event)
	s.broker.Publish(toEvent(event))
	w.WriteHeader(http.StatusAccepted)
}
