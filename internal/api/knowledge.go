package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/miroslav43/tmAgent-sub000/internal/store"
)

type knowledgeEntryRequest struct {
	Domain  string `json:"domain"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type knowledgeEntryResponse struct {
	Domain    string `json:"domain"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Builtin   bool   `json:"builtin"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type listKnowledgeResponse struct {
	Entries []knowledgeEntryResponse `json:"entries"`
}

func (s *Server) listKnowledge(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListKnowledge(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := listKnowledgeResponse{Entries: make([]knowledgeEntryResponse, 0, len(entries))}
	for _, entry := range entries {
		response.Entries = append(response.Entries, toKnowledgeResponse(entry))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) getKnowledge(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if domain == "" {
		http.Error(w, "domain required", http.StatusBadRequest)
		return
	}
	entry, err := s.store.GetKnowledge(r.Context(), domain)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entry == nil {
		http.Error(w, "knowledge entry not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toKnowledgeResponse(*entry))
}

func (s *Server) upsertKnowledge(w http.ResponseWriter, r *http.Request) {
	var req knowledgeEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	domain := strings.ToLower(strings.TrimSpace(req.Domain))
	if domain == "" {
		http.Error(w, "domain required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "content required", http.StatusBadRequest)
		return
	}

	existing, err := s.store.GetKnowledge(r.Context(), domain)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	entry := store.KnowledgeEntry{
		Domain:    domain,
		Title:     strings.TrimSpace(req.Title),
		Content:   req.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		// operator edits replace content but the entry keeps its origin
		entry.Builtin = existing.Builtin
		if existing.CreatedAt != "" {
			entry.CreatedAt = existing.CreatedAt
		}
		if entry.Title == "" {
			entry.Title = existing.Title
		}
	}
	if err := s.store.UpsertKnowledge(r.Context(), entry); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toKnowledgeResponse(entry))
}

func (s *Server) deleteKnowledge(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if domain == "" {
		http.Error(w, "domain required", http.StatusBadRequest)
		return
	}
	if err := s.store.DeleteKnowledge(r.Context(), domain); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toKnowledgeResponse(entry store.KnowledgeEntry) knowledgeEntryResponse {
	return knowledgeEntryResponse{
		Domain:    entry.Domain,
		Title:     entry.Title,
		Content:   entry.Content,
		Builtin:   entry.Builtin,
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.UpdatedAt,
	}
}
