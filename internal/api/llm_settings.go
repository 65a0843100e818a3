package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/miroslav43/tmAgent-sub000/internal/secrets"
	"github.com/miroslav43/tmAgent-sub000/internal/store"
)

var encryptLLMSecret = secrets.Encrypt

type llmSettingsRequest struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	BaseURL       string `json:"base_url"`
	APIKey        string `json:"api_key"`
	SearchBaseURL string `json:"search_base_url"`
	SearchModel   string `json:"search_model"`
}

type llmSettingsResponse struct {
	Configured    bool   `json:"configured"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	BaseURL       string `json:"base_url"`
	SearchBaseURL string `json:"search_base_url"`
	SearchModel   string `json:"search_model"`
	HasAPIKey     bool   `json:"has_api_key"`
	APIKeyHint    string `json:"api_key_hint,omitempty"`
}

func (s *Server) getLLMSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetLLMSettings(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := llmSettingsResponse{
		Configured:    false,
		Provider:      s.cfg.LLMProvider,
		Model:         s.cfg.LLMModel,
		BaseURL:       s.cfg.LLMBaseURL,
		SearchBaseURL: s.cfg.SearchBaseURL,
		SearchModel:   s.cfg.SearchModel,
		HasAPIKey:     s.cfg.OpenAIAPIKey != "",
	}
	if settings != nil {
		response.Configured = true
		response.Provider = settings.Provider
		response.Model = settings.Model
		response.BaseURL = settings.BaseURL
		response.SearchBaseURL = settings.SearchBaseURL
		response.SearchModel = settings.SearchModel
		response.HasAPIKey = settings.APIKeyEnc != "" || s.cfg.OpenAIAPIKey != ""
		if settings.APIKeyEnc != "" && s.cfg.SecretsKey != "" {
			if key, err := secrets.ParseKey(s.cfg.SecretsKey); err == nil {
				if apiKey, err := secrets.Decrypt(key, settings.APIKeyEnc); err == nil {
					if len(apiKey) >= 4 {
						response.APIKeyHint = apiKey[len(apiKey)-4:]
					}
				}
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) updateLLMSettings(w http.ResponseWriter, r *http.Request) {
	var req llmSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	settings, err := s.store.GetLLMSettings(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	provider := firstNonEmpty(req.Provider, s.cfg.LLMProvider)
	model := firstNonEmpty(req.Model, s.cfg.LLMModel)
	baseURL := firstNonEmpty(req.BaseURL, s.cfg.LLMBaseURL)
	searchBaseURL := firstNonEmpty(req.SearchBaseURL, s.cfg.SearchBaseURL)
	searchModel := firstNonEmpty(req.SearchModel, s.cfg.SearchModel)
	if settings != nil {
		provider = firstNonEmpty(req.Provider, settings.Provider)
		model = firstNonEmpty(req.Model, settings.Model)
		baseURL = firstNonEmpty(req.BaseURL, settings.BaseURL)
		searchBaseURL = firstNonEmpty(req.SearchBaseURL, settings.SearchBaseURL)
		searchModel = firstNonEmpty(req.SearchModel, settings.SearchModel)
	}

	apiKeyEnc := ""
	if settings != nil {
		apiKeyEnc = settings.APIKeyEnc
	}
	if req.APIKey != "" {
		key, err := secrets.ParseKey(s.cfg.SecretsKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ciphertext, err := encryptLLMSecret(key, req.APIKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		apiKeyEnc = ciphertext
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	createdAt := now
	if settings != nil && settings.CreatedAt != "" {
		createdAt = settings.CreatedAt
	}
	newSettings := store.LLMSettings{
		Provider:      provider,
		Model:         model,
		BaseURL:       baseURL,
		APIKeyEnc:     apiKeyEnc,
		SearchBaseURL: searchBaseURL,
		SearchModel:   searchModel,
		CreatedAt:     createdAt,
		UpdatedAt:     now,
	}
	if err := s.store.UpsertLLMSettings(r.Context(), newSettings); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.getLLMSettings(w, r)
}

func firstNonEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
