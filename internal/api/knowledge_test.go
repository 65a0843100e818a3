package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/miroslav43/tmAgent-sub000/internal/config"
	"github.com/miroslav43/tmAgent-sub000/internal/store"
)

func TestListKnowledge(t *testing.T) {
	storeMock := &MockStore{}
	storeMock.On("ListKnowledge", mock.Anything).Return([]store.KnowledgeEntry{
		{Domain: "anaf.ro", Title: "Servicii ANAF", Content: "SPV si declaratii", Builtin: true},
		{Domain: "primariatm.ro", Title: "Primaria Timisoara", Content: "taxe si audiente", Builtin: true},
	}, nil).Once()

	server := newTestServer(t, storeMock, &MockBroker{}, nil, config.Config{}, baseConfigTree())
	defer server.Close()

	resp, err := http.Get(server.URL + "/knowledge")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload listKnowledgeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Entries, 2)
	require.Equal(t, "anaf.ro", payload.Entries[0].Domain)
	require.True(t, payload.Entries[0].Builtin)
	storeMock.AssertExpectations(t)
}

func TestGetKnowledge(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		storeMock := &MockStore{}
		storeMock.On("GetKnowledge", mock.Anything, "primariatm.ro").Return(&store.KnowledgeEntry{
			Domain:  "primariatm.ro",
			Title:   "Primaria Timisoara",
			Content: "ghid taxe locale",
		}, nil).Once()

		server := newTestServer(t, storeMock, &MockBroker{}, nil, config.Config{}, baseConfigTree())
		defer server.Close()

		resp, err := http.Get(server.URL + "/knowledge/primariatm.ro")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var payload knowledgeEntryResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		require.Equal(t, "primariatm.ro", payload.Domain)
		require.Equal(t, "ghid taxe locale", payload.Content)
		storeMock.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		storeMock := &MockStore{}
		storeMock.On("GetKnowledge", mock.Anything, "missing.ro").Return(nil, nil).Once()

		server := newTestServer(t, storeMock, &MockBroker{}, nil, config.Config{}, baseConfigTree())
		defer server.Close()

		resp, err := http.Get(server.URL + "/knowledge/missing.ro")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		storeMock.AssertExpectations(t)
	})
}

func TestUpsertKnowledge(t *testing.T) {
	t.Run("creates new entry with normalized domain", func(t *testing.T) {
		storeMock := &MockStore{}
		storeMock.On("GetKnowledge", mock.Anything, "servicii.primariatm.ro").Return(nil, nil).Once()
		storeMock.On("UpsertKnowledge", mock.Anything, mock.MatchedBy(func(entry store.KnowledgeEntry) bool {
			return entry.Domain == "servicii.primariatm.ro" && entry.Content == "portal servicii" && !entry.Builtin
		})).Return(nil).Once()

		server := newTestServer(t, storeMock, &MockBroker{}, nil, config.Config{}, baseConfigTree())
		defer server.Close()

		body := bytes.NewBufferString(`{"domain": " Servicii.PrimariaTM.ro ", "title": "Portal", "content": "portal servicii"}`)
		resp, err := http.Post(server.URL+"/knowledge", "application/json", body)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var payload knowledgeEntryResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		require.Equal(t, "servicii.primariatm.ro", payload.Domain)
		storeMock.AssertExpectations(t)
	})

	t.Run("edit keeps builtin flag and created timestamp", func(t *testing.T) {
		storeMock := &MockStore{}
		storeMock.On("GetKnowledge", mock.Anything, "anaf.ro").Return(&store.KnowledgeEntry{
			Domain:    "anaf.ro",
			Title:     "Servicii ANAF",
			Content:   "continut initial",
			Builtin:   true,
			CreatedAt: "2026-01-01T00:00:00Z",
		}, nil).Once()
		storeMock.On("UpsertKnowledge", mock.Anything, mock.MatchedBy(func(entry store.KnowledgeEntry) bool {
			return entry.Domain == "anaf.ro" &&
				entry.Content == "continut editat" &&
				entry.Builtin &&
				entry.CreatedAt == "2026-01-01T00:00:00Z" &&
				entry.Title == "Servicii ANAF"
		})).Return(nil).Once()

		server := newTestServer(t, storeMock, &MockBroker{}, nil, config.Config{}, baseConfigTree())
		defer server.Close()

		body := bytes.NewBufferString(`{"domain": "anaf.ro", "content": "continut editat"}`)
		resp, err := http.Post(server.URL+"/knowledge", "application/json", body)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		storeMock.AssertExpectations(t)
	})

	t.Run("domain required", func(t *testing.T) {
		server := newTestServer(t, &MockStore{}, &MockBroker{}, nil, config.Config{}, baseConfigTree())
		defer server.Close()

		body := bytes.NewBufferString(`{"content": "fara domeniu"}`)
		resp, err := http.Post(server.URL+"/knowledge", "application/json", body)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("content required", func(t *testing.T) {
		server := newTestServer(t, &MockStore{}, &MockBroker{}, nil, config.Config{}, baseConfigTree())
		defer server.Close()

		body := bytes.NewBufferString(`{"domain": "primariatm.ro", "content": "   "}`)
		resp, err := http.Post(server.URL+"/knowledge", "application/json", body)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestDeleteKnowledge(t *testing.T) {
	storeMock := &MockStore{}
	storeMock.On("DeleteKnowledge", mock.Anything, "custom.ro").Return(nil).Once()

	server := newTestServer(t, storeMock, &MockBroker{}, nil, config.Config{}, baseConfigTree())
	defer server.Close()

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/knowledge/custom.ro", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	storeMock.AssertExpectations(t)
}
