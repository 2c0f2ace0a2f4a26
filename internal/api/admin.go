package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/forgeline/foreman/internal/store"
)

type createClientRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	client := &store.Client{ID: uuid.NewString(), Name: req.Name}
	if err := s.store.CreateClient(client); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":   client.ID,
		"name": client.Name,
	})
}

type createRepositoryRequest struct {
	ClientID      string `json:"clientId"`
	Provider      string `json:"provider"`
	OwnerName     string `json:"ownerName"`
	RepoName      string `json:"repoName"`
	DefaultBranch string `json:"defaultBranch"`
	URL           string `json:"url"`
}

func (s *Server) handleCreateRepository(w http.ResponseWriter, r *http.Request) {
	var req createRepositoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ClientID == "" || req.OwnerName == "" || req.RepoName == "" {
		writeError(w, http.StatusBadRequest, "clientId, ownerName and repoName are required")
		return
	}
	client, err := s.store.GetClient(req.ClientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	if client == nil {
		writeError(w, http.StatusNotFound, "client %s not found", req.ClientID)
		return
	}

	repo := &store.Repository{
		ID:            uuid.NewString(),
		ClientID:      req.ClientID,
		Provider:      req.Provider,
		OwnerName:     req.OwnerName,
		RepoName:      req.RepoName,
		DefaultBranch: req.DefaultBranch,
		URL:           req.URL,
	}
	if err := s.store.CreateRepository(repo); err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	created, err := s.store.GetRepository(repo.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":            created.ID,
		"clientId":      created.ClientID,
		"provider":      created.Provider,
		"ownerName":     created.OwnerName,
		"repoName":      created.RepoName,
		"defaultBranch": created.DefaultBranch,
	})
}
