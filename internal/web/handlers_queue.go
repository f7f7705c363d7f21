package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/cityingest/internal/queue"
)

type createBatchRequest struct {
	Items []json.RawMessage `json:"items"`
}

type updateItemRequest struct {
	Status queue.ItemStatus `json:"status"`
	Error  string           `json:"error"`
}

type updateStatusRequest struct {
	Status queue.Status `json:"status"`
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	b, err := s.deps.Tracker.Create(r.Context(), req.Items)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, b)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.deps.Tracker.List(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if batches == nil {
		batches = []*queue.Batch{}
	}
	writeJSON(w, r, http.StatusOK, batches)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, b)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndexParam(r, "index")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var req updateItemRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	b, err := s.deps.Tracker.UpdateItem(r.Context(), chi.URLParam(r, "id"), index, req.Status, req.Error)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, b)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	b, err := s.deps.Tracker.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, b)
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tracker.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
