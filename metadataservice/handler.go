package metadataservice

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keyshard/keyshard/interfaces"
)

// Handler processes HTTP requests for the metadata service.
//
// Routes:
//
//	GET /api/metadata/{oauth_key} - fetch the account record
//	PUT /api/metadata/{oauth_key} - overwrite the account record
type Handler struct {
	service interfaces.MetadataService
	log     *slog.Logger
}

// NewHandler creates a new HTTP request handler over the given service.
func NewHandler(service interfaces.MetadataService, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// RegisterRoutes attaches the metadata routes to a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/metadata/{oauth_key}", h.HandleFetch)
	r.Put("/api/metadata/{oauth_key}", h.HandleUpdate)
}

// HandleFetch serves the account record for an OAuth key.
func (h *Handler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	oauthKey := chi.URLParam(r, "oauth_key")
	if oauthKey == "" {
		http.Error(w, "missing oauth key", http.StatusBadRequest)
		return
	}

	md, err := h.service.Fetch(r.Context(), oauthKey)
	if errors.Is(err, interfaces.ErrAccountNotFound) {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("Failed to fetch account metadata", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(md); err != nil {
		h.log.Error("Failed to encode account metadata", "err", err)
	}
}

// HandleUpdate overwrites the account record for an OAuth key.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	oauthKey := chi.URLParam(r, "oauth_key")
	if oauthKey == "" {
		http.Error(w, "missing oauth key", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var md interfaces.AccountMetadata
	if err := json.Unmarshal(body, &md); err != nil {
		http.Error(w, "malformed account metadata", http.StatusBadRequest)
		return
	}

	if err := h.service.Update(r.Context(), oauthKey, &md); err != nil {
		h.log.Error("Failed to update account metadata", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
