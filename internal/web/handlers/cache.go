package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CacheHandler exposes the embedding cache.
type CacheHandler struct {
	services *Services
}

// NewCacheHandler creates a cache handler.
func NewCacheHandler(services *Services) *CacheHandler {
	return &CacheHandler{services: services}
}

// Stats reports the cached collections and their approximate memory footprint.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.services.Cache.Stats())
}

// Invalidate drops a single collection from the cache. The next search
// reloads its embeddings from the database.
func (h *CacheHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "id")
	if collectionID == "" {
		respondError(w, http.StatusBadRequest, "missing collection ID")
		return
	}
	h.services.Cache.Invalidate(collectionID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}
