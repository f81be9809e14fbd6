package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hradilp/face-finder/internal/indexer"
	"github.com/hradilp/face-finder/internal/store"
)

// CollectionsHandler manages collection CRUD.
type CollectionsHandler struct {
	services *Services
}

// NewCollectionsHandler creates a collections handler.
func NewCollectionsHandler(services *Services) *CollectionsHandler {
	return &CollectionsHandler{services: services}
}

type collectionResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	FolderID        string `json:"folder_id"`
	IndexingStatus  string `json:"indexing_status"`
	AssetsIndexed   int    `json:"assets_indexed"`
	EmbeddingsFound int    `json:"embeddings_found"`
	ActiveTaskID    string `json:"active_task_id,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toCollectionResponse(c *store.Collection) collectionResponse {
	return collectionResponse{
		ID:              c.ID,
		Name:            c.Name,
		FolderID:        c.FolderID,
		IndexingStatus:  string(c.IndexingStatus),
		AssetsIndexed:   c.AssetsIndexed,
		EmbeddingsFound: c.EmbeddingsFound,
		ActiveTaskID:    c.ActiveTaskID,
		CreatedAt:       c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// List returns all collections, newest first.
func (h *CollectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	collections, err := h.services.Collections.List(r.Context())
	if err != nil {
		log.Printf("Failed to list collections: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list collections")
		return
	}

	out := make([]collectionResponse, 0, len(collections))
	for i := range collections {
		out = append(out, toCollectionResponse(&collections[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"collections": out})
}

type createCollectionRequest struct {
	Name     string `json:"name"`
	FolderID string `json:"folder_id"`
}

// Create registers a new collection scoped to an asset store folder.
func (h *CollectionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if strings.TrimSpace(req.FolderID) == "" {
		respondError(w, http.StatusBadRequest, "folder_id is required")
		return
	}

	// Names are looked up diacritic-insensitively, so duplicates under
	// normalization would make lookups ambiguous.
	existing, err := h.services.Collections.List(r.Context())
	if err != nil {
		log.Printf("Failed to list collections: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to create collection")
		return
	}
	if store.FindByName(existing, req.Name) != nil {
		respondError(w, http.StatusConflict, "a collection with this name already exists")
		return
	}

	col := &store.Collection{
		ID:             uuid.New().String(),
		Name:           req.Name,
		FolderID:       strings.TrimSpace(req.FolderID),
		IndexingStatus: store.StatusNotStarted,
	}
	if err := h.services.Collections.Create(r.Context(), col); err != nil {
		log.Printf("Failed to create collection %s: %v", sanitizeForLog(req.Name), err)
		respondError(w, http.StatusInternalServerError, "failed to create collection")
		return
	}

	respondJSON(w, http.StatusCreated, toCollectionResponse(col))
}

// Get returns one collection by id.
func (h *CollectionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	col, ok := h.loadCollection(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toCollectionResponse(col))
}

// Delete removes a collection with its embeddings and checkpoints, and drops
// the cache entry.
func (h *CollectionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	col, ok := h.loadCollection(w, r)
	if !ok {
		return
	}

	if task := h.services.Tracker.CollectionTask(col.ID); task != nil && !task.IsTerminal() {
		respondError(w, http.StatusConflict, "collection is being indexed, cancel the task first")
		return
	}

	if err := h.services.Collections.Delete(r.Context(), col.ID); err != nil {
		log.Printf("Failed to delete collection %s: %v", col.ID, err)
		respondError(w, http.StatusInternalServerError, "failed to delete collection")
		return
	}
	h.services.Cache.Invalidate(col.ID)

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// CheckpointStatus reports whether an interrupted run of the collection can
// resume.
func (h *CollectionsHandler) CheckpointStatus(w http.ResponseWriter, r *http.Request) {
	col, ok := h.loadCollection(w, r)
	if !ok {
		return
	}

	status, err := h.services.Engine.GetCheckpointStatus(r.Context(), col, h.services.Tracker)
	if err != nil {
		log.Printf("Failed to get checkpoint status for %s: %v", col.ID, err)
		respondError(w, http.StatusInternalServerError, "failed to get checkpoint status")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// ResetStuck moves a stuck collection to failed so a new run can start.
func (h *CollectionsHandler) ResetStuck(w http.ResponseWriter, r *http.Request) {
	col, ok := h.loadCollection(w, r)
	if !ok {
		return
	}

	if !indexer.IsStuck(col, h.services.Tracker) {
		respondError(w, http.StatusConflict, "collection is not stuck")
		return
	}
	if err := indexer.ResetStuck(r.Context(), h.services.Collections, col, h.services.Tracker); err != nil {
		log.Printf("Failed to reset collection %s: %v", col.ID, err)
		respondError(w, http.StatusInternalServerError, "failed to reset collection")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// loadCollection resolves the {id} URL parameter. Writes the error response
// itself when the collection cannot be served.
func (h *CollectionsHandler) loadCollection(w http.ResponseWriter, r *http.Request) (*store.Collection, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing collection ID")
		return nil, false
	}

	col, err := h.services.Collections.Get(r.Context(), id)
	if err != nil {
		log.Printf("Failed to load collection %s: %v", sanitizeForLog(id), err)
		respondError(w, http.StatusInternalServerError, "failed to load collection")
		return nil, false
	}
	if col == nil {
		respondError(w, http.StatusNotFound, "collection not found")
		return nil, false
	}
	return col, true
}
