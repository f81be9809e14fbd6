package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hradilp/face-finder/internal/store"
	"github.com/hradilp/face-finder/internal/tasks"
)

// IndexHandler starts asynchronous indexing runs.
type IndexHandler struct {
	services *Services
}

// NewIndexHandler creates an index handler.
func NewIndexHandler(services *Services) *IndexHandler {
	return &IndexHandler{services: services}
}

// StartFull launches a full indexing run for a collection. Full runs only
// pick up assets that are not indexed yet; passing reindex=true rebuilds the
// collection from scratch instead.
func (h *IndexHandler) StartFull(w http.ResponseWriter, r *http.Request) {
	taskType := tasks.TypeFull
	if r.URL.Query().Get("reindex") == "true" {
		taskType = tasks.TypeReindex
	}
	h.start(w, r, taskType)
}

// StartIncremental launches an incremental indexing run for a collection.
func (h *IndexHandler) StartIncremental(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, tasks.TypeIncremental)
}

func (h *IndexHandler) start(w http.ResponseWriter, r *http.Request, taskType tasks.Type) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing collection ID")
		return
	}

	col, err := h.services.Collections.Get(r.Context(), id)
	if err != nil {
		log.Printf("Failed to load collection %s: %v", sanitizeForLog(id), err)
		respondError(w, http.StatusInternalServerError, "failed to load collection")
		return
	}
	if col == nil {
		respondError(w, http.StatusNotFound, "collection not found")
		return
	}

	// One run per collection at a time.
	if existing := h.services.Tracker.CollectionTask(col.ID); existing != nil && !existing.IsTerminal() {
		respondJSON(w, http.StatusConflict, map[string]string{
			"error":   "collection is already being indexed",
			"task_id": existing.ID(),
		})
		return
	}

	task, taskCtx := h.services.Tracker.Create(uuid.New().String(), col.ID, taskType)

	go func() {
		switch taskType {
		case tasks.TypeIncremental:
			h.services.Engine.RunIncremental(taskCtx, task, col.ID)
		case tasks.TypeReindex:
			h.services.Engine.RunReindex(taskCtx, task, col.ID)
		default:
			h.services.Engine.RunFull(taskCtx, task, col.ID)
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{
		"task_id": task.ID(),
		"type":    string(taskType),
		"status":  string(store.StatusInProgress),
	})
}
