package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// TasksHandler exposes indexing task state.
type TasksHandler struct {
	services *Services
}

// NewTasksHandler creates a tasks handler.
func NewTasksHandler(services *Services) *TasksHandler {
	return &TasksHandler{services: services}
}

// Status returns a snapshot of one task for polling clients.
func (h *TasksHandler) Status(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "missing task ID")
		return
	}

	task := h.services.Tracker.Get(taskID)
	if task == nil {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	respondJSON(w, http.StatusOK, task.Snapshot())
}

// Events streams task progress as Server-Sent Events.
func (h *TasksHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamTaskEvents(w, r, h.services.Tracker)
}

// Cancel requests cooperative cancellation of a running task.
func (h *TasksHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "missing task ID")
		return
	}

	task := h.services.Tracker.Get(taskID)
	if task == nil {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	if task.IsTerminal() {
		respondError(w, http.StatusConflict, "task already finished")
		return
	}

	task.Cancel()
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// CollectionTask returns the most recent task for a collection.
func (h *TasksHandler) CollectionTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing collection ID")
		return
	}

	task := h.services.Tracker.CollectionTask(id)
	if task == nil {
		respondError(w, http.StatusNotFound, "no task for collection")
		return
	}
	respondJSON(w, http.StatusOK, task.Snapshot())
}
