package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hradilp/face-finder/internal/tasks"
)

// setupSSEConnection validates the request, finds the task, and sets up SSE
// headers. On failure, writes an error response and returns false.
func setupSSEConnection(w http.ResponseWriter, r *http.Request, tracker *tasks.Tracker) (*tasks.Task, http.Flusher, bool) {
	taskID := chi.URLParam(r, "taskId")
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "missing task ID")
		return nil, nil, false
	}

	task := tracker.Get(taskID)
	if task == nil {
		respondError(w, http.StatusNotFound, "task not found")
		return nil, nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, nil, false
	}

	return task, flusher, true
}

// streamTaskEvents streams task events until the task reaches a terminal
// state, the client disconnects, or the event channel closes.
func streamTaskEvents(w http.ResponseWriter, r *http.Request, tracker *tasks.Tracker) {
	task, flusher, ok := setupSSEConnection(w, r, tracker)
	if !ok {
		return
	}

	eventCh := task.AddListener()
	defer task.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "status", task.Snapshot())

	if task.IsTerminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if task.IsTerminal() {
				return
			}
		}
	}
}

// sendSSEEvent writes one Server-Sent Event to the stream.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
