// Package handlers contains the HTTP handlers of the search service API.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hradilp/face-finder/internal/config"
	"github.com/hradilp/face-finder/internal/extractor"
	"github.com/hradilp/face-finder/internal/indexer"
	"github.com/hradilp/face-finder/internal/matcher"
	"github.com/hradilp/face-finder/internal/store"
	"github.com/hradilp/face-finder/internal/tasks"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// Services bundles the components the handlers operate on. Everything is
// injected at wiring time; handlers hold no global state.
type Services struct {
	Config      *config.Config
	Collections store.CollectionStore
	Embeddings  store.EmbeddingStore
	Engine      *indexer.Engine
	Matcher     *matcher.Matcher
	Cache       *matcher.Cache
	Extractor   extractor.Extractor
	Tracker     *tasks.Tracker
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// decodeJSON unmarshals a JSON request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
