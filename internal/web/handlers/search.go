package handlers

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hradilp/face-finder/internal/matcher"
)

// allowedUploadExtensions lists the file extensions accepted as query images.
var allowedUploadExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

// SearchHandler runs face searches against indexed collections.
type SearchHandler struct {
	services *Services
}

// NewSearchHandler creates a search handler.
func NewSearchHandler(services *Services) *SearchHandler {
	return &SearchHandler{services: services}
}

// Search accepts up to MaxQueryImages reference photos of one subject as a
// multipart upload and returns the collection's matching assets ranked best
// first. Modes: "average" (default) folds the query faces into one mean
// vector; "batch" matches every query face separately and keeps the best
// score per asset. The "cosine" metric implies averaging. An optional
// "limit" parameter caps the number of returned matches.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "id")
	if collectionID == "" {
		respondError(w, http.StatusBadRequest, "missing collection ID")
		return
	}

	col, err := h.services.Collections.Get(r.Context(), collectionID)
	if err != nil {
		log.Printf("Failed to load collection %s: %v", sanitizeForLog(collectionID), err)
		respondError(w, http.StatusInternalServerError, "failed to load collection")
		return
	}
	if col == nil {
		respondError(w, http.StatusNotFound, "collection not found")
		return
	}

	cfg := h.services.Config
	maxBytes := int64(cfg.Matching.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes*int64(cfg.Matching.MaxQueryImages))

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "at least one query image is required")
		return
	}
	if len(files) > cfg.Matching.MaxQueryImages {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("at most %d query images are allowed", cfg.Matching.MaxQueryImages))
		return
	}

	var queryVectors [][]float32
	for _, header := range files {
		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !allowedUploadExtensions[ext] {
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("unsupported file type %q", sanitizeForLog(header.Filename)))
			return
		}
		if header.Size > maxBytes {
			respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file %q exceeds %d MB", sanitizeForLog(header.Filename), cfg.Matching.MaxUploadMB))
			return
		}

		file, err := header.Open()
		if err != nil {
			respondError(w, http.StatusBadRequest, "could not read uploaded file")
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			respondError(w, http.StatusBadRequest, "could not read uploaded file")
			return
		}

		observations, err := h.services.Extractor.Extract(r.Context(), data)
		if err != nil {
			log.Printf("Extraction failed for query image %s: %v", sanitizeForLog(header.Filename), err)
			respondError(w, http.StatusUnprocessableEntity,
				fmt.Sprintf("could not process %q", sanitizeForLog(header.Filename)))
			return
		}
		// Query photos should contain exactly one subject; the first face
		// wins when the extractor reports several.
		if len(observations) > 0 {
			queryVectors = append(queryVectors, observations[0].Vector)
		}
	}

	if len(queryVectors) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "no face found in query images")
		return
	}

	result, err := h.match(r, collectionID, queryVectors)
	if err != nil {
		log.Printf("Search in collection %s failed: %v", collectionID, err)
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if limit > 0 && len(result.Matches) > limit {
			result.Matches = result.Matches[:limit]
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"collection_id": collectionID,
		"query_faces":   len(queryVectors),
		"matches":       result.Matches,
		"faces_checked": result.FacesChecked,
		"used_cache":    result.UsedCache,
	})
}

// match dispatches on the metric and mode query parameters.
func (h *SearchHandler) match(r *http.Request, collectionID string, queryVectors [][]float32) (*matcher.Result, error) {
	cfg := h.services.Config
	ctx := r.Context()

	if r.URL.Query().Get("metric") == "cosine" {
		threshold := cfg.Matching.CosineThreshold
		if v := r.URL.Query().Get("threshold"); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil || parsed < -1 || parsed > 1 {
				return nil, fmt.Errorf("invalid threshold %q", v)
			}
			threshold = parsed
		}
		query, err := matcher.AverageVector(queryVectors)
		if err != nil {
			return nil, err
		}
		return h.services.Matcher.FindMatchesCosine(ctx, collectionID, query, threshold)
	}

	tolerance := cfg.Matching.Tolerance
	if v := r.URL.Query().Get("tolerance"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("invalid tolerance %q", v)
		}
		tolerance = parsed
	}

	if r.URL.Query().Get("mode") == "batch" {
		return h.services.Matcher.FindMatchesBatch(ctx, collectionID, queryVectors, tolerance)
	}
	query, err := matcher.AverageVector(queryVectors)
	if err != nil {
		return nil, err
	}
	return h.services.Matcher.FindMatches(ctx, collectionID, query, tolerance)
}
