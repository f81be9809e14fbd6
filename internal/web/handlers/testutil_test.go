package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hradilp/face-finder/internal/assetstore"
	"github.com/hradilp/face-finder/internal/config"
	"github.com/hradilp/face-finder/internal/extractor"
	"github.com/hradilp/face-finder/internal/indexer"
	"github.com/hradilp/face-finder/internal/matcher"
	"github.com/hradilp/face-finder/internal/store"
	"github.com/hradilp/face-finder/internal/store/memstore"
	"github.com/hradilp/face-finder/internal/tasks"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Extractor: config.ExtractorConfig{Dim: 4},
		Indexing: config.IndexingConfig{
			BatchSize:         10,
			DownloadRetries:   1,
			AcceptedMimeTypes: []string{"image/jpeg", "image/png"},
		},
		Matching: config.MatchingConfig{
			Tolerance:       0.5,
			CosineThreshold: 0.9,
			MaxQueryImages:  3,
			MaxUploadMB:     10,
		},
	}
}

// fakeAssetSource is an in-memory asset store for handler tests.
type fakeAssetSource struct {
	assets []assetstore.AssetRef
}

func (f *fakeAssetSource) ListAssets(ctx context.Context, folderID string, mimeTypes []string) ([]assetstore.AssetRef, error) {
	var out []assetstore.AssetRef
	for _, a := range f.assets {
		if a.FolderID == folderID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAssetSource) GetStartToken(ctx context.Context, folderID string) (string, error) {
	return "token-1", nil
}

func (f *fakeAssetSource) CollectChanges(ctx context.Context, token string) ([]assetstore.Change, string, error) {
	return nil, "token-2", nil
}

func (f *fakeAssetSource) Download(ctx context.Context, assetID string) ([]byte, error) {
	return []byte(assetID), nil
}

// fakeExtractor returns a fixed set of observations per image.
type fakeExtractor struct {
	faces   map[string]int // keyed by image payload
	failAll bool
}

func (f *fakeExtractor) Extract(ctx context.Context, imageData []byte) ([]extractor.FaceObservation, error) {
	if f.failAll {
		return nil, extractor.ErrUnprocessable
	}
	n := f.faces[string(imageData)]
	out := make([]extractor.FaceObservation, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, extractor.FaceObservation{
			Vector: []float32{float32(i), 0, 0, 0},
			Box:    store.BoundingBox{Top: 1, Right: 2, Bottom: 3, Left: 4},
		})
	}
	return out, nil
}

// testServices bundles the services with the backing fakes so tests can
// seed and inspect state.
type testServices struct {
	services    *Services
	collections *memstore.CollectionStore
	embeddings  *memstore.EmbeddingStore
	checkpoints *memstore.CheckpointStore
	source      *fakeAssetSource
	extractor   *fakeExtractor
}

func newTestServices() *testServices {
	cfg := testConfig()
	collections := memstore.NewCollectionStore()
	embeddings := memstore.NewEmbeddingStore()
	checkpoints := memstore.NewCheckpointStore()
	source := &fakeAssetSource{}
	ext := &fakeExtractor{faces: map[string]int{}}

	cache := matcher.NewCache(embeddings)
	changes := indexer.NewChangeTracker(source, collections, cfg.Indexing.AcceptedMimeTypes)
	engine := indexer.NewEngine(collections, embeddings, checkpoints, changes, source, ext, cache, cfg.Indexing.BatchSize)

	return &testServices{
		services: &Services{
			Config:      cfg,
			Collections: collections,
			Embeddings:  embeddings,
			Engine:      engine,
			Matcher:     matcher.New(cache),
			Cache:       cache,
			Extractor:   ext,
			Tracker:     tasks.NewTracker(),
		},
		collections: collections,
		embeddings:  embeddings,
		checkpoints: checkpoints,
		source:      source,
		extractor:   ext,
	}
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
