package indexer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hradilp/face-finder/internal/assetstore"
	"github.com/hradilp/face-finder/internal/extractor"
	"github.com/hradilp/face-finder/internal/matcher"
	"github.com/hradilp/face-finder/internal/store"
	"github.com/hradilp/face-finder/internal/store/memstore"
	"github.com/hradilp/face-finder/internal/tasks"
)

var acceptedMimes = []string{"image/jpeg", "image/png"}

// fakeSource simulates the asset store: a folder listing, a change feed, and
// downloadable content keyed by asset id.
type fakeSource struct {
	assets     []assetstore.AssetRef
	startToken string

	changes       []assetstore.Change
	newStartToken string
	expiredTokens map[string]bool

	downloadErr map[string]error
	listErr     error
}

func (f *fakeSource) ListAssets(ctx context.Context, folderID string, mimeTypes []string) ([]assetstore.AssetRef, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []assetstore.AssetRef
	for _, a := range f.assets {
		if a.FolderID == folderID && !a.Trashed {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeSource) GetStartToken(ctx context.Context, folderID string) (string, error) {
	if f.startToken == "" {
		return "", errors.New("no start token configured")
	}
	return f.startToken, nil
}

func (f *fakeSource) CollectChanges(ctx context.Context, token string) ([]assetstore.Change, string, error) {
	if f.expiredTokens[token] {
		return nil, "", fmt.Errorf("cursor rejected: %w", assetstore.ErrTokenExpired)
	}
	if f.newStartToken == "" {
		return nil, "", errors.New("no new start token configured")
	}
	return f.changes, f.newStartToken, nil
}

func (f *fakeSource) Download(ctx context.Context, assetID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.downloadErr[assetID]; ok {
		return nil, err
	}
	return []byte(assetID), nil
}

// fakeExtractor maps downloaded content (asset id bytes) to face counts.
type fakeExtractor struct {
	faces map[string]int   // asset id -> number of faces
	errs  map[string]error // asset id -> extraction error
	calls []string
}

func (f *fakeExtractor) Extract(ctx context.Context, imageData []byte) ([]extractor.FaceObservation, error) {
	assetID := string(imageData)
	f.calls = append(f.calls, assetID)
	if err, ok := f.errs[assetID]; ok {
		return nil, err
	}
	n := f.faces[assetID]
	observations := make([]extractor.FaceObservation, n)
	for i := range observations {
		observations[i] = extractor.FaceObservation{
			Vector: []float32{float32(i), 0, 0, 0},
			Box:    store.BoundingBox{Top: 1, Right: 2, Bottom: 3, Left: 4},
		}
	}
	return observations, nil
}

type engineFixture struct {
	collections *memstore.CollectionStore
	embeddings  *memstore.EmbeddingStore
	checkpoints *memstore.CheckpointStore
	source      *fakeSource
	extractor   *fakeExtractor
	cache       *matcher.Cache
	engine      *Engine
	tracker     *tasks.Tracker
}

func newFixture(source *fakeSource, ext *fakeExtractor) *engineFixture {
	collections := memstore.NewCollectionStore()
	embeddings := memstore.NewEmbeddingStore()
	checkpoints := memstore.NewCheckpointStore()
	cache := matcher.NewCache(embeddings)
	changes := NewChangeTracker(source, collections, acceptedMimes)

	return &engineFixture{
		collections: collections,
		embeddings:  embeddings,
		checkpoints: checkpoints,
		source:      source,
		extractor:   ext,
		cache:       cache,
		engine:      NewEngine(collections, embeddings, checkpoints, changes, source, ext, cache, 2),
		tracker:     tasks.NewTracker(),
	}
}

func (f *engineFixture) addCollection(t *testing.T, col store.Collection) {
	t.Helper()
	if col.IndexingStatus == "" {
		col.IndexingStatus = store.StatusNotStarted
	}
	f.collections.Add(col)
}

func asset(id, folder string) assetstore.AssetRef {
	return assetstore.AssetRef{ID: id, Name: id + ".jpg", MimeType: "image/jpeg", FolderID: folder}
}

func TestRunFullColdStart(t *testing.T) {
	source := &fakeSource{
		assets:     []assetstore.AssetRef{asset("a1", "f1"), asset("a2", "f1"), asset("a3", "f1")},
		startToken: "token-1",
	}
	ext := &fakeExtractor{faces: map[string]int{"a1": 2, "a2": 0, "a3": 1}}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{ID: "col-1", FolderID: "f1"})

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeFull)
	f.engine.RunFull(ctx, task, "col-1")

	if task.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed task, got %s: %s", task.Status(), task.Snapshot().Error)
	}

	col, _ := f.collections.Get(context.Background(), "col-1")
	if col.IndexingStatus != store.StatusCompleted {
		t.Errorf("expected collection completed, got %s", col.IndexingStatus)
	}
	if col.AssetsIndexed != 3 || col.EmbeddingsFound != 3 {
		t.Errorf("expected counters 3/3, got %d/%d", col.AssetsIndexed, col.EmbeddingsFound)
	}
	if col.SyncToken != "token-1" {
		t.Errorf("expected sync token saved, got %q", col.SyncToken)
	}
	if col.ActiveTaskID != "" {
		t.Errorf("expected active task cleared, got %q", col.ActiveTaskID)
	}

	count, _ := f.embeddings.CountByCollection(context.Background(), "col-1")
	if count != 3 {
		t.Errorf("expected 3 stored embeddings, got %d", count)
	}

	// Completed runs clear the ledger.
	cpCount, _ := f.checkpoints.CountCheckpoints(context.Background(), "col-1")
	if cpCount != 0 {
		t.Errorf("expected checkpoints cleared, got %d", cpCount)
	}
}

func TestRunFullResumesFromCheckpoints(t *testing.T) {
	source := &fakeSource{
		assets:     []assetstore.AssetRef{asset("a1", "f1"), asset("a2", "f1")},
		startToken: "token-1",
	}
	ext := &fakeExtractor{faces: map[string]int{"a1": 1, "a2": 1}}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{
		ID: "col-1", FolderID: "f1",
		IndexingStatus: store.StatusFailed,
		AssetsIndexed:  1, EmbeddingsFound: 1,
	})

	// a1 was already processed by the interrupted run.
	f.checkpoints.Add(store.Checkpoint{CollectionID: "col-1", AssetID: "a1", AssetName: "a1.jpg", EmbeddingsFound: 1})
	f.embeddings.Add(store.FaceEmbedding{CollectionID: "col-1", AssetID: "a1", Vector: []float32{1, 0, 0, 0}})

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeFull)
	f.engine.RunFull(ctx, task, "col-1")

	if task.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed task, got %s: %s", task.Status(), task.Snapshot().Error)
	}

	// Only a2 went through the extractor.
	if len(ext.calls) != 1 || ext.calls[0] != "a2" {
		t.Errorf("expected only a2 extracted, got %v", ext.calls)
	}

	col, _ := f.collections.Get(context.Background(), "col-1")
	if col.AssetsIndexed != 2 || col.EmbeddingsFound != 2 {
		t.Errorf("expected counters 2/2, got %d/%d", col.AssetsIndexed, col.EmbeddingsFound)
	}

	// No duplicate embeddings for a1.
	count, _ := f.embeddings.CountByCollection(context.Background(), "col-1")
	if count != 2 {
		t.Errorf("expected 2 embeddings, got %d", count)
	}
}

func TestRunFullAfterCompletionIsNoOp(t *testing.T) {
	source := &fakeSource{
		assets:     []assetstore.AssetRef{asset("a1", "f1"), asset("a2", "f1")},
		startToken: "token-1",
	}
	ext := &fakeExtractor{faces: map[string]int{"a1": 1, "a2": 1}}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{ID: "col-1", FolderID: "f1"})

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeFull)
	f.engine.RunFull(ctx, task, "col-1")
	if task.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed first run, got %s: %s", task.Status(), task.Snapshot().Error)
	}

	// Second full run: everything is already embedded, nothing is dropped
	// and nothing goes through the extractor again.
	ext.calls = nil
	task2, ctx2 := f.tracker.Create("task-2", "col-1", tasks.TypeFull)
	f.engine.RunFull(ctx2, task2, "col-1")

	if task2.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed second run, got %s: %s", task2.Status(), task2.Snapshot().Error)
	}
	if len(ext.calls) != 0 {
		t.Errorf("expected no extractions on repeat run, got %v", ext.calls)
	}

	count, _ := f.embeddings.CountByCollection(context.Background(), "col-1")
	if count != 2 {
		t.Errorf("expected embeddings untouched, got %d", count)
	}
	col, _ := f.collections.Get(context.Background(), "col-1")
	if col.AssetsIndexed != 2 || col.EmbeddingsFound != 2 {
		t.Errorf("expected counters 2/2, got %d/%d", col.AssetsIndexed, col.EmbeddingsFound)
	}
}

func TestRunReindexDropsOldEmbeddings(t *testing.T) {
	source := &fakeSource{
		assets:     []assetstore.AssetRef{asset("a1", "f1")},
		startToken: "token-2",
	}
	ext := &fakeExtractor{faces: map[string]int{"a1": 1}}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{
		ID: "col-1", FolderID: "f1",
		IndexingStatus: store.StatusCompleted,
		AssetsIndexed:  1, EmbeddingsFound: 1,
	})
	f.embeddings.Add(store.FaceEmbedding{CollectionID: "col-1", AssetID: "a1", Vector: []float32{9, 9, 9, 9}})

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeFull)
	f.engine.RunReindex(ctx, task, "col-1")

	if task.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed task, got %s", task.Status())
	}

	// Re-index replaced the old row instead of duplicating it.
	embeddings, _ := f.embeddings.ListByCollection(context.Background(), "col-1")
	if len(embeddings) != 1 {
		t.Fatalf("expected 1 embedding after re-index, got %d", len(embeddings))
	}
	if embeddings[0].Vector[0] == 9 {
		t.Error("expected old embedding to be replaced")
	}
}

func TestRunReindexResumesFromCheckpoints(t *testing.T) {
	source := &fakeSource{
		assets:     []assetstore.AssetRef{asset("a1", "f1"), asset("a2", "f1")},
		startToken: "token-1",
	}
	ext := &fakeExtractor{faces: map[string]int{"a2": 1}}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{
		ID: "col-1", FolderID: "f1",
		IndexingStatus: store.StatusFailed,
		AssetsIndexed:  1, EmbeddingsFound: 1,
	})
	// An interrupted re-index left a1 checkpointed; the resume must not drop
	// its embedding.
	f.checkpoints.Add(store.Checkpoint{CollectionID: "col-1", AssetID: "a1", AssetName: "a1.jpg", EmbeddingsFound: 1})
	f.embeddings.Add(store.FaceEmbedding{CollectionID: "col-1", AssetID: "a1", Vector: []float32{1, 0, 0, 0}})

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeFull)
	f.engine.RunReindex(ctx, task, "col-1")

	if task.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed task, got %s: %s", task.Status(), task.Snapshot().Error)
	}
	if len(ext.calls) != 1 || ext.calls[0] != "a2" {
		t.Errorf("expected only a2 extracted, got %v", ext.calls)
	}
	count, _ := f.embeddings.CountByCollection(context.Background(), "col-1")
	if count != 2 {
		t.Errorf("expected 2 embeddings after resume, got %d", count)
	}
}

func TestRunIncrementalNoChanges(t *testing.T) {
	source := &fakeSource{
		newStartToken: "token-2",
	}
	ext := &fakeExtractor{}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{
		ID: "col-1", FolderID: "f1",
		IndexingStatus: store.StatusCompleted,
		SyncToken:      "token-1",
		AssetsIndexed:  5, EmbeddingsFound: 8,
	})

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeIncremental)
	f.engine.RunIncremental(ctx, task, "col-1")

	if task.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed task, got %s: %s", task.Status(), task.Snapshot().Error)
	}
	if len(ext.calls) != 0 {
		t.Errorf("expected no extractions, got %v", ext.calls)
	}

	col, _ := f.collections.Get(context.Background(), "col-1")
	if col.SyncToken != "token-2" {
		t.Errorf("expected advanced token, got %q", col.SyncToken)
	}
	if col.AssetsIndexed != 5 || col.EmbeddingsFound != 8 {
		t.Errorf("counters must be untouched, got %d/%d", col.AssetsIndexed, col.EmbeddingsFound)
	}
}

func TestRunIncrementalProcessesOnlyDelta(t *testing.T) {
	newAsset := asset("a2", "f1")
	source := &fakeSource{
		changes: []assetstore.Change{
			{AssetID: "a1", Asset: func() *assetstore.AssetRef { a := asset("a1", "f1"); return &a }()},
			{AssetID: "a2", Asset: &newAsset},
			{AssetID: "a3", Removed: true},
			{AssetID: "a4", Asset: func() *assetstore.AssetRef { a := asset("a4", "other-folder"); return &a }()},
		},
		newStartToken: "token-2",
	}
	ext := &fakeExtractor{faces: map[string]int{"a2": 2}}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{
		ID: "col-1", FolderID: "f1",
		IndexingStatus: store.StatusCompleted,
		SyncToken:      "token-1",
		AssetsIndexed:  1, EmbeddingsFound: 1,
	})
	// a1 already indexed.
	f.embeddings.Add(store.FaceEmbedding{CollectionID: "col-1", AssetID: "a1", Vector: []float32{1, 0, 0, 0}})

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeIncremental)
	f.engine.RunIncremental(ctx, task, "col-1")

	if task.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed task, got %s: %s", task.Status(), task.Snapshot().Error)
	}
	if len(ext.calls) != 1 || ext.calls[0] != "a2" {
		t.Errorf("expected only a2 extracted, got %v", ext.calls)
	}

	col, _ := f.collections.Get(context.Background(), "col-1")
	if col.AssetsIndexed != 2 || col.EmbeddingsFound != 3 {
		t.Errorf("expected counters 2/3, got %d/%d", col.AssetsIndexed, col.EmbeddingsFound)
	}
}

func TestRunIncrementalFirstRunBootstraps(t *testing.T) {
	source := &fakeSource{
		assets:     []assetstore.AssetRef{asset("a1", "f1"), asset("a2", "f1")},
		startToken: "token-1",
	}
	ext := &fakeExtractor{faces: map[string]int{"a1": 1, "a2": 1}}
	f := newFixture(source, ext)
	// Collection has never seen a token.
	f.addCollection(t, store.Collection{ID: "col-1", FolderID: "f1"})

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeIncremental)
	f.engine.RunIncremental(ctx, task, "col-1")

	if task.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed task, got %s: %s", task.Status(), task.Snapshot().Error)
	}
	if len(ext.calls) != 2 {
		t.Errorf("expected both assets extracted, got %v", ext.calls)
	}

	col, _ := f.collections.Get(context.Background(), "col-1")
	if col.SyncToken != "token-1" {
		t.Errorf("expected bootstrap token saved, got %q", col.SyncToken)
	}
}

func TestRunIncrementalExpiredTokenReBootstraps(t *testing.T) {
	source := &fakeSource{
		assets:        []assetstore.AssetRef{asset("a1", "f1"), asset("a2", "f1")},
		startToken:    "token-fresh",
		expiredTokens: map[string]bool{"token-stale": true},
	}
	ext := &fakeExtractor{faces: map[string]int{"a2": 1}}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{
		ID: "col-1", FolderID: "f1",
		SyncToken:     "token-stale",
		AssetsIndexed: 1, EmbeddingsFound: 1,
	})
	f.embeddings.Add(store.FaceEmbedding{CollectionID: "col-1", AssetID: "a1", Vector: []float32{1, 0, 0, 0}})

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeIncremental)
	f.engine.RunIncremental(ctx, task, "col-1")

	if task.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed task, got %s: %s", task.Status(), task.Snapshot().Error)
	}
	// Bootstrap diff: a1 is already indexed, only a2 processed.
	if len(ext.calls) != 1 || ext.calls[0] != "a2" {
		t.Errorf("expected only a2 extracted, got %v", ext.calls)
	}

	col, _ := f.collections.Get(context.Background(), "col-1")
	if col.SyncToken != "token-fresh" {
		t.Errorf("expected fresh token saved, got %q", col.SyncToken)
	}
}

func TestUnprocessableAssetCheckpointedWithZeroFaces(t *testing.T) {
	source := &fakeSource{
		assets:     []assetstore.AssetRef{asset("a1", "f1"), asset("a2", "f1")},
		startToken: "token-1",
	}
	ext := &fakeExtractor{
		faces: map[string]int{"a2": 1},
		errs:  map[string]error{"a1": fmt.Errorf("%w: corrupt jpeg", extractor.ErrUnprocessable)},
	}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{ID: "col-1", FolderID: "f1"})

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeFull)
	f.engine.RunFull(ctx, task, "col-1")

	if task.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed task, got %s: %s", task.Status(), task.Snapshot().Error)
	}

	// The corrupt asset was checkpointed with zero faces before cleanup, so
	// no embeddings exist for it and counters count it as processed.
	col, _ := f.collections.Get(context.Background(), "col-1")
	if col.AssetsIndexed != 2 || col.EmbeddingsFound != 1 {
		t.Errorf("expected counters 2/1, got %d/%d", col.AssetsIndexed, col.EmbeddingsFound)
	}

	found := false
	for _, cp := range f.checkpoints.SaveCalls {
		if cp.AssetID == "a1" {
			found = true
			if cp.EmbeddingsFound != 0 {
				t.Errorf("expected zero-face checkpoint for a1, got %d", cp.EmbeddingsFound)
			}
		}
	}
	if !found {
		t.Error("expected a checkpoint written for the unprocessable asset")
	}
}

func TestDownloadFailureSkipsWithoutCheckpoint(t *testing.T) {
	source := &fakeSource{
		assets:      []assetstore.AssetRef{asset("a1", "f1"), asset("a2", "f1")},
		startToken:  "token-1",
		downloadErr: map[string]error{"a1": errors.New("download failed after 3 attempts")},
	}
	ext := &fakeExtractor{faces: map[string]int{"a2": 1}}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{ID: "col-1", FolderID: "f1"})

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeFull)
	f.engine.RunFull(ctx, task, "col-1")

	if task.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed task, got %s: %s", task.Status(), task.Snapshot().Error)
	}

	// a1 got no checkpoint so the next run retries it.
	for _, cp := range f.checkpoints.SaveCalls {
		if cp.AssetID == "a1" {
			t.Error("skipped asset must not be checkpointed")
		}
	}

	col, _ := f.collections.Get(context.Background(), "col-1")
	if col.AssetsIndexed != 1 {
		t.Errorf("expected 1 asset indexed, got %d", col.AssetsIndexed)
	}
}

func TestExtractFailureSkipsWithoutCheckpoint(t *testing.T) {
	source := &fakeSource{
		assets:     []assetstore.AssetRef{asset("a1", "f1"), asset("a2", "f1")},
		startToken: "token-1",
	}
	ext := &fakeExtractor{
		faces: map[string]int{"a2": 1},
		errs:  map[string]error{"a1": errors.New("extractor unreachable")},
	}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{ID: "col-1", FolderID: "f1"})

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeFull)
	f.engine.RunFull(ctx, task, "col-1")

	// A transient extractor failure on one asset never takes the run down.
	if task.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed task, got %s: %s", task.Status(), task.Snapshot().Error)
	}

	// a1 got no checkpoint so the next run retries it.
	for _, cp := range f.checkpoints.SaveCalls {
		if cp.AssetID == "a1" {
			t.Error("failed asset must not be checkpointed")
		}
	}

	col, _ := f.collections.Get(context.Background(), "col-1")
	if col.AssetsIndexed != 1 || col.EmbeddingsFound != 1 {
		t.Errorf("expected counters 1/1, got %d/%d", col.AssetsIndexed, col.EmbeddingsFound)
	}
}

func TestPersistFailureSkipsWithoutCheckpoint(t *testing.T) {
	source := &fakeSource{
		assets:     []assetstore.AssetRef{asset("a1", "f1"), asset("a2", "f1")},
		startToken: "token-1",
	}
	// a2 has no faces, so only a1 reaches the embedding store.
	ext := &fakeExtractor{faces: map[string]int{"a1": 1}}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{ID: "col-1", FolderID: "f1"})
	f.embeddings.SaveBatchError = errors.New("connection reset")

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeFull)
	f.engine.RunFull(ctx, task, "col-1")

	if task.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed task, got %s: %s", task.Status(), task.Snapshot().Error)
	}

	// a1's embeddings were lost, so no checkpoint either; a2 still went
	// through with zero faces.
	for _, cp := range f.checkpoints.SaveCalls {
		if cp.AssetID == "a1" {
			t.Error("asset with unsaved embeddings must not be checkpointed")
		}
	}
	col, _ := f.collections.Get(context.Background(), "col-1")
	if col.AssetsIndexed != 1 || col.EmbeddingsFound != 0 {
		t.Errorf("expected counters 1/0, got %d/%d", col.AssetsIndexed, col.EmbeddingsFound)
	}
}

func TestCheckpointWriteFailureDoesNotAbortRun(t *testing.T) {
	source := &fakeSource{
		assets:     []assetstore.AssetRef{asset("a1", "f1"), asset("a2", "f1")},
		startToken: "token-1",
	}
	ext := &fakeExtractor{faces: map[string]int{"a1": 1, "a2": 1}}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{ID: "col-1", FolderID: "f1"})
	f.checkpoints.SaveCheckpointError = errors.New("disk full")

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeFull)
	f.engine.RunFull(ctx, task, "col-1")

	// Ledger writes are best-effort: the run completes and every asset is
	// still processed and persisted.
	if task.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed task, got %s: %s", task.Status(), task.Snapshot().Error)
	}
	if len(ext.calls) != 2 {
		t.Errorf("expected both assets extracted, got %v", ext.calls)
	}

	count, _ := f.embeddings.CountByCollection(context.Background(), "col-1")
	if count != 2 {
		t.Errorf("expected 2 stored embeddings, got %d", count)
	}
	col, _ := f.collections.Get(context.Background(), "col-1")
	if col.AssetsIndexed != 2 || col.EmbeddingsFound != 2 {
		t.Errorf("expected counters 2/2, got %d/%d", col.AssetsIndexed, col.EmbeddingsFound)
	}
	if col.SyncToken != "token-1" {
		t.Errorf("expected sync token saved, got %q", col.SyncToken)
	}
}

func TestBatchChunkingCoversAllAssets(t *testing.T) {
	// Five assets against the fixture's batch size of two: three batches,
	// every asset processed exactly once.
	refs := []assetstore.AssetRef{
		asset("a1", "f1"), asset("a2", "f1"), asset("a3", "f1"),
		asset("a4", "f1"), asset("a5", "f1"),
	}
	source := &fakeSource{assets: refs, startToken: "token-1"}
	ext := &fakeExtractor{faces: map[string]int{"a1": 1, "a2": 1, "a3": 1, "a4": 1, "a5": 1}}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{ID: "col-1", FolderID: "f1"})

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeFull)
	f.engine.RunFull(ctx, task, "col-1")

	if task.Status() != tasks.StatusCompleted {
		t.Fatalf("expected completed task, got %s: %s", task.Status(), task.Snapshot().Error)
	}
	if len(ext.calls) != 5 {
		t.Fatalf("expected 5 extractions, got %v", ext.calls)
	}
	seen := make(map[string]bool)
	for _, id := range ext.calls {
		if seen[id] {
			t.Errorf("asset %s processed twice", id)
		}
		seen[id] = true
	}

	col, _ := f.collections.Get(context.Background(), "col-1")
	if col.AssetsIndexed != 5 || col.EmbeddingsFound != 5 {
		t.Errorf("expected counters 5/5, got %d/%d", col.AssetsIndexed, col.EmbeddingsFound)
	}
}

func TestEngineFaultKeepsCheckpoints(t *testing.T) {
	source := &fakeSource{
		assets:     []assetstore.AssetRef{asset("a1", "f1"), asset("a2", "f1")},
		startToken: "token-1",
	}
	ext := &fakeExtractor{faces: map[string]int{"a1": 1, "a2": 1}}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{ID: "col-1", FolderID: "f1"})
	// Counter updates are run-fatal; the first one fails right after a1's
	// checkpoint is written.
	f.collections.UpdateCountersError = errors.New("database gone")

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeFull)
	f.engine.RunFull(ctx, task, "col-1")

	if task.Status() != tasks.StatusFailed {
		t.Fatalf("expected failed task, got %s", task.Status())
	}

	col, _ := f.collections.Get(context.Background(), "col-1")
	if col.IndexingStatus != store.StatusFailed {
		t.Errorf("expected collection failed, got %s", col.IndexingStatus)
	}
	// Token must not advance past un-checkpointed assets.
	if col.SyncToken != "" {
		t.Errorf("expected no token saved on failure, got %q", col.SyncToken)
	}

	// a1's checkpoint survives for the resume.
	count, _ := f.checkpoints.CountCheckpoints(context.Background(), "col-1")
	if count != 1 {
		t.Errorf("expected 1 retained checkpoint, got %d", count)
	}
}

func TestCancellationPausesCollection(t *testing.T) {
	source := &fakeSource{
		assets:     []assetstore.AssetRef{asset("a1", "f1"), asset("a2", "f1"), asset("a3", "f1")},
		startToken: "token-1",
	}
	ext := &fakeExtractor{faces: map[string]int{"a1": 1, "a2": 1, "a3": 1}}
	f := newFixture(source, ext)
	f.addCollection(t, store.Collection{ID: "col-1", FolderID: "f1"})

	task, ctx := f.tracker.Create("task-1", "col-1", tasks.TypeFull)
	// Cancel before the run starts; the engine notices between assets.
	task.Cancel()
	f.engine.RunFull(ctx, task, "col-1")

	if task.Status() != tasks.StatusFailed {
		t.Fatalf("expected failed task after cancel, got %s", task.Status())
	}
	if task.Snapshot().Error != "indexing paused" {
		t.Errorf("unexpected error message: %s", task.Snapshot().Error)
	}

	col, _ := f.collections.Get(context.Background(), "col-1")
	if col.IndexingStatus != store.StatusPaused {
		t.Errorf("expected paused collection, got %s", col.IndexingStatus)
	}
}

func TestIsStuck(t *testing.T) {
	tracker := tasks.NewTracker()

	tests := []struct {
		name     string
		col      store.Collection
		setup    func()
		expected bool
	}{
		{
			name:     "completed collection is not stuck",
			col:      store.Collection{ID: "c1", IndexingStatus: store.StatusCompleted},
			expected: false,
		},
		{
			name:     "in progress without task reference is stuck",
			col:      store.Collection{ID: "c2", IndexingStatus: store.StatusInProgress},
			expected: true,
		},
		{
			name:     "in progress with unknown task is stuck",
			col:      store.Collection{ID: "c3", IndexingStatus: store.StatusInProgress, ActiveTaskID: "ghost"},
			expected: true,
		},
		{
			name: "in progress with live task is not stuck",
			col:  store.Collection{ID: "c4", IndexingStatus: store.StatusInProgress, ActiveTaskID: "live"},
			setup: func() {
				task, _ := tracker.Create("live", "c4", tasks.TypeFull)
				task.Start()
			},
			expected: false,
		},
		{
			name: "in progress with terminal task is stuck",
			col:  store.Collection{ID: "c5", IndexingStatus: store.StatusInProgress, ActiveTaskID: "done"},
			setup: func() {
				task, _ := tracker.Create("done", "c5", tasks.TypeFull)
				task.Start()
				task.Complete()
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			if got := IsStuck(&tt.col, tracker); got != tt.expected {
				t.Errorf("IsStuck() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestResetStuck(t *testing.T) {
	collections := memstore.NewCollectionStore()
	tracker := tasks.NewTracker()
	col := store.Collection{ID: "col-1", IndexingStatus: store.StatusInProgress, ActiveTaskID: "ghost"}
	collections.Add(col)

	if err := ResetStuck(context.Background(), collections, &col, tracker); err != nil {
		t.Fatalf("ResetStuck failed: %v", err)
	}

	got, _ := collections.Get(context.Background(), "col-1")
	if got.IndexingStatus != store.StatusFailed {
		t.Errorf("expected failed, got %s", got.IndexingStatus)
	}
	if got.ActiveTaskID != "" {
		t.Errorf("expected cleared task reference, got %q", got.ActiveTaskID)
	}

	// A healthy collection cannot be reset.
	healthy := store.Collection{ID: "col-2", IndexingStatus: store.StatusCompleted}
	if err := ResetStuck(context.Background(), collections, &healthy, tracker); err == nil {
		t.Error("expected error for non-stuck collection")
	}
}

func TestGetCheckpointStatus(t *testing.T) {
	source := &fakeSource{}
	f := newFixture(source, &fakeExtractor{})
	col := store.Collection{ID: "col-1", IndexingStatus: store.StatusFailed}
	f.addCollection(t, col)
	f.checkpoints.Add(store.Checkpoint{CollectionID: "col-1", AssetID: "a1"})
	f.checkpoints.Add(store.Checkpoint{CollectionID: "col-1", AssetID: "a2"})

	status, err := f.engine.GetCheckpointStatus(context.Background(), &col, f.tracker)
	if err != nil {
		t.Fatalf("GetCheckpointStatus failed: %v", err)
	}
	if !status.HasCheckpoints || status.Count != 2 {
		t.Errorf("expected 2 checkpoints, got %+v", status)
	}
	if !status.CanResume {
		t.Error("failed collection with checkpoints must be resumable")
	}
	if status.IsStuck {
		t.Error("failed collection is not stuck")
	}
}
