package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hradilp/face-finder/internal/assetstore"
	"github.com/hradilp/face-finder/internal/extractor"
	"github.com/hradilp/face-finder/internal/matcher"
	"github.com/hradilp/face-finder/internal/observability"
	"github.com/hradilp/face-finder/internal/store"
	"github.com/hradilp/face-finder/internal/tasks"
)

// Engine runs indexing tasks against one collection at a time. Scope is
// decided up front (full listing or change-feed delta); every in-scope asset
// then flows through the same download-extract-persist pipeline.
type Engine struct {
	collections store.CollectionStore
	embeddings  store.EmbeddingStore
	checkpoints store.CheckpointStore
	changes     *ChangeTracker
	source      AssetSource
	extractor   extractor.Extractor
	cache       *matcher.Cache
	batchSize   int
}

// NewEngine wires an indexing engine from its dependencies.
func NewEngine(
	collections store.CollectionStore,
	embeddings store.EmbeddingStore,
	checkpoints store.CheckpointStore,
	changes *ChangeTracker,
	source AssetSource,
	ext extractor.Extractor,
	cache *matcher.Cache,
	batchSize int,
) *Engine {
	return &Engine{
		collections: collections,
		embeddings:  embeddings,
		checkpoints: checkpoints,
		changes:     changes,
		source:      source,
		extractor:   ext,
		cache:       cache,
		batchSize:   batchSize,
	}
}

// RunFull indexes every asset currently in the collection's folder that is
// not already embedded or checkpointed. Running it again after a completed
// run is a no-op pass over an empty scope.
func (e *Engine) RunFull(ctx context.Context, task *tasks.Task, collectionID string) {
	e.run(ctx, task, collectionID, e.fullScope)
}

// RunReindex rebuilds the collection from scratch: a fresh run (no
// checkpoints) drops the stored embeddings and resets the counters before
// processing the full listing. An interrupted re-index resumes from its
// checkpoints without dropping anything.
func (e *Engine) RunReindex(ctx context.Context, task *tasks.Task, collectionID string) {
	e.run(ctx, task, collectionID, e.reindexScope)
}

// RunIncremental indexes only assets reported changed by the change feed
// since the last saved cursor, skipping assets already embedded or
// checkpointed. The first incremental run of a collection bootstraps the
// cursor and diffs the full listing against what is already indexed.
func (e *Engine) RunIncremental(ctx context.Context, task *tasks.Task, collectionID string) {
	e.run(ctx, task, collectionID, e.incrementalScope)
}

// scopeFunc resolves the assets a run must process plus the change-feed
// cursor to persist once the batch is durable (empty = no cursor update).
type scopeFunc func(ctx context.Context, col *store.Collection, checkpoints map[string]store.CheckpointInfo) ([]assetstore.AssetRef, string, error)

func (e *Engine) run(ctx context.Context, task *tasks.Task, collectionID string, scope scopeFunc) {
	observability.ActiveIndexingTasks.Inc()
	defer observability.ActiveIndexingTasks.Dec()

	task.Start()

	col, err := e.collections.Get(ctx, collectionID)
	if err != nil {
		task.Fail(fmt.Sprintf("load collection: %v", err))
		return
	}
	if col == nil {
		task.Fail("collection not found")
		return
	}

	if err := e.collections.UpdateStatus(ctx, collectionID, store.StatusInProgress); err != nil {
		task.Fail(fmt.Sprintf("mark collection in progress: %v", err))
		return
	}
	if err := e.collections.SetActiveTask(ctx, collectionID, task.ID()); err != nil {
		log.Printf("collection %s: could not record active task: %v", collectionID, err)
	}
	defer func() {
		if err := e.collections.SetActiveTask(context.WithoutCancel(ctx), collectionID, ""); err != nil {
			log.Printf("collection %s: could not clear active task: %v", collectionID, err)
		}
	}()

	checkpointed, err := e.loadCheckpoints(ctx, collectionID)
	if err != nil {
		e.fail(ctx, task, collectionID, fmt.Sprintf("load checkpoints: %v", err))
		return
	}

	assets, newToken, err := scope(ctx, col, checkpointed)
	if err != nil {
		e.fail(ctx, task, collectionID, fmt.Sprintf("resolve scope: %v", err))
		return
	}

	if err := e.processAssets(ctx, task, col, assets, checkpointed); err != nil {
		if errors.Is(err, context.Canceled) {
			e.pause(ctx, task, collectionID)
			return
		}
		e.fail(ctx, task, collectionID, err.Error())
		return
	}

	// The batch's checkpoints are durable; the cursor may advance now.
	if newToken != "" {
		if err := e.changes.SaveToken(ctx, collectionID, newToken); err != nil {
			e.fail(ctx, task, collectionID, err.Error())
			return
		}
	}

	if err := e.collections.UpdateStatus(ctx, collectionID, store.StatusCompleted); err != nil {
		e.fail(ctx, task, collectionID, fmt.Sprintf("mark collection completed: %v", err))
		return
	}
	if err := e.checkpoints.ClearCheckpoints(ctx, collectionID); err != nil {
		// Stale checkpoints only cost a little skipped work next run.
		log.Printf("collection %s: could not clear checkpoints: %v", collectionID, err)
	}
	e.cache.Invalidate(collectionID)
	task.Complete()
}

// fullScope lists everything currently in the folder minus assets already
// embedded or checkpointed, so full runs are idempotent.
func (e *Engine) fullScope(ctx context.Context, col *store.Collection, checkpoints map[string]store.CheckpointInfo) ([]assetstore.AssetRef, string, error) {
	return e.bootstrapDiff(ctx, col, checkpoints)
}

// reindexScope lists everything currently in the folder. A run with no prior
// checkpoints drops existing embeddings first so re-indexing never
// duplicates rows.
func (e *Engine) reindexScope(ctx context.Context, col *store.Collection, checkpoints map[string]store.CheckpointInfo) ([]assetstore.AssetRef, string, error) {
	if len(checkpoints) == 0 {
		deleted, err := e.embeddings.DeleteByCollection(ctx, col.ID)
		if err != nil {
			return nil, "", fmt.Errorf("clear embeddings before re-index: %w", err)
		}
		if deleted > 0 {
			log.Printf("collection %s: dropped %d embeddings for re-index", col.ID, deleted)
			e.cache.Invalidate(col.ID)
		}
		if err := e.collections.UpdateCounters(ctx, col.ID, 0, 0); err != nil {
			return nil, "", fmt.Errorf("reset counters: %w", err)
		}
		col.AssetsIndexed = 0
		col.EmbeddingsFound = 0
	}

	assets, token, err := e.changes.Bootstrap(ctx, col)
	if err != nil {
		return nil, "", err
	}
	return assets, token, nil
}

// incrementalScope resolves the delta since the saved cursor. Without a
// cursor (first incremental run) it bootstraps and diffs the full listing
// against indexed and checkpointed assets. An expired cursor falls back to
// the same bootstrap diff.
func (e *Engine) incrementalScope(ctx context.Context, col *store.Collection, checkpoints map[string]store.CheckpointInfo) ([]assetstore.AssetRef, string, error) {
	if col.SyncToken == "" {
		return e.bootstrapDiff(ctx, col, checkpoints)
	}

	assets, newToken, expired, err := e.changes.FetchDelta(ctx, col)
	if err != nil {
		return nil, "", err
	}
	if expired {
		log.Printf("collection %s: change feed cursor expired, re-bootstrapping", col.ID)
		return e.bootstrapDiff(ctx, col, checkpoints)
	}

	indexed, err := e.embeddings.IndexedAssetIDs(ctx, col.ID)
	if err != nil {
		return nil, "", fmt.Errorf("load indexed asset ids: %w", err)
	}

	var scope []assetstore.AssetRef
	for _, asset := range assets {
		if _, ok := checkpoints[asset.ID]; ok {
			continue
		}
		if _, ok := indexed[asset.ID]; ok {
			continue
		}
		scope = append(scope, asset)
	}
	return scope, newToken, nil
}

// bootstrapDiff lists the whole folder and keeps only assets that are
// neither embedded nor checkpointed.
func (e *Engine) bootstrapDiff(ctx context.Context, col *store.Collection, checkpoints map[string]store.CheckpointInfo) ([]assetstore.AssetRef, string, error) {
	assets, token, err := e.changes.Bootstrap(ctx, col)
	if err != nil {
		return nil, "", err
	}

	indexed, err := e.embeddings.IndexedAssetIDs(ctx, col.ID)
	if err != nil {
		return nil, "", fmt.Errorf("load indexed asset ids: %w", err)
	}

	var scope []assetstore.AssetRef
	for _, asset := range assets {
		if _, ok := checkpoints[asset.ID]; ok {
			continue
		}
		if _, ok := indexed[asset.ID]; ok {
			continue
		}
		scope = append(scope, asset)
	}
	return scope, token, nil
}

// loadCheckpoints reads the ledger, degrading to an empty ledger on error is
// NOT allowed here: resuming without the ledger would re-embed checkpointed
// assets, so the run aborts instead.
func (e *Engine) loadCheckpoints(ctx context.Context, collectionID string) (map[string]store.CheckpointInfo, error) {
	if err := e.checkpoints.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return e.checkpoints.GetCheckpoints(ctx, collectionID)
}

// processAssets drives the per-asset pipeline over the resolved scope, in
// batches of the configured size. Cancellation is checked between assets,
// never mid-asset, so an interrupted run still leaves consistent
// checkpoints behind.
func (e *Engine) processAssets(ctx context.Context, task *tasks.Task, col *store.Collection, assets []assetstore.AssetRef, checkpointed map[string]store.CheckpointInfo) error {
	total := len(assets)
	assetsIndexed := col.AssetsIndexed
	embeddingsFound := col.EmbeddingsFound

	batchSize := e.batchSize
	if batchSize <= 0 {
		batchSize = total
	}

	// Assets with a checkpoint are already counted in the aggregates.
	for start := 0; start < total; start += batchSize {
		end := min(start+batchSize, total)
		log.Printf("collection %s: processing batch %d (%d assets)", col.ID, start/batchSize+1, end-start)

		for i, asset := range assets[start:end] {
			if err := ctx.Err(); err != nil {
				return err
			}
			done := start + i + 1
			if _, ok := checkpointed[asset.ID]; ok {
				task.UpdateProgress(done, total, asset.Name, embeddingsFound)
				continue
			}

			faces, skipped := e.processAsset(ctx, col.ID, asset)
			if err := ctx.Err(); err != nil {
				return err
			}
			if skipped {
				task.UpdateProgress(done, total, asset.Name, embeddingsFound)
				continue
			}

			assetsIndexed++
			embeddingsFound += faces
			observability.AssetsIndexed.WithLabelValues(col.ID).Inc()
			observability.FacesFound.WithLabelValues(col.ID).Add(float64(faces))

			// Checkpoint first: a crash between the two writes leaves
			// counters behind, and counters are recomputable from stored
			// embeddings. The write is best-effort; without it the asset is
			// merely re-processed next run.
			cp := store.Checkpoint{
				CollectionID:    col.ID,
				AssetID:         asset.ID,
				AssetName:       asset.Name,
				EmbeddingsFound: faces,
			}
			if err := e.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
				log.Printf("collection %s: could not checkpoint %s: %v", col.ID, asset.Name, err)
			} else {
				checkpointed[asset.ID] = store.CheckpointInfo{Name: asset.Name, EmbeddingsFound: faces}
			}

			if err := e.collections.UpdateCounters(ctx, col.ID, assetsIndexed, embeddingsFound); err != nil {
				return fmt.Errorf("update counters: %w", err)
			}

			task.UpdateProgress(done, total, asset.Name, embeddingsFound)
		}
	}
	return nil
}

// processAsset runs one asset through download and extraction. Per-asset
// failures never abort the run: the skipped return means the asset got no
// checkpoint and is retried next run. The caller checks the context, so a
// cancelled download or extraction surfaces there.
func (e *Engine) processAsset(ctx context.Context, collectionID string, asset assetstore.AssetRef) (faces int, skipped bool) {
	data, err := e.source.Download(ctx, asset.ID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, true
		}
		log.Printf("collection %s: download of %s failed, will retry next run: %v", collectionID, asset.Name, err)
		observability.AssetsSkipped.WithLabelValues(collectionID, "download_failed").Inc()
		return 0, true
	}

	started := time.Now()
	observations, err := e.extractor.Extract(ctx, data)
	observability.ExtractDuration.Observe(time.Since(started).Seconds())
	if errors.Is(err, extractor.ErrUnprocessable) {
		// Content problem tied to the asset. Checkpoint it with zero faces
		// so it is not retried forever.
		log.Printf("collection %s: asset %s is unprocessable: %v", collectionID, asset.Name, err)
		observability.AssetsSkipped.WithLabelValues(collectionID, "unprocessable").Inc()
		return 0, false
	}
	if err != nil {
		log.Printf("collection %s: extraction of %s failed, will retry next run: %v", collectionID, asset.Name, err)
		observability.AssetsSkipped.WithLabelValues(collectionID, "extract_failed").Inc()
		return 0, true
	}

	if len(observations) == 0 {
		return 0, false
	}

	batch := make([]store.FaceEmbedding, 0, len(observations))
	for _, obs := range observations {
		batch = append(batch, store.FaceEmbedding{
			CollectionID: collectionID,
			AssetID:      asset.ID,
			AssetName:    asset.Name,
			Vector:       obs.Vector,
			Box:          obs.Box,
		})
	}
	if err := e.embeddings.SaveBatch(ctx, batch); err != nil {
		log.Printf("collection %s: could not persist embeddings for %s, will retry next run: %v", collectionID, asset.Name, err)
		observability.AssetsSkipped.WithLabelValues(collectionID, "persist_failed").Inc()
		return 0, true
	}
	return len(batch), false
}

// fail marks both the task and the collection failed. Checkpoints survive so
// the next run resumes.
func (e *Engine) fail(ctx context.Context, task *tasks.Task, collectionID, message string) {
	log.Printf("collection %s: indexing failed: %s", collectionID, message)
	if err := e.collections.UpdateStatus(context.WithoutCancel(ctx), collectionID, store.StatusFailed); err != nil {
		log.Printf("collection %s: could not mark failed: %v", collectionID, err)
	}
	task.Fail(message)
}

// pause handles cooperative cancellation: the task ends as failed with a
// pause message and the collection becomes resumable.
func (e *Engine) pause(ctx context.Context, task *tasks.Task, collectionID string) {
	log.Printf("collection %s: indexing paused", collectionID)
	if err := e.collections.UpdateStatus(context.WithoutCancel(ctx), collectionID, store.StatusPaused); err != nil {
		log.Printf("collection %s: could not mark paused: %v", collectionID, err)
	}
	task.Fail("indexing paused")
}
