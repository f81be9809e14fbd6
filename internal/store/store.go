package store

import (
	"context"
)

// CollectionStore provides CRUD access to collections.
type CollectionStore interface {
	// Create inserts a new collection.
	Create(ctx context.Context, c *Collection) error
	// Get retrieves a collection by id, returns nil if not found.
	Get(ctx context.Context, id string) (*Collection, error)
	// List returns all collections, newest first.
	List(ctx context.Context) ([]Collection, error)
	// UpdateStatus sets the indexing status.
	UpdateStatus(ctx context.Context, id string, status IndexStatus) error
	// UpdateCounters sets the aggregate counters on the collection row.
	UpdateCounters(ctx context.Context, id string, assetsIndexed, embeddingsFound int) error
	// SetSyncToken replaces the change-feed cursor.
	SetSyncToken(ctx context.Context, id, token string) error
	// SetActiveTask records the task currently indexing the collection
	// (empty string clears it).
	SetActiveTask(ctx context.Context, id, taskID string) error
	// Delete removes a collection; embeddings and checkpoints cascade.
	Delete(ctx context.Context, id string) error
}

// EmbeddingStore provides access to persisted face embeddings.
type EmbeddingStore interface {
	// SaveBatch inserts all embeddings of one asset in a single transaction.
	SaveBatch(ctx context.Context, embeddings []FaceEmbedding) error
	// ListByCollection returns every embedding of a collection ordered by
	// insertion; the order is what the encoding cache materializes.
	ListByCollection(ctx context.Context, collectionID string) ([]FaceEmbedding, error)
	// CountByCollection returns the number of embeddings stored.
	CountByCollection(ctx context.Context, collectionID string) (int, error)
	// IndexedAssetIDs returns the distinct asset ids that already have
	// embeddings, used to skip already-embedded assets on incremental runs.
	IndexedAssetIDs(ctx context.Context, collectionID string) (map[string]struct{}, error)
	// DeleteByCollection removes all embeddings for a re-index.
	DeleteByCollection(ctx context.Context, collectionID string) (int, error)
}

// CheckpointStore is the durable per-asset "already processed" ledger.
// Writes are best-effort: callers log and continue on failure, reads degrade
// to an empty ledger.
type CheckpointStore interface {
	// EnsureSchema idempotently creates the checkpoint table. Safe to call
	// concurrently and on every startup (auto-migration of older deployments).
	EnsureSchema(ctx context.Context) error
	// GetCheckpoints returns everything recorded for a collection; an empty
	// map (not an error) if the collection has never been indexed.
	GetCheckpoints(ctx context.Context, collectionID string) (map[string]CheckpointInfo, error)
	// SaveCheckpoint upserts the marker for one processed asset.
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	// ClearCheckpoints bulk-deletes after a run reaches Completed.
	ClearCheckpoints(ctx context.Context, collectionID string) error
	// CountCheckpoints reports resumability without loading full rows.
	CountCheckpoints(ctx context.Context, collectionID string) (int, error)
}
