package postgres

import (
	"context"
	"fmt"

	"github.com/hradilp/face-finder/internal/store"
)

// CheckpointRepository provides PostgreSQL-backed checkpoint storage
type CheckpointRepository struct {
	pool *Pool
}

// NewCheckpointRepository creates a new PostgreSQL checkpoint repository
func NewCheckpointRepository(pool *Pool) *CheckpointRepository {
	return &CheckpointRepository{pool: pool}
}

// EnsureSchema idempotently creates the checkpoint table. Migrations create
// it on fresh installs; this covers deployments migrated before the table
// existed.
func (r *CheckpointRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS index_checkpoints (
			collection_id    VARCHAR(36) NOT NULL,
			asset_id         TEXT NOT NULL,
			asset_name       TEXT NOT NULL DEFAULT '',
			embeddings_found INTEGER NOT NULL DEFAULT 0,
			processed_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection_id, asset_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure checkpoint table: %w", err)
	}
	return nil
}

// GetCheckpoints returns everything recorded for a collection
func (r *CheckpointRepository) GetCheckpoints(ctx context.Context, collectionID string) (map[string]store.CheckpointInfo, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT asset_id, asset_name, embeddings_found
		FROM index_checkpoints
		WHERE collection_id = $1
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := make(map[string]store.CheckpointInfo)
	for rows.Next() {
		var assetID string
		var info store.CheckpointInfo
		if err := rows.Scan(&assetID, &info.Name, &info.EmbeddingsFound); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		checkpoints[assetID] = info
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return checkpoints, nil
}

// SaveCheckpoint upserts the marker for one processed asset
func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, cp store.Checkpoint) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO index_checkpoints (collection_id, asset_id, asset_name, embeddings_found, processed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (collection_id, asset_id)
		DO UPDATE SET asset_name = $3, embeddings_found = $4, processed_at = NOW()
	`, cp.CollectionID, cp.AssetID, cp.AssetName, cp.EmbeddingsFound)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// ClearCheckpoints bulk-deletes all checkpoints for a collection
func (r *CheckpointRepository) ClearCheckpoints(ctx context.Context, collectionID string) error {
	_, err := r.pool.Exec(ctx,
		"DELETE FROM index_checkpoints WHERE collection_id = $1", collectionID)
	if err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	return nil
}

// CountCheckpoints reports how many assets have checkpoints
func (r *CheckpointRepository) CountCheckpoints(ctx context.Context, collectionID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM index_checkpoints WHERE collection_id = $1", collectionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count checkpoints: %w", err)
	}
	return count, nil
}

// Verify interface compliance
var _ store.CheckpointStore = (*CheckpointRepository)(nil)
