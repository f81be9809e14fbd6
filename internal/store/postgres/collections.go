package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hradilp/face-finder/internal/store"
)

// CollectionRepository provides PostgreSQL-backed collection storage
type CollectionRepository struct {
	pool *Pool
}

// NewCollectionRepository creates a new PostgreSQL collection repository
func NewCollectionRepository(pool *Pool) *CollectionRepository {
	return &CollectionRepository{pool: pool}
}

// Create inserts a new collection
func (r *CollectionRepository) Create(ctx context.Context, c *store.Collection) error {
	query := `
		INSERT INTO collections (id, name, folder_id, indexing_status, sync_token, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`
	status := c.IndexingStatus
	if status == "" {
		status = store.StatusNotStarted
	}
	err := r.pool.QueryRow(ctx, query, c.ID, c.Name, c.FolderID, status, c.SyncToken).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert collection: %w", err)
	}
	c.IndexingStatus = status
	return nil
}

// Get retrieves a collection by ID, returns nil if not found
func (r *CollectionRepository) Get(ctx context.Context, id string) (*store.Collection, error) {
	query := `
		SELECT id, name, folder_id, indexing_status, assets_indexed,
		       embeddings_found, sync_token, active_task_id, created_at
		FROM collections
		WHERE id = $1
	`

	var c store.Collection
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.Name,
		&c.FolderID,
		&c.IndexingStatus,
		&c.AssetsIndexed,
		&c.EmbeddingsFound,
		&c.SyncToken,
		&c.ActiveTaskID,
		&c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}
	return &c, nil
}

// List returns all collections, newest first
func (r *CollectionRepository) List(ctx context.Context) ([]store.Collection, error) {
	query := `
		SELECT id, name, folder_id, indexing_status, assets_indexed,
		       embeddings_found, sync_token, active_task_id, created_at
		FROM collections
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var collections []store.Collection
	for rows.Next() {
		var c store.Collection
		if err := rows.Scan(
			&c.ID,
			&c.Name,
			&c.FolderID,
			&c.IndexingStatus,
			&c.AssetsIndexed,
			&c.EmbeddingsFound,
			&c.SyncToken,
			&c.ActiveTaskID,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		collections = append(collections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	return collections, nil
}

// UpdateStatus sets the indexing status
func (r *CollectionRepository) UpdateStatus(ctx context.Context, id string, status store.IndexStatus) error {
	_, err := r.pool.Exec(ctx, "UPDATE collections SET indexing_status = $2 WHERE id = $1", id, status)
	if err != nil {
		return fmt.Errorf("update collection status: %w", err)
	}
	return nil
}

// UpdateCounters sets the aggregate counters on the collection row
func (r *CollectionRepository) UpdateCounters(ctx context.Context, id string, assetsIndexed, embeddingsFound int) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE collections SET assets_indexed = $2, embeddings_found = $3 WHERE id = $1",
		id, assetsIndexed, embeddingsFound)
	if err != nil {
		return fmt.Errorf("update collection counters: %w", err)
	}
	return nil
}

// SetSyncToken replaces the change-feed cursor
func (r *CollectionRepository) SetSyncToken(ctx context.Context, id, token string) error {
	_, err := r.pool.Exec(ctx, "UPDATE collections SET sync_token = $2 WHERE id = $1", id, token)
	if err != nil {
		return fmt.Errorf("update sync token: %w", err)
	}
	return nil
}

// SetActiveTask records the task currently indexing the collection
func (r *CollectionRepository) SetActiveTask(ctx context.Context, id, taskID string) error {
	_, err := r.pool.Exec(ctx, "UPDATE collections SET active_task_id = $2 WHERE id = $1", id, taskID)
	if err != nil {
		return fmt.Errorf("update active task: %w", err)
	}
	return nil
}

// Delete removes a collection; embeddings and checkpoints cascade via FK
func (r *CollectionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM collections WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ store.CollectionStore = (*CollectionRepository)(nil)
