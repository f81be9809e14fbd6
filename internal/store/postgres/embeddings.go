package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/hradilp/face-finder/internal/store"
)

// EmbeddingRepository provides PostgreSQL-backed face embedding storage
type EmbeddingRepository struct {
	pool *Pool
}

// NewEmbeddingRepository creates a new PostgreSQL embedding repository
func NewEmbeddingRepository(pool *Pool) *EmbeddingRepository {
	return &EmbeddingRepository{pool: pool}
}

// SaveBatch inserts all embeddings of one asset in a single transaction.
// Either every face of the asset lands or none of them do.
func (r *EmbeddingRepository) SaveBatch(ctx context.Context, embeddings []store.FaceEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO face_embeddings (collection_id, asset_id, asset_name, embedding, bounding_box)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, emb := range embeddings {
		vec := pgvector.NewVector(emb.Vector)
		if _, err := tx.ExecContext(ctx, query,
			emb.CollectionID,
			emb.AssetID,
			emb.AssetName,
			vec,
			pq.Array(emb.Box.Array()),
		); err != nil {
			return fmt.Errorf("insert embedding for asset %s: %w", emb.AssetID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit embeddings: %w", err)
	}
	return nil
}

// ListByCollection returns every embedding of a collection ordered by insertion
func (r *EmbeddingRepository) ListByCollection(ctx context.Context, collectionID string) ([]store.FaceEmbedding, error) {
	query := `
		SELECT id, collection_id, asset_id, asset_name, embedding, bounding_box, inserted_at
		FROM face_embeddings
		WHERE collection_id = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	var embeddings []store.FaceEmbedding
	for rows.Next() {
		var emb store.FaceEmbedding
		var vec pgvector.Vector
		var box []float64
		if err := rows.Scan(
			&emb.ID,
			&emb.CollectionID,
			&emb.AssetID,
			&emb.AssetName,
			&vec,
			pq.Array(&box),
			&emb.InsertedAt,
		); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		emb.Vector = vec.Slice()
		emb.Box = store.BoxFromArray(box)
		embeddings = append(embeddings, emb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return embeddings, nil
}

// CountByCollection returns the number of embeddings stored for a collection
func (r *EmbeddingRepository) CountByCollection(ctx context.Context, collectionID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM face_embeddings WHERE collection_id = $1", collectionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// IndexedAssetIDs returns the distinct asset ids that already have embeddings
func (r *EmbeddingRepository) IndexedAssetIDs(ctx context.Context, collectionID string) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT DISTINCT asset_id FROM face_embeddings WHERE collection_id = $1", collectionID)
	if err != nil {
		return nil, fmt.Errorf("query indexed asset ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan asset id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset ids: %w", err)
	}
	return ids, nil
}

// DeleteByCollection removes all embeddings for a collection, returning
// the number of rows removed
func (r *EmbeddingRepository) DeleteByCollection(ctx context.Context, collectionID string) (int, error) {
	result, err := r.pool.Exec(ctx,
		"DELETE FROM face_embeddings WHERE collection_id = $1", collectionID)
	if err != nil {
		return 0, fmt.Errorf("delete embeddings: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// Verify interface compliance
var _ store.EmbeddingStore = (*EmbeddingRepository)(nil)
