// Package memstore provides in-memory implementations of the store
// interfaces for testing.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/hradilp/face-finder/internal/store"
)

// CollectionStore is an in-memory implementation of store.CollectionStore.
type CollectionStore struct {
	mu          sync.RWMutex
	collections map[string]*store.Collection

	// Error injection
	CreateError         error
	GetError            error
	ListError           error
	UpdateStatusError   error
	UpdateCountersError error
	SetSyncTokenError   error
	SetActiveTaskError  error
	DeleteError         error

	// Track calls
	StatusCalls []StatusCall
	DeleteCalls []string
}

// StatusCall tracks an UpdateStatus call.
type StatusCall struct {
	ID     string
	Status store.IndexStatus
}

// NewCollectionStore creates a new in-memory collection store.
func NewCollectionStore() *CollectionStore {
	return &CollectionStore{
		collections: make(map[string]*store.Collection),
	}
}

// Add seeds a collection without going through Create.
func (m *CollectionStore) Add(c store.Collection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[c.ID] = &c
}

func (m *CollectionStore) Create(ctx context.Context, c *store.Collection) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.collections[c.ID] = &cp
	return nil
}

func (m *CollectionStore) Get(ctx context.Context, id string) (*store.Collection, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *CollectionStore) List(ctx context.Context) ([]store.Collection, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []store.Collection
	for _, c := range m.collections {
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *CollectionStore) UpdateStatus(ctx context.Context, id string, status store.IndexStatus) error {
	if m.UpdateStatusError != nil {
		return m.UpdateStatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCalls = append(m.StatusCalls, StatusCall{ID: id, Status: status})
	if c, ok := m.collections[id]; ok {
		c.IndexingStatus = status
	}
	return nil
}

func (m *CollectionStore) UpdateCounters(ctx context.Context, id string, assetsIndexed, embeddingsFound int) error {
	if m.UpdateCountersError != nil {
		return m.UpdateCountersError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[id]; ok {
		c.AssetsIndexed = assetsIndexed
		c.EmbeddingsFound = embeddingsFound
	}
	return nil
}

func (m *CollectionStore) SetSyncToken(ctx context.Context, id, token string) error {
	if m.SetSyncTokenError != nil {
		return m.SetSyncTokenError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[id]; ok {
		c.SyncToken = token
	}
	return nil
}

func (m *CollectionStore) SetActiveTask(ctx context.Context, id, taskID string) error {
	if m.SetActiveTaskError != nil {
		return m.SetActiveTaskError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[id]; ok {
		c.ActiveTaskID = taskID
	}
	return nil
}

func (m *CollectionStore) Delete(ctx context.Context, id string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, id)
	delete(m.collections, id)
	return nil
}

// EmbeddingStore is an in-memory implementation of store.EmbeddingStore.
type EmbeddingStore struct {
	mu         sync.RWMutex
	embeddings map[string][]store.FaceEmbedding // keyed by collection id
	nextID     int64

	// Error injection
	SaveBatchError          error
	ListByCollectionError   error
	CountByCollectionError  error
	IndexedAssetIDsError    error
	DeleteByCollectionError error

	// Track calls
	SaveBatchCalls [][]store.FaceEmbedding
}

// NewEmbeddingStore creates a new in-memory embedding store.
func NewEmbeddingStore() *EmbeddingStore {
	return &EmbeddingStore{
		embeddings: make(map[string][]store.FaceEmbedding),
	}
}

// Add seeds an embedding without going through SaveBatch.
func (m *EmbeddingStore) Add(emb store.FaceEmbedding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	emb.ID = m.nextID
	m.embeddings[emb.CollectionID] = append(m.embeddings[emb.CollectionID], emb)
}

func (m *EmbeddingStore) SaveBatch(ctx context.Context, embeddings []store.FaceEmbedding) error {
	if m.SaveBatchError != nil {
		return m.SaveBatchError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveBatchCalls = append(m.SaveBatchCalls, embeddings)
	for _, emb := range embeddings {
		m.nextID++
		emb.ID = m.nextID
		m.embeddings[emb.CollectionID] = append(m.embeddings[emb.CollectionID], emb)
	}
	return nil
}

func (m *EmbeddingStore) ListByCollection(ctx context.Context, collectionID string) ([]store.FaceEmbedding, error) {
	if m.ListByCollectionError != nil {
		return nil, m.ListByCollectionError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]store.FaceEmbedding, len(m.embeddings[collectionID]))
	copy(result, m.embeddings[collectionID])
	return result, nil
}

func (m *EmbeddingStore) CountByCollection(ctx context.Context, collectionID string) (int, error) {
	if m.CountByCollectionError != nil {
		return 0, m.CountByCollectionError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.embeddings[collectionID]), nil
}

func (m *EmbeddingStore) IndexedAssetIDs(ctx context.Context, collectionID string) (map[string]struct{}, error) {
	if m.IndexedAssetIDsError != nil {
		return nil, m.IndexedAssetIDsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make(map[string]struct{})
	for _, emb := range m.embeddings[collectionID] {
		ids[emb.AssetID] = struct{}{}
	}
	return ids, nil
}

func (m *EmbeddingStore) DeleteByCollection(ctx context.Context, collectionID string) (int, error) {
	if m.DeleteByCollectionError != nil {
		return 0, m.DeleteByCollectionError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.embeddings[collectionID])
	delete(m.embeddings, collectionID)
	return n, nil
}

// CheckpointStore is an in-memory implementation of store.CheckpointStore.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]map[string]store.Checkpoint // collection id -> asset id

	// Error injection
	EnsureSchemaError     error
	GetCheckpointsError   error
	SaveCheckpointError   error
	ClearCheckpointsError error
	CountError            error

	// Track calls
	SaveCalls  []store.Checkpoint
	ClearCalls []string
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{
		checkpoints: make(map[string]map[string]store.Checkpoint),
	}
}

// Add seeds a checkpoint without going through SaveCheckpoint.
func (m *CheckpointStore) Add(cp store.Checkpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoints[cp.CollectionID] == nil {
		m.checkpoints[cp.CollectionID] = make(map[string]store.Checkpoint)
	}
	m.checkpoints[cp.CollectionID][cp.AssetID] = cp
}

func (m *CheckpointStore) EnsureSchema(ctx context.Context) error {
	return m.EnsureSchemaError
}

func (m *CheckpointStore) GetCheckpoints(ctx context.Context, collectionID string) (map[string]store.CheckpointInfo, error) {
	if m.GetCheckpointsError != nil {
		return nil, m.GetCheckpointsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]store.CheckpointInfo)
	for assetID, cp := range m.checkpoints[collectionID] {
		result[assetID] = store.CheckpointInfo{Name: cp.AssetName, EmbeddingsFound: cp.EmbeddingsFound}
	}
	return result, nil
}

func (m *CheckpointStore) SaveCheckpoint(ctx context.Context, cp store.Checkpoint) error {
	if m.SaveCheckpointError != nil {
		return m.SaveCheckpointError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls = append(m.SaveCalls, cp)
	if m.checkpoints[cp.CollectionID] == nil {
		m.checkpoints[cp.CollectionID] = make(map[string]store.Checkpoint)
	}
	m.checkpoints[cp.CollectionID][cp.AssetID] = cp
	return nil
}

func (m *CheckpointStore) ClearCheckpoints(ctx context.Context, collectionID string) error {
	if m.ClearCheckpointsError != nil {
		return m.ClearCheckpointsError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClearCalls = append(m.ClearCalls, collectionID)
	delete(m.checkpoints, collectionID)
	return nil
}

func (m *CheckpointStore) CountCheckpoints(ctx context.Context, collectionID string) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checkpoints[collectionID]), nil
}

// Verify interface compliance
var _ store.CollectionStore = (*CollectionStore)(nil)
var _ store.EmbeddingStore = (*EmbeddingStore)(nil)
var _ store.CheckpointStore = (*CheckpointStore)(nil)
