package store

import (
	"time"
)

// IndexStatus describes the indexing lifecycle of a collection.
type IndexStatus string

const (
	StatusNotStarted IndexStatus = "not_started"
	StatusInProgress IndexStatus = "in_progress"
	StatusCompleted  IndexStatus = "completed"
	StatusFailed     IndexStatus = "failed"
	StatusPaused     IndexStatus = "paused"
)

// Collection is a named group of remote assets to index and search against.
type Collection struct {
	ID              string
	Name            string
	FolderID        string // remote asset store folder the collection is scoped to
	IndexingStatus  IndexStatus
	AssetsIndexed   int
	EmbeddingsFound int
	SyncToken       string // opaque change-feed cursor, empty means never initialized
	ActiveTaskID    string // id of the task currently indexing, empty when idle
	CreatedAt       time.Time
}

// BoundingBox locates a detected face within its source image, in pixels.
type BoundingBox struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// Array returns the box as [top, right, bottom, left] for array-column storage.
func (b BoundingBox) Array() []float64 {
	return []float64{b.Top, b.Right, b.Bottom, b.Left}
}

// BoxFromArray rebuilds a BoundingBox from a [top, right, bottom, left] array.
// Malformed arrays produce a zero box rather than an error; the box is
// provenance metadata and never participates in matching.
func BoxFromArray(a []float64) BoundingBox {
	if len(a) != 4 {
		return BoundingBox{}
	}
	return BoundingBox{Top: a[0], Right: a[1], Bottom: a[2], Left: a[3]}
}

// FaceEmbedding is one detected face: a fixed-dimensionality vector plus
// provenance. Vectors are immutable after insert and only removed by
// collection deletion or explicit re-index.
type FaceEmbedding struct {
	ID           int64
	CollectionID string
	AssetID      string
	AssetName    string
	Vector       []float32
	Box          BoundingBox
	InsertedAt   time.Time
}

// Checkpoint marks one asset as fully processed within an indexing run.
// At most one checkpoint exists per (collection, asset) pair.
type Checkpoint struct {
	CollectionID    string
	AssetID         string
	AssetName       string
	EmbeddingsFound int
	ProcessedAt     time.Time
}

// CheckpointInfo is the per-asset payload of GetCheckpoints.
type CheckpointInfo struct {
	Name            string
	EmbeddingsFound int
}
