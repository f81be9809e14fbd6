package indexer

import (
	"context"
	"fmt"

	"github.com/hradilp/face-finder/internal/store"
	"github.com/hradilp/face-finder/internal/tasks"
)

// CheckpointStatus tells a caller whether an interrupted run can resume.
type CheckpointStatus struct {
	HasCheckpoints bool `json:"has_checkpoints"`
	Count          int  `json:"count"`
	IsStuck        bool `json:"is_stuck"`
	CanResume      bool `json:"can_resume"`
}

// IsStuck reports whether the collection claims to be indexing while no live
// task backs the claim (typically a process restart mid-run). This is a pure
// read-time check.
func IsStuck(col *store.Collection, tracker *tasks.Tracker) bool {
	if col.IndexingStatus != store.StatusInProgress {
		return false
	}
	if col.ActiveTaskID == "" {
		return true
	}
	task := tracker.Get(col.ActiveTaskID)
	return task == nil || task.IsTerminal()
}

// ResetStuck moves a stuck collection to Failed so a new run can start.
// Checkpoints are untouched, the next run resumes from them.
func ResetStuck(ctx context.Context, collections store.CollectionStore, col *store.Collection, tracker *tasks.Tracker) error {
	if !IsStuck(col, tracker) {
		return fmt.Errorf("collection %s is not stuck", col.ID)
	}
	if err := collections.UpdateStatus(ctx, col.ID, store.StatusFailed); err != nil {
		return fmt.Errorf("reset stuck collection: %w", err)
	}
	if err := collections.SetActiveTask(ctx, col.ID, ""); err != nil {
		return fmt.Errorf("clear stale task reference: %w", err)
	}
	return nil
}

// GetCheckpointStatus summarizes resumability for a collection.
func (e *Engine) GetCheckpointStatus(ctx context.Context, col *store.Collection, tracker *tasks.Tracker) (*CheckpointStatus, error) {
	count, err := e.checkpoints.CountCheckpoints(ctx, col.ID)
	if err != nil {
		return nil, fmt.Errorf("count checkpoints: %w", err)
	}

	stuck := IsStuck(col, tracker)
	return &CheckpointStatus{
		HasCheckpoints: count > 0,
		Count:          count,
		IsStuck:        stuck,
		CanResume:      count > 0 && (stuck || col.IndexingStatus == store.StatusFailed || col.IndexingStatus == store.StatusPaused),
	}, nil
}
