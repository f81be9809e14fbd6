// Package indexer drives indexing runs: it decides which assets are in
// scope, pipes them through the extractor, and records durable progress so
// interrupted runs resume where they stopped.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hradilp/face-finder/internal/assetstore"
	"github.com/hradilp/face-finder/internal/store"
)

// AssetSource is the part of the asset store client the indexer needs.
type AssetSource interface {
	ListAssets(ctx context.Context, folderID string, mimeTypes []string) ([]assetstore.AssetRef, error)
	GetStartToken(ctx context.Context, folderID string) (string, error)
	CollectChanges(ctx context.Context, token string) ([]assetstore.Change, string, error)
	Download(ctx context.Context, assetID string) ([]byte, error)
}

// ChangeTracker resolves what changed in a collection's folder since the
// last run, using the asset store's token-based change feed.
type ChangeTracker struct {
	source      AssetSource
	collections store.CollectionStore
	mimeTypes   []string
}

// NewChangeTracker creates a change tracker.
func NewChangeTracker(source AssetSource, collections store.CollectionStore, mimeTypes []string) *ChangeTracker {
	return &ChangeTracker{
		source:      source,
		collections: collections,
		mimeTypes:   mimeTypes,
	}
}

// Bootstrap lists every current asset of the collection's folder and issues
// a fresh change-feed cursor. The cursor is fetched before the listing so
// changes racing the listing surface in the next delta instead of being lost.
func (t *ChangeTracker) Bootstrap(ctx context.Context, col *store.Collection) ([]assetstore.AssetRef, string, error) {
	token, err := t.source.GetStartToken(ctx, col.FolderID)
	if err != nil {
		return nil, "", fmt.Errorf("bootstrap start token: %w", err)
	}

	assets, err := t.source.ListAssets(ctx, col.FolderID, t.mimeTypes)
	if err != nil {
		return nil, "", fmt.Errorf("bootstrap listing: %w", err)
	}
	return assets, token, nil
}

// FetchDelta walks the change feed from the collection's stored cursor and
// returns the changed assets that belong to the collection's folder, are of
// an accepted media type, and were not removed. The bool reports cursor
// expiry: when true the caller must re-bootstrap.
func (t *ChangeTracker) FetchDelta(ctx context.Context, col *store.Collection) ([]assetstore.AssetRef, string, bool, error) {
	changes, newToken, err := t.source.CollectChanges(ctx, col.SyncToken)
	if errors.Is(err, assetstore.ErrTokenExpired) {
		return nil, "", true, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("fetch delta: %w", err)
	}

	var assets []assetstore.AssetRef
	for _, change := range changes {
		if change.Removed || change.Asset == nil {
			continue
		}
		asset := *change.Asset
		if asset.Trashed {
			continue
		}
		if col.FolderID != "" && asset.FolderID != col.FolderID {
			continue
		}
		if !t.acceptsMime(asset.MimeType) {
			continue
		}
		assets = append(assets, asset)
	}
	return assets, newToken, false, nil
}

// SaveToken persists the new cursor. Callers must only invoke this after the
// checkpoints of the processed batch are durable, so a crash never leaves
// the cursor pointing past un-checkpointed assets.
func (t *ChangeTracker) SaveToken(ctx context.Context, collectionID, token string) error {
	if err := t.collections.SetSyncToken(ctx, collectionID, token); err != nil {
		return fmt.Errorf("save sync token: %w", err)
	}
	return nil
}

func (t *ChangeTracker) acceptsMime(mimeType string) bool {
	mimeType = strings.ToLower(mimeType)
	for _, accepted := range t.mimeTypes {
		if mimeType == strings.ToLower(accepted) {
			return true
		}
	}
	return false
}
