package cmd

import (
	"errors"
	"fmt"

	"github.com/hradilp/face-finder/internal/assetstore"
	"github.com/hradilp/face-finder/internal/config"
	"github.com/hradilp/face-finder/internal/extractor"
	"github.com/hradilp/face-finder/internal/indexer"
	"github.com/hradilp/face-finder/internal/matcher"
	"github.com/hradilp/face-finder/internal/store/postgres"
	"github.com/hradilp/face-finder/internal/tasks"
	"github.com/hradilp/face-finder/internal/web/handlers"
)

// buildServices wires the full service graph from configuration. The caller
// owns the returned pool and closes it on shutdown.
func buildServices(cfg *config.Config) (*handlers.Services, *postgres.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.AssetStore.URL == "" {
		return nil, nil, errors.New("ASSET_STORE_URL environment variable is required")
	}

	pool, err := postgres.Connect(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	source, err := assetstore.New(cfg.AssetStore.URL, cfg.AssetStore.Token, cfg.Indexing.DownloadRetries)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to create asset store client: %w", err)
	}

	collections := postgres.NewCollectionRepository(pool)
	embeddings := postgres.NewEmbeddingRepository(pool)
	checkpoints := postgres.NewCheckpointRepository(pool)

	ext := extractor.NewClient(cfg.Extractor.URL, cfg.Extractor.Dim)
	cache := matcher.NewCache(embeddings)
	changes := indexer.NewChangeTracker(source, collections, cfg.Indexing.AcceptedMimeTypes)
	engine := indexer.NewEngine(collections, embeddings, checkpoints, changes, source, ext, cache, cfg.Indexing.BatchSize)

	return &handlers.Services{
		Config:      cfg,
		Collections: collections,
		Embeddings:  embeddings,
		Engine:      engine,
		Matcher:     matcher.New(cache),
		Cache:       cache,
		Extractor:   ext,
		Tracker:     tasks.NewTracker(),
	}, pool, nil
}
