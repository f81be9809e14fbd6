package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hradilp/face-finder/internal/config"
	"github.com/hradilp/face-finder/internal/store"
	"github.com/hradilp/face-finder/internal/web/handlers"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Manage face collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all collections",
	RunE:  runCollectionsList,
}

var collectionsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new collection",
	Long: `Create a new collection scoped to an asset store folder.

Example:
  face-finder collections create "Svatba 2025" --folder 1AbCdEfG`,
	Args: cobra.ExactArgs(1),
	RunE: runCollectionsCreate,
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete <name-or-id>",
	Short: "Delete a collection with its embeddings",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollectionsDelete,
}

func init() {
	rootCmd.AddCommand(collectionsCmd)
	collectionsCmd.AddCommand(collectionsListCmd)
	collectionsCmd.AddCommand(collectionsCreateCmd)
	collectionsCmd.AddCommand(collectionsDeleteCmd)

	collectionsCreateCmd.Flags().String("folder", "", "Asset store folder ID (required)")
	collectionsCreateCmd.MarkFlagRequired("folder")
}

// resolveCollection finds a collection by id first, then by normalized name.
func resolveCollection(ctx context.Context, services *handlers.Services, nameOrID string) (*store.Collection, error) {
	col, err := services.Collections.Get(ctx, nameOrID)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection: %w", err)
	}
	if col != nil {
		return col, nil
	}

	all, err := services.Collections.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	if col := store.FindByName(all, nameOrID); col != nil {
		return col, nil
	}
	return nil, fmt.Errorf("collection %q not found", nameOrID)
}

func runCollectionsList(cmd *cobra.Command, args []string) error {
	services, pool, err := buildServices(config.Load())
	if err != nil {
		return err
	}
	defer pool.Close()

	collections, err := services.Collections.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	if len(collections) == 0 {
		fmt.Println("No collections found")
		return nil
	}

	for _, col := range collections {
		fmt.Printf("%s  %s\n", col.ID, col.Name)
		fmt.Printf("  Folder: %s\n", col.FolderID)
		fmt.Printf("  Status: %s  Assets: %d  Faces: %d\n",
			col.IndexingStatus, col.AssetsIndexed, col.EmbeddingsFound)
	}
	return nil
}

func runCollectionsCreate(cmd *cobra.Command, args []string) error {
	services, pool, err := buildServices(config.Load())
	if err != nil {
		return err
	}
	defer pool.Close()

	name := args[0]
	existing, err := services.Collections.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	if store.FindByName(existing, name) != nil {
		return fmt.Errorf("a collection named %q already exists", name)
	}

	col := &store.Collection{
		ID:             uuid.New().String(),
		Name:           name,
		FolderID:       mustGetString(cmd, "folder"),
		IndexingStatus: store.StatusNotStarted,
	}
	if err := services.Collections.Create(cmd.Context(), col); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	fmt.Printf("Created collection: %s\n", col.Name)
	fmt.Printf("ID: %s\n", col.ID)
	return nil
}

func runCollectionsDelete(cmd *cobra.Command, args []string) error {
	services, pool, err := buildServices(config.Load())
	if err != nil {
		return err
	}
	defer pool.Close()

	col, err := resolveCollection(cmd.Context(), services, args[0])
	if err != nil {
		return err
	}
	if err := services.Collections.Delete(cmd.Context(), col.ID); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	services.Cache.Invalidate(col.ID)

	fmt.Printf("Deleted collection %s (%s)\n", col.Name, col.ID)
	return nil
}
