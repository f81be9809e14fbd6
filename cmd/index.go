package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hradilp/face-finder/internal/config"
	"github.com/hradilp/face-finder/internal/tasks"
)

var indexCmd = &cobra.Command{
	Use:   "index <collection-name-or-id>",
	Short: "Index the faces in a collection",
	Long: `Index the faces in a collection's folder.

A full run processes every photo in the folder that is not indexed yet.
With --incremental only photos the asset store reports as changed since
the last run are processed. With --reindex the stored embeddings are
dropped first and the whole folder is rebuilt. Interrupted runs resume
from their checkpoints.

Example:
  face-finder index "Svatba 2025"
  face-finder index "Svatba 2025" --incremental
  face-finder index "Svatba 2025" --reindex`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)

	indexCmd.Flags().Bool("incremental", false, "Only process assets changed since the last run")
	indexCmd.Flags().Bool("reindex", false, "Drop stored embeddings and rebuild the collection")
}

func runIndex(cmd *cobra.Command, args []string) error {
	services, pool, err := buildServices(config.Load())
	if err != nil {
		return err
	}
	defer pool.Close()

	col, err := resolveCollection(cmd.Context(), services, args[0])
	if err != nil {
		return err
	}

	incremental := mustGetBool(cmd, "incremental")
	reindex := mustGetBool(cmd, "reindex")
	if incremental && reindex {
		return fmt.Errorf("--incremental and --reindex are mutually exclusive")
	}

	taskType := tasks.TypeFull
	switch {
	case incremental:
		taskType = tasks.TypeIncremental
	case reindex:
		taskType = tasks.TypeReindex
	}

	task, taskCtx := services.Tracker.Create(uuid.New().String(), col.ID, taskType)
	events := task.AddListener()
	defer task.RemoveListener(events)

	// Ctrl+C cancels the run cooperatively, progress stays checkpointed.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Println("\nCancelling, progress is checkpointed...")
		task.Cancel()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		switch taskType {
		case tasks.TypeIncremental:
			services.Engine.RunIncremental(taskCtx, task, col.ID)
		case tasks.TypeReindex:
			services.Engine.RunReindex(taskCtx, task, col.ID)
		default:
			services.Engine.RunFull(taskCtx, task, col.ID)
		}
	}()

	fmt.Printf("Indexing collection %s (%s run)\n", col.Name, taskType)
	var bar *progressbar.ProgressBar

	for {
		select {
		case event := <-events:
			if event.Type != "progress" {
				continue
			}
			snap, ok := event.Data.(tasks.Snapshot)
			if !ok {
				continue
			}
			if bar == nil && snap.Total > 0 {
				bar = progressbar.NewOptions(snap.Total,
					progressbar.OptionSetDescription("Indexing photos"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("photos"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
				)
			}
			if bar != nil {
				bar.Set(snap.Progress)
			}
		case <-done:
			if bar != nil {
				bar.Finish()
				fmt.Println()
			}
			return reportIndexResult(task)
		}
	}
}

// reportIndexResult prints the terminal state of an indexing task.
func reportIndexResult(task *tasks.Task) error {
	snap := task.Snapshot()
	switch snap.Status {
	case tasks.StatusCompleted:
		fmt.Printf("Indexed %d photos, found %d faces\n", snap.Progress, snap.FacesFound)
		return nil
	case tasks.StatusFailed:
		return fmt.Errorf("indexing failed: %s", snap.Error)
	default:
		return fmt.Errorf("indexing finished in unexpected state %s", snap.Status)
	}
}
