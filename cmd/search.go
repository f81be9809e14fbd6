package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hradilp/face-finder/internal/config"
	"github.com/hradilp/face-finder/internal/matcher"
)

var searchCmd = &cobra.Command{
	Use:   "search <collection-name-or-id> <photo> [photo...]",
	Short: "Search a collection with reference photos of a person",
	Long: `Search an indexed collection for photos of the person shown in the
given reference photos. Each reference photo must contain the person's
face.

Example:
  face-finder search "Svatba 2025" me.jpg me-sunglasses.jpg`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().Float64("tolerance", 0, "Match tolerance, lower is stricter (0 = configured default)")
	searchCmd.Flags().Bool("batch", false, "Match each reference face separately instead of averaging")
	searchCmd.Flags().Int("limit", 0, "Maximum number of matches to print (0 = no limit)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	services, pool, err := buildServices(config.Load())
	if err != nil {
		return err
	}
	defer pool.Close()

	col, err := resolveCollection(cmd.Context(), services, args[0])
	if err != nil {
		return err
	}

	cfg := services.Config
	if len(args)-1 > cfg.Matching.MaxQueryImages {
		return fmt.Errorf("at most %d reference photos are allowed", cfg.Matching.MaxQueryImages)
	}

	var queryVectors [][]float32
	for _, path := range args[1:] {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		observations, err := services.Extractor.Extract(cmd.Context(), data)
		if err != nil {
			return fmt.Errorf("failed to process %s: %w", path, err)
		}
		if len(observations) == 0 {
			return fmt.Errorf("no face found in %s", path)
		}
		queryVectors = append(queryVectors, observations[0].Vector)
	}

	tolerance := mustGetFloat64(cmd, "tolerance")
	if tolerance == 0 {
		tolerance = cfg.Matching.Tolerance
	}

	var result *matcher.Result
	if mustGetBool(cmd, "batch") {
		result, err = services.Matcher.FindMatchesBatch(cmd.Context(), col.ID, queryVectors, tolerance)
	} else {
		var query []float32
		query, err = matcher.AverageVector(queryVectors)
		if err != nil {
			return err
		}
		result, err = services.Matcher.FindMatches(cmd.Context(), col.ID, query, tolerance)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if limit := mustGetInt(cmd, "limit"); limit > 0 && len(result.Matches) > limit {
		result.Matches = result.Matches[:limit]
	}

	if len(result.Matches) == 0 {
		fmt.Printf("No matches in %s (%d faces checked)\n", col.Name, result.FacesChecked)
		return nil
	}

	fmt.Printf("Found %d matching photos in %s (%d faces checked):\n",
		len(result.Matches), col.Name, result.FacesChecked)
	for _, match := range result.Matches {
		fmt.Printf("  %6.2f%%  %s\n", match.Confidence, match.AssetName)
	}
	return nil
}
