package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "face-finder",
	Short: "Index photo collections by face and search them",
	Long: `Face Finder indexes the faces found in a cloud photo folder and lets
you search the collection with reference photos of a person. Indexing is
incremental: once a folder is indexed, later runs only process assets the
asset store reports as changed.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
