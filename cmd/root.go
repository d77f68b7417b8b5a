package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "face-vault",
	Short: "A facial identity backend with clustering and claims",
	Long: `Face Vault stores face embeddings, groups them into person identities
and lets users claim the identities that belong to them. It serves an HTTP
API for photo ingestion, face matching and claim management, plus batch
commands for clustering and merge suggestions.`,
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
