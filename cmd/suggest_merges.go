package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-vault/internal/config"
	"github.com/kozaktomas/face-vault/internal/matching"
	"github.com/kozaktomas/face-vault/internal/store"
	"github.com/kozaktomas/face-vault/internal/store/postgres"
)

var suggestMergesCmd = &cobra.Command{
	Use:   "suggest-merges",
	Short: "Find persons that look like duplicates of each other",
	Long: `Compare every person's faces against all other persons and report
pairs whose best cross-similarity reaches the threshold. The pairs are
candidates for the merge endpoint; nothing is changed automatically.`,
	RunE: runSuggestMerges,
}

func init() {
	rootCmd.AddCommand(suggestMergesCmd)

	suggestMergesCmd.Flags().Float64("threshold", 0, "Similarity threshold (0 = high confidence from config)")
}

func runSuggestMerges(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	threshold := cfg.Matching.High
	if v := mustGetFloat64(cmd, "threshold"); v != 0 {
		if v <= 0 || v > 1 {
			return fmt.Errorf("threshold %.3f out of range (0, 1]", v)
		}
		threshold = v
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	db := postgres.NewStore(pool)
	matcher := matching.New(db, cfg.Matching)

	persons, err := db.ListPersons(ctx, store.PersonFilter{})
	if err != nil {
		return fmt.Errorf("list persons: %w", err)
	}
	if len(persons) < 2 {
		fmt.Println("Not enough persons to compare")
		return nil
	}
	fmt.Printf("Comparing %d persons (threshold %.2f)\n\n", len(persons), threshold)

	bar := progressbar.NewOptions(len(persons),
		progressbar.OptionSetDescription("Comparing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("persons"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	type pair struct {
		a, b       store.Person
		similarity float64
	}
	var pairs []pair
	for i := range persons {
		suggestions, err := matcher.SuggestPersonMerges(ctx, persons[i].ID, threshold)
		if err != nil {
			return fmt.Errorf("suggestions for person %s: %w", persons[i].ID, err)
		}
		for _, s := range suggestions {
			// Each pair comes up twice; keep the ordered one.
			if persons[i].ID.String() < s.Person.ID.String() {
				pairs = append(pairs, pair{a: persons[i], b: s.Person, similarity: s.Similarity})
			}
		}
		_ = bar.Add(1)
	}

	fmt.Printf("\n\nFound %d candidate pairs\n", len(pairs))
	for _, p := range pairs {
		fmt.Printf("  %.3f  %s (%s)  <->  %s (%s)\n",
			p.similarity, p.a.ID, personLabel(p.a), p.b.ID, personLabel(p.b))
	}
	return nil
}

func personLabel(p store.Person) string {
	if p.Name != "" {
		return p.Name
	}
	return "unnamed"
}
