package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-vault/internal/config"
	"github.com/kozaktomas/face-vault/internal/identity"
	"github.com/kozaktomas/face-vault/internal/store"
	"github.com/kozaktomas/face-vault/internal/store/postgres"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Group orphan faces into new person identities",
	Long: `Run DBSCAN over all faces that are not assigned to any person and
create a new unclaimed person for each cluster found. Noise faces stay
orphaned and can be picked up by a later run with looser parameters.

Examples:
  # Cluster with the configured parameters
  face-vault cluster

  # Looser clustering
  face-vault cluster --eps 0.5 --min-samples 2

  # Only report what would happen
  face-vault cluster --dry-run`,
	RunE: runCluster,
}

func init() {
	rootCmd.AddCommand(clusterCmd)

	clusterCmd.Flags().Float64("eps", 0, "DBSCAN cosine distance threshold (0 = use config)")
	clusterCmd.Flags().Int("min-samples", 0, "Minimum faces per cluster (0 = use config)")
	clusterCmd.Flags().Bool("dry-run", false, "Report clusters without creating persons")
}

func runCluster(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	eps := cfg.Clustering.Eps
	if v := mustGetFloat64(cmd, "eps"); v != 0 {
		if v <= 0 || v > 2 {
			return fmt.Errorf("eps %.3f out of range (0, 2]", v)
		}
		eps = v
	}
	minSamples := cfg.Clustering.MinSamples
	if v := mustGetInt(cmd, "min-samples"); v != 0 {
		if v < 1 {
			return errors.New("min-samples must be at least 1")
		}
		minSamples = v
	}
	dryRun := mustGetBool(cmd, "dry-run")

	ctx := context.Background()
	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	db := postgres.NewStore(pool)

	faces, err := db.ListFaces(ctx, store.FaceFilter{Orphans: true})
	if err != nil {
		return fmt.Errorf("list orphan faces: %w", err)
	}
	if len(faces) == 0 {
		fmt.Println("No orphan faces to cluster")
		return nil
	}
	fmt.Printf("Clustering %d orphan faces (eps=%.2f, min_samples=%d)\n", len(faces), eps, minSamples)

	embeddings := make(map[int64][]float32, len(faces))
	for i := range faces {
		embeddings[faces[i].ID] = faces[i].Embedding
	}
	clusters, noise := identity.Cluster(embeddings, eps, minSamples)
	stats := identity.Stats(clusters)

	fmt.Printf("Found %d clusters covering %d faces (%d noise)\n",
		stats.TotalClusters, stats.TotalClustered, len(noise))
	if stats.TotalClusters == 0 {
		return nil
	}

	if dryRun {
		labels := make([]int, 0, len(clusters))
		for label := range clusters {
			labels = append(labels, label)
		}
		sort.Ints(labels)
		for _, label := range labels {
			fmt.Printf("  cluster %d: %d faces\n", label, len(clusters[label]))
		}
		fmt.Println("Dry run, no persons created")
		return nil
	}

	bar := progressbar.NewOptions(stats.TotalClustered,
		progressbar.OptionSetDescription("Assigning faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("faces"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	created := 0
	labels := make([]int, 0, len(clusters))
	for label := range clusters {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	for _, label := range labels {
		members := clusters[label]
		err := db.WithTx(ctx, func(tx store.Store) error {
			person := &store.Person{}
			if err := tx.CreatePerson(ctx, person); err != nil {
				return fmt.Errorf("create person for cluster %d: %w", label, err)
			}
			for _, faceID := range members {
				if err := tx.AssignFace(ctx, faceID, &person.ID); err != nil {
					return fmt.Errorf("assign face %d: %w", faceID, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		created++
		_ = bar.Add(len(members))
	}
	fmt.Printf("\nCreated %d persons\n", created)
	return nil
}
