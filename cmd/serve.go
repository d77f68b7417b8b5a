package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-vault/internal/claims"
	"github.com/kozaktomas/face-vault/internal/config"
	"github.com/kozaktomas/face-vault/internal/matching"
	"github.com/kozaktomas/face-vault/internal/ratelimit"
	"github.com/kozaktomas/face-vault/internal/store"
	"github.com/kozaktomas/face-vault/internal/store/memory"
	"github.com/kozaktomas/face-vault/internal/store/postgres"
	"github.com/kozaktomas/face-vault/internal/vision"
	"github.com/kozaktomas/face-vault/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the Face Vault API server.
The server exposes the photo ingestion pipeline, face matching, on-demand
clustering and the claim endpoints. Without DATABASE_URL it falls back to
an ephemeral in-memory store, useful for local development.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides FACEVAULT_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides FACEVAULT_HOST)")
	serveCmd.Flags().Bool("no-index", false, "Disable the in-memory HNSW index")
}

// openStore connects to PostgreSQL and runs migrations, or falls back to the
// in-memory store when no database is configured.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Database.URL == "" {
		fmt.Println("DATABASE_URL not set, using ephemeral in-memory store")
		return memory.New(), func() {}, nil
	}

	fmt.Println("Connecting to PostgreSQL...")
	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return postgres.NewStore(pool), func() { _ = pool.Close() }, nil
}

// initFaceIndex loads the persisted HNSW index when one exists, otherwise
// builds it from the stored faces.
func initFaceIndex(ctx context.Context, db store.Store, path string) (*store.FaceIndex, error) {
	faces, err := db.ListFaces(ctx, store.FaceFilter{})
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}

	index := store.NewFaceIndex()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := index.Load(path); err != nil {
				fmt.Printf("Warning: failed to load face index from %s: %v\n", path, err)
				fmt.Println("Rebuilding index from stored faces")
			} else {
				ids := make([]int64, 0, len(faces))
				for i := range faces {
					ids = append(ids, faces[i].ID)
				}
				index.RestoreIDs(ids)
				fmt.Printf("Face index loaded from %s (%d faces searchable)\n", path, index.Count())
				return index, nil
			}
		}
	}

	index.Build(faces)
	fmt.Printf("Face index built with %d faces\n", index.Count())
	return index, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Server.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Server.Host = host
	}

	ctx := context.Background()
	db, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var index *store.FaceIndex
	if !mustGetBool(cmd, "no-index") {
		index, err = initFaceIndex(ctx, db, cfg.Database.HNSWIndexPath)
		if err != nil {
			fmt.Printf("Warning: face index unavailable: %v\n", err)
			fmt.Println("Similarity search will scan the store directly (slower)")
			index = nil
		}
	}

	matcher := matching.New(db, cfg.Matching)
	if index != nil {
		matcher.SetIndex(index)
	}

	detector := vision.NewClient(cfg.Vision.DetectorURL)
	embedder := vision.NewClient(cfg.Vision.EmbedderURL)

	server := web.NewServer(cfg, web.Deps{
		Store:    db,
		Matcher:  matcher,
		Claims:   claims.New(db),
		Detector: detector,
		Embedder: embedder,
		Index:    index,
		Limiter:  ratelimit.NewFixed(cfg.RateLimit.Window, cfg.RateLimit.Limit),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		if index != nil && cfg.Database.HNSWIndexPath != "" {
			if err := index.Save(cfg.Database.HNSWIndexPath); err != nil {
				fmt.Printf("Warning: failed to save face index: %v\n", err)
			} else {
				fmt.Printf("Face index saved to %s\n", cfg.Database.HNSWIndexPath)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Face Vault API on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
