// Database migration CLI.
//
// Usage:
//
//	go run ./cmd/migrate up       # apply schema and queue migrations
//	go run ./cmd/migrate status   # check connectivity and pending models
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bxt-team/sevencycles/internal/config"
	"github.com/bxt-team/sevencycles/internal/db"
	"github.com/bxt-team/sevencycles/internal/logging"
	"github.com/bxt-team/sevencycles/internal/worker"
	"github.com/bxt-team/sevencycles/pkg/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logging.Init()
	defer logging.Sync()
	log := logging.S()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	database, err := db.NewDatabase(cfg.PostgresDSN())
	if err != nil {
		log.Fatalw("database connection failed", "error", err)
	}
	defer database.Close()

	switch command {
	case "up":
		start := time.Now()
		if err := database.Migrate(); err != nil {
			log.Fatalw("schema migration failed", "error", err)
		}
		log.Infow("schema migrated", "models", len(models.AllModels()), "took", time.Since(start).String())

		// River's job tables live outside gorm's AutoMigrate.
		if cfg.DatabaseURL != "" {
			pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
			if err != nil {
				log.Fatalw("pgx pool failed", "error", err)
			}
			defer pool.Close()
			if err := worker.Migrate(context.Background(), pool); err != nil {
				log.Fatalw("queue migration failed", "error", err)
			}
			log.Info("queue tables migrated")
		}

	case "status":
		if err := database.Health(); err != nil {
			log.Fatalw("database unreachable", "error", err)
		}
		log.Infow("database reachable", "stats", database.GetStats())

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want up or status)\n", command)
		os.Exit(1)
	}
}
