// Package main applies the RadMesh database schema.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/radmesh/radmesh/internal/db"
)

func main() {
	var (
		dbURL   = flag.String("db", "", "database URL (falls back to DATABASE_URL)")
		showVer = flag.Bool("version", false, "print the current schema version and exit")
		list    = flag.Bool("list", false, "print the embedded migrations and exit")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	if *list {
		migrations, err := db.GetMigrations()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load embedded migrations")
		}
		for _, m := range migrations {
			fmt.Printf("%03d  %s\n", m.Version, m.Name)
		}
		return
	}

	url := *dbURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		logger.Fatal().Msg("no database URL: pass -db or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// A migration run needs one connection, not a serving pool.
	cfg := db.DefaultConfig(url)
	cfg.MaxConns = 2
	cfg.MinConns = 1

	database, err := db.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if *showVer {
		version, err := database.CurrentVersion(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to read schema version")
		}
		fmt.Printf("schema version: %d\n", version)
		return
	}

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	version, err := database.CurrentVersion(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("migrated, but could not read schema version")
		return
	}
	logger.Info().Int("version", version).Msg("schema up to date")
}
