//cmd/seeder/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/config"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/db"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/docstore"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/logging"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/repository"
	"github.com/unclebandit/weekly-plan-dispatcher/internal/seed"
)

func main() {
	cfg, _, err := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	defaultDriver := cfg.RecipientSource
	if defaultDriver != "postgres" {
		defaultDriver = "sqlite"
	}
	driver := flag.String("driver", defaultDriver, "postgres or sqlite")
	flag.Parse()
	seedFiles := flag.Args()
	if len(seedFiles) == 0 {
		seedFiles = []string{cfg.SeedFile}
	}

	dsn := cfg.SQLitePath
	switch *driver {
	case "postgres":
		dsn = cfg.PostgresURL()
	case "sqlite":
	default:
		log.Fatal().Str("driver", *driver).Msg("seeder writes to postgres or sqlite only")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, *driver, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer conn.Close()

	repo := &repository.RecipientRepository{DB: conn, Dialect: docstore.Dialect(*driver)}
	for _, file := range seedFiles {
		fixture, err := seed.Load(file)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load fixture")
		}
		if err := fixture.Apply(ctx, repo); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to seed")
		}
		fmt.Printf("Seeded: %s (%d recipients, week %s)\n", file, len(fixture.Recipients), fixture.Week)
	}

	fmt.Println("Database seeding completed successfully!")
}
