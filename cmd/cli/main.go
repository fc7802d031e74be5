package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nimasrn/visit-reminders/internal/config"
	"github.com/nimasrn/visit-reminders/internal/facility"
	"github.com/nimasrn/visit-reminders/internal/repository"
	"github.com/nimasrn/visit-reminders/pkg/logger"
	"github.com/nimasrn/visit-reminders/pkg/pg"
)

const usage = `usage:
  cli migrate [up|down|status|redo] [--dir=./migrations] [--env=.env]
  cli seed-facilities --file=facilities.yaml [--env=.env]`

func main() {
	defer logger.Sync()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err := config.Load(flagValue("env", ".env")); err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Get()
	pgConf := pg.Config{
		User:     cfg.PostgresWriteUser,
		Host:     cfg.PostgresWriteHost,
		Port:     cfg.PostgresWritePort,
		Password: cfg.PostgresWritePassword,
		Database: cfg.PostgresWriteDatabase,
	}

	var err error
	switch os.Args[1] {
	case "migrate":
		err = pg.Migrate(pgConf, flagValue("dir", "./migrations"), positional(2))
	case "seed-facilities":
		err = seedFacilities(pgConf, flagValue("file", cfg.FacilitySeedFile))
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func seedFacilities(pgConf pg.Config, path string) error {
	if path == "" {
		return fmt.Errorf("--file is required")
	}
	list, err := facility.LoadFile(path)
	if err != nil {
		return err
	}

	gdb, err := pg.Create(pgConf, false)
	if err != nil {
		return err
	}
	db := pg.New(gdb, gdb)
	repo := repository.NewFacilityRepository(db)

	ctx := context.Background()
	return db.WithinTransaction(ctx, func(ctx context.Context) error {
		for _, f := range list {
			if err := repo.Upsert(ctx, f); err != nil {
				return fmt.Errorf("upsert facility %q: %w", f.Name, err)
			}
		}
		logger.Info("facilities seeded", "count", len(list), "file", path)
		return nil
	})
}

// flagValue returns the value of --name=value, or def when it is absent.
func flagValue(name, def string) string {
	for _, v := range os.Args[1:] {
		if val, ok := strings.CutPrefix(v, "--"+name+"="); ok {
			return val
		}
	}
	if name == "env" {
		if _, err := os.Stat(def); err != nil {
			return ""
		}
	}
	return def
}

func positional(i int) string {
	if i < len(os.Args) && !strings.HasPrefix(os.Args[i], "--") {
		return os.Args[i]
	}
	return ""
}
