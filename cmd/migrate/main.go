// Command migrate runs schema operations for the backend.
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"quill/internal/bootstrap"
	"quill/internal/config"
	"quill/internal/database"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return fmt.Errorf("usage: go run ./cmd/migrate <up|auto|version|down> [steps]")
}

func run() error {
	flag.Parse()
	if flag.NArg() < 1 {
		return usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cmd := strings.ToLower(strings.TrimSpace(flag.Arg(0)))
	switch cmd {
	case "up":
		if err := database.MigrateUp(cfg); err != nil {
			return fmt.Errorf("sql migrations failed: %w", err)
		}
		log.Println("sql migrations applied")
	case "auto":
		db, _, err := bootstrap.InitRuntime(cfg, bootstrap.Options{SkipSchema: true})
		if err != nil {
			return err
		}
		cfg.DBSchemaMode = database.SchemaModeAuto
		if err := database.ApplySchema(db, cfg); err != nil {
			return fmt.Errorf("auto schema apply failed: %w", err)
		}
		log.Println("automigrations applied")
	case "version":
		version, dirty, err := database.MigrationVersion(cfg)
		if err != nil {
			return fmt.Errorf("read version: %w", err)
		}
		log.Printf("version=%d dirty=%t", version, dirty)
	case "down":
		steps := 1
		if flag.NArg() >= 2 {
			if steps, err = strconv.Atoi(flag.Arg(1)); err != nil {
				return fmt.Errorf("invalid steps %q: %w", flag.Arg(1), err)
			}
		}
		if err := database.MigrateDown(cfg, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		log.Printf("rolled back %d migration(s)", steps)
	default:
		return usage()
	}
	return nil
}
