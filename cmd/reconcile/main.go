// Command reconcile repairs rows left behind by interrupted post deletions
// and prints what it found.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"quill/internal/bootstrap"
	"quill/internal/config"
	"quill/internal/repository"
	"quill/internal/service"
)

func main() {
	timeout := flag.Duration("timeout", 10*time.Minute, "Give up after this long")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, _, err := bootstrap.InitRuntime(cfg, bootstrap.Options{SkipSchema: true})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	purges := service.NewPurgeService(repository.NewPurgeRepository(db), cfg.PurgeInterval)
	report, err := purges.Reconcile(ctx)
	if err != nil {
		log.Fatalf("Reconcile failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Fatalf("Failed to print report: %v", err)
	}
}
