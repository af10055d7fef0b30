// Command reindex rebuilds the comment search index from the primary store
// and prints a YAML report.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"postscript/internal/bootstrap"
	"postscript/internal/config"
	"postscript/internal/indexer"
	"postscript/internal/repository"

	"gopkg.in/yaml.v3"
)

func main() {
	batch := flag.Int("batch", 0, "Comments per page (defaults to REINDEX_BATCH_SIZE)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *batch > 0 {
		cfg.ReindexBatchSize = *batch
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{ServiceName: "postscript-reindex", SkipQueue: true})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}
	defer rt.Close(context.Background())

	reindexer := indexer.NewReindexer(
		repository.NewCommentRepository(rt.Database.DB), rt.Index, cfg.ReindexBatchSize, cfg.ReindexRefreshTimeout)
	report, runErr := reindexer.Run(ctx)

	if report != nil {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			log.Printf("Failed to write report: %v", err)
		}
		_ = enc.Close()
	}
	if runErr != nil {
		rt.Close(context.Background())
		log.Fatalf("Reindex failed: %v", runErr)
	}
}
