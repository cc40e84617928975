package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/medgraph/internal/app"
	"github.com/OFFIS-RIT/medgraph/internal/config"
	"github.com/OFFIS-RIT/medgraph/internal/storage"
	"github.com/OFFIS-RIT/medgraph/pkg/loader"
	loaderio "github.com/OFFIS-RIT/medgraph/pkg/loader/io"
	s3loader "github.com/OFFIS-RIT/medgraph/pkg/loader/s3"
	"github.com/OFFIS-RIT/medgraph/pkg/logger"

	_ "github.com/lib/pq"
)

var (
	communitiesOnly = flag.Bool("communities-only", false, "Only recompute the entity communities")
	jsonReport      = flag.Bool("json", false, "Print the ingest report as JSON")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <dir|s3://bucket/prefix>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	app.InitLogger(cfg, "ingest")
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialise backends", "err", err)
	}
	defer deps.Close()

	builder, err := deps.NewBuilder()
	if err != nil {
		logger.Fatal("Failed to create graph builder", "err", err)
	}

	if *communitiesOnly {
		built, err := builder.RebuildCommunities(ctx)
		if err != nil {
			logger.Fatal("Failed to rebuild communities", "err", err)
		}
		logger.Info("Communities rebuilt", "built", built)
		return
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	src, err := openSource(ctx, cfg, flag.Arg(0))
	if err != nil {
		logger.Fatal("Failed to open ingestion source", "target", flag.Arg(0), "err", err)
	}

	report, err := builder.Ingest(ctx, src)
	if err != nil {
		logger.Fatal("Ingestion failed", "err", err)
	}

	if *jsonReport {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			logger.Fatal("Failed to write report", "err", err)
		}
		return
	}
	logger.Info("Ingestion finished",
		"documents", report.Documents,
		"failed", len(report.Failed),
		"triplets", report.Triplets,
		"chunks", report.Chunks,
		"communities", report.CommunitiesBuilt,
		"entities", report.Counts.Entities,
		"relationships", report.Counts.Relationships,
		"duration", report.Duration,
	)
	for _, f := range report.Failed {
		logger.Warn("Document failed", "path", f)
	}
}

func openSource(ctx context.Context, cfg config.Config, target string) (loader.Source, error) {
	loc, err := loader.ParseLocation(target)
	if err != nil {
		return nil, err
	}
	if !loc.IsS3() {
		if _, err := os.Stat(loc.Dir); err != nil {
			return nil, err
		}
		return loaderio.NewIOGraphFileLoader(loc.Dir), nil
	}
	client, err := storage.NewS3Client(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	return s3loader.NewS3GraphFileLoaderWithClient(loc.Bucket, loc.Prefix, nil, client), nil
}
