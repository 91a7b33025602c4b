package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Chhavidabla/BookPublisherAI/internal/agents"
	"github.com/Chhavidabla/BookPublisherAI/internal/archive"
	"github.com/Chhavidabla/BookPublisherAI/internal/blob"
	"github.com/Chhavidabla/BookPublisherAI/internal/config"
	"github.com/Chhavidabla/BookPublisherAI/internal/export"
	"github.com/Chhavidabla/BookPublisherAI/internal/hitl"
	"github.com/Chhavidabla/BookPublisherAI/internal/pipeline"
	"github.com/Chhavidabla/BookPublisherAI/internal/review"
	"github.com/Chhavidabla/BookPublisherAI/internal/scrape"
	"github.com/Chhavidabla/BookPublisherAI/internal/search"
	"github.com/Chhavidabla/BookPublisherAI/internal/store"
)

func main() {
	name := flag.String("name", "", "project name")
	urls := flag.String("urls", "", "comma-separated chapter URLs to process")
	reviewer := flag.String("reviewer", "console", "reviewer id recorded on human feedback")
	flag.Parse()

	if *name == "" || *urls == "" {
		fmt.Fprintln(os.Stderr, "usage: bookpub -name <project> -urls <url,url,...>")
		os.Exit(2)
	}
	sourceURLs := splitURLs(*urls)
	if len(sourceURLs) == 0 {
		log.Fatalf("no usable urls in %q", *urls)
	}

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	contentStore := store.New(db).WithIndexer(searchService)
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobs, err := blob.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		log.Printf("Archiving content payloads to minio bucket %s", cfg.MinioBucket)
		contentStore = contentStore.WithBlobArchive(blobs)
	}

	ledger := review.NewLedger(db).WithPollInterval(cfg.FeedbackPollEvery)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		notifier, err := review.NewNotifier(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer notifier.Close()
		log.Printf("Using Redis wakeups for review feedback")
		ledger = ledger.WithNotifier(notifier)
	}

	if cfg.GeminiAPIKey == "" {
		log.Fatalf("GEMINI_API_KEY is required")
	}
	client := agents.NewClient(cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.GeminiModel)
	writer := agents.NewWriter(client, cfg.WriterStyle, cfg.WriterCreativity)

	scraper := scrape.New(cfg.ScrapeTimeout).WithScreenshots(cfg.OutputDir)

	if err := os.MkdirAll(cfg.PublicationRepoDir, 0o755); err != nil {
		log.Fatalf("failed to create publication dir: %v", err)
	}

	coordinator := pipeline.New(contentStore, ledger, scraper, writer,
		agents.NewReviewer(client), agents.NewEditor(client),
		pipeline.Options{
			MaxRevisions:    cfg.MaxRevisions,
			MaxRetries:      cfg.MaxRetries,
			ReviewTimeout:   cfg.ReviewTimeout,
			ReviewThreshold: cfg.ReviewThreshold,
		}).
		WithHumanSession(hitl.New(os.Stdin, os.Stdout, *reviewer)).
		WithPublisher(&pdfPublisher{
			archive:   archive.New(cfg.PublicationRepoDir),
			outputDir: cfg.OutputDir,
		})

	log.Printf("Starting pipeline %q with %d chapters", *name, len(sourceURLs))
	summary, err := coordinator.Run(ctx, *name, sourceURLs)
	if err != nil {
		log.Fatalf("pipeline run failed: %v", err)
	}

	printSummary(ctx, summary, contentStore, ledger)
	if summary.Completed == 0 {
		os.Exit(1)
	}
}

// pdfPublisher commits the final text into the git archive and renders a
// PDF copy when an output directory is configured. PDF failures are not
// fatal: the git commit is the publication of record.
type pdfPublisher struct {
	archive   *archive.Service
	outputDir string
}

func (p *pdfPublisher) Publish(ctx context.Context, projectID, entityID, title, content string) error {
	if err := p.archive.Publish(ctx, projectID, entityID, title, content); err != nil {
		return err
	}
	if p.outputDir == "" {
		return nil
	}

	result, err := export.ChapterPDF(title, content)
	if err != nil {
		log.Printf("export: pdf for %s: %v", entityID, err)
		return nil
	}
	dir := filepath.Join(p.outputDir, "pdf")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("export: create pdf dir: %v", err)
		return nil
	}
	if err := os.WriteFile(filepath.Join(dir, result.Filename), result.Data, 0o644); err != nil {
		log.Printf("export: write pdf for %s: %v", entityID, err)
	}
	return nil
}

func printSummary(ctx context.Context, summary pipeline.RunSummary, contentStore *store.Store, ledger *review.Ledger) {
	fmt.Println()
	fmt.Printf("Pipeline run %s: %d completed, %d failed\n", summary.ProjectID, summary.Completed, summary.Failed)
	for _, item := range summary.Items {
		line := fmt.Sprintf("  %-6s %-10s stage=%-14s v%d", item.EntityID, item.Status, item.Stage, item.LastVersion)
		if item.Err != nil {
			line += "  error: " + item.Err.Error()
		}
		fmt.Println(line)
	}

	if stats, err := contentStore.Stats(ctx); err == nil {
		fmt.Printf("Store: %d snapshots across %d entities, %d words\n",
			stats.TotalSnapshots, stats.UniqueEntities, stats.TotalWords)
	}
	if reviews, err := ledger.Summary(ctx); err == nil {
		fmt.Printf("Reviews: %d completed (%.0f%% approved, avg rating %.1f), %d pending\n",
			reviews.CompletedCount, reviews.ApprovalRate*100, reviews.AverageRating, reviews.PendingCount)
	}
}

func splitURLs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
