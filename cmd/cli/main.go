package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/bill-parser/internal/app"
	"github.com/dvloznov/bill-parser/internal/config"
	"github.com/dvloznov/bill-parser/internal/domain"
	"github.com/dvloznov/bill-parser/internal/gcs"
	"github.com/dvloznov/bill-parser/internal/gcsuploader"
	infraBQ "github.com/dvloznov/bill-parser/internal/infra/bigquery"
	"github.com/dvloznov/bill-parser/internal/ingest"
	"github.com/dvloznov/bill-parser/internal/logger"
	"github.com/dvloznov/bill-parser/internal/notionsync"
	"github.com/dvloznov/bill-parser/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.LogLevel)
	decimal.MarshalJSONWithoutQuotes = true

	switch os.Args[1] {
	case "parse":
		runParse(cfg, log)
	case "ingest":
		runIngest(cfg, log)
	case "upload":
		runUpload(cfg, log)
	case "runs":
		runRuns(cfg, log)
	case "ensure-tables":
		runEnsureTables(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Bill Parser CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  parse          Parse a local statement PDF and print the statement JSON")
	fmt.Println("  ingest         Parse a statement PDF stored in GCS, archive and record the run")
	fmt.Println("  upload         Upload a statement PDF to GCS")
	fmt.Println("  runs           List recent runs from the ledger")
	fmt.Println("  ensure-tables  Create the BigQuery ledger tables")
	fmt.Println("  help           Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// exitCode maps failure kinds to distinct process exit codes.
func exitCode(err error) int {
	switch domain.ErrorKind(err) {
	case "invalid_settings":
		return 2
	case "decryption_failed":
		return 3
	case "unclassified_transaction", "empty_statement":
		return 4
	case "extraction_failed", "malformed_extraction":
		return 5
	case "cancelled":
		return 6
	default:
		return 1
	}
}

func fail(log zerolog.Logger, err error, msg string) {
	log.Error().Err(err).Str("error_kind", domain.ErrorKind(err)).Msg(msg)
	os.Exit(exitCode(err))
}

func loadSettings(cfg *config.Config, path string) (domain.Settings, error) {
	if path != "" {
		return config.LoadSettings(path)
	}
	return app.DefaultSettings(cfg)
}

func runParse(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	file := fs.String("file", "", "Path to local statement PDF")
	settingsPath := fs.String("settings", cfg.SettingsPath, "Settings file (YAML or JSON)")
	password := fs.String("password", os.Getenv("BILL_PDF_PASSWORD"), "PDF password (defaults to $BILL_PDF_PASSWORD)")
	out := fs.String("out", "", "Optional gs:// URI to upload the statement JSON to")
	notion := fs.Bool("notion", false, "Export the statement items to Notion")
	timeout := fs.Duration("timeout", 5*time.Minute, "Overall timeout")
	fs.Parse(os.Args[2:])

	if *file == "" {
		log.Fatal().Msg("Usage: cli parse -file PATH [-settings PATH] [-password PW] [-out gs://...] [-notion]")
	}

	settings, err := loadSettings(cfg, *settingsPath)
	if err != nil {
		fail(log, err, "Failed to load settings")
	}

	document, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Failed to read statement")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	pipe, err := app.NewPipeline(ctx, cfg, log, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}

	stmt, err := pipe.Run(ctx, pipeline.Request{
		Document: document,
		Password: *password,
		Settings: settings,
	})
	if err != nil {
		fail(log, err, "Parse failed")
	}

	data, err := json.MarshalIndent(stmt, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode statement")
	}
	fmt.Println(string(data))

	if *out != "" {
		bucket, object, err := gcs.ParseGCSURI(*out)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -out")
		}
		storage, err := gcsuploader.NewGCSStorageService(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create storage client")
		}
		defer storage.Close()
		uri, err := storage.UploadBytes(ctx, bucket, object, "application/json", data)
		if err != nil {
			log.Fatal().Err(err).Msg("Upload failed")
		}
		log.Info().Str("uri", uri).Msg("Statement uploaded")
	}

	if *notion {
		exportToNotion(ctx, cfg, log, stmt)
	}
}

func exportToNotion(ctx context.Context, cfg *config.Config, log zerolog.Logger, stmt *domain.BillStatement) {
	if cfg.Notion.Token == "" || cfg.Notion.DatabaseID == "" {
		log.Fatal().Msg("NOTION_API_KEY and NOTION_DATABASE_ID are required for -notion")
	}

	client := notionsync.NewNotionClient(cfg.Notion.Token)
	res, err := notionsync.ExportStatement(ctx, client, cfg.Notion.DatabaseID, stmt, notionsync.ExportOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("Notion export failed")
	}
	log.Info().
		Int("created", res.Created).
		Int("deleted", res.Deleted).
		Int("failed", res.Failed).
		Msg("Notion export completed")
}

func runIngest(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	gcsURI := fs.String("gcs-uri", "", "GCS URI of the statement PDF")
	settingsPath := fs.String("settings", cfg.SettingsPath, "Settings file (YAML or JSON)")
	password := fs.String("password", os.Getenv("BILL_PDF_PASSWORD"), "PDF password (defaults to $BILL_PDF_PASSWORD)")
	fs.Parse(os.Args[2:])

	if *gcsURI == "" {
		log.Fatal().Msg("Error: -gcs-uri is required")
	}

	settings, err := loadSettings(cfg, *settingsPath)
	if err != nil {
		fail(log, err, "Failed to load settings")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	pipe, err := app.NewPipeline(ctx, cfg, log, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	backends, err := app.OpenBackends(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to cloud backends")
	}
	defer backends.Close()

	log.Info().Str("gcs_uri", *gcsURI).Msg("Starting ingestion")

	res, err := backends.IngestService(cfg, pipe).Ingest(ctx, ingest.Request{
		GCSURI:   *gcsURI,
		Password: *password,
		Settings: settings,
	})
	if err != nil {
		fail(log, err, "Ingestion failed")
	}

	fmt.Printf("Run %s: %d items, total %s\n", res.RunID, len(res.Statement.Items), res.Statement.TotalAmount.StringFixed(2))
	if res.ResultURI != "" {
		fmt.Printf("Statement archived at %s\n", res.ResultURI)
	}
}

func runUpload(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	bucketName := fs.String("bucket", cfg.Storage.Bucket, "GCS bucket name")
	objectName := fs.String("object", "", "GCS object name (defaults to statements/YYYY/MM/DD/<filename>)")
	filePath := fs.String("file", "", "Path to local PDF file")
	fs.Parse(os.Args[2:])

	if *bucketName == "" || *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -bucket NAME -file PATH")
	}

	if *objectName == "" {
		*objectName = gcs.StatementObjectName(filepath.Base(*filePath), time.Now())
	}

	ctx := logger.WithContext(context.Background(), log)

	storage, err := gcsuploader.NewGCSStorageService(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage client")
	}
	defer storage.Close()

	log.Info().
		Str("bucket", *bucketName).
		Str("object", *objectName).
		Str("file", *filePath).
		Msg("Uploading file to GCS")

	if err := storage.UploadFile(ctx, *bucketName, *objectName, *filePath); err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Printf("Uploaded %s to %s\n", *filePath, gcs.URI(*bucketName, *objectName))
}

func openLedger(ctx context.Context, cfg *config.Config, log zerolog.Logger) *infraBQ.BigQueryRunRepository {
	if cfg.Storage.ProjectID == "" {
		log.Fatal().Msg("BIGQUERY_PROJECT is required")
	}
	repo, err := infraBQ.NewBigQueryRunRepository(ctx, cfg.Storage.ProjectID, cfg.Storage.Dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create run repository")
	}
	return repo
}

func runRuns(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Number of runs to show")
	fs.Parse(os.Args[2:])

	ctx := logger.WithContext(context.Background(), log)
	repo := openLedger(ctx, cfg, log)
	defer repo.Close()

	runs, err := repo.ListRecentRuns(ctx, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list runs")
	}

	fmt.Printf("\n=== Recent runs (%d) ===\n", len(runs))
	for _, run := range runs {
		fmt.Printf("\n%s  %s  %s\n", run.StartedTS.Format(time.RFC3339), run.RunID, run.Status)
		fmt.Printf("   Source:   %s\n", run.SourceURI)
		if run.ErrorKind.Valid {
			fmt.Printf("   Error:    %s: %s\n", run.ErrorKind.StringVal, run.ErrorMessage.StringVal)
		}
		if run.BankName.Valid {
			fmt.Printf("   Bank:     %s %s\n", run.BankName.StringVal, run.CardType.StringVal)
		}
		if run.TotalAmount != nil {
			fmt.Printf("   Total:    %s (%d items)\n", run.TotalAmount.FloatString(2), run.ItemCount.Int64)
		}
		if run.ResultURI.Valid {
			fmt.Printf("   Result:   %s\n", run.ResultURI.StringVal)
		}
	}
	fmt.Println()
}

func runEnsureTables(cfg *config.Config, log zerolog.Logger) {
	ctx := logger.WithContext(context.Background(), log)
	repo := openLedger(ctx, cfg, log)
	defer repo.Close()

	if err := repo.EnsureTables(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to create tables")
	}
	fmt.Printf("Ledger tables ready in %s.%s\n", cfg.Storage.ProjectID, cfg.Storage.Dataset)
}
