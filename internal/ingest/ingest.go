// Package ingest processes statements stored in GCS: it fetches the PDF,
// runs the pipeline, archives the statement JSON and records the run in the
// ledger.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/bill-parser/internal/domain"
	"github.com/dvloznov/bill-parser/internal/gcs"
	infraBQ "github.com/dvloznov/bill-parser/internal/infra/bigquery"
	"github.com/dvloznov/bill-parser/internal/jobs"
	"github.com/dvloznov/bill-parser/internal/logger"
	"github.com/dvloznov/bill-parser/internal/pipeline"
	"github.com/google/uuid"
)

// Runner runs the bill pipeline on a PDF document.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*domain.BillStatement, error)
}

// Fetcher downloads source documents.
type Fetcher interface {
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
}

// Archiver stores result objects and returns their URI.
type Archiver interface {
	UploadBytes(ctx context.Context, bucket, object, contentType string, data []byte) (string, error)
}

// Request identifies a statement to ingest.
type Request struct {
	GCSURI   string
	Password string
	Settings domain.Settings
}

// Result is a successful ingestion.
type Result struct {
	RunID     string
	ResultURI string
	Statement *domain.BillStatement
}

// Service ingests statements from GCS.
type Service struct {
	fetcher  Fetcher
	runner   Runner
	archiver Archiver
	bucket   string
	ledger   infraBQ.RunLedger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithArchive stores each statement as JSON in bucket.
func WithArchive(a Archiver, bucket string) Option {
	return func(s *Service) {
		if a != nil && bucket != "" {
			s.archiver = a
			s.bucket = bucket
		}
	}
}

// WithLedger records every run, successful or not.
func WithLedger(l infraBQ.RunLedger) Option {
	return func(s *Service) { s.ledger = l }
}

// NewService creates an ingestion service.
func NewService(f Fetcher, r Runner, opts ...Option) *Service {
	s := &Service{fetcher: f, runner: r, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest runs one statement. Pipeline errors are returned unchanged so
// callers can classify them with domain.ErrorKind.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	runID := uuid.NewString()
	started := s.now()
	// The pipeline adds run_id to its own log lines.
	log := logger.FromContext(ctx).With().Str("run_id", runID).Logger()

	if _, _, err := gcs.ParseGCSURI(req.GCSURI); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSettings, err)
	}

	document, err := s.fetcher.FetchFromGCS(ctx, req.GCSURI)
	if err != nil {
		err = fmt.Errorf("Ingest: %w", err)
		s.record(ctx, infraBQ.RunRecord{RunID: runID, SourceURI: req.GCSURI, Started: started, Err: err})
		return nil, err
	}
	log.Info().
		Str("gcs_uri", req.GCSURI).
		Str("file", gcs.ExtractFilenameFromGCSURI(req.GCSURI)).
		Int("bytes", len(document)).
		Msg("Fetched statement")

	stmt, err := s.runner.Run(ctx, pipeline.Request{
		RunID:    runID,
		Document: document,
		Password: req.Password,
		Settings: req.Settings,
	})
	if err != nil {
		s.record(ctx, infraBQ.RunRecord{RunID: runID, SourceURI: req.GCSURI, Started: started, Err: err})
		return nil, err
	}

	res := &Result{RunID: runID, Statement: stmt}
	if s.archiver != nil {
		uri, err := s.archive(ctx, runID, started, stmt)
		if err != nil {
			s.record(ctx, infraBQ.RunRecord{RunID: runID, SourceURI: req.GCSURI, Started: started, Err: err})
			return nil, err
		}
		res.ResultURI = uri
		log.Info().Str("result_uri", uri).Msg("Archived statement")
	}

	s.record(ctx, infraBQ.RunRecord{
		RunID:     runID,
		SourceURI: req.GCSURI,
		ResultURI: res.ResultURI,
		Started:   started,
		Statement: stmt,
	})
	return res, nil
}

// HandleJob is a jobs.JobHandler for ParseStatementJob.
func (s *Service) HandleJob(ctx context.Context, job jobs.Job) error {
	parseJob, ok := job.(*jobs.ParseStatementJob)
	if !ok {
		return fmt.Errorf("unexpected job type: %T", job)
	}

	log := logger.FromContext(ctx)
	log.Info().Str("gcs_uri", parseJob.GCSURI).Msg("Processing parse job")

	res, err := s.Ingest(ctx, Request{
		GCSURI:   parseJob.GCSURI,
		Password: parseJob.Password,
		Settings: parseJob.Settings,
	})
	if err != nil {
		return err
	}

	parseJob.RunID = res.RunID
	parseJob.ResultURI = res.ResultURI
	log.Info().Str("run_id", res.RunID).Int("item_count", len(res.Statement.Items)).Msg("Parse job completed")
	return nil
}

func (s *Service) archive(ctx context.Context, runID string, at time.Time, stmt *domain.BillStatement) (string, error) {
	data, err := json.MarshalIndent(stmt, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: encoding statement: %w", err)
	}
	uri, err := s.archiver.UploadBytes(ctx, s.bucket, gcs.ResultObjectName(runID, at), "application/json", data)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	return uri, nil
}

// record writes the ledger rows. Ledger failures are logged, not returned.
func (s *Service) record(ctx context.Context, rec infraBQ.RunRecord) {
	if s.ledger == nil {
		return
	}
	rec.Finished = s.now()
	run, categories := infraBQ.NewRunRows(rec)
	if err := s.ledger.InsertRun(ctx, run, categories); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("run_id", rec.RunID).Msg("Failed to record run")
	}
}
