// Package app wires the pipeline and its optional cloud backends from a
// Config. It is shared by cmd/api and cmd/cli.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/bill-parser/internal/config"
	"github.com/dvloznov/bill-parser/internal/domain"
	"github.com/dvloznov/bill-parser/internal/extractor"
	"github.com/dvloznov/bill-parser/internal/gcsuploader"
	infraBQ "github.com/dvloznov/bill-parser/internal/infra/bigquery"
	"github.com/dvloznov/bill-parser/internal/ingest"
	"github.com/dvloznov/bill-parser/internal/pipeline"
	"github.com/dvloznov/bill-parser/internal/rasterizer"
	"github.com/rs/zerolog"
)

// NewPipeline builds the rasterizer, the Gemini extractor and the pipeline.
func NewPipeline(ctx context.Context, cfg *config.Config, log zerolog.Logger, observer pipeline.Observer) (*pipeline.Pipeline, error) {
	ext, err := extractor.NewGeminiExtractor(ctx, cfg.Gemini.APIKey,
		extractor.WithModel(cfg.Gemini.Model),
		extractor.WithTimeout(cfg.Gemini.Timeout),
		extractor.WithMaxOutputTokens(int32(cfg.Gemini.MaxOutputTokens)),
	)
	if err != nil {
		return nil, err
	}

	r := newRasterizer(cfg.Raster)

	return pipeline.New(r, ext,
		pipeline.WithLogger(log),
		pipeline.WithObserver(observer),
		pipeline.WithExtractionTimeout(cfg.Gemini.Timeout),
	), nil
}

// DefaultSettings loads the settings file named by the configuration. An
// unset path yields empty settings, which callers must then supply per
// request.
func DefaultSettings(cfg *config.Config) (domain.Settings, error) {
	if cfg.SettingsPath == "" {
		return domain.Settings{}, nil
	}
	return config.LoadSettings(cfg.SettingsPath)
}

// Backends holds the optional cloud services. Nil fields are not configured.
type Backends struct {
	Storage *gcsuploader.GCSStorageService
	Ledger  *infraBQ.BigQueryRunRepository
}

// OpenBackends connects to GCS always and to BigQuery when a project is set.
func OpenBackends(ctx context.Context, cfg *config.Config) (*Backends, error) {
	b := &Backends{}

	storage, err := gcsuploader.NewGCSStorageService(ctx)
	if err != nil {
		return nil, err
	}
	b.Storage = storage

	if cfg.Storage.ProjectID != "" {
		ledger, err := infraBQ.NewBigQueryRunRepository(ctx, cfg.Storage.ProjectID, cfg.Storage.Dataset)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("OpenBackends: %w", err)
		}
		b.Ledger = ledger
	}
	return b, nil
}

// IngestService builds the GCS ingestion service over the backends.
func (b *Backends) IngestService(cfg *config.Config, runner ingest.Runner) *ingest.Service {
	opts := []ingest.Option{ingest.WithArchive(b.Storage, cfg.Storage.Bucket)}
	if b.Ledger != nil {
		opts = append(opts, ingest.WithLedger(b.Ledger))
	}
	return ingest.NewService(b.Storage, runner, opts...)
}

// Close releases every open client.
func (b *Backends) Close() {
	if b.Storage != nil {
		_ = b.Storage.Close()
	}
	if b.Ledger != nil {
		_ = b.Ledger.Close()
	}
}

func newRasterizer(cfg config.RasterConfig) *rasterizer.Rasterizer {
	var opts []rasterizer.Option
	if cfg.Scale > 0 {
		opts = append(opts, rasterizer.WithScale(cfg.Scale))
	}
	if cfg.Quality > 0 {
		opts = append(opts, rasterizer.WithQuality(cfg.Quality))
	}
	if cfg.Workers > 0 {
		opts = append(opts, rasterizer.WithWorkers(cfg.Workers))
	}
	return rasterizer.New(opts...)
}
