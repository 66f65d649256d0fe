package pipeline

import (
	"context"
	"time"

	"github.com/dvloznov/bill-parser/internal/aggregation"
	"github.com/dvloznov/bill-parser/internal/domain"
)

// Stage is the current position of a run in the pipeline.
type Stage string

const (
	StageRasterizing Stage = "rasterizing"
	StageExtracting  Stage = "extracting"
	StageAggregating Stage = "aggregating"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// PipelineStep represents a single stage of a run.
type PipelineStep interface {
	Stage() Stage
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	RunID    string
	Stage    Stage
	Document []byte
	Password string
	Settings domain.Settings

	Pages     []domain.RasterPage
	Raw       *domain.RawStatement
	Statement *domain.BillStatement

	// FailedStage is the stage that produced the run's error.
	FailedStage Stage
}

// RasterizeStep renders the source document into page images.
type RasterizeStep struct {
	rasterizer Rasterizer
}

func (s *RasterizeStep) Stage() Stage { return StageRasterizing }

func (s *RasterizeStep) Execute(ctx context.Context, state *PipelineState) error {
	pages, err := s.rasterizer.Rasterize(ctx, state.Document, state.Password)
	if err != nil {
		return err
	}
	state.Pages = pages
	return nil
}

// ExtractStep sends the page images to the extractor.
type ExtractStep struct {
	extractor Extractor
	timeout   time.Duration
}

func (s *ExtractStep) Stage() Stage { return StageExtracting }

func (s *ExtractStep) Execute(ctx context.Context, state *PipelineState) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	raw, err := s.extractor.Extract(ctx, state.Pages, state.Settings.Categories, state.Settings.SystemPrompt)
	if err != nil {
		return err
	}
	state.Raw = raw
	return nil
}

// AggregateStep groups the extracted transactions into the final statement.
type AggregateStep struct{}

func (s *AggregateStep) Stage() Stage { return StageAggregating }

func (s *AggregateStep) Execute(_ context.Context, state *PipelineState) error {
	stmt, err := aggregation.BuildStatement(state.Raw, state.Settings.Categories)
	if err != nil {
		return err
	}
	state.Statement = stmt
	return nil
}
