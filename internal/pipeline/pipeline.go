// Package pipeline runs the bill statement stages in order: rasterize the
// document, extract a raw statement from the page images, then aggregate it
// by category.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/bill-parser/internal/domain"
	"github.com/dvloznov/bill-parser/internal/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Request is a single statement to process.
type Request struct {
	// RunID correlates logs and ledger rows. A new one is generated when empty.
	RunID    string
	Document []byte
	Password string
	Settings domain.Settings
}

// Pipeline executes a sequence of steps in order. It holds no per-run
// state and may be shared between goroutines.
type Pipeline struct {
	rasterizer        Rasterizer
	extractor         Extractor
	observer          Observer
	log               *zerolog.Logger
	extractionTimeout time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver reports stage progress to o.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithLogger sets the logger used when the context carries none.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = &log }
}

// WithExtractionTimeout bounds the extraction stage.
func WithExtractionTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.extractionTimeout = d }
}

// New creates a pipeline over the given stage implementations.
func New(r Rasterizer, e Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		rasterizer: r,
		extractor:  e,
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes a PDF statement end to end. The first failing stage's error
// is returned unchanged.
func (p *Pipeline) Run(ctx context.Context, req Request) (*domain.BillStatement, error) {
	state := &PipelineState{
		RunID:    req.RunID,
		Document: req.Document,
		Password: req.Password,
		Settings: req.Settings,
	}
	steps := []PipelineStep{
		&RasterizeStep{rasterizer: p.rasterizer},
		&ExtractStep{extractor: p.extractor, timeout: p.extractionTimeout},
		&AggregateStep{},
	}
	if err := p.Execute(ctx, state, steps...); err != nil {
		return nil, err
	}
	return state.Statement, nil
}

// RunFromPages processes pages that were rasterized elsewhere.
func (p *Pipeline) RunFromPages(ctx context.Context, pages []domain.RasterPage, settings domain.Settings) (*domain.BillStatement, error) {
	state := &PipelineState{
		Settings: settings,
		Pages:    pages,
	}
	steps := []PipelineStep{
		&ExtractStep{extractor: p.extractor, timeout: p.extractionTimeout},
		&AggregateStep{},
	}
	if err := p.Execute(ctx, state, steps...); err != nil {
		return nil, err
	}
	return state.Statement, nil
}

// Execute runs steps sequentially against state. Settings are validated
// before the first step; cancellation is checked between steps.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState, steps ...PipelineStep) (err error) {
	if state.RunID == "" {
		state.RunID = uuid.NewString()
	}
	log := p.logger(ctx).With().Str("run_id", state.RunID).Logger()

	defer func() {
		if err != nil {
			state.Stage = StageFailed
			log.Error().
				Err(err).
				Str("stage", string(state.FailedStage)).
				Str("error_kind", domain.ErrorKind(err)).
				Msg("Pipeline run failed")
		} else {
			state.Stage = StageDone
			event := log.Info().Int("page_count", len(state.Pages))
			if state.Statement != nil {
				event = event.Int("item_count", len(state.Statement.Items))
			}
			event.Msg("Pipeline run completed")
		}
		p.observer.RunFinished(state, err)
	}()

	if err := state.Settings.Validate(); err != nil {
		return err
	}
	if len(steps) > 0 && steps[0].Stage() == StageExtracting && len(state.Pages) == 0 {
		return fmt.Errorf("%w: no page images supplied", domain.ErrInvalidSettings)
	}

	for _, step := range steps {
		if ctxErr := ctx.Err(); ctxErr != nil {
			state.FailedStage = step.Stage()
			return &domain.CancelledError{Err: ctxErr}
		}

		state.Stage = step.Stage()
		log.Debug().Str("stage", string(state.Stage)).Msg("Stage started")

		start := time.Now()
		stepErr := step.Execute(ctx, state)
		elapsed := time.Since(start)
		p.observer.StageFinished(state.Stage, elapsed, stepErr)

		if stepErr != nil {
			state.FailedStage = state.Stage
			return stepErr
		}
		log.Debug().
			Str("stage", string(state.Stage)).
			Dur("duration", elapsed).
			Msg("Stage completed")
	}
	return nil
}

func (p *Pipeline) logger(ctx context.Context) zerolog.Logger {
	if _, ok := ctx.Value(logger.LoggerKey).(zerolog.Logger); ok || p.log == nil {
		return logger.FromContext(ctx)
	}
	return *p.log
}
