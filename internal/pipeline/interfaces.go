package pipeline

import (
	"context"
	"time"

	"github.com/dvloznov/bill-parser/internal/domain"
)

// Rasterizer renders a PDF into page images.
type Rasterizer interface {
	Rasterize(ctx context.Context, document []byte, password string) ([]domain.RasterPage, error)
}

// Extractor turns page images into a raw statement classified against the
// given taxonomy.
type Extractor interface {
	Extract(ctx context.Context, pages []domain.RasterPage, taxonomy domain.Taxonomy, instructions string) (*domain.RawStatement, error)
}

// Observer receives stage progress. Implementations must be safe for
// concurrent use when one Pipeline serves concurrent runs.
type Observer interface {
	// StageFinished is called once per executed stage; err is nil on success.
	StageFinished(stage Stage, elapsed time.Duration, err error)
	// RunFinished is called once per run with the final state.
	RunFinished(state *PipelineState, err error)
}

type nopObserver struct{}

func (nopObserver) StageFinished(Stage, time.Duration, error) {}
func (nopObserver) RunFinished(*PipelineState, error)         {}
