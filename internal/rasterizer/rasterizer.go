// Package rasterizer renders PDF pages into base64 JPEG images suitable for
// vision-based extraction.
package rasterizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/dvloznov/bill-parser/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultScale renders pages at twice their native resolution.
	DefaultScale = 2.0

	// DefaultQuality is the JPEG quality used for every page.
	DefaultQuality = 95

	// nativeDPI is the PDF user-space resolution.
	nativeDPI = 72.0
)

// ErrNeedsPassword is returned by a Backend when the document is encrypted
// and cannot be opened without a password.
var ErrNeedsPassword = errors.New("document needs a password")

// Document is an opened, renderable document.
type Document interface {
	// NumPage returns the number of pages.
	NumPage() int

	// ImageDPI renders the 0-based page at the given resolution.
	ImageDPI(page int, dpi float64) (*image.RGBA, error)

	// Close releases the rendering resources.
	Close() error
}

// Backend opens documents for rendering.
type Backend interface {
	Open(data []byte) (Document, error)
}

// Decrypter returns a decrypted copy of an encrypted document.
type Decrypter interface {
	Decrypt(data []byte, password string) ([]byte, error)
}

// Rasterizer renders every page of a document, in page order.
// The zero value is not usable; construct with New.
type Rasterizer struct {
	backend   Backend
	decrypter Decrypter
	scale     float64
	quality   int
	workers   int
}

// Option configures a Rasterizer.
type Option func(*Rasterizer)

// WithScale sets the render scale relative to native resolution.
func WithScale(scale float64) Option {
	return func(r *Rasterizer) {
		if scale > 0 {
			r.scale = scale
		}
	}
}

// WithQuality sets the JPEG quality (1-100).
func WithQuality(quality int) Option {
	return func(r *Rasterizer) {
		if quality >= 1 && quality <= 100 {
			r.quality = quality
		}
	}
}

// WithWorkers sets how many pages may render concurrently.
func WithWorkers(n int) Option {
	return func(r *Rasterizer) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithBackend replaces the rendering backend.
func WithBackend(b Backend) Option {
	return func(r *Rasterizer) { r.backend = b }
}

// WithDecrypter replaces the password decrypter.
func WithDecrypter(d Decrypter) Option {
	return func(r *Rasterizer) { r.decrypter = d }
}

// New creates a Rasterizer using the platform's default backend.
// On builds without a rendering backend every call fails with
// domain.ErrEnvironmentUnsupported.
func New(opts ...Option) *Rasterizer {
	r := &Rasterizer{
		backend:   defaultBackend(),
		decrypter: PDFCPUDecrypter{},
		scale:     DefaultScale,
		quality:   DefaultQuality,
		workers:   1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rasterize renders document into one RasterPage per page, in page order.
// password may be empty for unencrypted documents. No partial results are
// returned: any failing page aborts the call with a *domain.RenderError.
func (r *Rasterizer) Rasterize(ctx context.Context, document []byte, password string) ([]domain.RasterPage, error) {
	if r.backend == nil {
		return nil, domain.ErrEnvironmentUnsupported
	}
	if err := ctx.Err(); err != nil {
		return nil, &domain.CancelledError{Err: err}
	}

	doc, err := r.open(document, password)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	n := doc.NumPage()
	if n <= 0 {
		return nil, &domain.RenderError{Page: 0, Err: errors.New("document has no pages")}
	}

	pages := make([]domain.RasterPage, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	dpi := nativeDPI * r.scale
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := doc.ImageDPI(i, dpi)
			if err != nil {
				return &domain.RenderError{Page: i + 1, Err: err}
			}
			encoded, err := encodeJPEG(img, r.quality)
			if err != nil {
				return &domain.RenderError{Page: i + 1, Err: err}
			}
			pages[i] = domain.RasterPage{Index: i + 1, Image: encoded}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var rerr *domain.RenderError
		if errors.As(err, &rerr) {
			return nil, err
		}
		return nil, &domain.CancelledError{Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &domain.CancelledError{Err: err}
	}

	return pages, nil
}

// open opens the document, decrypting it first when the backend reports
// that a password is needed.
func (r *Rasterizer) open(document []byte, password string) (Document, error) {
	doc, err := r.backend.Open(document)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, ErrNeedsPassword) {
		return nil, &domain.RenderError{Page: 0, Err: err}
	}
	if password == "" {
		return nil, &domain.DecryptionError{Err: errors.New("document is encrypted and no password was given")}
	}
	if r.decrypter == nil {
		return nil, &domain.DecryptionError{Err: errors.New("no decrypter configured")}
	}

	plain, err := r.decrypter.Decrypt(document, password)
	if err != nil {
		return nil, &domain.DecryptionError{Err: err}
	}

	doc, err = r.backend.Open(plain)
	if err != nil {
		if errors.Is(err, ErrNeedsPassword) {
			return nil, &domain.DecryptionError{Err: err}
		}
		return nil, &domain.RenderError{Page: 0, Err: err}
	}
	return doc, nil
}

// encodeJPEG encodes img as a single-frame JPEG and returns it base64
// encoded, with no data-URI prefix.
func encodeJPEG(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
