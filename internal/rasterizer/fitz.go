//go:build cgo

package rasterizer

import (
	"errors"

	"github.com/gen2brain/go-fitz"
)

// FitzBackend renders documents with MuPDF.
type FitzBackend struct{}

func defaultBackend() Backend {
	return FitzBackend{}
}

// Open opens data as an in-memory document.
func (FitzBackend) Open(data []byte) (Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		if doc != nil {
			_ = doc.Close()
		}
		if errors.Is(err, fitz.ErrNeedsPassword) {
			return nil, ErrNeedsPassword
		}
		return nil, err
	}
	return doc, nil
}
