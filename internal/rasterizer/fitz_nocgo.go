//go:build !cgo

package rasterizer

// Rendering needs MuPDF, which is only linked into cgo builds.
func defaultBackend() Backend {
	return nil
}
