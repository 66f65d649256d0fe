// Package gcsuploader implements gcs.StorageService on Google Cloud Storage.
// It assumes Application Default Credentials are configured.
package gcsuploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/bill-parser/internal/gcs"
)

const uploadTimeout = 2 * time.Minute

// GCSStorageService is the concrete implementation of gcs.StorageService.
type GCSStorageService struct {
	client *storage.Client
}

var _ gcs.StorageService = (*GCSStorageService)(nil)

// NewGCSStorageService creates a storage client. Call Close when done.
func NewGCSStorageService(ctx context.Context) (*GCSStorageService, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStorageService{client: client}, nil
}

// Close releases the underlying client.
func (s *GCSStorageService) Close() error {
	return s.client.Close()
}

// UploadFile uploads a local file to a GCS bucket under the given object name.
func (s *GCSStorageService) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()

	return s.write(ctx, bucketName, objectName, "application/pdf", f)
}

// UploadBytes writes data to bucketName/objectName and returns its URI.
func (s *GCSStorageService) UploadBytes(ctx context.Context, bucketName, objectName, contentType string, data []byte) (string, error) {
	if err := s.write(ctx, bucketName, objectName, contentType, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return gcs.URI(bucketName, objectName), nil
}

func (s *GCSStorageService) write(ctx context.Context, bucketName, objectName, contentType string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy to GCS writer %s/%s: %w", bucketName, objectName, err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload %s/%s: %w", bucketName, objectName, err)
	}
	return nil
}

// FetchFromGCS downloads the file bytes from the given GCS URI.
func (s *GCSStorageService) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := gcs.ParseGCSURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: %w", err)
	}

	rc, err := s.client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: reading bytes: %w", err)
	}

	return data, nil
}
