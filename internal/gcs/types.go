// Package gcs holds the storage abstraction shared by the API, the job
// handler and the CLI, plus helpers for gs:// URIs.
package gcs

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// StorageService provides an interface for cloud storage operations.
type StorageService interface {
	// UploadFile uploads a local file to a storage bucket under the given object name.
	UploadFile(ctx context.Context, bucketName, objectName, filePath string) error

	// UploadBytes writes data to bucketName/objectName and returns its gs:// URI.
	UploadBytes(ctx context.Context, bucketName, objectName, contentType string, data []byte) (string, error)

	// FetchFromGCS downloads file bytes from the given storage URI.
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
}

// ParseGCSURI splits gs://bucket/object into its parts.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI %q: missing gs:// prefix", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || strings.Trim(parts[1], "/") == "" {
		return "", "", fmt.Errorf("invalid GCS URI %q: want gs://bucket/object", uri)
	}
	return parts[0], parts[1], nil
}

// URI builds gs://bucket/object.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// ResultObjectName is the archive location of a run's statement JSON:
// results/YYYY/MM/DD/<run_id>.json, dated in UTC.
func ResultObjectName(runID string, at time.Time) string {
	return path.Join("results", at.UTC().Format("2006/01/02"), runID+".json")
}

// StatementObjectName is where uploaded statement PDFs are stored:
// statements/YYYY/MM/DD/<name>.
func StatementObjectName(filename string, at time.Time) string {
	return path.Join("statements", at.UTC().Format("2006/01/02"), path.Base(filename))
}
