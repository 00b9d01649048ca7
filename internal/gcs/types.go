// Package gcs declares the object storage operations the services depend on.
package gcs

import (
	"context"
)

// Uploader writes objects. Attachments and uploaded statements are stored through it.
type Uploader interface {
	// Upload writes data to the bucket under objectName and returns the gs:// URI of the object.
	Upload(ctx context.Context, bucketName, objectName string, data []byte, contentType string) (string, error)
}

// Fetcher reads statement files referenced by gs:// URI.
type Fetcher interface {
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
	// ExtractFilenameFromGCSURI returns the last path element of the object name.
	ExtractFilenameFromGCSURI(uri string) string
}

// StorageService is a bucket client that can both upload and fetch.
type StorageService interface {
	Uploader
	Fetcher
}
