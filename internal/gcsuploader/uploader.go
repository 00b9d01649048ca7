// Package gcsuploader reads and writes statement files and attachment blobs in Google Cloud Storage.
package gcsuploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"

	"github.com/dvloznov/statement-booking/internal/gcs"
)

const uploadTimeout = 2 * time.Minute

// Client shares one storage client between calls. The underlying client is created on first
// use with Application Default Credentials, so building a Client never touches the network.
type Client struct {
	once   sync.Once
	client *storage.Client
	err    error
}

// NewClient returns a lazily connected Client.
func NewClient() *Client {
	return &Client{}
}

// NewClientWith wraps an existing storage client.
func NewClientWith(c *storage.Client) *Client {
	cl := &Client{client: c}
	cl.once.Do(func() {})
	return cl
}

func (c *Client) conn(ctx context.Context) (*storage.Client, error) {
	c.once.Do(func() {
		c.client, c.err = storage.NewClient(ctx)
		if c.err != nil {
			c.err = fmt.Errorf("create storage client: %w", c.err)
		}
	})
	return c.client, c.err
}

// Upload writes data to bucketName/objectName and returns its gs:// URI.
func (c *Client) Upload(ctx context.Context, bucketName, objectName string, data []byte, contentType string) (string, error) {
	client, err := c.conn(ctx)
	if err != nil {
		return "", fmt.Errorf("Upload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Upload: copy to GCS writer: %w", err)
	}
	// Close finalizes the object
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Upload: finalize %s/%s: %w", bucketName, objectName, err)
	}

	return "gs://" + bucketName + "/" + objectName, nil
}

// FetchFromGCS downloads the object referenced by gcsURI.
func (c *Client) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: %w", err)
	}
	client, err := c.conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: %w", err)
	}

	rc, err := client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading bytes: %w", err)
	}
	return data, nil
}

// ExtractFilenameFromGCSURI returns the file name of an object.
// e.g., "gs://bucket/folder/file.csv" → "file.csv"
func (c *Client) ExtractFilenameFromGCSURI(uri string) string {
	return ExtractFilenameFromGCSURI(uri)
}

// Close releases the storage client if one was created.
func (c *Client) Close() error {
	c.once.Do(func() {})
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object path.
func ParseGCSURI(gcsURI string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}
	parts := strings.SplitN(strings.TrimPrefix(gcsURI, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}

// ExtractFilenameFromGCSURI returns the file name of an object, or the trimmed URI when it has
// no object path.
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

var _ gcs.StorageService = (*Client)(nil)
