package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when a bucket or object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectAttrs describes a stored object.
type ObjectAttrs struct {
	Bucket          string
	Name            string
	ContentType     string
	ContentEncoding string
	Size            int64
	Updated         time.Time
	Metadata        map[string]string
}

// ObjectStore provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// EnsureBucket creates the bucket in location unless it already exists.
	EnsureBucket(ctx context.Context, bucket, location string) error

	// Put writes r to bucket/object. Name and Bucket of attrs are ignored.
	Put(ctx context.Context, bucket, object string, r io.Reader, attrs ObjectAttrs) error

	// Attrs returns the attributes of bucket/object.
	Attrs(ctx context.Context, bucket, object string) (ObjectAttrs, error)

	// List returns every object in bucket whose name starts with prefix.
	List(ctx context.Context, bucket, prefix string) ([]ObjectAttrs, error)

	// Get downloads the object bytes.
	Get(ctx context.Context, bucket, object string) ([]byte, error)

	// Delete removes bucket/object.
	Delete(ctx context.Context, bucket, object string) error
}

// URI formats a gs:// URI.
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + object
}

// ParseURI splits gs://bucket/path/to/object into its bucket and object.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FilenameFromURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.parquet" → "file.parquet"
func FilenameFromURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}
