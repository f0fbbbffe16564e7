package gcsuploader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dvloznov/medallion-pipeline/internal/gcs"
)

// GCSStore is the gcs.ObjectStore backed by Google Cloud Storage.
// It assumes Application Default Credentials are configured (gcloud auth application-default login).
type GCSStore struct {
	client    *storage.Client
	projectID string
}

var _ gcs.ObjectStore = (*GCSStore)(nil)

// NewGCSStore creates a storage client for projectID.
func NewGCSStore(ctx context.Context, projectID string, opts ...option.ClientOption) (*GCSStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, projectID: projectID}, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) EnsureBucket(ctx context.Context, bucket, location string) error {
	bkt := s.client.Bucket(bucket)
	_, err := bkt.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if err := bkt.Create(ctx, s.projectID, &storage.BucketAttrs{Location: location}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

func (s *GCSStore) Put(ctx context.Context, bucket, object string, r io.Reader, attrs gcs.ObjectAttrs) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.ContentEncoding = attrs.ContentEncoding
	w.Metadata = attrs.Metadata

	if _, err := io.Copy(w, r); err != nil {
		// Cancelling the context aborts the upload.
		cancel()
		_ = w.Close()
		return fmt.Errorf("copy to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

func (s *GCSStore) Attrs(ctx context.Context, bucket, object string) (gcs.ObjectAttrs, error) {
	a, err := s.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		return gcs.ObjectAttrs{}, mapNotFound(err)
	}
	return fromStorage(a), nil
}

func (s *GCSStore) List(ctx context.Context, bucket, prefix string) ([]gcs.ObjectAttrs, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []gcs.ObjectAttrs
	for {
		a, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, mapNotFound(err))
		}
		out = append(out, fromStorage(a))
	}
	return out, nil
}

func (s *GCSStore) Get(ctx context.Context, bucket, object string) ([]byte, error) {
	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open GCS object reader: %w", mapNotFound(err))
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read GCS object: %w", err)
	}
	return data, nil
}

func (s *GCSStore) Delete(ctx context.Context, bucket, object string) error {
	if err := s.client.Bucket(bucket).Object(object).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, object, mapNotFound(err))
	}
	return nil
}

func fromStorage(a *storage.ObjectAttrs) gcs.ObjectAttrs {
	return gcs.ObjectAttrs{
		Bucket:          a.Bucket,
		Name:            a.Name,
		ContentType:     a.ContentType,
		ContentEncoding: a.ContentEncoding,
		Size:            a.Size,
		Updated:         a.Updated,
		Metadata:        a.Metadata,
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %v", gcs.ErrNotFound, err)
	}
	return err
}
