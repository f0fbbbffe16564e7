package gcsuploader

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
	"github.com/dvloznov/medallion-pipeline/internal/export"
	"github.com/dvloznov/medallion-pipeline/internal/gcs"
	"github.com/dvloznov/medallion-pipeline/internal/metrics"
)

// Metadata keys stamped on every uploaded object.
const (
	MetaSource           = "source"
	MetaLayer            = "layer"
	MetaUploadDate       = "upload_date"
	MetaOriginalFilename = "original_filename"
	MetaMD5              = "md5_hash"
	MetaOriginalSize     = "original_size"
	MetaContentType      = "content_type"
	MetaCompression      = "compression"

	sourceName         = "medallion_pipeline"
	parquetContentType = "application/vnd.apache-parquet"
	gzipEncoding       = "gzip"
)

// ErrChecksumMismatch is returned when the stored md5 does not match the local file.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Config controls bucket naming and retry behaviour.
type Config struct {
	BucketPrefix   string
	Location       string
	MaxAttempts    int
	InitialBackoff time.Duration
	Verify         bool
	Timeout        time.Duration
}

// Upload describes one stored object.
type Upload struct {
	Layer    domain.Layer `json:"layer"`
	URI      string       `json:"uri"`
	Size     int64        `json:"size"`
	MD5      string       `json:"md5"`
	Attempts int          `json:"attempts"`
}

// BucketStats summarizes one layer bucket.
type BucketStats struct {
	Objects    int   `json:"object_count"`
	TotalBytes int64 `json:"total_size_bytes"`
}

// AverageBytes returns the mean object size.
func (s BucketStats) AverageBytes() float64 {
	if s.Objects == 0 {
		return 0
	}
	return float64(s.TotalBytes) / float64(s.Objects)
}

// Uploader ships layer files into one bucket per layer.
type Uploader struct {
	store   gcs.ObjectStore
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates an uploader over store.
func New(store gcs.ObjectStore, cfg Config, log zerolog.Logger, m *metrics.Metrics) *Uploader {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Uploader{
		store:   store,
		cfg:     cfg,
		log:     log.With().Str("component", "gcsuploader").Logger(),
		metrics: m,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// BucketName returns the bucket holding layer files.
func (u *Uploader) BucketName(layer domain.Layer) string {
	return u.cfg.BucketPrefix + "-" + string(layer)
}

// ObjectKey returns the date-partitioned key of file within a layer bucket.
func ObjectKey(layer domain.Layer, day time.Time, file string) string {
	return fmt.Sprintf("%s/date=%s/%s", layer, day.Format(domain.DateLayout), filepath.Base(file))
}

// EnsureBuckets creates the three layer buckets when missing.
func (u *Uploader) EnsureBuckets(ctx context.Context) error {
	for _, layer := range domain.Layers {
		bucket := u.BucketName(layer)
		if err := u.store.EnsureBucket(ctx, bucket, u.cfg.Location); err != nil {
			return err
		}
		u.log.Debug().Str("bucket", bucket).Msg("Bucket ready")
	}
	return nil
}

// UploadArtifacts uploads every exported file to its layer bucket. All files
// are attempted; the error combines every failure.
func (u *Uploader) UploadArtifacts(ctx context.Context, artifacts []export.Artifact) error {
	var errs error
	for _, a := range artifacts {
		if _, err := u.UploadFile(ctx, a.Layer, a.Path); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// UploadFile uploads a local file into the layer bucket. Parquet files are
// stored as-is; anything else is gzipped. Failed attempts, including checksum
// mismatches, are retried with exponential backoff.
func (u *Uploader) UploadFile(ctx context.Context, layer domain.Layer, path string) (Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Upload{}, fmt.Errorf("open file %q: %w", path, err)
	}

	now := u.now()
	sum := md5.Sum(data)
	checksum := hex.EncodeToString(sum[:])
	filename := filepath.Base(path)
	bucket := u.BucketName(layer)
	key := ObjectKey(layer, now, filename)
	contentType := contentTypeFor(filename)

	attrs := gcs.ObjectAttrs{
		ContentType: contentType,
		Metadata: map[string]string{
			MetaSource:           sourceName,
			MetaLayer:            string(layer),
			MetaUploadDate:       now.Format(domain.TimestampLayout),
			MetaOriginalFilename: filename,
			MetaMD5:              checksum,
			MetaOriginalSize:     strconv.Itoa(len(data)),
			MetaContentType:      contentType,
		},
	}
	body := data
	if shouldCompress(filename) {
		if body, err = gzipBytes(data); err != nil {
			return Upload{}, fmt.Errorf("compress %q: %w", path, err)
		}
		attrs.ContentEncoding = gzipEncoding
		attrs.Metadata[MetaCompression] = gzipEncoding
	}

	log := u.log.With().Str("layer", string(layer)).Str("uri", gcs.URI(bucket, key)).Logger()

	var lastErr error
	for attempt := 0; attempt < u.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := u.cfg.InitialBackoff * time.Duration(1<<attempt)
			log.Info().Dur("backoff", backoff).Int("attempt", attempt+1).Msg("Retrying upload")
			if err := u.sleep(ctx, backoff); err != nil {
				return Upload{}, err
			}
		}

		lastErr = u.put(ctx, bucket, key, body, attrs)
		u.metrics.IncUpload(string(layer), lastErr)
		if lastErr == nil {
			log.Info().Int("attempts", attempt+1).Msg("Uploaded and verified file")
			return Upload{
				Layer:    layer,
				URI:      gcs.URI(bucket, key),
				Size:     int64(len(data)),
				MD5:      checksum,
				Attempts: attempt + 1,
			}, nil
		}
		log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("Upload attempt failed")
	}

	return Upload{}, fmt.Errorf("upload %s after %d attempts: %w", filename, u.cfg.MaxAttempts, lastErr)
}

func (u *Uploader) put(ctx context.Context, bucket, key string, body []byte, attrs gcs.ObjectAttrs) error {
	if u.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.Timeout)
		defer cancel()
	}

	if err := u.store.Put(ctx, bucket, key, bytes.NewReader(body), attrs); err != nil {
		return err
	}
	if !u.cfg.Verify {
		return nil
	}

	stored, err := u.store.Attrs(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("verify upload: %w", err)
	}
	if got, want := stored.Metadata[MetaMD5], attrs.Metadata[MetaMD5]; got != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, want, got)
	}
	return nil
}

// List returns the objects of a layer bucket under prefix.
func (u *Uploader) List(ctx context.Context, layer domain.Layer, prefix string) ([]gcs.ObjectAttrs, error) {
	return u.store.List(ctx, u.BucketName(layer), prefix)
}

// Stats counts objects and bytes per layer bucket. A layer that cannot be
// listed is reported in the error and left out of the map.
func (u *Uploader) Stats(ctx context.Context) (map[domain.Layer]BucketStats, error) {
	out := make(map[domain.Layer]BucketStats, len(domain.Layers))
	var errs error
	for _, layer := range domain.Layers {
		objects, err := u.List(ctx, layer, "")
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stats for %s: %w", u.BucketName(layer), err))
			continue
		}
		var s BucketStats
		for _, o := range objects {
			s.Objects++
			s.TotalBytes += o.Size
		}
		out[layer] = s
	}
	return out, errs
}

// Download writes the object stored under key in the layer bucket to dest,
// decompressing gzip bodies and checking the stored md5.
func (u *Uploader) Download(ctx context.Context, layer domain.Layer, key, dest string) error {
	bucket := u.BucketName(layer)
	attrs, err := u.store.Attrs(ctx, bucket, key)
	if err != nil {
		return err
	}
	data, err := u.store.Get(ctx, bucket, key)
	if err != nil {
		return err
	}
	if attrs.ContentEncoding == gzipEncoding && isGzip(data) {
		if data, err = gunzipBytes(data); err != nil {
			return fmt.Errorf("decompress %s: %w", key, err)
		}
	}

	if want := attrs.Metadata[MetaMD5]; want != "" {
		sum := md5.Sum(data)
		if got := hex.EncodeToString(sum[:]); got != want {
			return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, want, got)
		}
	}

	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", dest, err)
	}
	u.log.Info().Str("uri", gcs.URI(bucket, key)).Str("dest", dest).Msg("Downloaded file")
	return nil
}

// Delete removes the object stored under key in the layer bucket.
func (u *Uploader) Delete(ctx context.Context, layer domain.Layer, key string) error {
	bucket := u.BucketName(layer)
	if err := u.store.Delete(ctx, bucket, key); err != nil {
		return err
	}
	u.log.Info().Str("uri", gcs.URI(bucket, key)).Msg("Deleted object")
	return nil
}

func contentTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".parquet":
		return parquetContentType
	case ".csv":
		return "text/csv"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func shouldCompress(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext != ".parquet" && ext != ".gz"
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
