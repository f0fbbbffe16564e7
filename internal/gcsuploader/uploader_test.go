package gcsuploader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
	"github.com/dvloznov/medallion-pipeline/internal/export"
	"github.com/dvloznov/medallion-pipeline/internal/gcs"
)

// memStore is an in-memory gcs.ObjectStore.
type memStore struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string]gcs.ObjectAttrs
	data    map[string][]byte

	putErrs      []error
	corruptAttrs int
	puts         int
}

func newMemStore() *memStore {
	return &memStore{
		buckets: map[string]bool{},
		objects: map[string]gcs.ObjectAttrs{},
		data:    map[string][]byte{},
	}
}

func (m *memStore) EnsureBucket(_ context.Context, bucket, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucket] = true
	return nil
}

func (m *memStore) Put(_ context.Context, bucket, object string, r io.Reader, attrs gcs.ObjectAttrs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if len(m.putErrs) > 0 {
		err := m.putErrs[0]
		m.putErrs = m.putErrs[1:]
		if err != nil {
			return err
		}
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	meta := make(map[string]string, len(attrs.Metadata))
	for k, v := range attrs.Metadata {
		meta[k] = v
	}
	if m.corruptAttrs > 0 {
		m.corruptAttrs--
		meta[MetaMD5] = "deadbeef"
	}
	attrs.Bucket, attrs.Name, attrs.Size, attrs.Metadata = bucket, object, int64(len(body)), meta
	m.objects[bucket+"/"+object] = attrs
	m.data[bucket+"/"+object] = body
	return nil
}

func (m *memStore) Attrs(_ context.Context, bucket, object string) (gcs.ObjectAttrs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.objects[bucket+"/"+object]
	if !ok {
		return gcs.ObjectAttrs{}, gcs.ErrNotFound
	}
	return a, nil
}

func (m *memStore) List(_ context.Context, bucket, prefix string) ([]gcs.ObjectAttrs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []gcs.ObjectAttrs
	for _, a := range m.objects {
		if a.Bucket == bucket && bytes.HasPrefix([]byte(a.Name), []byte(prefix)) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) Get(_ context.Context, bucket, object string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[bucket+"/"+object]
	if !ok {
		return nil, gcs.ErrNotFound
	}
	return d, nil
}

func (m *memStore) Delete(_ context.Context, bucket, object string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[bucket+"/"+object]; !ok {
		return gcs.ErrNotFound
	}
	delete(m.objects, bucket+"/"+object)
	delete(m.data, bucket+"/"+object)
	return nil
}

func newTestUploader(store gcs.ObjectStore) (*Uploader, *[]time.Duration) {
	u := New(store, Config{
		BucketPrefix:   "exam",
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		Verify:         true,
	}, zerolog.Nop(), nil)
	u.now = func() time.Time { return time.Date(2024, 3, 11, 5, 35, 46, 0, time.UTC) }
	var sleeps []time.Duration
	u.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return u, &sleeps
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestObjectKey(t *testing.T) {
	day := time.Date(2024, 1, 2, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "gold/date=2024-01-02/gold_daily_summary_20240102_230000.parquet",
		ObjectKey(domain.LayerGold, day, "/tmp/out/gold_daily_summary_20240102_230000.parquet"))
}

func TestEnsureBuckets(t *testing.T) {
	store := newMemStore()
	u, _ := newTestUploader(store)

	require.NoError(t, u.EnsureBuckets(context.Background()))
	assert.Equal(t, map[string]bool{"exam-bronze": true, "exam-silver": true, "exam-gold": true}, store.buckets)
}

func TestUploadFile_ParquetStoredAsIs(t *testing.T) {
	store := newMemStore()
	u, sleeps := newTestUploader(store)
	path := writeFile(t, "silver_transactions_20240311_053546.parquet", "PAR1-not-really")

	up, err := u.UploadFile(context.Background(), domain.LayerSilver, path)
	require.NoError(t, err)

	assert.Equal(t, "gs://exam-silver/silver/date=2024-03-11/silver_transactions_20240311_053546.parquet", up.URI)
	assert.Equal(t, 1, up.Attempts)
	assert.Empty(t, *sleeps)

	attrs := store.objects["exam-silver/silver/date=2024-03-11/silver_transactions_20240311_053546.parquet"]
	assert.Equal(t, "application/vnd.apache-parquet", attrs.ContentType)
	assert.Empty(t, attrs.ContentEncoding)
	assert.Equal(t, "medallion_pipeline", attrs.Metadata[MetaSource])
	assert.Equal(t, "silver", attrs.Metadata[MetaLayer])
	assert.Equal(t, "2024-03-11 05:35:46", attrs.Metadata[MetaUploadDate])
	assert.Equal(t, "15", attrs.Metadata[MetaOriginalSize])
	assert.Equal(t, up.MD5, attrs.Metadata[MetaMD5])
	assert.Equal(t, []byte("PAR1-not-really"), store.data["exam-silver/"+attrs.Name])
}

func TestUploadFile_CompressesOtherFiles(t *testing.T) {
	store := newMemStore()
	u, _ := newTestUploader(store)
	path := writeFile(t, "transactions.csv", "transaction_id,amount\nT1,20\n")

	_, err := u.UploadFile(context.Background(), domain.LayerBronze, path)
	require.NoError(t, err)

	attrs := store.objects["exam-bronze/bronze/date=2024-03-11/transactions.csv"]
	assert.Equal(t, "text/csv", attrs.ContentType)
	assert.Equal(t, "gzip", attrs.ContentEncoding)
	assert.Equal(t, "gzip", attrs.Metadata[MetaCompression])
	assert.True(t, isGzip(store.data["exam-bronze/"+attrs.Name]))
}

func TestUploadFile_RetriesWithBackoff(t *testing.T) {
	store := newMemStore()
	store.putErrs = []error{errors.New("503"), errors.New("503")}
	u, sleeps := newTestUploader(store)
	path := writeFile(t, "gold.parquet", "data")

	up, err := u.UploadFile(context.Background(), domain.LayerGold, path)
	require.NoError(t, err)

	assert.Equal(t, 3, up.Attempts)
	assert.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second}, *sleeps)
}

func TestUploadFile_ChecksumMismatchIsRetried(t *testing.T) {
	store := newMemStore()
	store.corruptAttrs = 1
	u, _ := newTestUploader(store)
	path := writeFile(t, "gold.parquet", "data")

	up, err := u.UploadFile(context.Background(), domain.LayerGold, path)
	require.NoError(t, err)
	assert.Equal(t, 2, up.Attempts)
}

func TestUploadFile_GivesUp(t *testing.T) {
	store := newMemStore()
	store.corruptAttrs = 3
	u, sleeps := newTestUploader(store)
	path := writeFile(t, "gold.parquet", "data")

	_, err := u.UploadFile(context.Background(), domain.LayerGold, path)

	require.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, 3, store.puts)
	assert.Len(t, *sleeps, 2)
}

func TestUploadFile_MissingFile(t *testing.T) {
	u, _ := newTestUploader(newMemStore())
	_, err := u.UploadFile(context.Background(), domain.LayerGold, filepath.Join(t.TempDir(), "nope.parquet"))
	assert.Error(t, err)
}

func TestUploadArtifacts_CombinesFailures(t *testing.T) {
	store := newMemStore()
	u, _ := newTestUploader(store)
	u.cfg.MaxAttempts = 1
	good := writeFile(t, "bronze.parquet", "b")

	err := u.UploadArtifacts(context.Background(), []export.Artifact{
		{Layer: domain.LayerBronze, Path: good},
		{Layer: domain.LayerSilver, Path: filepath.Join(t.TempDir(), "missing.parquet")},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.parquet")
	assert.Len(t, store.objects, 1)
}

func TestStatsListDownloadDelete(t *testing.T) {
	store := newMemStore()
	u, _ := newTestUploader(store)
	ctx := context.Background()

	csvPath := writeFile(t, "report.csv", "a,b\n1,2\n")
	_, err := u.UploadFile(ctx, domain.LayerGold, csvPath)
	require.NoError(t, err)
	_, err = u.UploadFile(ctx, domain.LayerGold, writeFile(t, "gold.parquet", "xyz"))
	require.NoError(t, err)

	stats, err := u.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[domain.LayerGold].Objects)
	assert.Equal(t, 0, stats[domain.LayerBronze].Objects)
	assert.Greater(t, stats[domain.LayerGold].AverageBytes(), 0.0)

	objects, err := u.List(ctx, domain.LayerGold, "gold/date=2024-03-11/")
	require.NoError(t, err)
	assert.Len(t, objects, 2)

	dest := filepath.Join(t.TempDir(), "out", "report.csv")
	require.NoError(t, u.Download(ctx, domain.LayerGold, "gold/date=2024-03-11/report.csv", dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(got))

	require.NoError(t, u.Delete(ctx, domain.LayerGold, "gold/date=2024-03-11/report.csv"))
	assert.ErrorIs(t, u.Delete(ctx, domain.LayerGold, "gold/date=2024-03-11/report.csv"), gcs.ErrNotFound)
}
