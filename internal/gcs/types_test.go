package gcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	bucket, object, err := ParseURI("gs://exam-gold/gold/date=2024-01-01/gold.parquet")
	require.NoError(t, err)
	assert.Equal(t, "exam-gold", bucket)
	assert.Equal(t, "gold/date=2024-01-01/gold.parquet", object)

	for _, bad := range []string{"s3://bucket/key", "gs://bucket", "gs://bucket/", "gs:///key"} {
		_, _, err := ParseURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestURIRoundTrip(t *testing.T) {
	uri := URI("b", "silver/date=2024-01-01/s.parquet")
	assert.Equal(t, "gs://b/silver/date=2024-01-01/s.parquet", uri)
	assert.Equal(t, "s.parquet", FilenameFromURI(uri))
	assert.Equal(t, "bucket-only", FilenameFromURI("gs://bucket-only"))
}
