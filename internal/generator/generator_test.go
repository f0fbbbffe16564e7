package generator

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
	"github.com/dvloznov/medallion-pipeline/internal/source"
)

var end = time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)

func TestGenerate_SeedIsReproducible(t *testing.T) {
	cfg := Config{Records: 50, Seed: 42, End: end}
	a := New(cfg).Generate()
	b := New(cfg).Generate()
	assert.Equal(t, a, b)

	c := New(Config{Records: 50, Seed: 43, End: end}).Generate()
	assert.NotEqual(t, a, c)
}

func TestGenerate_RowShape(t *testing.T) {
	cfg := Config{Records: 2000, Customers: 10, Merchants: 5, Days: 7, Seed: 7, End: end}
	rows := New(cfg).Generate()
	require.Len(t, rows, 2000)

	start := end.Add(-7 * 24 * time.Hour)
	ids := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		_, err := uuid.Parse(r.TransactionID)
		require.NoError(t, err)
		ids[r.TransactionID] = struct{}{}

		assert.Regexp(t, `^CUST0000(0[1-9]|10)$`, r.CustomerID)

		ts, err := time.Parse(domain.TimestampLayout, r.Timestamp)
		require.NoError(t, err)
		assert.False(t, ts.Before(start), r.Timestamp)
		assert.False(t, ts.After(end), r.Timestamp)

		assert.Contains(t, []string{
			domain.StatusCompleted, domain.StatusPending, domain.StatusFailed, domain.StatusReversed,
		}, r.Status)

		switch r.TransactionType {
		case domain.TypePurchase:
			assert.GreaterOrEqual(t, r.Amount, 0.0)
			assert.LessOrEqual(t, r.Amount, 1000.0)
		case domain.TypeRefund:
			assert.LessOrEqual(t, r.Amount, 0.0)
			assert.GreaterOrEqual(t, r.Amount, -500.0)
		case domain.TypeTransfer:
			assert.GreaterOrEqual(t, r.Amount, 50.0)
			assert.LessOrEqual(t, r.Amount, 10000.0)
		case domain.TypePayment:
			assert.GreaterOrEqual(t, r.Amount, 9.99)
			assert.LessOrEqual(t, r.Amount, 500.0)
		case domain.TypeWithdrawal:
			assert.Contains(t, withdrawalAmounts, r.Amount)
		default:
			t.Fatalf("unexpected type %q", r.TransactionType)
		}

		if r.TransactionType == domain.TypePurchase || r.TransactionType == domain.TypeRefund {
			assert.Regexp(t, `^MERCH000[1-5]:\w+ \w+$`, r.Merchant)
			assert.Contains(t, Categories, r.Category)
		} else {
			assert.Empty(t, r.Merchant)
			assert.Empty(t, r.Category)
		}
	}
	assert.Len(t, ids, len(rows))
}

func TestGenerate_TypeMix(t *testing.T) {
	rows := New(Config{Records: 10000, Seed: 1, End: end}).Generate()
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.TransactionType]++
	}
	// 65% purchases, 5% refunds with a generous margin
	assert.InDelta(t, 6500, counts[domain.TypePurchase], 400)
	assert.InDelta(t, 500, counts[domain.TypeRefund], 150)
}

func TestGamma_Mean(t *testing.T) {
	g := New(Config{Seed: 3, End: end})
	var sum float64
	const n = 20000
	for range n {
		sum += g.gamma(1.5, 20)
	}
	assert.InDelta(t, 30, sum/n, 1.5)
}

func TestWriteCSV_ReadBack(t *testing.T) {
	rows := New(Config{Records: 25, Seed: 9, End: end}).Generate()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))
	assert.True(t, strings.HasPrefix(buf.String(), strings.Join(source.RequiredColumns, ",")+"\n"))

	batch, err := source.ReadCSV(&buf, "generated.csv")
	require.NoError(t, err)
	assert.Equal(t, rows, batch.Rows)
}

func TestWriteFile_Parquet(t *testing.T) {
	rows := New(Config{Records: 25, Seed: 9, End: end}).Generate()
	path := filepath.Join(t.TempDir(), "out", "transactions.parquet")

	require.NoError(t, WriteFile(path, rows))

	batch, err := source.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, rows, batch.Rows)
}
