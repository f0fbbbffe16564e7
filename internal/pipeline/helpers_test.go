package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
	"github.com/dvloznov/medallion-pipeline/internal/source"
	"github.com/dvloznov/medallion-pipeline/internal/store"
	"github.com/dvloznov/medallion-pipeline/internal/store/storetest"
)

// fixture wires the three stages over one in-memory store with a shared,
// manually advanced clock.
type fixture struct {
	store  *store.Store
	now    time.Time
	bronze *BronzeLoader
	silver *SilverTransformer
	gold   *GoldAggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := storetest.New(t)
	f := &fixture{store: s, now: time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	f.bronze = NewBronzeLoader(s, zerolog.Nop(), nil)
	f.bronze.now = clock
	f.silver = NewSilverTransformer(s, zerolog.Nop(), nil)
	f.silver.now = clock
	f.gold = NewGoldAggregator(s, zerolog.Nop(), nil)
	f.gold.now = clock
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// runAll loads batch and advances it through silver and gold.
func (f *fixture) runAll(t *testing.T, batch *source.Batch) GoldResult {
	t.Helper()
	ctx := context.Background()
	_, err := f.bronze.Load(ctx, batch)
	require.NoError(t, err)
	_, err = f.silver.Transform(ctx)
	require.NoError(t, err)
	res, err := f.gold.Aggregate(ctx)
	require.NoError(t, err)
	return res
}

func raw(id, ts string, amount float64, typ, category string) domain.RawTransaction {
	return domain.RawTransaction{
		TransactionID:   id,
		CustomerID:      "CUST000001",
		Timestamp:       ts,
		Amount:          amount,
		TransactionType: typ,
		Category:        category,
		Status:          domain.StatusCompleted,
	}
}

func newBatch(rows ...domain.RawTransaction) *source.Batch {
	return &source.Batch{
		Source:  "transactions.csv",
		Columns: source.RequiredColumns,
		Rows:    rows,
	}
}

func goldRows(t *testing.T, s *store.Store) []domain.DailySummary {
	t.Helper()
	rows, err := store.SelectAll[domain.DailySummary](context.Background(), s.DB(),
		store.OrderBy("summary_date, transaction_type, category"))
	require.NoError(t, err)
	return rows
}

func silverRows(t *testing.T, s *store.Store) []domain.SilverTransaction {
	t.Helper()
	rows, err := store.SelectAll[domain.SilverTransaction](context.Background(), s.DB(),
		store.OrderBy("transaction_id"))
	require.NoError(t, err)
	return rows
}

func count(t *testing.T, s *store.Store, table string) int64 {
	t.Helper()
	n, err := s.Count(context.Background(), table)
	require.NoError(t, err)
	return n
}

// failInsertOn installs a trigger that aborts any insert into table whose
// column equals value. The returned func drops it.
func failInsertOn(t *testing.T, s *store.Store, table, column, value string) func() {
	t.Helper()
	name := "fail_" + table
	err := s.DB().Exec(fmt.Sprintf(
		`CREATE TRIGGER %s BEFORE INSERT ON %s WHEN NEW.%s = '%s' BEGIN SELECT RAISE(ABORT, 'boom'); END`,
		name, table, column, value)).Error
	require.NoError(t, err)
	return func() {
		require.NoError(t, s.DB().Exec("DROP TRIGGER "+name).Error)
	}
}

// dailyRows returns n purchases, one per day starting on 2024-01-01.
func dailyRows(n int) []domain.RawTransaction {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	rows := make([]domain.RawTransaction, n)
	for i := range rows {
		ts := start.AddDate(0, 0, i).Format(domain.TimestampLayout)
		rows[i] = raw(fmt.Sprintf("T%05d", i), ts, 10, domain.TypePurchase, "food")
	}
	return rows
}
