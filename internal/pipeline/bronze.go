package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
	"github.com/dvloznov/medallion-pipeline/internal/metrics"
	"github.com/dvloznov/medallion-pipeline/internal/source"
	"github.com/dvloznov/medallion-pipeline/internal/store"
)

const idLookupChunk = 500

// BronzeLoader appends new raw rows to bronze. Rows whose transaction_id is
// already stored, or repeated earlier in the same batch, are skipped.
type BronzeLoader struct {
	store   *store.Store
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewBronzeLoader creates a loader writing to s.
func NewBronzeLoader(s *store.Store, log zerolog.Logger, m *metrics.Metrics) *BronzeLoader {
	return &BronzeLoader{
		store:   s,
		log:     log.With().Str("layer", string(domain.LayerBronze)).Logger(),
		metrics: m,
		now:     time.Now,
	}
}

// Load ingests batch and returns the number of rows inserted. A nil batch is
// a no-op. A batch missing required columns fails with ErrMissingColumns and
// nothing is written.
func (l *BronzeLoader) Load(ctx context.Context, batch *source.Batch) (int, error) {
	if batch == nil {
		l.log.Info().Msg("No input batch, skipping bronze ingestion")
		return 0, nil
	}
	if batch.Err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrUnreadableInput, batch.Source, batch.Err)
	}
	if missing := batch.MissingColumns(); len(missing) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	if len(batch.Rows) == 0 {
		l.log.Info().Str("source", batch.Source).Msg("Input batch is empty")
		return 0, nil
	}

	unique, dupes := dedupeBatch(batch.Rows)
	if dupes > 0 {
		l.log.Warn().Int("duplicates", dupes).Msg("Found duplicate transaction IDs in input batch")
		l.metrics.AddRows(string(domain.LayerBronze), metrics.OutcomeDuplicate, dupes)
	}

	existing, err := l.existingIDs(ctx, unique)
	if err != nil {
		return 0, err
	}

	ingestedAt := l.now().Format(domain.TimestampLayout)
	rows := make([]domain.BronzeTransaction, 0, len(unique))
	for _, raw := range unique {
		if _, ok := existing[raw.TransactionID]; ok {
			continue
		}
		rows = append(rows, domain.NewBronzeTransaction(raw, ingestedAt, batch.Source))
	}

	if skipped := len(unique) - len(rows); skipped > 0 {
		l.log.Info().Int("skipped", skipped).Msg("Skipping transactions already in bronze")
	}
	if len(rows) == 0 {
		l.log.Info().Str("source", batch.Source).Msg("No new transactions to ingest")
		return 0, nil
	}

	err = l.store.WithTx(ctx, func(tx *gorm.DB) error {
		return store.Append(ctx, tx, rows)
	})
	if err != nil {
		return 0, fmt.Errorf("ingest bronze rows: %w", err)
	}

	l.metrics.AddRows(string(domain.LayerBronze), metrics.OutcomeInserted, len(rows))
	l.log.Info().
		Int("inserted", len(rows)).
		Str("source", batch.Source).
		Msg("Ingested transactions into bronze")
	return len(rows), nil
}

// dedupeBatch keeps the first occurrence of each transaction ID.
func dedupeBatch(rows []domain.RawTransaction) ([]domain.RawTransaction, int) {
	seen := make(map[string]struct{}, len(rows))
	out := make([]domain.RawTransaction, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.TransactionID]; ok {
			continue
		}
		seen[r.TransactionID] = struct{}{}
		out = append(out, r)
	}
	return out, len(rows) - len(out)
}

func (l *BronzeLoader) existingIDs(ctx context.Context, rows []domain.RawTransaction) (map[string]struct{}, error) {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.TransactionID
	}

	existing := make(map[string]struct{})
	for start := 0; start < len(ids); start += idLookupChunk {
		end := min(start+idLookupChunk, len(ids))
		found, err := store.SelectAll[domain.BronzeTransaction](ctx, l.store.DB(),
			store.Columns("transaction_id"),
			store.Where("transaction_id IN ?", ids[start:end]),
		)
		if err != nil {
			return nil, fmt.Errorf("look up existing bronze ids: %w", err)
		}
		for _, f := range found {
			existing[f.TransactionID] = struct{}{}
		}
	}
	return existing, nil
}
