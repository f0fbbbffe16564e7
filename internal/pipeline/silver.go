package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
	"github.com/dvloznov/medallion-pipeline/internal/metrics"
	"github.com/dvloznov/medallion-pipeline/internal/store"
)

// SilverResult summarizes one silver transformation.
type SilverResult struct {
	Processed int `json:"processed"`
	Valid     int `json:"valid"`
	Warning   int `json:"warning"`
}

// SilverTransformer advances bronze rows that are not yet in silver.
type SilverTransformer struct {
	store   *store.Store
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSilverTransformer creates a transformer over s.
func NewSilverTransformer(s *store.Store, log zerolog.Logger, m *metrics.Metrics) *SilverTransformer {
	return &SilverTransformer{
		store:   s,
		log:     log.With().Str("layer", string(domain.LayerSilver)).Logger(),
		metrics: m,
		now:     time.Now,
	}
}

// Transform validates every unprocessed bronze row and appends the results to
// silver in a single transaction.
func (t *SilverTransformer) Transform(ctx context.Context) (SilverResult, error) {
	pending, err := store.SelectMissing[domain.BronzeTransaction](ctx, t.store.DB(), domain.SilverTable)
	if err != nil {
		return SilverResult{}, fmt.Errorf("select unprocessed bronze rows: %w", err)
	}
	if len(pending) == 0 {
		t.log.Info().Msg("No new records to process for silver layer")
		return SilverResult{}, nil
	}
	t.log.Info().Int("pending", len(pending)).Msg("Transforming bronze records into silver")

	processedAt := t.now().Format(domain.TimestampLayout)
	rows := make([]domain.SilverTransaction, len(pending))
	var res SilverResult
	for i, b := range pending {
		row, verdict := Validate(b)
		row.ProcessingTimestamp = processedAt
		rows[i] = row
		if verdict.Valid() {
			res.Valid++
		} else {
			res.Warning++
		}
	}
	res.Processed = len(rows)

	err = t.store.WithTx(ctx, func(tx *gorm.DB) error {
		return store.Append(ctx, tx, rows)
	})
	if err != nil {
		return SilverResult{}, fmt.Errorf("append silver rows: %w", err)
	}

	t.metrics.AddRows(string(domain.LayerSilver), metrics.OutcomeValid, res.Valid)
	t.metrics.AddRows(string(domain.LayerSilver), metrics.OutcomeWarning, res.Warning)
	t.log.Info().
		Int("valid", res.Valid).
		Int("warning", res.Warning).
		Msg("Processed records into silver layer")
	return res, nil
}
