package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
	"github.com/dvloznov/medallion-pipeline/internal/metrics"
	"github.com/dvloznov/medallion-pipeline/internal/store"
)

// GoldResult summarizes one gold aggregation.
type GoldResult struct {
	// Frontier is the latest summary_date in gold before the run; empty when
	// gold was empty.
	Frontier  string `json:"frontier,omitempty"`
	RowsRead  int    `json:"rows_read"`
	Summaries int    `json:"summaries"`
	// LateRows counts aggregatable silver rows processed since the last gold run
	// but dated at or before the frontier. They are not aggregated.
	LateRows int `json:"late_rows"`
	// Written holds the summaries upserted by the run.
	Written []domain.DailySummary `json:"-"`
}

// GoldAggregator rolls valid silver rows up into daily summaries.
type GoldAggregator struct {
	store   *store.Store
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewGoldAggregator creates an aggregator over s.
func NewGoldAggregator(s *store.Store, log zerolog.Logger, m *metrics.Metrics) *GoldAggregator {
	return &GoldAggregator{
		store:   s,
		log:     log.With().Str("layer", string(domain.LayerGold)).Logger(),
		metrics: m,
		now:     time.Now,
	}
}

// Frontier returns the latest summary_date in gold. ok is false when gold is
// empty.
func (g *GoldAggregator) Frontier(ctx context.Context) (date string, ok bool, err error) {
	latest, err := g.latestSummary(ctx, "summary_date DESC")
	if err != nil || latest == nil {
		return "", false, err
	}
	return latest.SummaryDate, true, nil
}

// Aggregate summarizes aggregatable silver rows dated after the frontier and
// upserts the summaries into gold in one transaction.
func (g *GoldAggregator) Aggregate(ctx context.Context) (GoldResult, error) {
	var res GoldResult

	frontier, hasFrontier, err := g.Frontier(ctx)
	if err != nil {
		return res, fmt.Errorf("read gold frontier: %w", err)
	}

	opts := []store.Option{
		store.Where("validation_status IN ?", AggregatableStatuses),
		store.Where("transaction_date IS NOT NULL"),
	}
	if hasFrontier {
		res.Frontier = frontier
		opts = append(opts, store.Where("transaction_date > ?", frontier))

		late, err := g.countLateRows(ctx, frontier)
		if err != nil {
			return res, err
		}
		res.LateRows = late
		if late > 0 {
			g.log.Warn().
				Int("late_rows", late).
				Str("frontier", frontier).
				Msg("Silver rows dated at or before the gold frontier are not aggregated")
		}
	}

	rows, err := store.SelectAll[domain.SilverTransaction](ctx, g.store.DB(), opts...)
	if err != nil {
		return res, fmt.Errorf("select silver rows past frontier: %w", err)
	}
	res.RowsRead = len(rows)
	if len(rows) == 0 {
		g.log.Info().Str("frontier", frontier).Msg("No new data to aggregate for gold layer")
		return res, nil
	}

	written, err := g.write(ctx, rows)
	if err != nil {
		return res, err
	}
	res.Written = written
	res.Summaries = len(written)
	return res, nil
}

// Reaggregate recomputes every gold key dated on or after from using all
// aggregatable silver rows for those dates, replacing the stored summaries. It is
// the manual path for silver rows that arrived behind the frontier.
func (g *GoldAggregator) Reaggregate(ctx context.Context, from string) (GoldResult, error) {
	var res GoldResult
	if _, err := time.Parse(domain.DateLayout, from); err != nil {
		return res, fmt.Errorf("invalid reaggregate date %q: %w", from, err)
	}

	rows, err := store.SelectAll[domain.SilverTransaction](ctx, g.store.DB(),
		store.Where("validation_status IN ?", AggregatableStatuses),
		store.Where("transaction_date >= ?", from),
	)
	if err != nil {
		return res, fmt.Errorf("select silver rows from %s: %w", from, err)
	}
	res.RowsRead = len(rows)
	if len(rows) == 0 {
		g.log.Info().Str("from", from).Msg("No silver rows to reaggregate")
		return res, nil
	}

	written, err := g.write(ctx, rows)
	if err != nil {
		return res, err
	}
	res.Written = written
	res.Summaries = len(written)
	return res, nil
}

func (g *GoldAggregator) write(ctx context.Context, rows []domain.SilverTransaction) ([]domain.DailySummary, error) {
	summaries := Summarize(rows, g.now().Format(domain.TimestampLayout))

	err := g.store.WithTx(ctx, func(tx *gorm.DB) error {
		return store.Upsert(ctx, tx, summaries)
	})
	if err != nil {
		return nil, fmt.Errorf("upsert gold summaries: %w", err)
	}

	g.metrics.AddRows(string(domain.LayerGold), metrics.OutcomeAggregated, len(summaries))
	g.log.Info().Int("summaries", len(summaries)).Int("rows", len(rows)).Msg("Aggregated records into gold layer")
	return summaries, nil
}

// countLateRows counts aggregatable silver rows dated at or before frontier that
// were processed after the most recent gold write.
func (g *GoldAggregator) countLateRows(ctx context.Context, frontier string) (int, error) {
	lastRun, err := g.latestSummary(ctx, "processing_timestamp DESC")
	if err != nil || lastRun == nil {
		return 0, err
	}
	late, err := store.SelectAll[domain.SilverTransaction](ctx, g.store.DB(),
		store.Columns("transaction_id"),
		store.Where("validation_status IN ?", AggregatableStatuses),
		store.Where("transaction_date <= ?", frontier),
		store.Where("processing_timestamp > ?", lastRun.ProcessingTimestamp),
	)
	if err != nil {
		return 0, fmt.Errorf("count late silver rows: %w", err)
	}
	return len(late), nil
}

func (g *GoldAggregator) latestSummary(ctx context.Context, order string) (*domain.DailySummary, error) {
	rows, err := store.SelectAll[domain.DailySummary](ctx, g.store.DB(), store.OrderBy(order), store.Limit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Summarize groups rows by date, type and category and computes count, sum,
// average, minimum and maximum of the amount. Empty categories are reported
// as "unknown". Rows without a transaction date are ignored. The result is
// sorted by key.
func Summarize(rows []domain.SilverTransaction, processedAt string) []domain.DailySummary {
	groups := make(map[domain.SummaryKey]*domain.DailySummary)
	for _, r := range rows {
		if r.TransactionDate == nil {
			continue
		}
		key := domain.SummaryKey{
			Date:     *r.TransactionDate,
			Type:     r.TransactionType,
			Category: normalizeCategory(r.Category),
		}
		s, ok := groups[key]
		if !ok {
			s = &domain.DailySummary{
				SummaryDate:         key.Date,
				TransactionType:     key.Type,
				Category:            key.Category,
				MinAmount:           r.Amount,
				MaxAmount:           r.Amount,
				ProcessingTimestamp: processedAt,
			}
			groups[key] = s
		}
		s.TransactionCount++
		s.TotalAmount += r.Amount
		s.MinAmount = min(s.MinAmount, r.Amount)
		s.MaxAmount = max(s.MaxAmount, r.Amount)
	}

	out := make([]domain.DailySummary, 0, len(groups))
	for _, s := range groups {
		s.AvgAmount = s.TotalAmount / float64(s.TransactionCount)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})
	return out
}

func normalizeCategory(c string) string {
	if strings.TrimSpace(c) == "" {
		return domain.UnknownCategory
	}
	return c
}
