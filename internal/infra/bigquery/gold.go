package bigquery

import (
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
)

// DailySummaryRow is one row of the warehouse copy of gold_daily_summary.
type DailySummaryRow struct {
	SummaryDate     civil.Date `bigquery:"summary_date"`     // REQUIRED DATE
	TransactionType string     `bigquery:"transaction_type"` // REQUIRED
	Category        string     `bigquery:"category"`         // REQUIRED

	TransactionCount int64   `bigquery:"transaction_count"`
	TotalAmount      float64 `bigquery:"total_amount"`
	AvgAmount        float64 `bigquery:"avg_amount"`
	MinAmount        float64 `bigquery:"min_amount"`
	MaxAmount        float64 `bigquery:"max_amount"`

	ProcessingTS civil.DateTime `bigquery:"processing_ts"` // REQUIRED DATETIME
	PublishedTS  time.Time      `bigquery:"published_ts"`  // REQUIRED TIMESTAMP
}

// GoldSchema is the warehouse schema of DailySummaryRow.
var GoldSchema = bigquery.Schema{
	{Name: "summary_date", Type: bigquery.DateFieldType, Required: true},
	{Name: "transaction_type", Type: bigquery.StringFieldType, Required: true},
	{Name: "category", Type: bigquery.StringFieldType, Required: true},
	{Name: "transaction_count", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "total_amount", Type: bigquery.FloatFieldType, Required: true},
	{Name: "avg_amount", Type: bigquery.FloatFieldType, Required: true},
	{Name: "min_amount", Type: bigquery.FloatFieldType, Required: true},
	{Name: "max_amount", Type: bigquery.FloatFieldType, Required: true},
	{Name: "processing_ts", Type: bigquery.DateTimeFieldType, Required: true},
	{Name: "published_ts", Type: bigquery.TimestampFieldType, Required: true},
}

// NewDailySummaryRow converts a gold summary into its warehouse row.
func NewDailySummaryRow(s domain.DailySummary, publishedAt time.Time) (*DailySummaryRow, error) {
	date, err := civil.ParseDate(s.SummaryDate)
	if err != nil {
		return nil, fmt.Errorf("summary_date %q: %w", s.SummaryDate, err)
	}
	processed, err := time.Parse(domain.TimestampLayout, s.ProcessingTimestamp)
	if err != nil {
		return nil, fmt.Errorf("processing_timestamp %q: %w", s.ProcessingTimestamp, err)
	}
	return &DailySummaryRow{
		SummaryDate:      date,
		TransactionType:  s.TransactionType,
		Category:         s.Category,
		TransactionCount: s.TransactionCount,
		TotalAmount:      s.TotalAmount,
		AvgAmount:        s.AvgAmount,
		MinAmount:        s.MinAmount,
		MaxAmount:        s.MaxAmount,
		ProcessingTS:     civil.DateTimeOf(processed),
		PublishedTS:      publishedAt.UTC(),
	}, nil
}

// InsertID identifies a summary version. Streaming retries of the same
// version are deduplicated by BigQuery; a recomputed key gets a new ID.
func (r *DailySummaryRow) InsertID() string {
	return fmt.Sprintf("%s|%s|%s|%s", r.SummaryDate, r.TransactionType, r.Category, r.ProcessingTS)
}

// Saver wraps the row for the table inserter.
func (r *DailySummaryRow) Saver() *bigquery.StructSaver {
	return &bigquery.StructSaver{Struct: r, Schema: GoldSchema, InsertID: r.InsertID()}
}
