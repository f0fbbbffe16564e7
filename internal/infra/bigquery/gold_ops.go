package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
)

// insertChunk bounds the rows sent in one streaming insert request.
const insertChunk = 500

// GoldPublisher streams gold summaries into a BigQuery table. It holds a
// shared client to avoid creating a new connection for each publish.
type GoldPublisher struct {
	client  *bigquery.Client
	dataset string
	table   string
	now     func() time.Time
}

// NewGoldPublisher creates a publisher writing to dataset.table in projectID.
func NewGoldPublisher(ctx context.Context, projectID, dataset, table string, opts ...option.ClientOption) (*GoldPublisher, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewGoldPublisher: creating client: %w", err)
	}
	return &GoldPublisher{client: client, dataset: dataset, table: table, now: time.Now}, nil
}

// Close closes the BigQuery client connection.
func (p *GoldPublisher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Publish delegates to PublishWithClient with the shared client.
func (p *GoldPublisher) Publish(ctx context.Context, summaries []domain.DailySummary) error {
	return PublishWithClient(ctx, p.client, p.dataset, p.table, summaries, p.now())
}

// PublishWithClient streams summaries into dataset.table using the provided
// BigQuery client.
func PublishWithClient(ctx context.Context, client *bigquery.Client, dataset, table string,
	summaries []domain.DailySummary, publishedAt time.Time) error {
	if len(summaries) == 0 {
		return nil
	}

	savers, err := BuildSavers(summaries, publishedAt)
	if err != nil {
		return fmt.Errorf("PublishGold: %w", err)
	}

	inserter := client.Dataset(dataset).Table(table).Inserter()
	for start := 0; start < len(savers); start += insertChunk {
		end := min(start+insertChunk, len(savers))
		if err := inserter.Put(ctx, savers[start:end]); err != nil {
			return fmt.Errorf("PublishGold: inserting rows: %w", err)
		}
	}
	return nil
}

// BuildSavers converts summaries into value savers carrying their insert IDs.
func BuildSavers(summaries []domain.DailySummary, publishedAt time.Time) ([]*bigquery.StructSaver, error) {
	savers := make([]*bigquery.StructSaver, 0, len(summaries))
	for _, s := range summaries {
		row, err := NewDailySummaryRow(s, publishedAt)
		if err != nil {
			return nil, err
		}
		savers = append(savers, row.Saver())
	}
	return savers, nil
}

// EnsureDatasetWithClient creates dataset in location when it does not exist.
func EnsureDatasetWithClient(ctx context.Context, client *bigquery.Client, dataset, location string) (created bool, err error) {
	ds := client.Dataset(dataset)
	if _, err := ds.Metadata(ctx); err == nil {
		return false, nil
	} else if !isNotFound(err) {
		return false, fmt.Errorf("EnsureDataset: metadata: %w", err)
	}
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: location}); err != nil {
		return false, fmt.Errorf("EnsureDataset: create: %w", err)
	}
	return true, nil
}

// EnsureGoldTableWithClient creates dataset.table with GoldSchema, partitioned
// by summary_date, when it does not exist.
func EnsureGoldTableWithClient(ctx context.Context, client *bigquery.Client, dataset, table string) (created bool, err error) {
	t := client.Dataset(dataset).Table(table)
	if _, err := t.Metadata(ctx); err == nil {
		return false, nil
	} else if !isNotFound(err) {
		return false, fmt.Errorf("EnsureGoldTable: metadata: %w", err)
	}
	meta := &bigquery.TableMetadata{
		Schema: GoldSchema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "summary_date",
		},
		Clustering: &bigquery.Clustering{Fields: []string{"transaction_type", "category"}},
	}
	if err := t.Create(ctx, meta); err != nil {
		return false, fmt.Errorf("EnsureGoldTable: create: %w", err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
