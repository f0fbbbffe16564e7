package export

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
	"github.com/dvloznov/medallion-pipeline/internal/store"
)

var bronzeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "transaction_id", Type: arrow.BinaryTypes.String},
	{Name: "customer_id", Type: arrow.BinaryTypes.String},
	{Name: "timestamp", Type: arrow.BinaryTypes.String},
	{Name: "amount", Type: arrow.PrimitiveTypes.Float64},
	{Name: "transaction_type", Type: arrow.BinaryTypes.String},
	{Name: "merchant", Type: arrow.BinaryTypes.String},
	{Name: "category", Type: arrow.BinaryTypes.String},
	{Name: "status", Type: arrow.BinaryTypes.String},
	{Name: "ingestion_timestamp", Type: arrow.BinaryTypes.String},
	{Name: "source_file", Type: arrow.BinaryTypes.String},
}, nil)

var silverSchema = arrow.NewSchema([]arrow.Field{
	{Name: "transaction_id", Type: arrow.BinaryTypes.String},
	{Name: "customer_id", Type: arrow.BinaryTypes.String},
	{Name: "transaction_date", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "transaction_time", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "amount", Type: arrow.PrimitiveTypes.Float64},
	{Name: "transaction_type", Type: arrow.BinaryTypes.String},
	{Name: "merchant", Type: arrow.BinaryTypes.String},
	{Name: "category", Type: arrow.BinaryTypes.String},
	{Name: "status", Type: arrow.BinaryTypes.String},
	{Name: "processing_timestamp", Type: arrow.BinaryTypes.String},
	{Name: "bronze_ingestion_timestamp", Type: arrow.BinaryTypes.String},
	{Name: "validation_status", Type: arrow.BinaryTypes.String},
}, nil)

var goldSchema = arrow.NewSchema([]arrow.Field{
	{Name: "summary_date", Type: arrow.BinaryTypes.String},
	{Name: "transaction_type", Type: arrow.BinaryTypes.String},
	{Name: "category", Type: arrow.BinaryTypes.String},
	{Name: "transaction_count", Type: arrow.PrimitiveTypes.Int64},
	{Name: "total_amount", Type: arrow.PrimitiveTypes.Float64},
	{Name: "avg_amount", Type: arrow.PrimitiveTypes.Float64},
	{Name: "min_amount", Type: arrow.PrimitiveTypes.Float64},
	{Name: "max_amount", Type: arrow.PrimitiveTypes.Float64},
	{Name: "processing_timestamp", Type: arrow.BinaryTypes.String},
}, nil)

func (e *Exporter) bronzeRecord(ctx context.Context) (arrow.Record, error) {
	rows, err := store.SelectAll[domain.BronzeTransaction](ctx, e.store.DB(), store.OrderBy("transaction_id"))
	if err != nil {
		return nil, err
	}

	b := array.NewRecordBuilder(e.pool, bronzeSchema)
	defer b.Release()
	for _, r := range rows {
		b.Field(0).(*array.StringBuilder).Append(r.TransactionID)
		b.Field(1).(*array.StringBuilder).Append(r.CustomerID)
		b.Field(2).(*array.StringBuilder).Append(r.Timestamp)
		b.Field(3).(*array.Float64Builder).Append(r.Amount)
		b.Field(4).(*array.StringBuilder).Append(r.TransactionType)
		b.Field(5).(*array.StringBuilder).Append(r.Merchant)
		b.Field(6).(*array.StringBuilder).Append(r.Category)
		b.Field(7).(*array.StringBuilder).Append(r.Status)
		b.Field(8).(*array.StringBuilder).Append(r.IngestionTimestamp)
		b.Field(9).(*array.StringBuilder).Append(r.SourceFile)
	}
	return b.NewRecord(), nil
}

func (e *Exporter) silverRecord(ctx context.Context) (arrow.Record, error) {
	rows, err := store.SelectAll[domain.SilverTransaction](ctx, e.store.DB(), store.OrderBy("transaction_id"))
	if err != nil {
		return nil, err
	}

	b := array.NewRecordBuilder(e.pool, silverSchema)
	defer b.Release()
	for _, r := range rows {
		b.Field(0).(*array.StringBuilder).Append(r.TransactionID)
		b.Field(1).(*array.StringBuilder).Append(r.CustomerID)
		appendNullable(b.Field(2).(*array.StringBuilder), r.TransactionDate)
		appendNullable(b.Field(3).(*array.StringBuilder), r.TransactionTime)
		b.Field(4).(*array.Float64Builder).Append(r.Amount)
		b.Field(5).(*array.StringBuilder).Append(r.TransactionType)
		b.Field(6).(*array.StringBuilder).Append(r.Merchant)
		b.Field(7).(*array.StringBuilder).Append(r.Category)
		b.Field(8).(*array.StringBuilder).Append(r.Status)
		b.Field(9).(*array.StringBuilder).Append(r.ProcessingTimestamp)
		b.Field(10).(*array.StringBuilder).Append(r.BronzeIngestionTimestamp)
		b.Field(11).(*array.StringBuilder).Append(r.ValidationStatus)
	}
	return b.NewRecord(), nil
}

func (e *Exporter) goldRecord(ctx context.Context) (arrow.Record, error) {
	rows, err := store.SelectAll[domain.DailySummary](ctx, e.store.DB(),
		store.OrderBy("summary_date, transaction_type, category"))
	if err != nil {
		return nil, err
	}

	b := array.NewRecordBuilder(e.pool, goldSchema)
	defer b.Release()
	for _, r := range rows {
		b.Field(0).(*array.StringBuilder).Append(r.SummaryDate)
		b.Field(1).(*array.StringBuilder).Append(r.TransactionType)
		b.Field(2).(*array.StringBuilder).Append(r.Category)
		b.Field(3).(*array.Int64Builder).Append(r.TransactionCount)
		b.Field(4).(*array.Float64Builder).Append(r.TotalAmount)
		b.Field(5).(*array.Float64Builder).Append(r.AvgAmount)
		b.Field(6).(*array.Float64Builder).Append(r.MinAmount)
		b.Field(7).(*array.Float64Builder).Append(r.MaxAmount)
		b.Field(8).(*array.StringBuilder).Append(r.ProcessingTimestamp)
	}
	return b.NewRecord(), nil
}

func appendNullable(b *array.StringBuilder, v *string) {
	if v == nil {
		b.AppendNull()
		return
	}
	b.Append(*v)
}
