package generator

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
	"github.com/dvloznov/medallion-pipeline/internal/source"
)

var rawSchema = arrow.NewSchema([]arrow.Field{
	{Name: source.ColTransactionID, Type: arrow.BinaryTypes.String},
	{Name: source.ColCustomerID, Type: arrow.BinaryTypes.String},
	{Name: source.ColTimestamp, Type: arrow.BinaryTypes.String},
	{Name: source.ColAmount, Type: arrow.PrimitiveTypes.Float64},
	{Name: source.ColTransactionType, Type: arrow.BinaryTypes.String},
	{Name: source.ColMerchant, Type: arrow.BinaryTypes.String},
	{Name: source.ColCategory, Type: arrow.BinaryTypes.String},
	{Name: source.ColStatus, Type: arrow.BinaryTypes.String},
}, nil)

// WriteFile writes rows to path as CSV or parquet, chosen by extension.
func WriteFile(path string, rows []domain.RawTransaction) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %q: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		// the parquet writer closes f
		return WriteParquet(f, rows)
	default:
		if err := WriteCSV(f, rows); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
}

// WriteCSV writes a header and one line per row.
func WriteCSV(w io.Writer, rows []domain.RawTransaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(source.RequiredColumns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		rec := []string{
			r.TransactionID,
			r.CustomerID,
			r.Timestamp,
			strconv.FormatFloat(r.Amount, 'f', 2, 64),
			r.TransactionType,
			r.Merchant,
			r.Category,
			r.Status,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.TransactionID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteParquet writes rows as a single parquet row group and closes w when
// it is an io.Closer.
func WriteParquet(w io.Writer, rows []domain.RawTransaction) error {
	b := array.NewRecordBuilder(memory.NewGoAllocator(), rawSchema)
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
	}
	rec := b.NewRecord()
	defer rec.Release()

	writer, err := pqarrow.NewFileWriter(rawSchema, w, nil, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write parquet record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}
