package source

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
)

// Column names every input batch must provide.
const (
	ColTransactionID   = "transaction_id"
	ColCustomerID      = "customer_id"
	ColTimestamp       = "timestamp"
	ColAmount          = "amount"
	ColTransactionType = "transaction_type"
	ColMerchant        = "merchant"
	ColCategory        = "category"
	ColStatus          = "status"
)

// RequiredColumns is the column set of a raw transaction batch.
var RequiredColumns = []string{
	ColTransactionID,
	ColCustomerID,
	ColTimestamp,
	ColAmount,
	ColTransactionType,
	ColMerchant,
	ColCategory,
	ColStatus,
}

var (
	// ErrUnsupportedFormat is returned for input files that are neither CSV nor parquet.
	ErrUnsupportedFormat = errors.New("unsupported input format")
	// ErrEmptyAmount is returned for a row whose amount is blank or null.
	ErrEmptyAmount = errors.New("amount is empty")
)

// Batch is a tabular set of raw rows read from one source.
type Batch struct {
	// Source identifies where the rows came from; it is stamped into bronze.
	Source string
	// Columns lists the columns the source actually provided.
	Columns []string
	Rows    []domain.RawTransaction
	// Err is set when the source could not be read. Such a batch has no rows
	// and is rejected by the bronze loader.
	Err error
}

// Load reads path like ReadFile but never fails: a read error is carried in
// the returned batch so that a run can report it as a bronze failure.
func Load(path string) *Batch {
	b, err := ReadFile(path)
	if err != nil {
		return &Batch{Source: filepath.Base(path), Err: err}
	}
	return b
}

// MissingColumns returns the required columns absent from the batch.
func (b *Batch) MissingColumns() []string {
	have := make(map[string]struct{}, len(b.Columns))
	for _, c := range b.Columns {
		have[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := have[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// ReadFile reads a CSV or parquet file into a batch, choosing the reader by
// file extension.
func ReadFile(path string) (*Batch, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSVFile(path)
	case ".parquet":
		return ReadParquetFile(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// record is one input row keyed by lower-cased column name.
type record map[string]interface{}

// toRaw converts a record into a raw transaction. Missing optional values
// become empty strings. A blank or null amount, or one that cannot be read as a
// number, fails the row, and with it the batch.
func toRaw(r record) (domain.RawTransaction, error) {
	v, ok := r[ColAmount]
	if !ok || v == nil || strings.TrimSpace(cast.ToString(v)) == "" {
		return domain.RawTransaction{}, ErrEmptyAmount
	}
	amount, err := cast.ToFloat64E(v)
	if err != nil {
		return domain.RawTransaction{}, fmt.Errorf("amount %v: %w", r[ColAmount], err)
	}
	return domain.RawTransaction{
		TransactionID:   strings.TrimSpace(cast.ToString(r[ColTransactionID])),
		CustomerID:      cast.ToString(r[ColCustomerID]),
		Timestamp:       cast.ToString(r[ColTimestamp]),
		Amount:          amount,
		TransactionType: cast.ToString(r[ColTransactionType]),
		Merchant:        cast.ToString(r[ColMerchant]),
		Category:        cast.ToString(r[ColCategory]),
		Status:          cast.ToString(r[ColStatus]),
	}, nil
}
