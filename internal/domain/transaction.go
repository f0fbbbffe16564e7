package domain

// Text layouts shared by every layer. Stored timestamps are plain strings so
// that exported files carry exactly what the store holds.
const (
	TimestampLayout = "2006-01-02 15:04:05"
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04:05"
)

// Transaction types produced by the generator.
const (
	TypePurchase   = "purchase"
	TypeRefund     = "refund"
	TypeTransfer   = "transfer"
	TypePayment    = "payment"
	TypeWithdrawal = "withdrawal"
)

// Transaction statuses accepted by the silver layer.
const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusFailed    = "failed"
	StatusReversed  = "reversed"
)

// ValidStatus is the validation_status of a silver row that raised no warnings.
const ValidStatus = "VALID"

// UnknownCategory replaces empty categories in gold.
const UnknownCategory = "unknown"

// RawTransaction is one input row before it is stamped into bronze.
type RawTransaction struct {
	TransactionID   string
	CustomerID      string
	Timestamp       string
	Amount          float64
	TransactionType string
	Merchant        string
	Category        string
	Status          string
}

// BronzeTransaction is a row of bronze_transactions: the input row as ingested,
// plus provenance stamped by the loader.
type BronzeTransaction struct {
	TransactionID      string  `gorm:"column:transaction_id;primaryKey" json:"transaction_id"`
	CustomerID         string  `gorm:"column:customer_id" json:"customer_id"`
	Timestamp          string  `gorm:"column:timestamp" json:"timestamp"`
	Amount             float64 `gorm:"column:amount" json:"amount"`
	TransactionType    string  `gorm:"column:transaction_type" json:"transaction_type"`
	Merchant           string  `gorm:"column:merchant" json:"merchant"`
	Category           string  `gorm:"column:category" json:"category"`
	Status             string  `gorm:"column:status" json:"status"`
	IngestionTimestamp string  `gorm:"column:ingestion_timestamp" json:"ingestion_timestamp"`
	SourceFile         string  `gorm:"column:source_file" json:"source_file"`
}

func (BronzeTransaction) TableName() string    { return BronzeTable }
func (BronzeTransaction) KeyColumns() []string { return []string{"transaction_id"} }

// NewBronzeTransaction stamps a raw row with its ingestion provenance.
func NewBronzeTransaction(raw RawTransaction, ingestedAt, sourceFile string) BronzeTransaction {
	return BronzeTransaction{
		TransactionID:      raw.TransactionID,
		CustomerID:         raw.CustomerID,
		Timestamp:          raw.Timestamp,
		Amount:             raw.Amount,
		TransactionType:    raw.TransactionType,
		Merchant:           raw.Merchant,
		Category:           raw.Category,
		Status:             raw.Status,
		IngestionTimestamp: ingestedAt,
		SourceFile:         sourceFile,
	}
}

// SilverTransaction is a row of silver_transactions. TransactionDate and
// TransactionTime are nil when the bronze timestamp could not be parsed.
type SilverTransaction struct {
	TransactionID            string  `gorm:"column:transaction_id;primaryKey" json:"transaction_id"`
	CustomerID               string  `gorm:"column:customer_id" json:"customer_id"`
	TransactionDate          *string `gorm:"column:transaction_date;index" json:"transaction_date"`
	TransactionTime          *string `gorm:"column:transaction_time" json:"transaction_time"`
	Amount                   float64 `gorm:"column:amount" json:"amount"`
	TransactionType          string  `gorm:"column:transaction_type" json:"transaction_type"`
	Merchant                 string  `gorm:"column:merchant" json:"merchant"`
	Category                 string  `gorm:"column:category" json:"category"`
	Status                   string  `gorm:"column:status" json:"status"`
	ProcessingTimestamp      string  `gorm:"column:processing_timestamp" json:"processing_timestamp"`
	BronzeIngestionTimestamp string  `gorm:"column:bronze_ingestion_timestamp" json:"bronze_ingestion_timestamp"`
	ValidationStatus         string  `gorm:"column:validation_status;index" json:"validation_status"`
}

func (SilverTransaction) TableName() string    { return SilverTable }
func (SilverTransaction) KeyColumns() []string { return []string{"transaction_id"} }

// DailySummary is a row of gold_daily_summary, keyed by date, type and category.
type DailySummary struct {
	SummaryDate         string  `gorm:"column:summary_date;primaryKey" json:"summary_date"`
	TransactionType     string  `gorm:"column:transaction_type;primaryKey" json:"transaction_type"`
	Category            string  `gorm:"column:category;primaryKey" json:"category"`
	TransactionCount    int64   `gorm:"column:transaction_count" json:"transaction_count"`
	TotalAmount         float64 `gorm:"column:total_amount" json:"total_amount"`
	AvgAmount           float64 `gorm:"column:avg_amount" json:"avg_amount"`
	MinAmount           float64 `gorm:"column:min_amount" json:"min_amount"`
	MaxAmount           float64 `gorm:"column:max_amount" json:"max_amount"`
	ProcessingTimestamp string  `gorm:"column:processing_timestamp" json:"processing_timestamp"`
}

func (DailySummary) TableName() string { return GoldTable }
func (DailySummary) KeyColumns() []string {
	return []string{"summary_date", "transaction_type", "category"}
}

// Key returns the composite gold key.
func (s DailySummary) Key() SummaryKey {
	return SummaryKey{Date: s.SummaryDate, Type: s.TransactionType, Category: s.Category}
}

// SummaryKey identifies one gold row.
type SummaryKey struct {
	Date     string
	Type     string
	Category string
}

func (k SummaryKey) String() string {
	return k.Date + "|" + k.Type + "|" + k.Category
}

// LayerStats holds the row count of every layer.
type LayerStats struct {
	Bronze int64 `json:"bronze_count"`
	Silver int64 `json:"silver_count"`
	Gold   int64 `json:"gold_count"`
}
