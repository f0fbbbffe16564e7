package pipeline

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
)

// CustomerIDPrefix is the expected prefix of every customer ID.
const CustomerIDPrefix = "CUST"

// Warning messages recorded by Validate.
const (
	WarnRefundSign       = "Refund with non-negative amount"
	WarnCustomerIDFormat = "Invalid customer ID format"
	warnStatusPrefix     = "Invalid status: "
	warnTimestampPrefix  = "Invalid timestamp: "
)

// timestampLayouts are tried in order when splitting a bronze timestamp.
// Fractional seconds are accepted after the seconds field of any of them.
var timestampLayouts = []string{
	domain.TimestampLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	// typed parquet timestamps, as rendered by arrow
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04",
	// month first
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	domain.DateLayout,
}

var allowedStatuses = map[string]struct{}{
	domain.StatusCompleted: {},
	domain.StatusPending:   {},
	domain.StatusFailed:    {},
	domain.StatusReversed:  {},
}

// AggregatableStatuses are the validation_status values gold accepts: clean
// rows, and refunds whose only anomaly was the sign that Validate corrected.
var AggregatableStatuses = []string{
	domain.ValidStatus,
	Verdict{Warnings: []string{WarnRefundSign}}.Status(),
}

// Verdict collects the warnings raised for one row.
type Verdict struct {
	Warnings []string
}

// Valid reports whether no rule fired.
func (v Verdict) Valid() bool {
	return len(v.Warnings) == 0
}

// Aggregatable reports whether the row may contribute to gold.
func (v Verdict) Aggregatable() bool {
	return v.Valid() || (len(v.Warnings) == 1 && v.Warnings[0] == WarnRefundSign)
}

// Status renders the verdict as a silver validation_status value.
func (v Verdict) Status() string {
	if v.Valid() {
		return domain.ValidStatus
	}
	return "WARNING: " + strings.Join(v.Warnings, "; ")
}

// Validate turns a bronze row into its silver form. Rules never reject a row:
// they either rewrite a field or record a warning, and both outcomes are
// reflected in the returned verdict. ProcessingTimestamp is left for the
// caller to stamp.
func Validate(row domain.BronzeTransaction) (domain.SilverTransaction, Verdict) {
	var v Verdict
	out := domain.SilverTransaction{
		TransactionID:            row.TransactionID,
		CustomerID:               row.CustomerID,
		Amount:                   row.Amount,
		TransactionType:          row.TransactionType,
		Merchant:                 row.Merchant,
		Category:                 row.Category,
		Status:                   row.Status,
		BronzeIngestionTimestamp: row.IngestionTimestamp,
	}

	// 1. split the timestamp
	if ts, err := parseTimestamp(row.Timestamp); err != nil {
		v.Warnings = append(v.Warnings, warnTimestampPrefix+err.Error())
	} else {
		date := ts.Format(domain.DateLayout)
		clock := ts.Format(domain.TimeLayout)
		out.TransactionDate = &date
		out.TransactionTime = &clock
	}

	// 2. refunds are always negative
	if row.TransactionType == domain.TypeRefund && row.Amount >= 0 {
		out.Amount = -math.Abs(row.Amount)
		v.Warnings = append(v.Warnings, WarnRefundSign)
	}

	// 3. customer ID format is advisory only
	if !strings.HasPrefix(row.CustomerID, CustomerIDPrefix) {
		v.Warnings = append(v.Warnings, WarnCustomerIDFormat)
	}

	// 4. unknown statuses fall back to pending
	if _, ok := allowedStatuses[normalizeStatus(row.Status)]; !ok {
		out.Status = domain.StatusPending
		v.Warnings = append(v.Warnings, warnStatusPrefix+row.Status)
	}

	out.ValidationStatus = v.Status()
	return out, v
}

func parseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
