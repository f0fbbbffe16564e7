package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is a table row the generic operations can work with.
type Record interface {
	TableName() string
	KeyColumns() []string
}

const writeBatchSize = 500

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Option narrows or shapes a SelectAll query. Values are always bound as
// parameters.
type Option func(*gorm.DB) *gorm.DB

// Where adds a parameterized predicate, e.g. Where("amount > ?", 10).
func Where(query string, args ...interface{}) Option {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	}
}

// OrderBy orders the result by a column expression such as "summary_date DESC".
func OrderBy(expr string) Option {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order(expr)
	}
}

// Limit caps the number of rows returned.
func Limit(n int) Option {
	return func(db *gorm.DB) *gorm.DB {
		return db.Limit(n)
	}
}

// Columns restricts the selected columns.
func Columns(cols ...string) Option {
	return func(db *gorm.DB) *gorm.DB {
		return db.Select(cols)
	}
}

// SelectAll returns every row of T's table matching opts.
func SelectAll[T Record](ctx context.Context, db *gorm.DB, opts ...Option) ([]T, error) {
	var zero T
	q := db.WithContext(ctx).Table(zero.TableName())
	for _, opt := range opts {
		q = opt(q)
	}

	var rows []T
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select from %s: %w", zero.TableName(), err)
	}
	return rows, nil
}

// SelectMissing returns the rows of T whose key does not appear in table
// other. Both tables must name their key columns the same way.
func SelectMissing[T Record](ctx context.Context, db *gorm.DB, other string) ([]T, error) {
	var zero T
	table := zero.TableName()
	keys := zero.KeyColumns()
	if !identifierPattern.MatchString(other) {
		return nil, fmt.Errorf("select missing from %s: invalid table name %q", table, other)
	}

	on := make([]string, len(keys))
	for i, k := range keys {
		on[i] = fmt.Sprintf("t.%s = o.%s", k, k)
	}

	var rows []T
	err := db.WithContext(ctx).
		Table(table + " AS t").
		Select("t.*").
		Joins(fmt.Sprintf("LEFT JOIN %s AS o ON %s", other, strings.Join(on, " AND "))).
		Where(fmt.Sprintf("o.%s IS NULL", keys[0])).
		Order("t." + keys[0]).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("select %s missing from %s: %w", table, other, err)
	}
	return rows, nil
}

// Append bulk-inserts rows. Existing keys make the insert fail.
func Append[T Record](ctx context.Context, db *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	if err := db.WithContext(ctx).CreateInBatches(&rows, writeBatchSize).Error; err != nil {
		var zero T
		return fmt.Errorf("append to %s: %w", zero.TableName(), err)
	}
	return nil
}

// Upsert inserts rows, replacing every column of a row whose key already
// exists.
func Upsert[T Record](ctx context.Context, db *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	var zero T
	keys := zero.KeyColumns()
	cols := make([]clause.Column, len(keys))
	for i, k := range keys {
		cols[i] = clause.Column{Name: k}
	}

	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: cols, UpdateAll: true}).
		CreateInBatches(&rows, writeBatchSize).Error
	if err != nil {
		return fmt.Errorf("upsert into %s: %w", zero.TableName(), err)
	}
	return nil
}
