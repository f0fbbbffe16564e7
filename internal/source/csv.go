package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ReadCSVFile reads a CSV file whose first line is the header.
func ReadCSVFile(path string) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	return ReadCSV(f, filepath.Base(path))
}

// ReadCSV reads CSV rows from r. The batch keeps the header it found even when
// required columns are missing, so the loader can reject it before writing.
func ReadCSV(r io.Reader, source string) (*Batch, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Batch{Source: source}, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	batch := &Batch{Source: source, Columns: columns}
	if len(batch.MissingColumns()) > 0 {
		return batch, nil
	}

	for line := 2; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		rec := make(record, len(columns))
		for i, col := range columns {
			if i < len(fields) {
				rec[col] = fields[i]
			}
		}
		raw, err := toRaw(rec)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		batch.Rows = append(batch.Rows, raw)
	}

	return batch, nil
}
