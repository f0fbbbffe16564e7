package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

const parquetReadChunk = 4096

// ReadParquetFile reads every row group of a parquet file into a batch.
// Column types are not fixed: each cell is read through its string form and
// coerced, so int, float and string encoded amounts are all accepted.
func ReadParquetFile(path string) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	return readParquet(f, filepath.Base(path))
}

func readParquet(r parquet.ReaderAtSeeker, source string) (*Batch, error) {
	pool := memory.NewGoAllocator()

	tbl, err := pqarrow.ReadTable(context.Background(), r, parquet.NewReaderProperties(pool),
		pqarrow.ArrowReadProperties{}, pool)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", source, err)
	}
	defer tbl.Release()

	fields := tbl.Schema().Fields()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = strings.ToLower(strings.TrimSpace(f.Name))
	}

	batch := &Batch{Source: source, Columns: columns}
	if len(batch.MissingColumns()) > 0 {
		return batch, nil
	}

	tr := array.NewTableReader(tbl, parquetReadChunk)
	defer tr.Release()

	rowNum := 0
	for tr.Next() {
		rec := tr.Record()
		for i := 0; i < int(rec.NumRows()); i++ {
			rowNum++
			row := make(record, len(columns))
			for c, col := range columns {
				arr := rec.Column(c)
				if arr.IsNull(i) {
					continue
				}
				row[col] = arr.ValueStr(i)
			}
			raw, err := toRaw(row)
			if err != nil {
				return nil, fmt.Errorf("parquet row %d: %w", rowNum, err)
			}
			batch.Rows = append(batch.Rows, raw)
		}
	}
	if err := tr.Err(); err != nil {
		return nil, fmt.Errorf("iterate parquet %s: %w", source, err)
	}

	return batch, nil
}
