package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
	"github.com/dvloznov/medallion-pipeline/internal/store"
)

// FileTimestampLayout is the timestamp embedded in exported file names.
const FileTimestampLayout = "20060102_150405"

// Artifact is one exported layer file.
type Artifact struct {
	Layer domain.Layer `json:"layer"`
	Path  string       `json:"path"`
	Rows  int          `json:"rows"`
}

// Exporter writes layer tables to parquet files under Dir.
type Exporter struct {
	store *store.Store
	dir   string
	log   zerolog.Logger
	now   func() time.Time
	pool  memory.Allocator
}

// NewExporter creates an exporter writing into dir.
func NewExporter(s *store.Store, dir string, log zerolog.Logger) *Exporter {
	return &Exporter{
		store: s,
		dir:   dir,
		log:   log.With().Str("component", "export").Logger(),
		now:   time.Now,
		pool:  memory.NewGoAllocator(),
	}
}

// Dir returns the output directory.
func (e *Exporter) Dir() string { return e.dir }

// ExportAll exports bronze, silver and gold. A failing layer does not stop
// the others; the returned error combines every failure.
func (e *Exporter) ExportAll(ctx context.Context) ([]Artifact, error) {
	var (
		artifacts []Artifact
		errs      error
	)
	for _, layer := range domain.Layers {
		a, err := e.ExportLayer(ctx, layer)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, errs
}

// ExportLayer writes every row of layer to <dir>/<table>_<timestamp>.parquet.
func (e *Exporter) ExportLayer(ctx context.Context, layer domain.Layer) (Artifact, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create export dir: %w", err)
	}

	var (
		rec arrow.Record
		err error
	)
	switch layer {
	case domain.LayerBronze:
		rec, err = e.bronzeRecord(ctx)
	case domain.LayerSilver:
		rec, err = e.silverRecord(ctx)
	case domain.LayerGold:
		rec, err = e.goldRecord(ctx)
	default:
		return Artifact{}, fmt.Errorf("%w: %q", domain.ErrUnknownLayer, layer)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("export %s: %w", layer, err)
	}
	defer rec.Release()

	name := fmt.Sprintf("%s_%s.parquet", layer.Table(), e.now().Format(FileTimestampLayout))
	path := filepath.Join(e.dir, name)
	if err := writeParquet(path, rec); err != nil {
		return Artifact{}, fmt.Errorf("export %s: %w", layer, err)
	}

	a := Artifact{Layer: layer, Path: path, Rows: int(rec.NumRows())}
	e.log.Info().
		Str("layer", string(layer)).
		Str("path", path).
		Int("rows", a.Rows).
		Msg("Exported layer to parquet")
	return a, nil
}

func writeParquet(path string, rec arrow.Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	writer, err := pqarrow.NewFileWriter(rec.Schema(), f, nil, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write parquet record: %w", err)
	}
	// Close also closes f.
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}
