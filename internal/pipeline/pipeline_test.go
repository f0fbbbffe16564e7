package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/medallion-pipeline/internal/domain"
	"github.com/dvloznov/medallion-pipeline/internal/export"
	"github.com/dvloznov/medallion-pipeline/internal/metrics"
	"github.com/dvloznov/medallion-pipeline/internal/pipeline"
	"github.com/dvloznov/medallion-pipeline/internal/source"
	"github.com/dvloznov/medallion-pipeline/internal/store"
	"github.com/dvloznov/medallion-pipeline/internal/store/storetest"
)

func endToEndBatch() *source.Batch {
	return &source.Batch{
		Source:  "e2e.csv",
		Columns: source.RequiredColumns,
		Rows: []domain.RawTransaction{
			{TransactionID: "T1", TransactionType: "purchase", Amount: 20.0, CustomerID: "CUST1",
				Status: "completed", Timestamp: "2024-01-01 09:15:00", Category: "food"},
			{TransactionID: "T2", TransactionType: "refund", Amount: 15.0, CustomerID: "CUST2",
				Status: "completed", Timestamp: "2024-01-01 17:40:00", Category: "food"},
		},
	}
}

func TestEndToEnd(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	exporter := export.NewExporter(s, t.TempDir(), zerolog.Nop())

	orch := pipeline.New(s, zerolog.Nop(), m, pipeline.NewExportHook(exporter, zerolog.Nop()))

	report, err := orch.Run(ctx, endToEndBatch())
	require.NoError(t, err)

	assert.True(t, report.Succeeded())
	assert.Equal(t, []pipeline.State{
		pipeline.StateInit, pipeline.StateBronze, pipeline.StateSilver,
		pipeline.StateGold, pipeline.StateExport, pipeline.StateDone,
	}, report.Transitions)
	assert.Equal(t, domain.LayerStats{Bronze: 2, Silver: 2, Gold: 2}, report.Stats)
	assert.True(t, report.Exported)
	require.Len(t, report.Artifacts, 3)
	for _, a := range report.Artifacts {
		_, err := os.Stat(a.Path)
		assert.NoError(t, err)
	}

	gold, err := store.SelectAll[domain.DailySummary](ctx, s.DB(), store.OrderBy("transaction_type"))
	require.NoError(t, err)
	require.Len(t, gold, 2)

	purchase := gold[0]
	assert.Equal(t, domain.SummaryKey{Date: "2024-01-01", Type: "purchase", Category: "food"}, purchase.Key())
	assert.EqualValues(t, 1, purchase.TransactionCount)
	assert.Equal(t, 20.0, purchase.TotalAmount)
	assert.Equal(t, 20.0, purchase.AvgAmount)
	assert.Equal(t, 20.0, purchase.MinAmount)
	assert.Equal(t, 20.0, purchase.MaxAmount)

	refund := gold[1]
	assert.Equal(t, domain.SummaryKey{Date: "2024-01-01", Type: "refund", Category: "food"}, refund.Key())
	assert.EqualValues(t, 1, refund.TransactionCount)
	assert.Equal(t, -15.0, refund.TotalAmount)
	assert.Equal(t, -15.0, refund.AvgAmount)

	expected := `
# HELP medallion_runs_total Pipeline runs by final state.
# TYPE medallion_runs_total counter
medallion_runs_total{state="DONE"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "medallion_runs_total"))
}

func TestEndToEnd_RerunIsNoOp(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	orch := pipeline.New(s, zerolog.Nop(), nil)

	first, err := orch.Run(ctx, endToEndBatch())
	require.NoError(t, err)
	second, err := orch.Run(ctx, endToEndBatch())
	require.NoError(t, err)

	assert.Equal(t, first.Stats, second.Stats)
	assert.Equal(t, 0, second.BronzeInserted)
	assert.Equal(t, 0, second.Silver.Processed)
	assert.Equal(t, 0, second.Gold.Summaries)
	assert.False(t, second.Exported, "no hooks configured")
	assert.NotContains(t, second.Transitions, pipeline.StateExport)
}

func TestEndToEnd_StructuralRejection(t *testing.T) {
	s := storetest.New(t)
	orch := pipeline.New(s, zerolog.Nop(), nil)

	batch := endToEndBatch()
	batch.Columns = []string{"transaction_id", "amount"}

	report, err := orch.Run(context.Background(), batch)

	require.ErrorIs(t, err, pipeline.ErrMissingColumns)
	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.StateBronze, stageErr.Stage)
	assert.Equal(t, pipeline.StateFailed, report.State)
	assert.Equal(t, pipeline.StateBronze, report.FailedStage)
	assert.Equal(t, domain.LayerStats{}, report.Stats)
}

func TestEndToEnd_UnreadableInputFailsAtBronze(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	orch := pipeline.New(s, zerolog.Nop(), nil)

	_, err := orch.Run(ctx, endToEndBatch())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "blank_amount.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(source.RequiredColumns, ",")+"\n"+
		"T3,CUST3,2024-01-02 10:00:00,,purchase,,,completed\n"), 0o600))

	report, err := orch.Run(ctx, source.Load(path))
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrUnreadableInput)
	assert.ErrorIs(t, err, source.ErrEmptyAmount)

	assert.Equal(t, pipeline.StateFailed, report.State)
	assert.Equal(t, pipeline.StateBronze, report.FailedStage)
	assert.Equal(t, domain.LayerStats{Bronze: 2, Silver: 2, Gold: 2}, report.Stats, "earlier data is untouched")
}
