package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylph520/indexadvisor/internal/bandit"
)

func TestCSVSinkWritesRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	sink, err := NewCSVSink(Config{CSVPath: path, FlushEachRound: true}, nil)
	require.NoError(t, err)

	report := bandit.RoundReport{
		Round: 1,
		Metrics: []bandit.RoundMetric{
			{Round: 1, MeasureName: bandit.MeasureBatchTime, Value: 1.5},
			{Round: 1, MeasureName: bandit.MeasureCreationCost, Value: 0.25},
		},
	}
	require.NoError(t, sink.Write(report, 3))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"1", "batch_time", "1.5"}, rows[1])
	assert.Equal(t, []string{"1", "creation_cost", "0.25"}, rows[2])
}

func TestMultiSinkWithoutRegistryOmitsPrometheus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	multi, metrics, err := NewMultiSink(Config{CSVPath: path}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, metrics)
	require.NoError(t, multi.Write(bandit.RoundReport{Round: 1}, 0))
	require.NoError(t, multi.Close())
}
