package bandit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSelectivitySource struct {
	calls int
	sel   map[string]float64
}

func (f *fakeSelectivitySource) GetSelectivity(_ context.Context, _ string, _ map[string][]string) (map[string]float64, error) {
	f.calls++
	out := make(map[string]float64, len(f.sel))
	for k, v := range f.sel {
		out[k] = v
	}
	return out, nil
}

func TestQueryStoreObserveMemoizesSelectivity(t *testing.T) {
	src := &fakeSelectivitySource{sel: map[string]float64{"t": 0.1}}
	store, err := NewQueryStore(src, 0, 1000)
	require.NoError(t, err)

	_, err = store.Observe(context.Background(), 1, "SELECT 1", nil, nil, 1)
	require.NoError(t, err)
	_, err = store.Observe(context.Background(), 2, "SELECT 1", nil, nil, 1) // identical string, different id
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls, "identical query string should hit the memo, not re-query the port")
}

func TestQueryStoreClassifyPastVsNew(t *testing.T) {
	src := &fakeSelectivitySource{sel: map[string]float64{}}
	store, err := NewQueryStore(src, 0, 1000)
	require.NoError(t, err)

	_, err = store.Observe(context.Background(), 1, "Q1", nil, nil, 1)
	require.NoError(t, err)

	_, err = store.Observe(context.Background(), 2, "Q2", nil, nil, 2)
	require.NoError(t, err)
	_, err = store.Observe(context.Background(), 1, "Q1", nil, nil, 2) // re-seen at round 2

	past, newThisRound := store.Classify([]int64{1, 2}, 2)
	assert.ElementsMatch(t, []int64{1}, past)
	assert.ElementsMatch(t, []int64{2}, newThisRound)
}

func TestQueryStoreGCMarksForgotten(t *testing.T) {
	src := &fakeSelectivitySource{sel: map[string]float64{}}
	store, err := NewQueryStore(src, 0, 1000)
	require.NoError(t, err)

	_, err = store.Observe(context.Background(), 1, "Q1", nil, nil, 1)
	require.NoError(t, err)

	store.GC(100, 10) // round 100, memory window 10 => last_seen(1) far in the past

	rec, ok := store.Get(1)
	require.True(t, ok)
	assert.True(t, rec.IsForgotten())

	past, _ := store.Classify([]int64{1}, 100)
	assert.Empty(t, past, "forgotten records must be excluded from the past-seen set")
}

func TestRecordScanTimeTrimsFIFO(t *testing.T) {
	rec := &Record{}
	for i := 0; i < 5; i++ {
		rec.RecordScanTime(ScanTable, "t", float64(i), 3)
	}
	assert.Equal(t, []float64{2, 3, 4}, rec.ScanTimes(ScanTable, "t"))
}

func TestRecordScanTimeKeepsTablesSeparate(t *testing.T) {
	rec := &Record{}
	rec.RecordScanTime(ScanTable, "orders", 10, 1000)
	rec.RecordScanTime(ScanTable, "customers", 20, 1000)
	assert.Equal(t, []float64{10}, rec.ScanTimes(ScanTable, "orders"))
	assert.Equal(t, []float64{20}, rec.ScanTimes(ScanTable, "customers"))
}
