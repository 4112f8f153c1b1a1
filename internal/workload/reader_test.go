package workload

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesJSONLines(t *testing.T) {
	input := strings.NewReader(`
{"id": 1, "query_string": "SELECT 1", "predicates": {"t": ["a"]}, "payload": {}}

{"id": 2, "query_string": "SELECT 2", "predicates": {"t": ["b"]}, "payload": {"t": ["c"]}}
`)
	queries, err := Load(input, nil)
	require.NoError(t, err)
	require.Len(t, queries, 2)
	assert.Equal(t, int64(1), queries[0].ID)
	assert.Equal(t, []string{"b"}, queries[1].Predicates["t"])
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	input := strings.NewReader("not json\n")
	_, err := Load(input, nil)
	assert.Error(t, err)
}

func TestWindowerRotatesOnShiftBoundary(t *testing.T) {
	all := make([]Query, 10)
	for i := range all {
		all[i] = Query{ID: int64(i)}
	}

	w, err := NewWindower(all, []int{0, 5}, []int{0, 5}, []int{5, 10})
	require.NoError(t, err)

	batch, shift := w.BatchForRound(0)
	assert.True(t, shift)
	assert.Len(t, batch, 5)
	assert.Equal(t, int64(0), batch[0].ID)

	batch, shift = w.BatchForRound(3)
	assert.False(t, shift)
	assert.Len(t, batch, 5)
	assert.Equal(t, int64(0), batch[0].ID)

	batch, shift = w.BatchForRound(5)
	assert.True(t, shift)
	assert.Len(t, batch, 5)
	assert.Equal(t, int64(5), batch[0].ID)

	// Rounds past the last declared window keep replaying it.
	batch, shift = w.BatchForRound(100)
	assert.False(t, shift)
	assert.Len(t, batch, 5)
	assert.Equal(t, int64(5), batch[0].ID)
}

func TestNewWindowerDefaultsToSingleWindow(t *testing.T) {
	all := make([]Query, 3)
	w, err := NewWindower(all, nil, nil, nil)
	require.NoError(t, err)
	batch, _ := w.BatchForRound(0)
	assert.Len(t, batch, 3)
}
