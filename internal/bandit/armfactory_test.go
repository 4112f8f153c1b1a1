package bandit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSizeSource struct{}

func (fakeSizeSource) EstimateIndexSize(_ context.Context, _ string, keyCols, includeCols []string) (float64, error) {
	return float64(len(keyCols)+len(includeCols)) * 10, nil
}

// S1 — two-query static workload: T(a,b,c) 1e6 rows, U(x,y) 500 rows.
func TestArmFactoryGeneratesCoveringArmAndIgnoresSmallTable(t *testing.T) {
	catalog := &Catalog{
		Tables: map[string]TableInfo{
			"T": {Name: "T", RowCount: 1_000_000},
			"U": {Name: "U", RowCount: 500},
		},
	}
	store := NewArmStore()
	cfg := DefaultArmFactoryConfig()
	factory := NewArmFactory(cfg, catalog, fakeSizeSource{}, store)

	q1 := &Record{
		ID:          1,
		Predicates:  map[string][]string{"T": {"a", "b"}},
		Payload:     map[string][]string{"T": {"c"}},
		Selectivity: map[string]float64{"T": 0.1},
	}
	q2 := &Record{
		ID:          2,
		Predicates:  map[string][]string{"T": {"a"}},
		Payload:     map[string][]string{},
		Selectivity: map[string]float64{"T": 0.1},
	}

	_, err := factory.GenerateForQuery(context.Background(), q1)
	require.NoError(t, err)
	_, err = factory.GenerateForQuery(context.Background(), q2)
	require.NoError(t, err)

	coveringFP := Fingerprint("T", []string{"a", "b"}, []string{"c"})
	arm, ok := store.Get(coveringFP)
	require.True(t, ok, "covering arm (T,[a,b],[c]) must be generated")
	assert.True(t, arm.IsInclude)
	assert.Equal(t, "T_1_all", arm.Cluster)

	for fp := range store.All() {
		table, _, _, _ := ParseFingerprint(fp)
		assert.NotEqual(t, "U", table, "table U is below SMALL_TABLE_IGNORE and must never produce an arm")
	}
}

func TestArmFactoryPermutationCountMatchesNonEmptyPermutations(t *testing.T) {
	catalog := &Catalog{Tables: map[string]TableInfo{"T": {Name: "T", RowCount: 1_000_000}}}
	store := NewArmStore()
	cfg := DefaultArmFactoryConfig()
	cfg.IndexIncludes = false
	factory := NewArmFactory(cfg, catalog, fakeSizeSource{}, store)

	rec := &Record{
		ID:          1,
		Predicates:  map[string][]string{"T": {"a", "b"}},
		Payload:     map[string][]string{},
		Selectivity: map[string]float64{"T": 0.1},
	}
	touched, err := factory.GenerateForQuery(context.Background(), rec)
	require.NoError(t, err)

	// Non-empty permutations of {a,b}: (a) (b) (a,b) (b,a) = 4.
	assert.Len(t, touched, 4)
}

func TestArmFactoryValueForgettingSmoother(t *testing.T) {
	catalog := &Catalog{Tables: map[string]TableInfo{"T": {Name: "T", RowCount: 1_000_000}}}
	store := NewArmStore()
	cfg := DefaultArmFactoryConfig()
	cfg.IndexIncludes = false
	factory := NewArmFactory(cfg, catalog, fakeSizeSource{}, store)

	rec := &Record{
		ID:          7,
		Predicates:  map[string][]string{"T": {"a"}},
		Payload:     map[string][]string{},
		Selectivity: map[string]float64{"T": 0.5},
	}
	_, err := factory.GenerateForQuery(context.Background(), rec)
	require.NoError(t, err)

	fp := Fingerprint("T", []string{"a"}, nil)
	arm, ok := store.Get(fp)
	require.True(t, ok)
	first := arm.Value[7]

	rec.Selectivity["T"] = 0.1 // selectivity changed between rounds
	_, err = factory.GenerateForQuery(context.Background(), rec)
	require.NoError(t, err)

	second := (1 - 0.1) * (1.0 / 1.0) * 1_000_000
	assert.Equal(t, (first+second)/2, arm.Value[7])
}
