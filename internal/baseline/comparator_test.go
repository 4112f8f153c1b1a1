package baseline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticComparatorAlwaysRecommendsFixed(t *testing.T) {
	fixed := Superarm{Indexes: []IndexCandidate{{Table: "orders", KeyCols: []string{"customer_id"}}}}
	c := NewStaticComparator(fixed)

	got, err := c.Recommend(context.Background(), RoundState{Round: 1})
	require.NoError(t, err)
	assert.Equal(t, fixed, got)

	got, err = c.Recommend(context.Background(), RoundState{Round: 50})
	require.NoError(t, err)
	assert.Equal(t, fixed, got)
	assert.Equal(t, "static", c.Name())
}

func TestNoopComparatorReturnsError(t *testing.T) {
	c := NewNoopComparator("dta")
	_, err := c.Recommend(context.Background(), RoundState{})
	assert.Error(t, err)
	assert.Equal(t, "dta", c.Name())
}
