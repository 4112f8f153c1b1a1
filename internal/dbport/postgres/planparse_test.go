package postgres

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlan = `[{
  "Plan": {
    "Node Type": "Hash Join",
    "Total Cost": 123.45,
    "Plans": [
      {
        "Node Type": "Seq Scan",
        "Relation Name": "orders",
        "Total Cost": 80.0,
        "Actual Total Time": 2.5,
        "Actual Loops": 3
      },
      {
        "Node Type": "Index Scan",
        "Index Name": "orders_pkey",
        "Relation Name": "orders",
        "Total Cost": 5.0,
        "Actual Total Time": 0.1,
        "Actual Loops": 1
      },
      {
        "Node Type": "Index Scan",
        "Index Name": "ix_orders_customer",
        "Relation Name": "orders",
        "Total Cost": 10.0,
        "Actual Total Time": 0.2,
        "Actual Loops": 1
      }
    ]
  },
  "Execution Time": 99.9
}]`

func TestParseExplainJSONSplitsClusteredAndNonClustered(t *testing.T) {
	clustered := map[string]string{"orders": "orders_pkey"}

	result, err := parseExplainJSON(json.RawMessage(samplePlan), clustered, false)
	require.NoError(t, err)

	require.Len(t, result.TableScans, 1)
	assert.Equal(t, "orders", result.TableScans[0].Table)

	require.Len(t, result.ClusteredUsage, 1)
	assert.Equal(t, "orders_pkey", result.ClusteredUsage[0].IndexName)

	require.Len(t, result.NonClusteredUsage, 1)
	assert.Equal(t, "ix_orders_customer", result.NonClusteredUsage[0].IndexName)
}

func TestParseExplainJSONUsesPlanCostWhenNotAnalyzing(t *testing.T) {
	result, err := parseExplainJSON(json.RawMessage(samplePlan), nil, false)
	require.NoError(t, err)
	assert.Equal(t, 123.45, result.ExecCost)
}

func TestParseExplainJSONUsesExecutionTimeWhenAnalyzing(t *testing.T) {
	result, err := parseExplainJSON(json.RawMessage(samplePlan), nil, true)
	require.NoError(t, err)
	assert.Equal(t, 99.9, result.ExecCost)
}

func TestParseExplainJSONRejectsEmptyArray(t *testing.T) {
	_, err := parseExplainJSON(json.RawMessage(`[]`), nil, false)
	assert.Error(t, err)
}

func TestParseExplainJSONRejectsMalformedInput(t *testing.T) {
	_, err := parseExplainJSON(json.RawMessage(`not json`), nil, false)
	assert.Error(t, err)
}

func TestIsUnsafeToExplain(t *testing.T) {
	unsafe := []string{
		"CREATE INDEX ix_foo ON bar (a)",
		"drop index ix_foo",
		"TRUNCATE bar",
		"begin",
	}
	for _, q := range unsafe {
		assert.True(t, isUnsafeToExplain(q), q)
	}

	assert.False(t, isUnsafeToExplain("SELECT * FROM orders WHERE id = 1"))
}
