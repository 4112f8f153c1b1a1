package mysql

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlan = `{
  "query_block": {
    "cost_info": {"query_cost": "42.50"},
    "nested_loop": [
      {
        "table": {
          "table_name": "orders",
          "access_type": "ALL",
          "cost_info": {"read_cost": "30.00"}
        }
      },
      {
        "table": {
          "table_name": "customers",
          "access_type": "eq_ref",
          "key": "PRIMARY",
          "cost_info": {"read_cost": "1.00"}
        }
      },
      {
        "table": {
          "table_name": "orders",
          "access_type": "ref",
          "key": "ix_orders_customer",
          "cost_info": {"read_cost": "2.50"}
        }
      }
    ]
  }
}`

func TestParseExplainJSONWalksNestedLoop(t *testing.T) {
	result, err := parseExplainJSON(json.RawMessage(samplePlan))
	require.NoError(t, err)

	assert.Equal(t, 42.5, result.ExecCost)

	require.Len(t, result.TableScans, 1)
	assert.Equal(t, "orders", result.TableScans[0].Table)

	require.Len(t, result.ClusteredUsage, 1)
	assert.Equal(t, "PRIMARY", result.ClusteredUsage[0].IndexName)

	require.Len(t, result.NonClusteredUsage, 1)
	assert.Equal(t, "ix_orders_customer", result.NonClusteredUsage[0].IndexName)
}

func TestParseExplainJSONRejectsMalformedInput(t *testing.T) {
	_, err := parseExplainJSON(json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestToFloatHandlesStringAndNumber(t *testing.T) {
	assert.Equal(t, 1.5, toFloat("1.5"))
	assert.Equal(t, 2.0, toFloat(2.0))
	assert.Equal(t, 0.0, toFloat(nil))
}
