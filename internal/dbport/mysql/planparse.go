package mysql

import (
	"encoding/json"
	"fmt"

	"github.com/sylph520/indexadvisor/internal/bandit"
)

// parseExplainJSON walks a MySQL EXPLAIN FORMAT=JSON document. Unlike
// PostgreSQL's plan shape, MySQL's is a deeply nested, loosely-typed tree
// (query_block / nested_loop / table, optionally wrapped in
// attached_subqueries, unions, etc.), so it's walked generically rather
// than unmarshaled into a fixed struct.
func parseExplainJSON(raw json.RawMessage) (bandit.ExecutionResult, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return bandit.ExecutionResult{}, fmt.Errorf("unmarshal explain output: %w", err)
	}

	result := bandit.ExecutionResult{}
	if qb, ok := doc["query_block"].(map[string]interface{}); ok {
		if cost, ok := readCost(qb); ok {
			result.ExecCost = cost
		}
		walkNode(qb, &result)
	}
	return result, nil
}

func readCost(node map[string]interface{}) (float64, bool) {
	costInfo, ok := node["cost_info"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	raw, ok := costInfo["query_cost"]
	if !ok {
		raw, ok = costInfo["read_cost"]
	}
	if !ok {
		return 0, false
	}
	return toFloat(raw), true
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		var f float64
		fmt.Sscanf(n, "%f", &f)
		return f
	default:
		return 0
	}
}

// walkNode recursively visits every object in the plan tree, extracting a
// TableScanEntry or IndexUsage whenever it finds a "table" node.
func walkNode(node map[string]interface{}, result *bandit.ExecutionResult) {
	if table, ok := node["table"].(map[string]interface{}); ok {
		visitTableNode(table, result)
	}
	for _, v := range node {
		switch child := v.(type) {
		case map[string]interface{}:
			walkNode(child, result)
		case []interface{}:
			for _, item := range child {
				if m, ok := item.(map[string]interface{}); ok {
					walkNode(m, result)
				}
			}
		}
	}
}

func visitTableNode(table map[string]interface{}, result *bandit.ExecutionResult) {
	tableName, _ := table["table_name"].(string)
	accessType, _ := table["access_type"].(string)
	keyName, _ := table["key"].(string)

	cost := 0.0
	if costInfo, ok := table["cost_info"].(map[string]interface{}); ok {
		if v, ok := costInfo["read_cost"]; ok {
			cost = toFloat(v)
		}
	}

	if accessType == "ALL" || keyName == "" {
		result.TableScans = append(result.TableScans, bandit.TableScanEntry{Table: tableName, Elapsed: cost})
		return
	}

	usage := bandit.IndexUsage{IndexName: keyName, Table: tableName, Elapsed: cost, SubtreeCost: cost}
	if keyName == "PRIMARY" {
		result.ClusteredUsage = append(result.ClusteredUsage, usage)
	} else {
		result.NonClusteredUsage = append(result.NonClusteredUsage, usage)
	}
}
