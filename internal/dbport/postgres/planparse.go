package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sylph520/indexadvisor/internal/bandit"
)

// planNode mirrors the subset of PostgreSQL's EXPLAIN (FORMAT JSON) node
// shape the advisor needs: which index (if any) a node scanned, which
// table, and how expensive it was.
type planNode struct {
	NodeType         string     `json:"Node Type"`
	IndexName        string     `json:"Index Name,omitempty"`
	RelationName     string     `json:"Relation Name,omitempty"`
	TotalCost        float64    `json:"Total Cost"`
	ActualTotalTime  float64    `json:"Actual Total Time,omitempty"`
	ActualLoops      float64    `json:"Actual Loops,omitempty"`
	Plans            []planNode `json:"Plans,omitempty"`
}

type explainEnvelope struct {
	Plan          planNode `json:"Plan"`
	ExecutionTime float64  `json:"Execution Time,omitempty"`
	PlanningTime  float64  `json:"Planning Time,omitempty"`
}

// parseExplainJSON turns a raw EXPLAIN (FORMAT JSON) result into the
// bandit package's ExecutionResult (§6 execute_query / get_query_plan).
// clusteredIndexes maps table -> the index name treated as that table's
// clustered access path (the adapter's primary key index, by convention);
// every other index scan counts as non-clustered.
func parseExplainJSON(raw json.RawMessage, clusteredIndexes map[string]string, useAnalyzeTiming bool) (bandit.ExecutionResult, error) {
	var envelopes []explainEnvelope
	if err := json.Unmarshal(raw, &envelopes); err != nil {
		return bandit.ExecutionResult{}, fmt.Errorf("unmarshal explain output: %w", err)
	}
	if len(envelopes) == 0 {
		return bandit.ExecutionResult{}, fmt.Errorf("empty explain output")
	}

	result := bandit.ExecutionResult{ExecCost: envelopes[0].Plan.TotalCost}
	if useAnalyzeTiming && envelopes[0].ExecutionTime > 0 {
		result.ExecCost = envelopes[0].ExecutionTime
	}

	walkPlanNode(&envelopes[0].Plan, clusteredIndexes, useAnalyzeTiming, &result)
	return result, nil
}

func walkPlanNode(node *planNode, clusteredIndexes map[string]string, useAnalyzeTiming bool, result *bandit.ExecutionResult) {
	cost := node.TotalCost
	if useAnalyzeTiming && node.ActualTotalTime > 0 {
		loops := node.ActualLoops
		if loops < 1 {
			loops = 1
		}
		cost = node.ActualTotalTime * loops
	}

	switch {
	case strings.Contains(node.NodeType, "Seq Scan"):
		result.TableScans = append(result.TableScans, bandit.TableScanEntry{
			Table:   node.RelationName,
			Elapsed: cost,
		})
	case strings.Contains(node.NodeType, "Index"):
		if node.IndexName != "" {
			usage := bandit.IndexUsage{
				IndexName:   node.IndexName,
				Table:       node.RelationName,
				Elapsed:     cost,
				SubtreeCost: node.TotalCost,
			}
			if clusteredIndexes[node.RelationName] == node.IndexName {
				result.ClusteredUsage = append(result.ClusteredUsage, usage)
			} else {
				result.NonClusteredUsage = append(result.NonClusteredUsage, usage)
			}
		}
	}

	for i := range node.Plans {
		walkPlanNode(&node.Plans[i], clusteredIndexes, useAnalyzeTiming, result)
	}
}

// isUnsafeToExplain rejects DDL/utility statements so the advisor never
// runs EXPLAIN against something that mutates state outside its own index
// lifecycle calls.
func isUnsafeToExplain(query string) bool {
	lower := strings.ToLower(strings.TrimSpace(query))
	unsafe := []string{
		"create ", "alter ", "drop ", "truncate ", "grant ", "revoke ",
		"vacuum ", "copy ", "set ", "begin", "commit", "rollback",
	}
	for _, p := range unsafe {
		if strings.HasPrefix(lower, p) || strings.Contains(lower, " "+p) {
			return true
		}
	}
	return false
}
