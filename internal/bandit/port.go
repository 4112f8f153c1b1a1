package bandit

import "context"

// IndexUsage is one operator's usage of an index while executing a
// query (§6 execute_query / get_query_plan "usage entry").
type IndexUsage struct {
	IndexName   string
	Table       string
	Elapsed     float64
	CPU         float64
	SubtreeCost float64
	RowsIn      int64
	RowsOut     int64
}

// TableScanEntry is one full (or clustered-index) table scan observed
// while executing a query.
type TableScanEntry struct {
	Table   string
	Elapsed float64
}

// ExecutionResult is what execute_query/get_query_plan return (§6): the
// overall cost plus the three usage arrays the reward computation and
// scan-time histories are built from.
type ExecutionResult struct {
	ExecCost          float64
	NonClusteredUsage []IndexUsage
	ClusteredUsage    []IndexUsage
	TableScans        []TableScanEntry
}

// ExecutionPort is the slice of the database port the round driver
// needs beyond selectivity/size/catalog lookups: index lifecycle and
// query execution (§6).
type ExecutionPort interface {
	CreateIndex(ctx context.Context, table string, keyCols, includeCols []string, name string) (creationCost float64, err error)
	DropIndex(ctx context.Context, name, table string) error
	ExecuteQuery(ctx context.Context, sql string) (ExecutionResult, error)
	CurrentPDSSize(ctx context.Context) (float64, error)
	DatabaseSize(ctx context.Context) (float64, error)
	DropAllNonClustered(ctx context.Context) error
}

// HypotheticalPort is implemented by adapters that can explore
// candidate indexes without materializing them (§9 "Hypothetical-index
// rounds"). Absent this capability, hyp_rounds must be configured to 0.
type HypotheticalPort interface {
	CreateHypotheticalIndex(ctx context.Context, table string, keyCols, includeCols []string, name string) error
	DropHypotheticalIndex(ctx context.Context, name, table string) error
	ExecuteQueryHypothetical(ctx context.Context, sql string) (ExecutionResult, error)
}

// Port is the full database port surface the core needs (§6). Concrete
// adapters (internal/dbport/postgres, internal/dbport/mysql) implement
// it; the core only ever depends on this interface.
type Port interface {
	CatalogSource
	SizeSource
	SelectivitySource
	ExecutionPort
}
