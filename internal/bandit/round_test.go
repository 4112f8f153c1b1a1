package bandit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort is a minimal in-memory Port implementation for round-driver
// tests: no real database, deterministic costs.
type fakePort struct {
	tables  map[string]TableInfo
	columns map[string][]string
	created map[string]bool
	dbSize  float64
}

func newFakePort() *fakePort {
	return &fakePort{
		tables: map[string]TableInfo{
			"orders": {Name: "orders", RowCount: 1_000_000},
		},
		columns: map[string][]string{
			"orders": {"customer_id", "order_date", "status", "total"},
		},
		created: make(map[string]bool),
		dbSize:  10_000,
	}
}

func (p *fakePort) ListTables(context.Context) (map[string]TableInfo, error) { return p.tables, nil }

func (p *fakePort) ListAllColumns(context.Context) (map[string][]string, int, error) {
	total := 0
	for _, cols := range p.columns {
		total += len(cols)
	}
	return p.columns, total, nil
}

func (p *fakePort) EstimateIndexSize(_ context.Context, _ string, keyCols, includeCols []string) (float64, error) {
	return float64(len(keyCols)+len(includeCols)) * 5, nil
}

func (p *fakePort) GetSelectivity(_ context.Context, _ string, predicates map[string][]string) (map[string]float64, error) {
	out := make(map[string]float64, len(predicates))
	for t := range predicates {
		out[t] = 0.1
	}
	return out, nil
}

func (p *fakePort) CreateIndex(_ context.Context, _ string, keyCols, includeCols []string, name string) (float64, error) {
	p.created[name] = true
	return float64(len(keyCols)+len(includeCols)) * 2, nil
}

func (p *fakePort) DropIndex(_ context.Context, name, _ string) error {
	delete(p.created, name)
	return nil
}

func (p *fakePort) ExecuteQuery(_ context.Context, _ string) (ExecutionResult, error) {
	var usage []IndexUsage
	for name := range p.created {
		usage = append(usage, IndexUsage{IndexName: name, Table: "orders", Elapsed: 1})
	}
	return ExecutionResult{
		ExecCost:          10,
		NonClusteredUsage: usage,
		TableScans:        []TableScanEntry{{Table: "orders", Elapsed: 50}},
	}, nil
}

func (p *fakePort) CurrentPDSSize(context.Context) (float64, error) { return float64(len(p.created)) * 5, nil }
func (p *fakePort) DatabaseSize(context.Context) (float64, error)   { return p.dbSize, nil }
func (p *fakePort) DropAllNonClustered(context.Context) error {
	p.created = make(map[string]bool)
	return nil
}

func buildTestDriver(t *testing.T, port *fakePort, budget Budget) *RoundDriver {
	t.Helper()
	catalog, err := LoadCatalog(context.Background(), port)
	require.NoError(t, err)

	store, err := NewQueryStore(port, 0, 1000)
	require.NoError(t, err)

	armStore := NewArmStore()
	armFactory := NewArmFactory(DefaultArmFactoryConfig(), catalog, port, armStore)
	encoder := NewContextEncoder(catalog, 1, true)
	model, err := NewBandit(C2UCBConfig{
		Dim:                         encoder.Dim(),
		Lambda:                      1,
		Alpha0:                      2,
		AlphaReductionRate:          1.01,
		CreationCostReductionFactor: 2,
	}, nil)
	require.NoError(t, err)
	oracle := NewOracle(10)

	return NewRoundDriver(RoundDriverDeps{
		Catalog:    catalog,
		Store:      store,
		ArmStore:   armStore,
		ArmFactory: armFactory,
		Encoder:    encoder,
		Model:      model,
		Oracle:     oracle,
		Port:       port,
	}, RoundConfig{
		MaxIndexesPerTable:   10,
		Budget:               budget,
		StopExplorationRound: 3,
		QueryMemory:          100,
	})
}

func TestRoundDriverRespectsMemoryBudget(t *testing.T) {
	port := newFakePort()
	driver := buildTestDriver(t, port, Budget{MaxMemoryMB: 15})

	batch := []QueryInput{
		{ID: 1, QueryString: "SELECT * FROM orders WHERE customer_id=? AND order_date=?",
			Predicates: map[string][]string{"orders": {"customer_id", "order_date"}},
			Payload:    map[string][]string{"orders": {"total"}}},
	}

	// First round: queries are "new", arm generation only runs over
	// past-seen queries, so round 1 legitimately chooses nothing yet.
	_, err := driver.RunRound(context.Background(), batch)
	require.NoError(t, err)

	report, err := driver.RunRound(context.Background(), batch)
	require.NoError(t, err)

	var totalSize float64
	for _, fp := range report.ChosenArms {
		a, ok := driver.armStore.Get(fp)
		require.True(t, ok)
		totalSize += a.SizeMB
	}
	assert.LessOrEqual(t, totalSize, 15.0, "chosen super-arm must respect the memory budget")
}

func TestRoundDriverFreezesAfterStopExplorationRound(t *testing.T) {
	port := newFakePort()
	driver := buildTestDriver(t, port, Budget{MaxIndexes: 2})

	batch := []QueryInput{
		{ID: 1, QueryString: "SELECT * FROM orders WHERE customer_id=?",
			Predicates: map[string][]string{"orders": {"customer_id"}}},
	}

	var lastReport RoundReport
	for i := 0; i < 8; i++ {
		report, err := driver.RunRound(context.Background(), batch)
		require.NoError(t, err)
		lastReport = report
	}
	assert.True(t, lastReport.Frozen, "driver should freeze well after StopExplorationRound rounds have passed")
}

func TestRoundDriverShutdownDropsAllIndexes(t *testing.T) {
	port := newFakePort()
	driver := buildTestDriver(t, port, Budget{MaxIndexes: 2})
	port.created["ix_orders_customer_id"] = true

	require.NoError(t, driver.Shutdown(context.Background()))
	assert.Empty(t, port.created)
}
