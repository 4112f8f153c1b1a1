package bandit

import (
	"context"
	"fmt"
	"sort"
)

// TableInfo is a table's static metadata, read once from the port at
// startup (§3 Table info).
type TableInfo struct {
	Name              string
	RowCount          int64
	PrimaryKeyColumns []string
	ColumnType        map[string]string
	ColumnStorageSize map[string]int64
}

// CatalogSource is the slice of the database port the catalog needs at
// startup: table metadata and the full column list (the latter fixes
// the context vector dimension d, §4.3).
type CatalogSource interface {
	ListTables(ctx context.Context) (map[string]TableInfo, error)
	ListAllColumns(ctx context.Context) (map[string][]string, int, error)
}

// ColumnRef names one (table, column) pair in the catalog's canonical
// ordering — the order the name-encoded context tail is built over.
type ColumnRef struct {
	Table  string
	Column string
}

// Catalog is the read-once table/column metadata snapshot (§3). It is
// built at startup and never mutated afterward; TotalColumns fixes the
// context-vector dimension.
type Catalog struct {
	Tables map[string]TableInfo

	// Columns is the canonical, deterministic (table, column) ordering
	// used by the context encoder's name-encoded tail. It is derived by
	// sorting tables and, within each table, columns, so that the
	// ordering is stable across runs against the same schema.
	Columns      []ColumnRef
	ColumnIndex  map[ColumnRef]int
	TotalColumns int
}

// LoadCatalog reads table and column metadata from source once.
func LoadCatalog(ctx context.Context, source CatalogSource) (*Catalog, error) {
	tables, err := source.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("bandit: listing tables: %w", err)
	}
	columnsByTable, total, err := source.ListAllColumns(ctx)
	if err != nil {
		return nil, fmt.Errorf("bandit: listing columns: %w", err)
	}

	cat := &Catalog{
		Tables:       tables,
		ColumnIndex:  make(map[ColumnRef]int, total),
		TotalColumns: total,
	}

	tableNames := make([]string, 0, len(columnsByTable))
	for t := range columnsByTable {
		tableNames = append(tableNames, t)
	}
	sort.Strings(tableNames)

	for _, t := range tableNames {
		cols := append([]string(nil), columnsByTable[t]...)
		sort.Strings(cols)
		for _, c := range cols {
			ref := ColumnRef{Table: t, Column: c}
			cat.ColumnIndex[ref] = len(cat.Columns)
			cat.Columns = append(cat.Columns, ref)
		}
	}
	return cat, nil
}
