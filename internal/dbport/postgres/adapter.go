package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sylph520/indexadvisor/internal/bandit"
)

// bytesPerColumnEstimate is the per-column width used to approximate an
// index's footprint when hypopg is unavailable (§6 estimate_size):
// roughly a b-tree leaf entry's overhead plus a mid-sized scalar value.
const bytesPerColumnEstimate = 12

// Adapter implements bandit.Port (and, when hypopg is installed,
// bandit.HypotheticalPort) against a single PostgreSQL database.
type Adapter struct {
	conn *Connection
}

// NewAdapter wraps an established connection as a bandit.Port.
func NewAdapter(conn *Connection) *Adapter {
	return &Adapter{conn: conn}
}

// IsHealthy satisfies internal/health.Checkable by delegating to the
// underlying connection.
func (a *Adapter) IsHealthy(ctx context.Context) bool {
	return a.conn.IsHealthy(ctx)
}

// ListTables satisfies bandit.CatalogSource.
func (a *Adapter) ListTables(ctx context.Context) (map[string]bandit.TableInfo, error) {
	const q = `
		SELECT c.relname, GREATEST(c.reltuples, 0)::bigint
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind = 'r' AND n.nspname NOT IN ('pg_catalog', 'information_schema')`

	tables := make(map[string]bandit.TableInfo)
	err := a.conn.guard(ctx, func(ctx context.Context) error {
		rows, err := a.conn.db.QueryContext(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			var rowCount int64
			if err := rows.Scan(&name, &rowCount); err != nil {
				return err
			}
			tables[name] = bandit.TableInfo{Name: name, RowCount: rowCount}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", err)
	}

	pk, err := a.primaryKeyColumns(ctx)
	if err != nil {
		return nil, err
	}
	for table, cols := range pk {
		info := tables[table]
		info.PrimaryKeyColumns = cols
		tables[table] = info
	}
	return tables, nil
}

func (a *Adapter) primaryKeyColumns(ctx context.Context) (map[string][]string, error) {
	const q = `
		SELECT tc.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = 'public'
		ORDER BY tc.table_name, kcu.ordinal_position`

	out := make(map[string][]string)
	err := a.conn.guard(ctx, func(ctx context.Context) error {
		rows, err := a.conn.db.QueryContext(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var table, col string
			if err := rows.Scan(&table, &col); err != nil {
				return err
			}
			out[table] = append(out[table], col)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: primary key columns: %w", err)
	}
	return out, nil
}

func (a *Adapter) clusteredIndexNames(ctx context.Context) (map[string]string, error) {
	const q = `
		SELECT tc.table_name, kcu.constraint_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = 'public'
		GROUP BY tc.table_name, kcu.constraint_name`

	out := make(map[string]string)
	err := a.conn.guard(ctx, func(ctx context.Context) error {
		rows, err := a.conn.db.QueryContext(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var table, constraint string
			if err := rows.Scan(&table, &constraint); err != nil {
				return err
			}
			out[table] = constraint
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: clustered index names: %w", err)
	}
	return out, nil
}

// ListAllColumns satisfies bandit.CatalogSource.
func (a *Adapter) ListAllColumns(ctx context.Context) (map[string][]string, int, error) {
	const q = `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`

	out := make(map[string][]string)
	total := 0
	err := a.conn.guard(ctx, func(ctx context.Context) error {
		rows, err := a.conn.db.QueryContext(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var table, col string
			if err := rows.Scan(&table, &col); err != nil {
				return err
			}
			out[table] = append(out[table], col)
			total++
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list columns: %w", err)
	}
	return out, total, nil
}

// EstimateIndexSize satisfies bandit.SizeSource. It prefers hypopg's
// planner-backed estimate and falls back to a row-count heuristic.
func (a *Adapter) EstimateIndexSize(ctx context.Context, table string, keyCols, includeCols []string) (float64, error) {
	if a.conn.Capabilities().HasHypoPG {
		size, err := a.hypopgEstimateSize(ctx, table, keyCols, includeCols)
		if err == nil {
			return size, nil
		}
		a.conn.logger.Warn("postgres: hypopg size estimate failed, falling back", zap.Error(err))
	}

	var rowCount int64
	err := a.conn.guard(ctx, func(ctx context.Context) error {
		return a.conn.db.QueryRowContext(ctx,
			`SELECT GREATEST(reltuples, 0)::bigint FROM pg_class WHERE relname = $1`, table).Scan(&rowCount)
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: estimate index size for %s: %w", table, err)
	}
	bytes := float64(rowCount) * float64(len(keyCols)+len(includeCols)) * bytesPerColumnEstimate
	return bytes / (1024 * 1024), nil
}

func (a *Adapter) hypopgEstimateSize(ctx context.Context, table string, keyCols, includeCols []string) (float64, error) {
	ddl := buildIndexDDL("hypothetical_probe", table, keyCols, includeCols)
	var indexRelID int64
	var mb float64
	err := a.conn.guard(ctx, func(ctx context.Context) error {
		if err := a.conn.db.QueryRowContext(ctx,
			`SELECT indexrelid FROM hypopg_create_index($1)`, ddl).Scan(&indexRelID); err != nil {
			return err
		}
		defer a.conn.db.ExecContext(ctx, `SELECT hypopg_drop_index($1)`, indexRelID)
		return a.conn.db.QueryRowContext(ctx,
			`SELECT hypopg_relation_size($1) / (1024.0*1024.0)`, indexRelID).Scan(&mb)
	})
	return mb, err
}

// GetSelectivity satisfies bandit.SelectivitySource. predicates maps table
// to the columns carrying an equality/range predicate in the query; the
// estimate comes from ANALYZE-derived statistics (pg_stats.n_distinct),
// which is the same source Postgres's own planner relies on.
func (a *Adapter) GetSelectivity(ctx context.Context, _ string, predicates map[string][]string) (map[string]float64, error) {
	out := make(map[string]float64, len(predicates))
	for table, cols := range predicates {
		sel := 1.0
		for _, col := range cols {
			var nDistinct float64
			err := a.conn.guard(ctx, func(ctx context.Context) error {
				return a.conn.db.QueryRowContext(ctx,
					`SELECT COALESCE(n_distinct, 0) FROM pg_stats WHERE tablename = $1 AND attname = $2`,
					table, col).Scan(&nDistinct)
			})
			if err != nil || nDistinct == 0 {
				sel *= 0.1 // no stats yet: the planner's own default selectivity guess
				continue
			}
			if nDistinct < 0 {
				// negative n_distinct is a fraction of row count (per pg_stats docs)
				sel *= -nDistinct
			} else {
				sel *= 1.0 / nDistinct
			}
		}
		out[table] = sel
	}
	return out, nil
}

// CreateIndex satisfies bandit.ExecutionPort.
func (a *Adapter) CreateIndex(ctx context.Context, table string, keyCols, includeCols []string, name string) (float64, error) {
	ddl := buildIndexDDL(name, table, keyCols, includeCols)
	start := time.Now()
	err := a.conn.guard(ctx, func(ctx context.Context) error {
		_, err := a.conn.db.ExecContext(ctx, ddl)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: create index %s: %w", name, err)
	}
	return time.Since(start).Seconds(), nil
}

// DropIndex satisfies bandit.ExecutionPort.
func (a *Adapter) DropIndex(ctx context.Context, name, _ string) error {
	err := a.conn.guard(ctx, func(ctx context.Context) error {
		_, err := a.conn.db.ExecContext(ctx, fmt.Sprintf(`DROP INDEX CONCURRENTLY IF EXISTS %s`, quoteIdent(name)))
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: drop index %s: %w", name, err)
	}
	return nil
}

// ExecuteQuery satisfies bandit.ExecutionPort: runs EXPLAIN (ANALYZE,
// FORMAT JSON) so costs and elapsed times reflect a real execution against
// whatever indexes currently exist.
func (a *Adapter) ExecuteQuery(ctx context.Context, sql string) (bandit.ExecutionResult, error) {
	if isUnsafeToExplain(sql) {
		return bandit.ExecutionResult{}, fmt.Errorf("postgres: refusing to explain unsafe statement")
	}
	clustered, err := a.clusteredIndexNames(ctx)
	if err != nil {
		return bandit.ExecutionResult{}, err
	}

	var raw json.RawMessage
	err = a.conn.guard(ctx, func(ctx context.Context) error {
		explain := fmt.Sprintf("EXPLAIN (ANALYZE, FORMAT JSON, BUFFERS false, TIMING true) %s", sql)
		return a.conn.db.QueryRowContext(ctx, explain).Scan(&raw)
	})
	if err != nil {
		return bandit.ExecutionResult{}, fmt.Errorf("postgres: execute query: %w", err)
	}
	return parseExplainJSON(raw, clustered, true)
}

// CurrentPDSSize satisfies bandit.ExecutionPort.
func (a *Adapter) CurrentPDSSize(ctx context.Context) (float64, error) {
	var mb float64
	err := a.conn.guard(ctx, func(ctx context.Context) error {
		return a.conn.db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(pg_relation_size(indexrelid)), 0) / (1024.0*1024.0)
			FROM pg_index i
			JOIN pg_class c ON c.oid = i.indexrelid
			WHERE c.relname LIKE 'ix\_%'`).Scan(&mb)
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: current pds size: %w", err)
	}
	return mb, nil
}

// DatabaseSize satisfies bandit.ExecutionPort.
func (a *Adapter) DatabaseSize(ctx context.Context) (float64, error) {
	var mb float64
	err := a.conn.guard(ctx, func(ctx context.Context) error {
		return a.conn.db.QueryRowContext(ctx,
			`SELECT pg_database_size(current_database()) / (1024.0*1024.0)`).Scan(&mb)
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: database size: %w", err)
	}
	return mb, nil
}

// DropAllNonClustered satisfies bandit.ExecutionPort (§5 shutdown
// cleanup): drops every advisor-managed index, identified by its "ix_"
// naming convention (internal/bandit.indexName), leaving the schema as it
// was found.
func (a *Adapter) DropAllNonClustered(ctx context.Context) error {
	var names []string
	err := a.conn.guard(ctx, func(ctx context.Context) error {
		rows, err := a.conn.db.QueryContext(ctx,
			`SELECT indexname FROM pg_indexes WHERE schemaname = 'public' AND indexname LIKE 'ix\_%'`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	if err != nil {
		return fmt.Errorf("postgres: listing managed indexes: %w", err)
	}
	for _, name := range names {
		if err := a.DropIndex(ctx, name, ""); err != nil {
			return err
		}
	}
	return nil
}

// CreateHypotheticalIndex satisfies bandit.HypotheticalPort via hypopg.
func (a *Adapter) CreateHypotheticalIndex(ctx context.Context, table string, keyCols, includeCols []string, name string) error {
	if !a.conn.Capabilities().HasHypoPG {
		return fmt.Errorf("postgres: hypopg extension not installed")
	}
	ddl := buildIndexDDL(name, table, keyCols, includeCols)
	return a.conn.guard(ctx, func(ctx context.Context) error {
		_, err := a.conn.db.ExecContext(ctx, `SELECT hypopg_create_index($1)`, ddl)
		return err
	})
}

// DropHypotheticalIndex satisfies bandit.HypotheticalPort.
func (a *Adapter) DropHypotheticalIndex(ctx context.Context, name, _ string) error {
	return a.conn.guard(ctx, func(ctx context.Context) error {
		_, err := a.conn.db.ExecContext(ctx,
			`SELECT hypopg_drop_index(indexrelid) FROM hypopg_list_indexes() WHERE indexname = $1`, name)
		return err
	})
}

// ExecuteQueryHypothetical satisfies bandit.HypotheticalPort: plans (but
// never executes) the query, so hypopg's cost adjustments for
// not-yet-materialized indexes are reflected without ANALYZE timing.
func (a *Adapter) ExecuteQueryHypothetical(ctx context.Context, sql string) (bandit.ExecutionResult, error) {
	if isUnsafeToExplain(sql) {
		return bandit.ExecutionResult{}, fmt.Errorf("postgres: refusing to explain unsafe statement")
	}
	clustered, err := a.clusteredIndexNames(ctx)
	if err != nil {
		return bandit.ExecutionResult{}, err
	}

	var raw json.RawMessage
	err = a.conn.guard(ctx, func(ctx context.Context) error {
		explain := fmt.Sprintf("EXPLAIN (FORMAT JSON) %s", sql)
		return a.conn.db.QueryRowContext(ctx, explain).Scan(&raw)
	})
	if err != nil {
		return bandit.ExecutionResult{}, fmt.Errorf("postgres: execute hypothetical query: %w", err)
	}
	return parseExplainJSON(raw, clustered, false)
}

func buildIndexDDL(name, table string, keyCols, includeCols []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(name), quoteIdent(table), strings.Join(quoteIdents(keyCols), ", "))
	if len(includeCols) > 0 {
		fmt.Fprintf(&b, " INCLUDE (%s)", strings.Join(quoteIdents(includeCols), ", "))
	}
	return b.String()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}
