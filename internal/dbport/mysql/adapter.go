// Package mysql adapts a MySQL/InnoDB database to bandit.Port.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/sylph520/indexadvisor/internal/bandit"
	"github.com/sylph520/indexadvisor/internal/dbport"
)

// bytesPerColumnEstimate mirrors the postgres adapter's fallback sizing
// heuristic; InnoDB secondary indexes additionally carry the clustering
// key, accounted for by primaryKeyLen.
const bytesPerColumnEstimate = 12

// Config names the target database and its pool/breaker settings.
type Config struct {
	DSN     string
	Pool    dbport.PoolConfig
	Breaker dbport.BreakerConfig
}

// Adapter implements bandit.Port against a MySQL/InnoDB database. InnoDB
// has no hypothetical-index facility analogous to hypopg, so Adapter does
// not implement bandit.HypotheticalPort; hyp_rounds must stay 0 for this
// backend (§9).
type Adapter struct {
	db      *sql.DB
	logger  *zap.Logger
	breaker *dbport.Breaker

	schema string
}

// Connect opens a pooled connection and verifies it with a ping.
func Connect(ctx context.Context, schema string, cfg Config, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := dbport.Open("mysql", cfg.DSN, cfg.Pool, logger)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return &Adapter{
		db:      db,
		logger:  logger,
		breaker: dbport.NewBreaker(cfg.Breaker, logger),
		schema:  schema,
	}, nil
}

// Close closes the underlying connection pool.
func (a *Adapter) Close() error { return a.db.Close() }

func (a *Adapter) guard(ctx context.Context, fn func(context.Context) error) error {
	return a.breaker.Guard(ctx, fn)
}

// IsHealthy satisfies internal/health.Checkable: a cheap ping through
// the circuit breaker, so a tripped breaker also fails readiness.
func (a *Adapter) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return a.guard(ctx, func(ctx context.Context) error {
		return a.db.PingContext(ctx)
	}) == nil
}

// ListTables satisfies bandit.CatalogSource.
func (a *Adapter) ListTables(ctx context.Context) (map[string]bandit.TableInfo, error) {
	tables := make(map[string]bandit.TableInfo)
	err := a.guard(ctx, func(ctx context.Context) error {
		rows, err := a.db.QueryContext(ctx, `
			SELECT table_name, table_rows
			FROM information_schema.tables
			WHERE table_schema = ? AND table_type = 'BASE TABLE'`, a.schema)
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
		return nil, fmt.Errorf("mysql: list tables: %w", err)
	}

	err = a.guard(ctx, func(ctx context.Context) error {
		rows, err := a.db.QueryContext(ctx, `
			SELECT table_name, column_name
			FROM information_schema.key_column_usage
			WHERE table_schema = ? AND constraint_name = 'PRIMARY'
			ORDER BY table_name, ordinal_position`, a.schema)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var table, col string
			if err := rows.Scan(&table, &col); err != nil {
				return err
			}
			info := tables[table]
			info.PrimaryKeyColumns = append(info.PrimaryKeyColumns, col)
			tables[table] = info
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("mysql: primary key columns: %w", err)
	}
	return tables, nil
}

// ListAllColumns satisfies bandit.CatalogSource.
func (a *Adapter) ListAllColumns(ctx context.Context) (map[string][]string, int, error) {
	out := make(map[string][]string)
	total := 0
	err := a.guard(ctx, func(ctx context.Context) error {
		rows, err := a.db.QueryContext(ctx, `
			SELECT table_name, column_name
			FROM information_schema.columns
			WHERE table_schema = ?
			ORDER BY table_name, ordinal_position`, a.schema)
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
		return nil, 0, fmt.Errorf("mysql: list columns: %w", err)
	}
	return out, total, nil
}

// EstimateIndexSize satisfies bandit.SizeSource. InnoDB secondary indexes
// always carry the primary key as an implicit trailing column; clusterKeyLen
// accounts for that the same way the original arm-value heuristic budgeted
// for a fixed primary-key width.
func (a *Adapter) EstimateIndexSize(ctx context.Context, table string, keyCols, includeCols []string) (float64, error) {
	var rowCount int64
	clusterKeyLen, err := a.primaryKeyLen(ctx, table)
	if err != nil {
		return 0, err
	}
	err = a.guard(ctx, func(ctx context.Context) error {
		return a.db.QueryRowContext(ctx,
			`SELECT table_rows FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
			a.schema, table).Scan(&rowCount)
	})
	if err != nil {
		return 0, fmt.Errorf("mysql: estimate index size for %s: %w", table, err)
	}
	width := len(keyCols) + len(includeCols) + clusterKeyLen
	bytes := float64(rowCount) * float64(width) * bytesPerColumnEstimate
	return bytes / (1024 * 1024), nil
}

func (a *Adapter) primaryKeyLen(ctx context.Context, table string) (int, error) {
	var n int
	err := a.guard(ctx, func(ctx context.Context) error {
		return a.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM information_schema.key_column_usage
			WHERE table_schema = ? AND table_name = ? AND constraint_name = 'PRIMARY'`,
			a.schema, table).Scan(&n)
	})
	return n, err
}

// GetSelectivity satisfies bandit.SelectivitySource, estimated from
// INFORMATION_SCHEMA.STATISTICS cardinality (the same source InnoDB's own
// optimizer consults).
func (a *Adapter) GetSelectivity(ctx context.Context, _ string, predicates map[string][]string) (map[string]float64, error) {
	out := make(map[string]float64, len(predicates))
	for table, cols := range predicates {
		var rowCount int64
		if err := a.guard(ctx, func(ctx context.Context) error {
			return a.db.QueryRowContext(ctx,
				`SELECT table_rows FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
				a.schema, table).Scan(&rowCount)
		}); err != nil || rowCount == 0 {
			out[table] = 0.1
			continue
		}

		sel := 1.0
		for _, col := range cols {
			var cardinality sql.NullInt64
			err := a.guard(ctx, func(ctx context.Context) error {
				return a.db.QueryRowContext(ctx, `
					SELECT cardinality FROM information_schema.statistics
					WHERE table_schema = ? AND table_name = ? AND column_name = ?
					ORDER BY cardinality DESC LIMIT 1`, a.schema, table, col).Scan(&cardinality)
			})
			if err != nil || !cardinality.Valid || cardinality.Int64 == 0 {
				sel *= 0.1
				continue
			}
			sel *= float64(cardinality.Int64) / float64(rowCount)
		}
		out[table] = sel
	}
	return out, nil
}

// CreateIndex satisfies bandit.ExecutionPort.
func (a *Adapter) CreateIndex(ctx context.Context, table string, keyCols, includeCols []string, name string) (float64, error) {
	// InnoDB has no native covering-include clause; included columns are
	// appended to the key so the index still covers the query.
	allCols := append(append([]string{}, keyCols...), includeCols...)
	ddl := fmt.Sprintf("CREATE INDEX %s ON %s (%s) ALGORITHM=INPLACE, LOCK=NONE",
		quoteIdent(name), quoteIdent(table), strings.Join(quoteIdents(allCols), ", "))
	start := time.Now()
	err := a.guard(ctx, func(ctx context.Context) error {
		_, err := a.db.ExecContext(ctx, ddl)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("mysql: create index %s: %w", name, err)
	}
	return time.Since(start).Seconds(), nil
}

// DropIndex satisfies bandit.ExecutionPort.
func (a *Adapter) DropIndex(ctx context.Context, name, table string) error {
	err := a.guard(ctx, func(ctx context.Context) error {
		_, err := a.db.ExecContext(ctx, fmt.Sprintf("DROP INDEX %s ON %s", quoteIdent(name), quoteIdent(table)))
		return err
	})
	if err != nil {
		return fmt.Errorf("mysql: drop index %s: %w", name, err)
	}
	return nil
}

// ExecuteQuery satisfies bandit.ExecutionPort via EXPLAIN FORMAT=JSON
// against the real schema (MySQL's EXPLAIN always reflects planner
// estimates rather than ANALYZE timings pre-8.0.18; ExecCost uses the
// planner's query_cost field as the original does for this backend).
func (a *Adapter) ExecuteQuery(ctx context.Context, query string) (bandit.ExecutionResult, error) {
	var raw json.RawMessage
	err := a.guard(ctx, func(ctx context.Context) error {
		return a.db.QueryRowContext(ctx, "EXPLAIN FORMAT=JSON "+query).Scan(&raw)
	})
	if err != nil {
		return bandit.ExecutionResult{}, fmt.Errorf("mysql: execute query: %w", err)
	}
	return parseExplainJSON(raw)
}

// CurrentPDSSize satisfies bandit.ExecutionPort.
func (a *Adapter) CurrentPDSSize(ctx context.Context) (float64, error) {
	var mb float64
	err := a.guard(ctx, func(ctx context.Context) error {
		return a.db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(index_length), 0) / (1024.0*1024.0)
			FROM information_schema.tables
			WHERE table_schema = ?`, a.schema).Scan(&mb)
	})
	if err != nil {
		return 0, fmt.Errorf("mysql: current pds size: %w", err)
	}
	return mb, nil
}

// DatabaseSize satisfies bandit.ExecutionPort.
func (a *Adapter) DatabaseSize(ctx context.Context) (float64, error) {
	var mb float64
	err := a.guard(ctx, func(ctx context.Context) error {
		return a.db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(data_length + index_length), 0) / (1024.0*1024.0)
			FROM information_schema.tables
			WHERE table_schema = ?`, a.schema).Scan(&mb)
	})
	if err != nil {
		return 0, fmt.Errorf("mysql: database size: %w", err)
	}
	return mb, nil
}

// DropAllNonClustered satisfies bandit.ExecutionPort: drops every
// advisor-managed index, identified by the "ix_" naming convention shared
// with the postgres adapter.
func (a *Adapter) DropAllNonClustered(ctx context.Context) error {
	type managedIndex struct{ table, name string }
	var indexes []managedIndex
	err := a.guard(ctx, func(ctx context.Context) error {
		rows, err := a.db.QueryContext(ctx, `
			SELECT DISTINCT table_name, index_name
			FROM information_schema.statistics
			WHERE table_schema = ? AND index_name LIKE 'ix\_%'`, a.schema)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var idx managedIndex
			if err := rows.Scan(&idx.table, &idx.name); err != nil {
				return err
			}
			indexes = append(indexes, idx)
		}
		return rows.Err()
	})
	if err != nil {
		return fmt.Errorf("mysql: listing managed indexes: %w", err)
	}
	for _, idx := range indexes {
		if err := a.DropIndex(ctx, idx.name, idx.table); err != nil {
			return err
		}
	}
	return nil
}

func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func quoteIdents(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}
