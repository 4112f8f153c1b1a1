// Package postgres adapts a PostgreSQL database to bandit.Port.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/sylph520/indexadvisor/internal/dbport"
)

// Capabilities records what the connected server supports, detected once
// at startup (§9 hypothetical-index rounds depend on hypopg).
type Capabilities struct {
	Version      string
	HasHypoPG    bool
	HasPgStatStatements bool
	IsRDS        bool
	IsAurora     bool
}

// Config names the target database and its pool/breaker settings.
type Config struct {
	DSN    string
	Pool   dbport.PoolConfig
	Breaker dbport.BreakerConfig
}

// Connection wraps a pooled *sql.DB with detected capabilities and a
// circuit breaker guarding every statement issued against the target
// database.
type Connection struct {
	db      *sql.DB
	logger  *zap.Logger
	breaker *dbport.Breaker

	mu           sync.RWMutex
	capabilities Capabilities
}

// Connect opens the pool, pings the server, and detects capabilities.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Connection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := dbport.Open("postgres", cfg.DSN, cfg.Pool, logger)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		db:      db,
		logger:  logger,
		breaker: dbport.NewBreaker(cfg.Breaker, logger),
	}
	if err := conn.detectCapabilities(ctx); err != nil {
		logger.Warn("postgres: partial capability detection", zap.Error(err))
	}
	logger.Info("postgres: connected",
		zap.String("version", conn.capabilities.Version),
		zap.Bool("hypopg", conn.capabilities.HasHypoPG),
		zap.Bool("pg_stat_statements", conn.capabilities.HasPgStatStatements))
	return conn, nil
}

// Close closes the underlying connection pool.
func (c *Connection) Close() error {
	return c.db.Close()
}

// IsHealthy satisfies internal/health.Checkable: a cheap ping through
// the circuit breaker, so a tripped breaker also fails readiness.
func (c *Connection) IsHealthy(ctx context.Context) bool {
	ctx, cancel := withTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.guard(ctx, func(ctx context.Context) error {
		return c.db.PingContext(ctx)
	}) == nil
}

// Capabilities returns the detected server capabilities.
func (c *Connection) Capabilities() Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capabilities
}

func (c *Connection) detectCapabilities(ctx context.Context) error {
	var version string
	if err := c.db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return fmt.Errorf("detect version: %w", err)
	}

	caps := Capabilities{Version: version}
	lower := strings.ToLower(version)
	caps.IsRDS = strings.Contains(lower, "rds")
	caps.IsAurora = strings.Contains(lower, "aurora")

	rows, err := c.db.QueryContext(ctx, `
		SELECT extname FROM pg_extension
		WHERE extname IN ('hypopg', 'pg_stat_statements')`)
	if err != nil {
		c.mu.Lock()
		c.capabilities = caps
		c.mu.Unlock()
		return fmt.Errorf("detect extensions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			continue
		}
		switch name {
		case "hypopg":
			caps.HasHypoPG = true
		case "pg_stat_statements":
			caps.HasPgStatStatements = true
		}
	}

	c.mu.Lock()
	c.capabilities = caps
	c.mu.Unlock()
	return nil
}

// guard runs fn through the connection's circuit breaker so a burst of
// failing statements (timeouts, a lock-bound target database) stops
// issuing new ones until the open_timeout window passes.
func (c *Connection) guard(ctx context.Context, fn func(context.Context) error) error {
	return c.breaker.Guard(ctx, fn)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(ctx, d)
}
