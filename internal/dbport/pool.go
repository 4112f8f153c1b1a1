// Package dbport adapts the bandit package's narrow port interfaces to real
// SQL databases.
package dbport

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PoolConfig bounds how many physical connections an adapter is allowed to
// hold open against the target database. The advisor issues a steady stream
// of DDL (CREATE/DROP INDEX) and EXPLAIN queries between rounds, so the pool
// is kept deliberately small relative to an application connection pool.
type PoolConfig struct {
	MaxOpenConnections int           `mapstructure:"max_open_connections" yaml:"max_open_connections"`
	MaxIdleConnections int           `mapstructure:"max_idle_connections" yaml:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
}

// DefaultPoolConfig returns pool settings sized for a single advisor
// instance talking to one target database.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConnections: 8,
		MaxIdleConnections: 2,
		ConnMaxLifetime:    10 * time.Minute,
		ConnMaxIdleTime:    5 * time.Minute,
	}
}

// Validate rejects pool configurations that would starve the advisor or
// exhaust the target database.
func (c PoolConfig) Validate() error {
	if c.MaxOpenConnections <= 0 {
		return fmt.Errorf("max_open_connections must be positive")
	}
	if c.MaxIdleConnections < 0 {
		return fmt.Errorf("max_idle_connections cannot be negative")
	}
	if c.MaxIdleConnections > c.MaxOpenConnections {
		return fmt.Errorf("max_idle_connections (%d) cannot exceed max_open_connections (%d)",
			c.MaxIdleConnections, c.MaxOpenConnections)
	}
	return nil
}

// Configure applies pool settings to an already-open handle.
func Configure(db *sql.DB, cfg PoolConfig, logger *zap.Logger) {
	if logger != nil {
		logger.Info("configuring database connection pool",
			zap.Int("max_open_connections", cfg.MaxOpenConnections),
			zap.Int("max_idle_connections", cfg.MaxIdleConnections),
			zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
			zap.Duration("conn_max_idle_time", cfg.ConnMaxIdleTime))
	}
	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
}

// Open opens a pooled connection to driver/dsn and verifies it with a ping.
func Open(driver, dsn string, cfg PoolConfig, logger *zap.Logger) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driver, err)
	}
	Configure(db, cfg, logger)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if logger != nil {
		logger.Info("database connection established", zap.String("driver", driver))
	}
	return db, nil
}

// Stats logs the current pool statistics, useful for diagnosing advisor
// rounds that stall on connection acquisition.
func Stats(db *sql.DB, logger *zap.Logger, component string) {
	if logger == nil {
		return
	}
	s := db.Stats()
	logger.Debug("connection pool statistics",
		zap.String("component", component),
		zap.Int("open_connections", s.OpenConnections),
		zap.Int("in_use", s.InUse),
		zap.Int("idle", s.Idle),
		zap.Int64("wait_count", s.WaitCount),
		zap.Duration("wait_duration", s.WaitDuration))
}
