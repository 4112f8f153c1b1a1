// Package report writes the per-round report record (§6) to a CSV file
// and, if a Prometheus registry was wired in, to bandit.Metrics. The
// Config/Validate/factory shape is trimmed to what a synchronous file
// sink needs — there is no OTLP endpoint, no retry queue, no gRPC
// client here.
package report

import "fmt"

// Config configures the CSV sink. mapstructure tags match the rest of
// the advisor's YAML configuration surface.
type Config struct {
	// CSVPath is the file the per-round report record is appended to.
	// Created if absent; an existing file is truncated at Open.
	CSVPath string `mapstructure:"csv_path" yaml:"csv_path"`

	// FlushEachRound forces an fsync-free Writer.Flush after every
	// round so `tail -f` on the CSV reflects progress immediately,
	// at the cost of one flush syscall per round.
	FlushEachRound bool `mapstructure:"flush_each_round" yaml:"flush_each_round"`
}

// Validate checks a Config for the fields a sink cannot run without.
func (c *Config) Validate() error {
	if c.CSVPath == "" {
		return fmt.Errorf("report: csv_path must be set")
	}
	return nil
}

// DefaultConfig returns a Config with flushing enabled, matching the
// "prefer visibility over throughput" stance of a long-running advisor
// process that's usually watched interactively.
func DefaultConfig() Config {
	return Config{FlushEachRound: true}
}
