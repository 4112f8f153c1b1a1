// Package config loads and validates the advisor's YAML configuration
// file into the flat knob set named by §6 Configuration, then splits it
// into the narrower configs each internal/bandit collaborator expects.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sylph520/indexadvisor/internal/bandit"
	"github.com/sylph520/indexadvisor/internal/dbport"
	"github.com/sylph520/indexadvisor/internal/report"
)

// DatabaseConfig names the backend the advisor manages, per spec.md §1's
// "a database" being either PostgreSQL or MySQL/InnoDB (§2, §9 backend
// Open Question — both kept behind the bandit.Port interface).
type DatabaseConfig struct {
	Driver  string             `mapstructure:"driver" yaml:"driver"` // "postgres" or "mysql"
	DSN     string             `mapstructure:"dsn" yaml:"dsn"`
	Schema  string             `mapstructure:"schema" yaml:"schema"` // mysql only
	Pool    dbport.PoolConfig  `mapstructure:"pool" yaml:"pool"`
	Breaker dbport.BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

// WorkloadConfig names the JSON-lines query log and its predeclared
// window schedule (§6 workload_shifts[]/queries_start[]/queries_end[]).
type WorkloadConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	WorkloadShifts []int `mapstructure:"workload_shifts" yaml:"workload_shifts"`
	QueriesStart   []int `mapstructure:"queries_start" yaml:"queries_start"`
	QueriesEnd     []int `mapstructure:"queries_end" yaml:"queries_end"`
}

// RunConfig names the top-level run-length and budget knobs of §6.
type RunConfig struct {
	Rounds               int     `mapstructure:"rounds" yaml:"rounds"`
	HypRounds            int     `mapstructure:"hyp_rounds" yaml:"hyp_rounds"`
	Reps                 int     `mapstructure:"reps" yaml:"reps"`
	MaxMemory            float64 `mapstructure:"max_memory" yaml:"max_memory"`
	MaxIndexes           int     `mapstructure:"max_indexes" yaml:"max_indexes"`
	MaxIndexesPerTable   int     `mapstructure:"max_indexes_per_table" yaml:"max_indexes_per_table"`
	StopExplorationRound int     `mapstructure:"stop_exploration_round" yaml:"stop_exploration_round"`
	QueryMemory          int     `mapstructure:"query_memory" yaml:"query_memory"`
}

// BanditConfig names the C²UCB knobs of §4.4/§6.
type BanditConfig struct {
	InputAlpha                  float64 `mapstructure:"input_alpha" yaml:"input_alpha"`
	InputLambda                 float64 `mapstructure:"input_lambda" yaml:"input_lambda"`
	AlphaReductionRate          float64 `mapstructure:"alpha_reduction_rate" yaml:"alpha_reduction_rate"`
	CreationCostReductionFactor float64 `mapstructure:"creation_cost_reduction_factor" yaml:"creation_cost_reduction_factor"`
	RejectionSamplingEnabled    bool    `mapstructure:"rejection_sampling_enabled" yaml:"rejection_sampling_enabled"`
	Delta2                      float64 `mapstructure:"delta2" yaml:"delta2"`
	Tau                          int     `mapstructure:"tau" yaml:"tau"`
	S                            float64 `mapstructure:"s" yaml:"s"`
}

// ArmConfig names the arm-generation knobs of §4.2/§6.
type ArmConfig struct {
	IndexIncludes        bool    `mapstructure:"index_includes" yaml:"index_includes"`
	MaxPermutationLength int     `mapstructure:"max_permutation_length" yaml:"max_permutation_length"`
	SmallTableIgnore     int64   `mapstructure:"small_table_ignore" yaml:"small_table_ignore"`
	TableMinSelectivity  float64 `mapstructure:"table_min_selectivity" yaml:"table_min_selectivity"`
	ArmValueForgetting   bool    `mapstructure:"arm_value_forgetting" yaml:"arm_value_forgetting"`
}

// ContextConfig names the context-encoding knobs of §4.3/§6.
type ContextConfig struct {
	ContextUniqueness  int `mapstructure:"context_uniqueness" yaml:"context_uniqueness"`
	ContextIncludes    bool `mapstructure:"context_includes" yaml:"context_includes"`
	TableScanTimeLength int `mapstructure:"table_scan_time_length" yaml:"table_scan_time_length"`
	SelectivityMemoSize int `mapstructure:"selectivity_memo_size" yaml:"selectivity_memo_size"`
}

// ServerConfig names the ambient HTTP surfaces (§6 health/metrics).
type ServerConfig struct {
	HealthAddr string `mapstructure:"health_addr" yaml:"health_addr"`
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// Config is the advisor's full YAML configuration surface (§6
// Configuration). It aggregates every knob the bandit package's
// sub-configs need into one flat document an operator edits.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Workload WorkloadConfig `mapstructure:"workload" yaml:"workload"`
	Run      RunConfig      `mapstructure:"run" yaml:"run"`
	Bandit   BanditConfig   `mapstructure:"bandit" yaml:"bandit"`
	Arm      ArmConfig      `mapstructure:"arm" yaml:"arm"`
	Context  ContextConfig  `mapstructure:"context" yaml:"context"`
	Report   report.Config  `mapstructure:"report" yaml:"report"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// Default returns a Config matching spec.md §6's stated default
// constants, with an empty database/workload section an operator must
// fill in.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:  "postgres",
			Pool:    dbport.DefaultPoolConfig(),
			Breaker: dbport.DefaultBreakerConfig(),
		},
		Run: RunConfig{
			Rounds:             100,
			Reps:               1,
			MaxIndexesPerTable: 3,
			QueryMemory:        50,
		},
		Bandit: BanditConfig{
			InputAlpha:                  1.0,
			InputLambda:                 1.0,
			AlphaReductionRate:          1.01,
			CreationCostReductionFactor: 1.0,
			Delta2:                      0.1,
			Tau:                         10,
			S:                           1.0,
		},
		Arm: ArmConfig{
			IndexIncludes:        true,
			MaxPermutationLength: 6,
			SmallTableIgnore:     1000,
			TableMinSelectivity:  0.2,
			ArmValueForgetting:   true,
		},
		Context: ContextConfig{
			ContextUniqueness:   1,
			ContextIncludes:     true,
			TableScanTimeLength: 1000,
			SelectivityMemoSize: 4096,
		},
		Report: report.DefaultConfig(),
		Server: ServerConfig{
			HealthAddr:  ":8081",
			MetricsAddr: ":9090",
		},
	}
}

// Load reads and parses a YAML configuration file, applying Default()'s
// values as a base so a short operator-written file only needs to
// override what it cares about.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the aggregated config for the obvious operator
// mistakes before any database connection is attempted (the §7
// ConfigError class of failure, returned as plain wrapped errors rather
// than *bandit.ConfigError).
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql":
	default:
		return fmt.Errorf("config: database.driver must be \"postgres\" or \"mysql\", got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn must be set")
	}
	if c.Database.Driver == "mysql" && c.Database.Schema == "" {
		return fmt.Errorf("config: database.schema must be set for the mysql driver")
	}
	if c.Workload.Path == "" {
		return fmt.Errorf("config: workload.path must be set")
	}
	if c.Run.Rounds <= 0 {
		return fmt.Errorf("config: run.rounds must be positive")
	}
	if c.Run.HypRounds > c.Run.Rounds {
		return fmt.Errorf("config: run.hyp_rounds (%d) cannot exceed run.rounds (%d)", c.Run.HypRounds, c.Run.Rounds)
	}
	if c.Run.MaxMemory <= 0 && c.Run.MaxIndexes <= 0 {
		return fmt.Errorf("config: at least one of run.max_memory/run.max_indexes must be positive (§4.5 budget)")
	}
	if err := c.Database.Pool.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Report.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// C2UCBConfig projects the aggregated config onto the bandit's own
// configuration shape.
func (c Config) C2UCBConfig(dim int) bandit.C2UCBConfig {
	return bandit.C2UCBConfig{
		Dim:                         dim,
		Lambda:                      c.Bandit.InputLambda,
		Alpha0:                      c.Bandit.InputAlpha,
		AlphaReductionRate:          c.Bandit.AlphaReductionRate,
		CreationCostReductionFactor: c.Bandit.CreationCostReductionFactor,
		RejectionSamplingEnabled:    c.Bandit.RejectionSamplingEnabled,
		Delta2:                      c.Bandit.Delta2,
		Tau:                         c.Bandit.Tau,
		S:                           c.Bandit.S,
	}
}

// ArmFactoryConfig projects the aggregated config onto the arm
// factory's configuration shape.
func (c Config) ArmFactoryConfig() bandit.ArmFactoryConfig {
	return bandit.ArmFactoryConfig{
		MaxPermutationLength: c.Arm.MaxPermutationLength,
		SmallTableIgnore:     c.Arm.SmallTableIgnore,
		TableMinSelectivity:  c.Arm.TableMinSelectivity,
		IndexIncludes:        c.Arm.IndexIncludes,
		ArmValueForgetting:   c.Arm.ArmValueForgetting,
	}
}

// RoundConfig projects the aggregated config onto the round driver's
// configuration shape.
func (c Config) RoundConfig() bandit.RoundConfig {
	return bandit.RoundConfig{
		MaxIndexesPerTable:   c.Run.MaxIndexesPerTable,
		Budget:               bandit.Budget{MaxMemoryMB: c.Run.MaxMemory, MaxIndexes: c.Run.MaxIndexes},
		StopExplorationRound: c.Run.StopExplorationRound,
		QueryMemory:          c.Run.QueryMemory,
		HypRounds:            c.Run.HypRounds,
	}
}
