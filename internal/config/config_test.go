package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "advisor.yaml")
	yaml := `
database:
  driver: postgres
  dsn: "postgres://localhost/test"
workload:
  path: "/tmp/workload.jsonl"
run:
  rounds: 50
  max_memory: 1024
report:
  csv_path: "/tmp/report.csv"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Run.Rounds)
	// Defaulted, not overridden.
	assert.Equal(t, 6, cfg.Arm.MaxPermutationLength)
	assert.True(t, cfg.Arm.IndexIncludes)
}

func TestValidateRejectsMissingDSN(t *testing.T) {
	cfg := Default()
	cfg.Workload.Path = "workload.jsonl"
	cfg.Report.CSVPath = "report.csv"
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsMySQLWithoutSchema(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "mysql"
	cfg.Database.DSN = "user:pass@tcp(localhost:3306)/"
	cfg.Workload.Path = "workload.jsonl"
	cfg.Report.CSVPath = "report.csv"
	cfg.Run.Rounds = 10
	cfg.Run.MaxIndexes = 5
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestProjectionsCarryValues(t *testing.T) {
	cfg := Default()
	cfg.Bandit.InputAlpha = 2.5
	c2 := cfg.C2UCBConfig(10)
	assert.Equal(t, 10, c2.Dim)
	assert.Equal(t, 2.5, c2.Alpha0)

	round := cfg.RoundConfig()
	assert.Equal(t, cfg.Run.MaxIndexesPerTable, round.MaxIndexesPerTable)

	armCfg := cfg.ArmFactoryConfig()
	assert.Equal(t, cfg.Arm.MaxPermutationLength, armCfg.MaxPermutationLength)
}
