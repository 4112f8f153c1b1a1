package dbport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPoolConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultPoolConfig().Validate())
}

func TestPoolConfigValidateRejectsNonPositiveMaxOpen(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.MaxOpenConnections = 0
	assert.Error(t, cfg.Validate())
}

func TestPoolConfigValidateRejectsNegativeMaxIdle(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.MaxIdleConnections = -1
	assert.Error(t, cfg.Validate())
}

func TestPoolConfigValidateRejectsIdleExceedingOpen(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.MaxOpenConnections = 2
	cfg.MaxIdleConnections = 5
	assert.Error(t, cfg.Validate())
}

func TestOpenRejectsInvalidPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.MaxOpenConnections = 0
	_, err := Open("postgres", "postgres://localhost/doesnotmatter", cfg, nil)
	assert.Error(t, err)
}
