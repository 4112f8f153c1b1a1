package bandit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dim int) C2UCBConfig {
	return C2UCBConfig{
		Dim:                         dim,
		Lambda:                      1,
		Alpha0:                      1,
		AlphaReductionRate:          1.01,
		CreationCostReductionFactor: 2,
	}
}

// S5 — hard reset on workload shift.
func TestHardResetOnWorkloadShift(t *testing.T) {
	bd, err := NewBandit(testConfig(3), nil)
	require.NoError(t, err)

	contexts := map[string][]float64{
		"arm1": {1, 0, 0},
		"arm2": {0, 1, 0},
	}
	_, err = bd.Select(contexts)
	require.NoError(t, err)
	require.NoError(t, bd.Update(map[string]Reward{
		"arm1": {Gain: 5},
		"arm2": {Gain: 3},
	}, contexts))

	// Confirm the model moved away from its initial state.
	assert.NotEqual(t, []float64{0, 0, 0}, bd.BiasVector())

	bd.WorkloadChangeTrigger(0.8)

	expectedV := make([]float64, 9)
	expectedV[0] = 1
	expectedV[4] = 1
	expectedV[8] = 1
	assert.Equal(t, expectedV, bd.Covariance())
	assert.Equal(t, []float64{0, 0, 0}, bd.BiasVector())
	assert.Equal(t, []float64{0, 0, 0}, bd.Weights())
}

// S6 — reward split update.
func TestRewardSplitUpdate(t *testing.T) {
	bd, err := NewBandit(testConfig(3), nil)
	require.NoError(t, err)

	// x^usage = [1,0,0], x^creation = [0,1,0] => full context [1,1,0]
	// (the size-delta coordinate, index 1, carries the creation signal).
	contexts := map[string][]float64{"arm1": {1, 1, 0}}
	require.NoError(t, bd.Update(map[string]Reward{
		"arm1": {Gain: 2, CreationCost: 3},
	}, contexts))

	assert.Equal(t, []float64{2, -3, 0}, bd.BiasVector())

	expectedV := []float64{
		2, 0, 0,
		0, 2, 0,
		0, 0, 1,
	}
	assert.Equal(t, expectedV, bd.Covariance())
}

func TestAlphaDecaysOnSelect(t *testing.T) {
	bd, err := NewBandit(testConfig(2), nil)
	require.NoError(t, err)

	initial := bd.Alpha()
	_, err = bd.Select(map[string][]float64{"a": {1, 0}})
	require.NoError(t, err)
	assert.Less(t, bd.Alpha(), initial)
}

func TestPartialForgettingScalesStateAndResetsAlphaAboveThreshold(t *testing.T) {
	bd, err := NewBandit(testConfig(2), nil)
	require.NoError(t, err)
	bd.alpha = 0.1 // simulate decay below alpha0

	bd.WorkloadChangeTrigger(0.2)

	// V = λI + (1-2·0.2)·V = I + 0.6·I; b stays zero.
	assert.InDeltaSlice(t, []float64{1.6, 0, 0, 1.6}, bd.Covariance(), 1e-9)
	assert.Equal(t, []float64{0, 0}, bd.BiasVector())
	assert.Equal(t, bd.cfg.Alpha0, bd.Alpha(), "fraction > 0.1 should reset alpha")
}

func TestSplitContextZeroesSizeCoordInUsage(t *testing.T) {
	usage, creation := splitContext([]float64{1, 5, 2})
	assert.Equal(t, []float64{1, 0, 2}, usage)
	assert.Equal(t, []float64{0, 5, 0}, creation)
}
