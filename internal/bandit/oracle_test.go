package bandit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// S2 — budget eviction.
func TestOracleBudgetEviction(t *testing.T) {
	arm1 := NewArm("t", []string{"a"}, nil, 60, 1000)
	arm2 := NewArm("t", []string{"b"}, nil, 50, 1000)
	arm3 := NewArm("t", []string{"c"}, nil, 30, 1000)

	arms := map[string]*Arm{arm1.Fingerprint: arm1, arm2.Fingerprint: arm2, arm3.Fingerprint: arm3}
	ucbs := map[string]float64{arm1.Fingerprint: 10, arm2.Fingerprint: 9, arm3.Fingerprint: 8}

	o := NewOracle(0)
	chosen := o.Select(ucbs, arms, Budget{MaxMemoryMB: 80})

	assert.Equal(t, []string{arm1.Fingerprint}, chosen)
}

// S3 — per-table cap.
func TestOraclePerTableCap(t *testing.T) {
	arms := make(map[string]*Arm)
	ucbs := make(map[string]float64)
	ucbValues := []float64{10, 9, 8, 7, 6, 5, 4}
	var fps []string
	for i, u := range ucbValues {
		a := NewArm("t", []string{string(rune('a' + i))}, nil, 1, 1000)
		arms[a.Fingerprint] = a
		ucbs[a.Fingerprint] = u
		fps = append(fps, a.Fingerprint)
	}

	o := NewOracle(6)
	chosen := o.Select(ucbs, arms, Budget{MaxIndexes: 100})

	assert.Len(t, chosen, 6)
	assert.ElementsMatch(t, fps[:6], chosen)
}

// S4 — cluster dominance.
func TestOracleClusterDominance(t *testing.T) {
	arm1 := NewArm("t", []string{"a", "b"}, nil, 10, 1000)
	arm1.Cluster = "t_1_all"
	arm2 := NewArm("t", []string{"b", "a"}, nil, 10, 1000)
	arm2.Cluster = "t_1_all"

	arms := map[string]*Arm{arm1.Fingerprint: arm1, arm2.Fingerprint: arm2}
	ucbs := map[string]float64{arm1.Fingerprint: 10, arm2.Fingerprint: 9}

	o := NewOracle(0)
	chosen := o.Select(ucbs, arms, Budget{MaxIndexes: 100})

	assert.Equal(t, []string{arm1.Fingerprint}, chosen)
}

func TestOracleSkipsNonPositiveUCB(t *testing.T) {
	arm1 := NewArm("t", []string{"a"}, nil, 10, 1000)
	arm2 := NewArm("t", []string{"b"}, nil, 10, 1000)
	arms := map[string]*Arm{arm1.Fingerprint: arm1, arm2.Fingerprint: arm2}
	ucbs := map[string]float64{arm1.Fingerprint: 5, arm2.Fingerprint: 0}

	o := NewOracle(0)
	chosen := o.Select(ucbs, arms, Budget{MaxIndexes: 100})

	assert.Equal(t, []string{arm1.Fingerprint}, chosen)
}

func TestOracleQueryCoveredPrunesExhaustedArms(t *testing.T) {
	covering := NewArm("t", []string{"a", "c"}, []string{"d"}, 10, 1000)
	covering.IsInclude = true
	covering.QueryIDs[1] = struct{}{}

	other := NewArm("t", []string{"b"}, nil, 5, 1000)
	other.QueryIDs[1] = struct{}{}

	arms := map[string]*Arm{covering.Fingerprint: covering, other.Fingerprint: other}
	ucbs := map[string]float64{covering.Fingerprint: 10, other.Fingerprint: 9}

	o := NewOracle(0)
	chosen := o.Select(ucbs, arms, Budget{MaxIndexes: 100})

	assert.Equal(t, []string{covering.Fingerprint}, chosen)
	assert.Empty(t, other.QueryIDs, "other's only query id should have been stripped by the covering arm")
}
