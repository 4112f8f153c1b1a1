package bandit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintRoundTrip(t *testing.T) {
	fp := Fingerprint("orders", []string{"customer_id", "order_date"}, []string{"total", "status"})
	table, keyCols, includeCols, ok := ParseFingerprint(fp)
	require.True(t, ok)
	assert.Equal(t, "orders", table)
	assert.Equal(t, []string{"customer_id", "order_date"}, keyCols)
	assert.Equal(t, []string{"status", "total"}, includeCols) // sorted by Fingerprint
}

func TestFingerprintInjective(t *testing.T) {
	a := Fingerprint("t", []string{"a", "b"}, nil)
	b := Fingerprint("t", []string{"b", "a"}, nil) // different order => different arm
	c := Fingerprint("t", []string{"a", "b"}, []string{"c"})
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestArmLE(t *testing.T) {
	ab := NewArm("t", []string{"a", "b"}, nil, 10, 100)
	abc := NewArm("t", []string{"a", "b", "c"}, nil, 20, 100)
	ba := NewArm("t", []string{"b", "a"}, nil, 10, 100)

	assert.True(t, ab.LE(abc), "ab should be a prefix of abc")
	assert.False(t, abc.LE(ab), "abc is longer than ab, cannot be its prefix")
	assert.False(t, ba.LE(abc), "ba is not an equal-order prefix of abc")
}

func TestArmSharesPrefix(t *testing.T) {
	ab := NewArm("t", []string{"a", "b"}, nil, 10, 100)
	ac := NewArm("t", []string{"a", "c"}, nil, 10, 100)
	assert.True(t, ab.SharesPrefix(ac, 1))
	assert.False(t, ab.SharesPrefix(ac, 2))
}

func TestIndexNameTruncatesLongFingerprints(t *testing.T) {
	longCols := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		longCols = append(longCols, "a_very_long_column_name_number")
	}
	arm := NewArm("a_very_long_table_name_for_testing_purposes", longCols, nil, 1, 1)
	assert.LessOrEqual(t, len(arm.Name), maxIdentifierLength)
}
