// Package bandit implements the contextual combinatorial bandit that
// decides which secondary indexes should exist at any point in time:
// candidate-arm generation, context encoding, the C²UCB selection model,
// and the oracle that turns per-arm confidence bounds into a super-arm
// under a memory or index-count budget.
package bandit

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// maxIdentifierLength bounds the physical index name handed to the
// database port. Most engines cap identifiers around 63-128 bytes; we
// use the tighter PostgreSQL limit and fall back to a content hash
// suffix when the natural name would overflow it.
const maxIdentifierLength = 63

// Arm is one candidate secondary index. Its identity is the structural
// fingerprint of (table, ordered key columns, sorted include columns);
// everything else about it (size, value estimates, usage) mutates over
// the arm's lifetime.
type Arm struct {
	Table       string
	KeyCols     []string
	IncludeCols []string // kept sorted; NewArm sorts them

	// Fingerprint is the canonical, immutable identity of the arm.
	Fingerprint string
	// Name is the physical index name passed to the database port; it is
	// derived deterministically from Fingerprint.
	Name string

	SizeMB    float64
	RowCount  int64
	IsInclude bool
	// Cluster, when non-empty, tags arms that together cover every
	// predicate of some query on a table; used by the oracle's cluster
	// dominance rule.
	Cluster string

	// QueryIDs is the set of query ids this arm was ever generated for.
	QueryIDs map[int64]struct{}
	// Value holds the per-query heuristic benefit estimate (§4.2).
	Value map[int64]float64

	// NameEncodedContext is the memoized, never-changing tail of the
	// context vector (§4.3); it is computed once at arm creation.
	NameEncodedContext []float64

	// LastBatchUsage is the arm's usage count in the most recently
	// executed batch (index-usage statistics from the port).
	LastBatchUsage float64
	// LastSizeOverhead is the arm's size if it was not part of
	// chosen_last (so installing it costs this much space), else 0.
	LastSizeOverhead float64
}

// NewArm constructs an arm for the given structural identity. SizeMB and
// RowCount must be supplied by the caller (the arm factory asks the
// database port for these at creation time).
func NewArm(table string, keyCols, includeCols []string, sizeMB float64, rowCount int64) *Arm {
	sortedIncludes := append([]string(nil), includeCols...)
	sort.Strings(sortedIncludes)

	a := &Arm{
		Table:       table,
		KeyCols:     append([]string(nil), keyCols...),
		IncludeCols: sortedIncludes,
		SizeMB:      sizeMB,
		RowCount:    rowCount,
		QueryIDs:    make(map[int64]struct{}),
		Value:       make(map[int64]float64),
	}
	a.Fingerprint = Fingerprint(table, a.KeyCols, a.IncludeCols)
	a.Name = indexName(a.Fingerprint)
	return a
}

// Fingerprint computes the canonical structural identity string for
// (table, ordered key columns, sorted include columns). Two arms with
// equal fingerprints are the same arm; the function is injective on
// that triple as long as column and table names do not themselves
// contain the '|' or ',' separators (true of every SQL identifier).
func Fingerprint(table string, keyCols, includeCols []string) string {
	sortedIncludes := append([]string(nil), includeCols...)
	sort.Strings(sortedIncludes)
	return table + "|" + strings.Join(keyCols, ",") + "|" + strings.Join(sortedIncludes, ",")
}

// ParseFingerprint is the inverse of Fingerprint: it losslessly recovers
// the (table, key columns, include columns) triple from a fingerprint
// string, used by round-trip tests (§8).
func ParseFingerprint(fp string) (table string, keyCols, includeCols []string, ok bool) {
	parts := strings.SplitN(fp, "|", 3)
	if len(parts) != 3 {
		return "", nil, nil, false
	}
	table = parts[0]
	if parts[1] != "" {
		keyCols = strings.Split(parts[1], ",")
	}
	if parts[2] != "" {
		includeCols = strings.Split(parts[2], ",")
	}
	return table, keyCols, includeCols, true
}

// indexName derives a deterministic, engine-safe physical index name
// from a fingerprint. Short fingerprints are rendered readably; long
// ones are truncated with a content hash suffix so uniqueness survives
// the character-length cap.
func indexName(fingerprint string) string {
	table, keyCols, includeCols, _ := ParseFingerprint(fingerprint)
	name := "ix_" + table + "_" + strings.Join(keyCols, "_")
	if len(includeCols) > 0 {
		name += "_inc_" + strings.Join(includeCols, "_")
	}
	name = sanitizeIdentifier(name)
	if len(name) <= maxIdentifierLength {
		return name
	}
	sum := sha1.Sum([]byte(fingerprint))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	return name[:maxIdentifierLength-len(suffix)] + suffix
}

func sanitizeIdentifier(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// LE reports whether a's key-column list is a column-wise equal prefix of
// other's (other covers a) — the "arm ≤ other" dominance relation used by
// the oracle's covered-arm pruning rule. Tables are not compared.
func (a *Arm) LE(other *Arm) bool {
	if len(a.KeyCols) > len(other.KeyCols) {
		return false
	}
	for i := range a.KeyCols {
		if a.KeyCols[i] != other.KeyCols[i] {
			return false
		}
	}
	return true
}

// SharesPrefix reports whether a and other are on the same table and
// share the first prefixLength key columns (the oracle's same-prefix
// dominance rule, §4.5).
func (a *Arm) SharesPrefix(other *Arm, prefixLength int) bool {
	if a.Table != other.Table {
		return false
	}
	if len(a.KeyCols) < prefixLength || len(other.KeyCols) < prefixLength {
		return false
	}
	for i := 0; i < prefixLength; i++ {
		if a.KeyCols[i] != other.KeyCols[i] {
			return false
		}
	}
	return true
}

func (a *Arm) String() string {
	return a.Name
}

// DebugString renders a human-readable summary for logging.
func (a *Arm) DebugString() string {
	return fmt.Sprintf("%s(table=%s key=%v include=%v size=%.2fMB cluster=%q)",
		a.Name, a.Table, a.KeyCols, a.IncludeCols, a.SizeMB, a.Cluster)
}
