package bandit

import (
	"math"
	"sort"
)

// Budget is the oracle's selection budget (§4.5): exactly one of
// MaxMemoryMB or MaxIndexes governs, selected by MaxMemoryMB>0 per §6
// ("max_memory; 0 means use max_indexes instead").
type Budget struct {
	MaxMemoryMB float64
	MaxIndexes  int
}

func (b Budget) usesMemory() bool {
	return b.MaxMemoryMB > 0
}

// Oracle greedily selects a super-arm under budget with dominance
// pruning (§4.5).
type Oracle struct {
	MaxIndexesPerTable int
	// SamePrefixLength is fixed at 1 per spec.md §4.5's same-prefix rule.
	SamePrefixLength int
}

// NewOracle constructs an oracle with the given per-table cap.
func NewOracle(maxIndexesPerTable int) *Oracle {
	return &Oracle{MaxIndexesPerTable: maxIndexesPerTable, SamePrefixLength: 1}
}

// Select runs the greedy loop of §4.5 and returns the ordered list of
// chosen arm fingerprints (selection order, first chosen first).
func (o *Oracle) Select(ucbs map[string]float64, arms map[string]*Arm, budget Budget) []string {
	surviving := make(map[string]*Arm, len(arms))
	for fp, a := range arms {
		if u, ok := ucbs[fp]; ok && u > 0 {
			surviving[fp] = a
		}
	}

	perTable := make(map[string]int)
	var chosen []string
	remainingMemory := budget.MaxMemoryMB
	remainingCount := budget.MaxIndexes
	useMemory := budget.usesMemory()

	for len(surviving) > 0 {
		if useMemory && remainingMemory <= 0 {
			break
		}
		if !useMemory && remainingCount <= 0 {
			break
		}

		fp := argmaxUCB(surviving, ucbs)
		j := surviving[fp]
		delete(surviving, fp)

		if useMemory && j.SizeMB > remainingMemory {
			continue
		}

		chosen = append(chosen, fp)
		if useMemory {
			remainingMemory -= j.SizeMB
		} else {
			remainingCount--
		}
		perTable[j.Table]++

		o.prune(surviving, j, remainingMemory, useMemory, perTable)
	}
	return chosen
}

// argmaxUCB picks the highest-UCB surviving arm, breaking ties on the
// lexicographically smallest fingerprint for deterministic output.
func argmaxUCB(surviving map[string]*Arm, ucbs map[string]float64) string {
	fps := make([]string, 0, len(surviving))
	for fp := range surviving {
		fps = append(fps, fp)
	}
	sort.Strings(fps)

	best := fps[0]
	bestUCB := math.Inf(-1)
	for _, fp := range fps {
		if u := ucbs[fp]; u > bestUCB {
			bestUCB = u
			best = fp
		}
	}
	return best
}

// prune applies the five dominance rules of §4.5 after committing j.
func (o *Oracle) prune(surviving map[string]*Arm, j *Arm, remainingMemory float64, useMemory bool, perTable map[string]int) {
	// Covered: prefix-contained arms too big to matter now that the
	// budget has shrunk.
	if useMemory {
		for fp, a := range surviving {
			if a.LE(j) && a.SizeMB > remainingMemory {
				delete(surviving, fp)
			}
		}
	}

	// Per-table cap: any table (not just j's) that has hit its cap loses
	// every remaining candidate on it.
	if o.MaxIndexesPerTable > 0 {
		for fp, a := range surviving {
			if perTable[a.Table] >= o.MaxIndexesPerTable {
				delete(surviving, fp)
			}
		}
	}

	// Cluster: other arms on j's table sharing j's (non-empty) cluster
	// tag are now redundant.
	if j.Cluster != "" {
		for fp, a := range surviving {
			if a.Table == j.Table && a.Cluster == j.Cluster {
				delete(surviving, fp)
			}
		}
	}

	// Same prefix: arms on j's table sharing j's leading key column are
	// dropped unless their key-column sequence diverges beyond the
	// shared prefix (those serve genuinely different query shapes).
	for fp, a := range surviving {
		if a.Table != j.Table {
			continue
		}
		if len(a.KeyCols) == 0 || len(j.KeyCols) == 0 {
			continue
		}
		if a.KeyCols[0] != j.KeyCols[0] {
			continue
		}
		if sharesFullPrefix(a, j) {
			delete(surviving, fp)
		}
	}

	// Query-covered: a committed covering (is_include) index satisfies
	// every query it was generated for; strip those query ids from other
	// arms on the same table and drop any that become unreferenced.
	if j.IsInclude {
		for fp, a := range surviving {
			if a.Table != j.Table || a == j {
				continue
			}
			for qid := range j.QueryIDs {
				delete(a.QueryIDs, qid)
			}
			if len(a.QueryIDs) == 0 {
				delete(surviving, fp)
			}
		}
	}
}

// sharesFullPrefix reports whether one of a, j's key-column lists is a
// column-wise equal prefix of the other (in either direction) — i.e.
// neither diverges from the other within their shared length.
func sharesFullPrefix(a, j *Arm) bool {
	n := len(a.KeyCols)
	if len(j.KeyCols) < n {
		n = len(j.KeyCols)
	}
	for i := 0; i < n; i++ {
		if a.KeyCols[i] != j.KeyCols[i] {
			return false
		}
	}
	return true
}
