package bandit

import (
	"context"
	"fmt"
	"sort"
)

// SizeSource is the slice of the database port the arm factory needs:
// estimating a candidate index's size before it is ever built (§6
// estimate_index_size, possibly via a transient hypothetical index).
type SizeSource interface {
	EstimateIndexSize(ctx context.Context, table string, keyCols, includeCols []string) (sizeMB float64, err error)
}

// ArmFactoryConfig holds the enumerated knobs that govern candidate
// generation (§6 Configuration).
type ArmFactoryConfig struct {
	MaxPermutationLength int
	SmallTableIgnore     int64
	TableMinSelectivity  float64
	IndexIncludes        bool

	// ArmValueForgetting selects the (old+new)/2 smoother on re-sight
	// versus a straight overwrite — §9 Open Question, preserved as
	// written and exposed as a knob (DESIGN.md).
	ArmValueForgetting bool
}

// DefaultArmFactoryConfig matches the source's literal constants.
func DefaultArmFactoryConfig() ArmFactoryConfig {
	return ArmFactoryConfig{
		MaxPermutationLength: 6,
		SmallTableIgnore:     1000,
		TableMinSelectivity:  0.2,
		IndexIncludes:        true,
		ArmValueForgetting:   true,
	}
}

// ArmFactory enumerates candidate indexes from a query's predicate and
// payload columns (§4.2), registering them in a shared ArmStore.
type ArmFactory struct {
	cfg     ArmFactoryConfig
	catalog *Catalog
	sizes   SizeSource
	store   *ArmStore
}

// NewArmFactory builds a factory bound to catalog, a size-estimating
// port, and the shared arm store.
func NewArmFactory(cfg ArmFactoryConfig, catalog *Catalog, sizes SizeSource, store *ArmStore) *ArmFactory {
	return &ArmFactory{cfg: cfg, catalog: catalog, sizes: sizes, store: store}
}

// GenerateForQuery runs §4.2's full generation algorithm for one
// past-seen query and returns the set of arms touched (the q_bandit_arms
// of the original), keyed by fingerprint.
func (f *ArmFactory) GenerateForQuery(ctx context.Context, rec *Record) (map[string]*Arm, error) {
	touched := make(map[string]*Arm)

	if err := f.generateFromPredicates(ctx, rec, touched); err != nil {
		return nil, err
	}
	f.generatePayloadOnly(rec, touched)
	if f.cfg.IndexIncludes {
		if err := f.generateWithIncludes(ctx, rec, touched); err != nil {
			return nil, err
		}
	}
	return touched, nil
}

func (f *ArmFactory) generateFromPredicates(ctx context.Context, rec *Record, touched map[string]*Arm) error {
	for _, table := range sortedKeys(rec.Predicates) {
		predicateCols := rec.Predicates[table]
		info, ok := f.catalog.Tables[table]
		if !ok {
			return fmt.Errorf("bandit: armfactory: unknown table %q referenced by query %d", table, rec.ID)
		}

		includes := setDifference(rec.Payload[table], predicateCols)
		selectivity := rec.Selectivity[table]
		if info.RowCount < f.cfg.SmallTableIgnore ||
			(selectivity > f.cfg.TableMinSelectivity && len(includes) > 0) {
			continue
		}

		cols := predicateCols
		if len(cols) > f.cfg.MaxPermutationLength {
			cols = cols[:f.cfg.MaxPermutationLength]
		}

		for _, perm := range allPermutations(cols) {
			armValue := (1 - selectivity) * (float64(len(perm)) / float64(len(cols))) * float64(info.RowCount)

			fp := Fingerprint(table, perm, nil)
			arm, existed := f.store.Get(fp)
			if !existed {
				sizeMB, err := f.sizes.EstimateIndexSize(ctx, table, perm, nil)
				if err != nil {
					return fmt.Errorf("bandit: estimating size for %s: %w", fp, err)
				}
				arm = NewArm(table, perm, nil, sizeMB, info.RowCount)
				if len(perm) == len(cols) {
					arm.Cluster = fmt.Sprintf("%s_%d_all", table, rec.ID)
					if len(includes) == 0 {
						arm.IsInclude = true
					}
				}
				f.store.Put(arm)
			}
			f.applyArmValue(arm, rec.ID, armValue)
			touched[fp] = arm
		}
	}
	return nil
}

func (f *ArmFactory) generatePayloadOnly(rec *Record, touched map[string]*Arm) {
	for _, table := range sortedKeys(rec.Payload) {
		if _, inPredicates := rec.Predicates[table]; inPredicates {
			continue
		}
		info, ok := f.catalog.Tables[table]
		if !ok || info.RowCount < f.cfg.SmallTableIgnore {
			continue
		}

		cols := rec.Payload[table]
		fp := Fingerprint(table, cols, nil)
		arm, existed := f.store.Get(fp)
		armValue := 0.001 * float64(info.RowCount)
		if !existed {
			// Size estimation is skipped in the original for payload-only
			// arms too (it reuses get_estimated_size_of_index_v1); mirror
			// that by still asking the size source, but tolerate failure
			// by falling back to zero rather than aborting the round,
			// since these arms are low-value by construction.
			sizeMB := 0.0
			if sz, err := f.sizes.EstimateIndexSize(context.Background(), table, cols, nil); err == nil {
				sizeMB = sz
			}
			arm = NewArm(table, cols, nil, sizeMB, info.RowCount)
			arm.Cluster = fmt.Sprintf("%s_%d_all", table, rec.ID)
			arm.IsInclude = true
			f.store.Put(arm)
		}
		f.applyArmValue(arm, rec.ID, armValue)
		touched[fp] = arm
	}
}

func (f *ArmFactory) generateWithIncludes(ctx context.Context, rec *Record, touched map[string]*Arm) error {
	for _, table := range sortedKeys(rec.Predicates) {
		predicateCols := rec.Predicates[table]
		info, ok := f.catalog.Tables[table]
		if !ok || info.RowCount < f.cfg.SmallTableIgnore {
			continue
		}
		includes := setDifference(rec.Payload[table], predicateCols)
		if len(includes) == 0 {
			continue
		}
		sort.Strings(includes)
		selectivity := rec.Selectivity[table]

		for _, perm := range permutationsOfLength(predicateCols, len(predicateCols)) {
			fp := Fingerprint(table, perm, includes)
			armValue := (1 - selectivity) * float64(info.RowCount)

			arm, existed := f.store.Get(fp)
			if !existed {
				sizeMB, err := f.sizes.EstimateIndexSize(ctx, table, perm, includes)
				if err != nil {
					return fmt.Errorf("bandit: estimating size with includes for %s: %w", fp, err)
				}
				arm = NewArm(table, perm, includes, sizeMB, info.RowCount)
				arm.IsInclude = true
				arm.Cluster = fmt.Sprintf("%s_%d_all", table, rec.ID)
				f.store.Put(arm)
			}
			f.applyArmValue(arm, rec.ID, armValue)
			touched[fp] = arm
		}
	}
	return nil
}

// applyArmValue records queryID's contribution to arm.Value, applying
// the forgetting smoother on re-sight (§4.2, §9 Open Question) and
// marking the arm as touched by this query for the oracle's
// query-covered pruning rule (§4.5).
func (f *ArmFactory) applyArmValue(arm *Arm, queryID int64, value float64) {
	arm.QueryIDs[queryID] = struct{}{}
	if existing, ok := arm.Value[queryID]; ok && f.cfg.ArmValueForgetting {
		arm.Value[queryID] = (existing + value) / 2
	} else {
		arm.Value[queryID] = value
	}
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setDifference(a, b []string) []string {
	exclude := make(map[string]struct{}, len(b))
	for _, v := range b {
		exclude[v] = struct{}{}
	}
	var out []string
	for _, v := range a {
		if _, skip := exclude[v]; !skip {
			out = append(out, v)
		}
	}
	return out
}

// allPermutations returns every non-empty permutation of cols, grouped
// by increasing length (§4.2: "enumerate all non-empty permutations").
func allPermutations(cols []string) [][]string {
	var all [][]string
	for r := 1; r <= len(cols); r++ {
		all = append(all, permutationsOfLength(cols, r)...)
	}
	return all
}

// permutationsOfLength returns every ordered, non-repeating selection of
// r elements from cols (Python's itertools.permutations(cols, r)).
func permutationsOfLength(cols []string, r int) [][]string {
	if r <= 0 || r > len(cols) {
		return nil
	}
	n := len(cols)
	used := make([]bool, n)
	cur := make([]string, 0, r)
	var out [][]string

	var rec func()
	rec = func() {
		if len(cur) == r {
			perm := append([]string(nil), cur...)
			out = append(out, perm)
			return
		}
		for i := 0; i < n; i++ {
			if used[i] {
				continue
			}
			used[i] = true
			cur = append(cur, cols[i])
			rec()
			cur = cur[:len(cur)-1]
			used[i] = false
		}
	}
	rec()
	return out
}
