package bandit

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// forgottenMarker is the FirstSeenRound sentinel used to mark a record
// as garbage-collected (§4.1): the record stays in the store (history is
// never destroyed) but is excluded from the "past-seen" set.
const forgottenMarker = -1

// SelectivitySource is the slice of the database port the query store
// needs: selectivity estimation for a query's predicates. Kept narrow so
// the store does not depend on the full dbport.Port interface.
type SelectivitySource interface {
	GetSelectivity(ctx context.Context, querySQL string, predicates map[string][]string) (map[string]float64, error)
}

// ScanKind distinguishes the three scan-time history buckets kept per
// table (§3 Query record, §9 hyp variants).
type ScanKind int

const (
	ScanTable ScanKind = iota
	ScanClusteredIndex
	ScanNonClusteredIndex
	ScanTableHyp
	ScanClusteredIndexHyp
	ScanNonClusteredIndexHyp
)

// Record is one distinct query's bookkeeping entry (§3 Query record).
type Record struct {
	ID             int64
	QueryString    string
	Predicates     map[string][]string
	Payload        map[string][]string
	Selectivity    map[string]float64
	Frequency      int
	FirstSeenRound int
	LastSeenRound  int

	// Context is the query-level cached context vector mentioned in §3;
	// the core's context encoding is arm-scoped (§4.3) so this slot is
	// left available for collaborators that want to stash a per-query
	// feature cache without extending Record.
	Context []float64

	// scanTimes is keyed by kind then table: spec.md §3 keeps one
	// scan-time history per table per query (mirroring query_v5.py's
	// per-table table_scan_times/index_scan_times dicts), not one shared
	// bucket across every table the query touches.
	scanTimes map[ScanKind]map[string][]float64
}

// IsForgotten reports whether gc() has marked this record forgotten.
func (r *Record) IsForgotten() bool {
	return r.FirstSeenRound == forgottenMarker
}

// RecordScanTime appends to the (kind, table) scan-time bucket, trimming
// FIFO at maxLen entries (§5 resource bounds: cap N≈1000 per table).
func (r *Record) RecordScanTime(kind ScanKind, table string, value float64, maxLen int) {
	if r.scanTimes == nil {
		r.scanTimes = make(map[ScanKind]map[string][]float64)
	}
	byTable := r.scanTimes[kind]
	if byTable == nil {
		byTable = make(map[string][]float64)
		r.scanTimes[kind] = byTable
	}
	hist := append(byTable[table], value)
	if len(hist) > maxLen {
		hist = hist[len(hist)-maxLen:]
	}
	byTable[table] = hist
}

// ScanTimes returns the recorded history for a (kind, table) bucket (nil
// if empty).
func (r *Record) ScanTimes(kind ScanKind, table string) []float64 {
	return r.scanTimes[kind][table]
}

// QueryStore keeps one Record per distinct query id observed over the
// run (§4.1). The selectivity memo is keyed by the literal query string
// so repeated identical queries under different ids reuse an estimate
// (the `sel_store` behavior of the original, §7 SUPPLEMENTED FEATURES).
type QueryStore struct {
	source SelectivitySource

	records map[int64]*Record
	// selMemo maps query_string -> per-table selectivity, avoiding a
	// repeat round-trip to the port for queries seen verbatim before.
	selMemo *lru.Cache[string, map[string]float64]

	scanHistoryCap int
}

// NewQueryStore constructs a store backed by source for selectivity
// lookups. selMemoSize bounds the selectivity memo (LRU eviction);
// scanHistoryCap bounds per-record scan-time history length.
func NewQueryStore(source SelectivitySource, selMemoSize, scanHistoryCap int) (*QueryStore, error) {
	if selMemoSize <= 0 {
		selMemoSize = 4096
	}
	cache, err := lru.New[string, map[string]float64](selMemoSize)
	if err != nil {
		return nil, fmt.Errorf("bandit: allocating selectivity memo: %w", err)
	}
	return &QueryStore{
		source:         source,
		records:        make(map[int64]*Record),
		selMemo:        cache,
		scanHistoryCap: scanHistoryCap,
	}, nil
}

// Observe ingests one query occurrence (§4.1). On first sight it asks
// the port (or the memo) for selectivity and seeds the record; on
// re-sight it bumps frequency and refreshes last_seen_round and the
// literal query string.
func (s *QueryStore) Observe(ctx context.Context, id int64, queryString string, predicates, payload map[string][]string, round int) (*Record, error) {
	if rec, ok := s.records[id]; ok {
		rec.Frequency++
		rec.LastSeenRound = round
		rec.QueryString = queryString
		if rec.IsForgotten() {
			rec.FirstSeenRound = round
		}
		return rec, nil
	}

	sel, err := s.selectivityFor(ctx, queryString, predicates)
	if err != nil {
		return nil, fmt.Errorf("bandit: resolving selectivity for query %d: %w", id, err)
	}

	rec := &Record{
		ID:             id,
		QueryString:    queryString,
		Predicates:     predicates,
		Payload:        payload,
		Selectivity:    sel,
		Frequency:      1,
		FirstSeenRound: round,
		LastSeenRound:  round,
	}
	s.records[id] = rec
	return rec, nil
}

func (s *QueryStore) selectivityFor(ctx context.Context, queryString string, predicates map[string][]string) (map[string]float64, error) {
	if cached, ok := s.selMemo.Get(queryString); ok {
		return cached, nil
	}
	sel, err := s.source.GetSelectivity(ctx, queryString, predicates)
	if err != nil {
		return nil, err
	}
	s.selMemo.Add(queryString, sel)
	return sel, nil
}

// GC marks every record last seen more than queryMemory rounds ago as
// forgotten (§4.1): the record is retained but excluded from the
// past-seen set returned by Classify.
func (s *QueryStore) GC(round, queryMemory int) {
	if queryMemory <= 0 {
		return
	}
	for _, rec := range s.records {
		if rec.IsForgotten() {
			continue
		}
		if round-rec.LastSeenRound > queryMemory {
			rec.FirstSeenRound = forgottenMarker
		}
	}
}

// Classify partitions the ids observed in the current batch into
// past-seen (first seen strictly before round t, not forgotten) and
// new-this-round, per §4.1 and the "new queries excluded from arm
// generation" Open Question decision (DESIGN.md).
func (s *QueryStore) Classify(batchIDs []int64, round int) (past, newThisRound []int64) {
	for _, id := range batchIDs {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		if rec.FirstSeenRound == round {
			newThisRound = append(newThisRound, id)
			continue
		}
		if rec.IsForgotten() {
			continue
		}
		past = append(past, id)
	}
	return past, newThisRound
}

// PastSeenRatio computes |new| / |past| for the workload-shift trigger
// (§4.6 step 3). Returns 0 when past is empty (no trigger possible).
func PastSeenRatio(past, newThisRound []int64) float64 {
	if len(past) == 0 {
		return 0
	}
	return float64(len(newThisRound)) / float64(len(past))
}

// ScanHistoryCap returns the per-bucket history length bound (§5 resource
// bounds: cap N≈1000 entries per table).
func (s *QueryStore) ScanHistoryCap() int {
	return s.scanHistoryCap
}

// Get returns the record for id, if any.
func (s *QueryStore) Get(id int64) (*Record, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Len reports the total number of distinct query ids ever observed,
// including forgotten ones.
func (s *QueryStore) Len() int {
	return len(s.records)
}
