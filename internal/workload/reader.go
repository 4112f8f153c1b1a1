// Package workload ingests the advisor's JSON-lines query log and slices
// it into per-round batches (§6 workload file format, §4.6 step 1).
package workload

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/sylph520/indexadvisor/internal/bandit"
)

// Query is one line of the workload file. sort_by/group_by are accepted
// (unmarshaled so malformed-field errors surface at load time) but unused
// by the core, per §6.
type Query struct {
	ID          int64               `json:"id"`
	QueryString string              `json:"query_string"`
	Predicates  map[string][]string `json:"predicates"`
	Payload     map[string][]string `json:"payload"`
	SortBy      []string            `json:"sort_by,omitempty"`
	GroupBy     []string            `json:"group_by,omitempty"`
}

// Load reads every JSON-lines record from r in order. Blank lines are
// skipped; a malformed line is a fatal load error (§7 ConfigError — a
// corrupt workload file cannot be partially trusted).
func Load(r io.Reader, logger *zap.Logger) ([]Query, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var queries []Query
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var q Query
		if err := json.Unmarshal(line, &q); err != nil {
			return nil, fmt.Errorf("workload: line %d: %w", lineNo, err)
		}
		queries = append(queries, q)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("workload: reading: %w", err)
	}
	logger.Info("workload: loaded queries", zap.Int("count", len(queries)))
	return queries, nil
}

// ToQueryInput converts a workload record to the round driver's input
// shape (internal/bandit.QueryInput).
func ToQueryInput(q Query) bandit.QueryInput {
	return bandit.QueryInput{
		ID:          q.ID,
		QueryString: q.QueryString,
		Predicates:  q.Predicates,
		Payload:     q.Payload,
	}
}

// Window describes one predeclared batch boundary: queries[Start:End) form
// the batch played for this round, per §6 `queries_start[]`/`queries_end[]`.
// WorkloadShift marks a round where the window rotates (§4.6 step 1) —
// the round driver only needs to know a shift happened, not why.
type Window struct {
	Start, End    int
	WorkloadShift bool
}

// Windower replays a fixed, predeclared schedule of [start, end) windows
// over the full query log, rotating to the next declared window whenever
// the configured round reaches a `workload_shifts` boundary. Rounds past
// the last declared window keep replaying the final window (a closed
// workload, per spec.md §5 "closed workloads in this system").
type Windower struct {
	all     []Query
	shifts  []int
	windows []Window
}

// NewWindower builds a windower from the parsed workload and §6's
// workload_shifts[]/queries_start[]/queries_end[] triad. len(shifts) must
// equal len(starts) and len(ends); shifts[i] names the (0-indexed) round
// at which windows[i] becomes the active batch window. shifts must be
// non-decreasing; windows[0]'s shift round is normally 0.
func NewWindower(all []Query, shifts, starts, ends []int) (*Windower, error) {
	if len(starts) != len(ends) {
		return nil, fmt.Errorf("workload: queries_start/queries_end length mismatch (%d vs %d)", len(starts), len(ends))
	}
	if len(shifts) != len(starts) {
		return nil, fmt.Errorf("workload: workload_shifts/queries_start length mismatch (%d vs %d)", len(shifts), len(starts))
	}
	windows := make([]Window, len(starts))
	for i := range starts {
		if starts[i] < 0 || ends[i] > len(all) || starts[i] > ends[i] {
			return nil, fmt.Errorf("workload: window %d [%d:%d) out of range for %d queries", i, starts[i], ends[i], len(all))
		}
		if i > 0 && shifts[i] < shifts[i-1] {
			return nil, fmt.Errorf("workload: workload_shifts must be non-decreasing (index %d)", i)
		}
		windows[i] = Window{Start: starts[i], End: ends[i]}
	}
	if len(windows) == 0 {
		windows = []Window{{Start: 0, End: len(all)}}
		shifts = []int{0}
	}
	return &Windower{all: all, shifts: shifts, windows: windows}, nil
}

// BatchForRound returns the query batch active at round (0-indexed) and
// whether this round is exactly a declared workload-shift boundary (§4.6
// step 1: "if the workload window shifts ... rotate").
func (w *Windower) BatchForRound(round int) ([]bandit.QueryInput, bool) {
	idx, isShift := 0, false
	for i, shiftRound := range w.shifts {
		if round >= shiftRound {
			idx = i
		}
		if round == shiftRound {
			isShift = true
		}
	}

	win := w.windows[idx]
	batch := make([]bandit.QueryInput, 0, win.End-win.Start)
	for _, q := range w.all[win.Start:win.End] {
		batch = append(batch, ToQueryInput(q))
	}
	return batch, isShift
}
