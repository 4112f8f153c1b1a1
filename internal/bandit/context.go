package bandit

import "math"

// StaticContextSize is the fixed width of the derived-value head (§4.3).
const StaticContextSize = 3

// Dimension returns d, the full context-vector width for a catalog with
// the given uniqueness/includes settings (§4.3):
//
//	d = n_columns * (1 + CONTEXT_UNIQUENESS + CONTEXT_INCLUDES) + 3
func Dimension(catalog *Catalog, contextUniqueness int, contextIncludes bool) int {
	n := catalog.TotalColumns
	segments := contextUniqueness + 1
	if contextIncludes {
		segments++
	}
	return n*segments + StaticContextSize
}

// ContextEncoder builds per-arm context vectors against a fixed catalog
// and configuration (§4.3). It is stateless; the only mutation it
// performs is memoizing the name-encoded tail onto the arm itself, since
// that part never changes after arm creation.
type ContextEncoder struct {
	catalog           *Catalog
	contextUniqueness int
	contextIncludes   bool
	dim               int
}

// NewContextEncoder builds an encoder bound to catalog. contextUniqueness
// must be >= 1 (position-1 is always tracked).
func NewContextEncoder(catalog *Catalog, contextUniqueness int, contextIncludes bool) *ContextEncoder {
	if contextUniqueness < 1 {
		contextUniqueness = 1
	}
	return &ContextEncoder{
		catalog:           catalog,
		contextUniqueness: contextUniqueness,
		contextIncludes:   contextIncludes,
		dim:               Dimension(catalog, contextUniqueness, contextIncludes),
	}
}

// Dim returns the encoder's fixed context-vector width.
func (e *ContextEncoder) Dim() int {
	return e.dim
}

// Encode builds the full context vector for arm: the derived-value head
// followed by the memoized name-encoded tail. dbSizeMB is the current
// total database size (for the size/db_size feature); chosenLast is the
// set of arm fingerprints present in the database at the start of the
// round (to compute the size-delta-if-new feature).
func (e *ContextEncoder) Encode(arm *Arm, usageLastBatch, dbSizeMB float64, chosenLast map[string]struct{}) []float64 {
	tail := e.tailFor(arm)

	x := make([]float64, StaticContextSize+len(tail))
	x[0] = usageLastBatch

	sizeDelta := 0.0
	if _, present := chosenLast[arm.Fingerprint]; !present {
		sizeDelta = arm.SizeMB
	}
	if dbSizeMB > 0 {
		x[1] = sizeDelta / dbSizeMB
	}
	if arm.IsInclude {
		x[2] = 1
	}
	copy(x[StaticContextSize:], tail)
	return x
}

// tailFor returns the memoized name-encoded tail, computing and caching
// it on the arm on first use.
func (e *ContextEncoder) tailFor(arm *Arm) []float64 {
	if arm.NameEncodedContext != nil {
		return arm.NameEncodedContext
	}
	tail := e.encodeTail(arm)
	arm.NameEncodedContext = tail
	return tail
}

// encodeTail builds the name-encoded segments described in §4.3:
//   - segment 0: 1 at the arm's position-1 key column.
//   - segments 1..U-1: 1 at the column occupying that exact key position
//     (2-indexed through CONTEXT_UNIQUENESS), when CONTEXT_UNIQUENESS>1.
//   - the shared left-over segment: positions beyond CONTEXT_UNIQUENESS
//     decay as 10^-position, written into the column's slot.
//   - the include segment (only when contextIncludes is set): 1 at every
//     column present in the arm's include list.
func (e *ContextEncoder) encodeTail(arm *Arm) []float64 {
	n := e.catalog.TotalColumns
	segments := e.contextUniqueness + 1
	if e.contextIncludes {
		segments++
	}
	tail := make([]float64, n*segments)

	colIndex := func(table, col string) (int, bool) {
		idx, ok := e.catalog.ColumnIndex[ColumnRef{Table: table, Column: col}]
		return idx, ok
	}

	for pos, col := range arm.KeyCols {
		position := pos + 1 // 1-indexed
		idx, ok := colIndex(arm.Table, col)
		if !ok {
			continue
		}
		switch {
		case position == 1:
			tail[idx] = 1
		case position <= e.contextUniqueness:
			seg := position - 1 // segments[1..U-1]
			tail[seg*n+idx] = 1
		default:
			leftover := e.contextUniqueness // segment index U (0-indexed, the (U+1)th segment)
			tail[leftover*n+idx] = math.Pow(10, -float64(position))
		}
	}

	if e.contextIncludes {
		includeSeg := e.contextUniqueness + 1
		for _, col := range arm.IncludeCols {
			idx, ok := colIndex(arm.Table, col)
			if !ok {
				continue
			}
			tail[includeSeg*n+idx] = 1
		}
	}

	return tail
}
