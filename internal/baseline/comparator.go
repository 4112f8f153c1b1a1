// Package baseline gives the advisor's external comparators — the DTA,
// DDQN, and static-configuration index recommenders it can be measured
// against — a stable Go seam to plug into, letting multiple
// implementations satisfy one interface rather than branching on a
// type switch at every call site.
package baseline

import (
	"context"
	"fmt"
)

// IndexCandidate is one index a Comparator recommends: enough to build
// it against a bandit.Port without this package importing bandit (the
// same dependency-inversion shape bandit.Port uses for the database
// side).
type IndexCandidate struct {
	Table       string
	KeyCols     []string
	IncludeCols []string
}

// Superarm is the set of indexes a Comparator recommends should exist
// after this round, mirroring what RoundDriver.RunRound's ChosenArms
// names by fingerprint for the core bandit.
type Superarm struct {
	Indexes []IndexCandidate
}

// RoundState is the read-only snapshot a Comparator needs to make a
// recommendation: the current round number, the database size budget,
// and the workload batch about to run. It intentionally mirrors the
// inputs RoundDriver.RunRound takes, so a comparator and the core
// bandit can be run side by side against the identical round.
type RoundState struct {
	Round       int
	MaxMemoryMB float64
	MaxIndexes  int
	Queries     []QueryShape
}

// QueryShape is the predicate/payload shape of one query in the round's
// batch — the same shape a Comparator needs regardless of which
// algorithm it implements.
type QueryShape struct {
	ID         int64
	Predicates map[string][]string
	Payload    map[string][]string
}

// Comparator is implemented by any external index recommender an
// experiment wants to run alongside the core C²UCB bandit. Recommend is
// called once per round with the same RoundState the bandit sees; the
// orchestrator (not this package) decides whether to apply the result,
// merely log it, or run it against a shadow database.
type Comparator interface {
	Name() string
	Recommend(ctx context.Context, state RoundState) (Superarm, error)
}

// StaticComparator recommends the same fixed superarm every round. It
// is the reference "static configuration" baseline spec.md §1 names —
// the simplest possible Comparator, useful both as a control in
// experiments and as a template for wiring in a real DTA/DDQN
// implementation.
type StaticComparator struct {
	fixed Superarm
}

// NewStaticComparator builds a comparator that always recommends fixed,
// regardless of round state.
func NewStaticComparator(fixed Superarm) *StaticComparator {
	return &StaticComparator{fixed: fixed}
}

func (c *StaticComparator) Name() string { return "static" }

func (c *StaticComparator) Recommend(_ context.Context, _ RoundState) (Superarm, error) {
	return c.fixed, nil
}

// NoopComparator implements Comparator by recommending nothing. It is
// the zero-value placeholder a DTA or DDQN integration would replace;
// wiring a real one means implementing Comparator, not modifying
// RoundDriver.
type NoopComparator struct{ name string }

// NewNoopComparator names a not-yet-implemented external collaborator
// (e.g. "dta", "ddqn") so logs and reports can distinguish which
// integration point is still a stub.
func NewNoopComparator(name string) *NoopComparator {
	return &NoopComparator{name: name}
}

func (c *NoopComparator) Name() string { return c.name }

func (c *NoopComparator) Recommend(_ context.Context, _ RoundState) (Superarm, error) {
	return Superarm{}, fmt.Errorf("baseline: %s comparator not implemented", c.name)
}
