// Package depgraph builds the dependency graph a job-engine transaction
// operates over: transitive pull-in (Requires/Wants/BindsTo/PartOf/
// Requisite), strict ordering (After/Before) and negative (Conflicts)
// edges (spec.md §4.6).
package depgraph

import (
	"fmt"
	"sort"

	"github.com/Osso/sysd/internal/unit"
)

// PullKind distinguishes how strongly a dependency pulls its target
// into the transaction and how its failure propagates (spec.md §4.6
// Propagation).
type PullKind string

const (
	PullRequires  PullKind = "requires"
	PullRequisite PullKind = "requisite"
	PullWants     PullKind = "wants"
	PullBindsTo   PullKind = "binds-to"
	PullPartOf    PullKind = "part-of"
)

// Strict reports whether this pull kind fails the dependant's start
// when the dependency fails (Requires/Requisite/BindsTo do; Wants/
// PartOf alone do not — PartOf only propagates restart/stop, not
// start failure).
func (k PullKind) Strict() bool {
	return k == PullRequires || k == PullRequisite || k == PullBindsTo
}

// PullEdge is one "From pulls in To" edge.
type PullEdge struct {
	From string
	To   string
	Kind PullKind
}

// Lookup resolves a canonical unit name to its Unit, returning ok=false
// if the unit does not exist or failed to load (the closure still
// includes it as a name so the caller can fail the relevant job with
// NotFound, but no further edges are followed from it).
type Lookup func(name string) (*unit.Unit, bool)

// Closure computes the transitive closure of pull-in edges starting at
// root, plus Conflicts collected from every unit reached (spec.md §4.6:
// "Conflicts enqueues a stop job for the conflicting unit in the same
// transaction").
func Closure(root string, lookup Lookup) (units []string, pulls []PullEdge, conflicts []string, err error) {
	seen := map[string]bool{root: true}
	queue := []string{root}
	conflictSet := map[string]bool{}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		units = append(units, name)

		u, ok := lookup(name)
		if !ok {
			continue
		}
		add := func(to string, kind PullKind) {
			pulls = append(pulls, PullEdge{From: name, To: to, Kind: kind})
			if !seen[to] {
				seen[to] = true
				queue = append(queue, to)
			}
		}
		for _, to := range u.Edges.Requires {
			add(to, PullRequires)
		}
		for _, to := range u.Edges.Requisite {
			add(to, PullRequisite)
		}
		for _, to := range u.Edges.Wants {
			add(to, PullWants)
		}
		for _, to := range u.Edges.BindsTo {
			add(to, PullBindsTo)
		}
		for _, to := range u.Edges.PartOf {
			add(to, PullPartOf)
		}
		for _, to := range u.Edges.Conflicts {
			conflictSet[to] = true
		}
	}

	for c := range conflictSet {
		conflicts = append(conflicts, c)
	}
	sort.Strings(conflicts)
	sort.Strings(units)
	return units, pulls, conflicts, nil
}

// orderEdge is "From must wait for To to reach a terminal state".
type orderEdge struct {
	From string
	To   string
}

// buildOrdering translates each unit's After/Before into orderEdges
// restricted to units within the closure, per spec.md §3 invariant:
// "After/Before are strict partial orderings on transition events".
func buildOrdering(units []string, lookup Lookup) []orderEdge {
	inClosure := map[string]bool{}
	for _, u := range units {
		inClosure[u] = true
	}
	var edges []orderEdge
	for _, name := range units {
		u, ok := lookup(name)
		if !ok {
			continue
		}
		for _, dep := range u.Edges.After {
			if inClosure[dep] {
				edges = append(edges, orderEdge{From: name, To: dep})
			}
		}
		for _, dep := range u.Edges.Before {
			if inClosure[dep] {
				edges = append(edges, orderEdge{From: dep, To: name})
			}
		}
	}
	return edges
}

// hasStrictPull reports whether a or b pulls the other in via a Strict
// PullKind, in either direction. Resolve does not call it: cycles are
// broken by dropping a Wants-only-pulled unit (wantsOnlyPulledUnit),
// not by dropping single ordering edges.
func hasStrictPull(pulls []PullEdge, a, b string) bool {
	for _, p := range pulls {
		if p.Kind.Strict() && ((p.From == a && p.To == b) || (p.From == b && p.To == a)) {
			return true
		}
	}
	return false
}

// wantsOnlyPulledUnit returns a unit, if any, among `units` that is
// pulled into the transaction exclusively via Wants edges (no
// Requires/Requisite/BindsTo anywhere pointing at it) — the unit
// Resolve may drop to break an otherwise-fatal cycle.
func wantsOnlyPulledUnit(units []string, root string, pulls []PullEdge) (string, bool) {
	pulledBy := map[string][]PullEdge{}
	for _, p := range pulls {
		pulledBy[p.To] = append(pulledBy[p.To], p)
	}
	for _, name := range units {
		if name == root {
			continue
		}
		edges := pulledBy[name]
		if len(edges) == 0 {
			continue
		}
		anyStrict := false
		for _, e := range edges {
			if e.Kind.Strict() {
				anyStrict = true
				break
			}
		}
		if !anyStrict {
			return name, true
		}
	}
	return "", false
}

// CycleError reports that a transaction's ordering subgraph contains a
// cycle that could not be broken (spec.md §4.6 step 1 / §7 Cycle).
type CycleError struct {
	Units []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("ordering cycle among units: %v", e.Units)
}
