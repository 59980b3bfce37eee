package depgraph

import "sort"

// Transaction is the result of resolving one control-plane request: the
// full set of units pulled in, their pull edges (for propagation
// decisions), conflicts, and a topological start order that respects
// every After/Before edge (spec.md §4.6, §8 "topological order of
// start jobs respects every After edge").
type Transaction struct {
	Units     []string
	Pulls     []PullEdge
	Conflicts []string
	// Order lists unit names such that for every index i<j, Order[j]
	// does not appear in Order[i]'s After-closure (i.e. dependencies
	// before dependants).
	Order []string
	// Dropped records units removed from the closure to break a cycle
	// (spec.md §4.6 step 1), for diagnostics/logging.
	Dropped []string
}

// Resolve builds the full transaction for starting root: computes the
// pull-in closure, then a topological order over the After/Before
// subgraph restricted to that closure. A cycle fails the transaction
// unless it can be broken by dropping a Wants-only-pulled unit (spec.md
// §4.6 step 1, §9 Open Questions).
func Resolve(root string, lookup Lookup) (*Transaction, error) {
	units, pulls, conflicts, err := Closure(root, lookup)
	if err != nil {
		return nil, err
	}

	var dropped []string
	for {
		order, cyc := topoOrder(units, buildOrdering(units, lookup))
		if cyc == nil {
			return &Transaction{Units: units, Pulls: pulls, Conflicts: conflicts, Order: order, Dropped: dropped}, nil
		}
		victim, ok := wantsOnlyPulledUnit(cyc.Units, root, pulls)
		if !ok {
			return nil, cyc
		}
		units = removeUnit(units, victim)
		pulls = removePullsTo(pulls, victim)
		dropped = append(dropped, victim)
	}
}

func removeUnit(units []string, victim string) []string {
	out := units[:0:0]
	for _, u := range units {
		if u != victim {
			out = append(out, u)
		}
	}
	return out
}

func removePullsTo(pulls []PullEdge, victim string) []PullEdge {
	out := pulls[:0:0]
	for _, p := range pulls {
		if p.To != victim && p.From != victim {
			out = append(out, p)
		}
	}
	return out
}

// topoOrder performs a Kahn's-algorithm topological sort of units under
// orderEdges (From depends on To, so To must come first). Returns a
// *CycleError naming every unit that never reached in-degree zero.
func topoOrder(units []string, edges []orderEdge) ([]string, *CycleError) {
	indegree := map[string]int{}
	dependants := map[string][]string{} // To -> units that depend on it
	for _, u := range units {
		indegree[u] = 0
	}
	for _, e := range edges {
		indegree[e.From]++
		dependants[e.To] = append(dependants[e.To], e.From)
	}

	var queue []string
	for _, u := range units {
		if indegree[u] == 0 {
			queue = append(queue, u)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		var next []string
		for _, dep := range dependants[n] {
			indegree[dep]--
			if indegree[dep] == 0 {
				next = append(next, dep)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}

	if len(order) == len(units) {
		return order, nil
	}

	var remaining []string
	for _, u := range units {
		if indegree[u] > 0 {
			remaining = append(remaining, u)
		}
	}
	sort.Strings(remaining)
	return nil, &CycleError{Units: remaining}
}
