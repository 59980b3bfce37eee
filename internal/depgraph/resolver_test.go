package depgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Osso/sysd/internal/unit"
)

func mkUnit(name string, after, requires, wants []string) *unit.Unit {
	return &unit.Unit{
		Name: name,
		Edges: unit.EdgeSet{
			After:    after,
			Requires: requires,
			Wants:    wants,
		},
	}
}

func lookupFrom(units map[string]*unit.Unit) Lookup {
	return func(name string) (*unit.Unit, bool) {
		u, ok := units[name]
		return u, ok
	}
}

func TestResolveRespectsAfterOrder(t *testing.T) {
	units := map[string]*unit.Unit{
		"a.service": mkUnit("a.service", []string{"b.service"}, []string{"b.service"}, nil),
		"b.service": mkUnit("b.service", nil, nil, nil),
	}
	tx, err := Resolve("a.service", lookupFrom(units))
	require.NoError(t, err)
	require.Equal(t, []string{"a.service", "b.service"}, tx.Units)
	require.Equal(t, []string{"b.service", "a.service"}, tx.Order)
}

func TestResolveAcyclicRespectsEveryAfterEdge(t *testing.T) {
	units := map[string]*unit.Unit{
		"a.service": mkUnit("a.service", []string{"b.service", "c.service"}, []string{"b.service", "c.service"}, nil),
		"b.service": mkUnit("b.service", []string{"c.service"}, []string{"c.service"}, nil),
		"c.service": mkUnit("c.service", nil, nil, nil),
	}
	tx, err := Resolve("a.service", lookupFrom(units))
	require.NoError(t, err)
	pos := map[string]int{}
	for i, u := range tx.Order {
		pos[u] = i
	}
	require.Less(t, pos["c.service"], pos["b.service"])
	require.Less(t, pos["b.service"], pos["a.service"])
}

func TestCycleWithOnlyRequiresFails(t *testing.T) {
	units := map[string]*unit.Unit{
		"a.service": mkUnit("a.service", []string{"b.service"}, []string{"b.service"}, nil),
		"b.service": mkUnit("b.service", []string{"a.service"}, nil, nil),
	}
	_, err := Resolve("a.service", lookupFrom(units))
	require.Error(t, err)
	var cyc *CycleError
	require.ErrorAs(t, err, &cyc)
}

func TestReplacingRequiresWithWantsBreaksCycle(t *testing.T) {
	units := map[string]*unit.Unit{
		"a.service": mkUnit("a.service", []string{"b.service"}, nil, []string{"b.service"}),
		"b.service": mkUnit("b.service", []string{"a.service"}, nil, nil),
	}
	tx, err := Resolve("a.service", lookupFrom(units))
	require.NoError(t, err)
	require.Contains(t, tx.Dropped, "b.service")
	require.NotContains(t, tx.Units, "b.service")
}

func TestConflictsCollected(t *testing.T) {
	units := map[string]*unit.Unit{
		"a.service": {Name: "a.service", Edges: unit.EdgeSet{Conflicts: []string{"rescue.target"}}},
	}
	tx, err := Resolve("a.service", lookupFrom(units))
	require.NoError(t, err)
	require.Equal(t, []string{"rescue.target"}, tx.Conflicts)
}
