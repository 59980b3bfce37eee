package condition

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Osso/sysd/internal/unit"
)

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	sys := System{Stat: os.Stat}

	ok, assertOK, results := Evaluate(sys, []unit.Condition{
		{Name: "PathExists", Argument: dir},
	})
	require.True(t, ok)
	require.True(t, assertOK)
	require.True(t, results[0].Satisfied)

	ok, _, _ = Evaluate(sys, []unit.Condition{
		{Name: "PathExists", Argument: dir + "/does-not-exist"},
	})
	require.False(t, ok)
}

func TestNegation(t *testing.T) {
	sys := System{Stat: os.Stat}
	ok, _, _ := Evaluate(sys, []unit.Condition{
		{Name: "PathExists", Argument: "/does-not-exist-xyz", Negate: true},
	})
	require.True(t, ok)
}

func TestAssertFailureIsDistinctFromConditionFailure(t *testing.T) {
	sys := System{Stat: os.Stat}
	condOK, assertOK, _ := Evaluate(sys, []unit.Condition{
		{Name: "PathExists", Argument: "/does-not-exist-xyz", Assert: true},
	})
	require.True(t, condOK)
	require.False(t, assertOK)
}

func TestUnknownPredicateDefaultsSatisfied(t *testing.T) {
	sys := System{}
	ok, assertOK, _ := Evaluate(sys, []unit.Condition{
		{Name: "SomeFuturePredicate", Argument: "x"},
	})
	require.True(t, ok)
	require.True(t, assertOK)
}
