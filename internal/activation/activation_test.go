//go:build linux

package activation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Osso/sysd/internal/unit"
)

func TestScheduleCalendarTrigger(t *testing.T) {
	tm := &unit.Timer{Triggers: []unit.TimerTrigger{{Kind: "calendar", Expr: "0 3 * * *"}}}
	after := time.Date(2026, 7, 31, 1, 0, 0, 0, time.UTC)

	next, ok := Schedule(tm, after, TimerState{}, after)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC), next)
}

func TestScheduleMonotonicFromActivation(t *testing.T) {
	tm := &unit.Timer{Triggers: []unit.TimerTrigger{{Kind: "active", Offset: 5 * time.Minute}}}
	activated := time.Date(2026, 7, 31, 1, 0, 0, 0, time.UTC)

	next, ok := Schedule(tm, activated, TimerState{}, activated)
	require.True(t, ok)
	require.Equal(t, activated.Add(5*time.Minute), next)
}

func TestScheduleUnitActiveRequiresLastFire(t *testing.T) {
	tm := &unit.Timer{Triggers: []unit.TimerTrigger{{Kind: "unit-active", Offset: time.Hour}}}
	now := time.Date(2026, 7, 31, 1, 0, 0, 0, time.UTC)

	_, ok := Schedule(tm, now, TimerState{}, now)
	require.False(t, ok)

	lastFire := now.Add(-30 * time.Minute)
	next, ok := Schedule(tm, now, TimerState{LastFire: lastFire}, now)
	require.True(t, ok)
	require.Equal(t, lastFire.Add(time.Hour), next)
}

func TestScheduleIgnoresMalformedCalendarExpr(t *testing.T) {
	tm := &unit.Timer{Triggers: []unit.TimerTrigger{{Kind: "calendar", Expr: "not-a-cron-expr"}}}
	now := time.Date(2026, 7, 31, 1, 0, 0, 0, time.UTC)

	_, ok := Schedule(tm, now, TimerState{}, now)
	require.False(t, ok)
}

func TestParseMountOptionsSplitsFlagsFromData(t *testing.T) {
	flags, data := parseMountOptions("ro,noexec,size=64m")
	require.NotZero(t, flags)
	require.Equal(t, "size=64m", data)
}

func TestParseMountOptionsDefaultsIsNoop(t *testing.T) {
	flags, data := parseMountOptions("defaults")
	require.Zero(t, flags)
	require.Equal(t, "", data)
}
