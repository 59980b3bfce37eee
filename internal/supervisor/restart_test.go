package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Osso/sysd/internal/unit"
)

func TestShouldRestartPolicies(t *testing.T) {
	cases := []struct {
		name   string
		policy unit.RestartPolicy
		class  exitClass
		want   bool
	}{
		{"no never restarts", unit.RestartNo, exitFailure, false},
		{"always restarts on success", unit.RestartAlways, exitSuccess, true},
		{"always restarts on failure", unit.RestartAlways, exitFailure, true},
		{"on-success skips failure", unit.RestartOnSuccess, exitFailure, false},
		{"on-success restarts success", unit.RestartOnSuccess, exitSuccess, true},
		{"on-failure restarts signal", unit.RestartOnFailure, exitSignal, true},
		{"on-failure skips success", unit.RestartOnFailure, exitSuccess, false},
		{"on-abnormal skips failure", unit.RestartOnAbnormal, exitFailure, false},
		{"on-abnormal restarts signal", unit.RestartOnAbnormal, exitSignal, true},
		{"on-watchdog only watchdog", unit.RestartOnWatchdog, exitWatchdog, true},
		{"on-watchdog skips signal", unit.RestartOnWatchdog, exitSignal, false},
		{"on-abort only abort", unit.RestartOnAbort, exitAbort, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := shouldRestart(c.policy, c.class, nil, 0)
			require.Equal(t, c.want, got)
		})
	}
}

func TestShouldRestartHonorsPreventExitStatus(t *testing.T) {
	got := shouldRestart(unit.RestartAlways, exitFailure, []int{1, 2}, 1)
	require.False(t, got)

	got = shouldRestart(unit.RestartAlways, exitFailure, []int{1, 2}, 3)
	require.True(t, got)
}

func TestRateLimiterTripsOnBurst(t *testing.T) {
	rl := newRateLimiter(unit.RateLimit{Interval: time.Second, Burst: 2})
	now := time.Unix(1000, 0)

	require.False(t, rl.record(now))
	require.False(t, rl.record(now.Add(100*time.Millisecond)))
	require.True(t, rl.record(now.Add(200*time.Millisecond)))
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := newRateLimiter(unit.RateLimit{Interval: time.Second, Burst: 1})
	now := time.Unix(2000, 0)

	require.False(t, rl.record(now))
	require.False(t, rl.record(now.Add(2*time.Second)))
}

func TestRateLimiterDisabledWhenBurstZero(t *testing.T) {
	rl := newRateLimiter(unit.RateLimit{Interval: time.Second, Burst: 0})
	now := time.Unix(3000, 0)
	for i := 0; i < 10; i++ {
		require.False(t, rl.record(now))
	}
}
