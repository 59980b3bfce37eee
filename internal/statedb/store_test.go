package statedb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLastFireRoundTrips(t *testing.T) {
	s := openTest(t)

	zero, err := s.LastFire("backup.timer")
	require.NoError(t, err)
	require.True(t, zero.IsZero())

	now := time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastFire("backup.timer", now))

	got, err := s.LastFire("backup.timer")
	require.NoError(t, err)
	require.True(t, got.Equal(now))
}

func TestAllocateDynamicUserIsStable(t *testing.T) {
	s := openTest(t)

	first, err := s.AllocateDynamicUser("foo.service", 61000, 61999)
	require.NoError(t, err)
	require.GreaterOrEqual(t, first.UID, uint32(61000))

	second, err := s.AllocateDynamicUser("foo.service", 61000, 61999)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestAllocateDynamicUserSkipsUsed(t *testing.T) {
	s := openTest(t)

	a, err := s.AllocateDynamicUser("a.service", 61000, 61001)
	require.NoError(t, err)
	b, err := s.AllocateDynamicUser("b.service", 61000, 61001)
	require.NoError(t, err)
	require.NotEqual(t, a.UID, b.UID)

	_, err = s.AllocateDynamicUser("c.service", 61000, 61001)
	require.Error(t, err)
}

func TestReleaseDynamicUserFreesSlot(t *testing.T) {
	s := openTest(t)

	a, err := s.AllocateDynamicUser("a.service", 61000, 61000)
	require.NoError(t, err)
	require.NoError(t, s.ReleaseDynamicUser("a.service"))

	b, err := s.AllocateDynamicUser("b.service", 61000, 61000)
	require.NoError(t, err)
	require.Equal(t, a.UID, b.UID)
}

func TestFDStoreTracksNames(t *testing.T) {
	s := openTest(t)

	require.NoError(t, s.StoreFD("web.service", "listen-fd"))
	require.NoError(t, s.StoreFD("web.service", "db-fd"))

	names, err := s.FDNames("web.service")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"listen-fd", "db-fd"}, names)
}
