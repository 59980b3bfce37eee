package unit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryLoadAndAlias(t *testing.T) {
	dir := t.TempDir()
	writeUnitFile(t, dir, "foo.service", `[Unit]
Description=foo

[Install]
Alias=bar.service

[Service]
ExecStart=/bin/foo
`)
	r := New(LoadPaths{Etc: dir}, Identity{Hostname: "h", UID: "0", User: "root", Home: "/root"})

	entry, err := r.Get("foo.service")
	require.NoError(t, err)
	require.Equal(t, LoadStateLoaded, entry.LoadState)

	aliased, err := r.Get("bar.service")
	require.NoError(t, err)
	require.Equal(t, "foo.service", aliased.Name)
}

func TestRegistryNotFound(t *testing.T) {
	dir := t.TempDir()
	r := New(LoadPaths{Etc: dir}, Identity{})
	entry, err := r.Get("missing.service")
	require.Error(t, err)
	require.Equal(t, LoadStateNotFound, entry.LoadState)
}

func TestRegistryNeverDuplicatesCanonicalName(t *testing.T) {
	dir := t.TempDir()
	writeUnitFile(t, dir, "foo.service", `[Service]
ExecStart=/bin/foo
`)
	r := New(LoadPaths{Etc: dir}, Identity{})
	_, err := r.Get("foo.service")
	require.NoError(t, err)
	_, err = r.Load("foo.service")
	require.NoError(t, err)
	require.Len(t, r.List(), 1)
}

func TestReloadAllDiscoversNewUnits(t *testing.T) {
	dir := t.TempDir()
	writeUnitFile(t, dir, "foo.service", `[Service]
ExecStart=/bin/foo
`)
	r := New(LoadPaths{Etc: dir}, Identity{})
	require.NoError(t, r.ReloadAll())
	require.Len(t, r.List(), 1)

	writeUnitFile(t, dir, "bar.service", `[Service]
ExecStart=/bin/bar
`)
	require.NoError(t, r.ReloadAll())
	require.Len(t, r.List(), 2)
}

func TestReloadAllWantsDirectory(t *testing.T) {
	dir := t.TempDir()
	writeUnitFile(t, dir, "foo.service", `[Service]
ExecStart=/bin/foo
`)
	writeUnitFile(t, dir, "multi-user.target", `[Unit]
Description=multi user
`)
	wantsDir := filepath.Join(dir, "multi-user.target.wants")
	require.NoError(t, os.MkdirAll(wantsDir, 0755))
	require.NoError(t, os.Symlink(filepath.Join(dir, "foo.service"), filepath.Join(wantsDir, "foo.service")))

	r := New(LoadPaths{Etc: dir}, Identity{})
	require.NoError(t, r.ReloadAll())
	names := map[string]bool{}
	for _, e := range r.List() {
		names[e.Name] = true
	}
	require.True(t, names["foo.service"])
	require.True(t, names["multi-user.target"])
}
