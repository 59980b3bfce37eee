package unit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeUnitFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func testPaths(t *testing.T) (LoadPaths, string) {
	t.Helper()
	dir := t.TempDir()
	return LoadPaths{Etc: dir}, dir
}

func TestParseSimpleService(t *testing.T) {
	lp, dir := testPaths(t)
	writeUnitFile(t, dir, "nginx.service", `[Unit]
Description=the web server
After=network.target

[Service]
Type=simple
ExecStart=/usr/bin/nginx -g daemon off;
Restart=on-failure

[Install]
WantedBy=multi-user.target
`)
	u, err := Load(lp, "nginx.service", "host", "0", "root", "/root")
	require.NoError(t, err)
	require.Equal(t, "the web server", u.Description)
	require.Equal(t, []string{"network.target"}, u.Edges.After)
	require.Equal(t, TypeSimple, u.Service.Type)
	require.Len(t, u.Service.ExecStart, 1)
	require.Equal(t, "/usr/bin/nginx", u.Service.ExecStart[0].Path)
	require.Equal(t, RestartOnFailure, u.Service.Restart)
	require.Equal(t, []string{"multi-user.target"}, u.Install.WantedBy)
}

func TestRoundTrip(t *testing.T) {
	lp, dir := testPaths(t)
	writeUnitFile(t, dir, "foo.service", `[Unit]
Description=foo

[Service]
ExecStart=/bin/foo
`)
	u, err := Load(lp, "foo.service", "h", "0", "root", "/root")
	require.NoError(t, err)

	serialized := Serialize(u)
	lp2, dir2 := testPaths(t)
	writeUnitFile(t, dir2, "foo.service", serialized)
	u2, err := Load(lp2, "foo.service", "h", "0", "root", "/root")
	require.NoError(t, err)

	require.Equal(t, u.Description, u2.Description)
	require.Equal(t, u.Service.ExecStart, u2.Service.ExecStart)
	require.Equal(t, u.Service.Restart, u2.Service.Restart)
}

func TestDropInMerge(t *testing.T) {
	lp, dir := testPaths(t)
	writeUnitFile(t, dir, "foo.service", `[Unit]
After=A

[Service]
ExecStart=/bin/foo
`)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "foo.service.d"), 0755))
	writeUnitFile(t, filepath.Join(dir, "foo.service.d"), "10-extra.conf", `[Unit]
After=B
`)
	u, err := Load(lp, "foo.service", "h", "0", "root", "/root")
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, u.Edges.After)
}

func TestDropInResetsList(t *testing.T) {
	lp, dir := testPaths(t)
	writeUnitFile(t, dir, "foo.service", `[Unit]
After=A

[Service]
ExecStart=/bin/foo
`)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "foo.service.d"), 0755))
	writeUnitFile(t, filepath.Join(dir, "foo.service.d"), "10-extra.conf", `[Unit]
After=
After=C
`)
	u, err := Load(lp, "foo.service", "h", "0", "root", "/root")
	require.NoError(t, err)
	require.Equal(t, []string{"C"}, u.Edges.After)
}

func TestTemplateInstance(t *testing.T) {
	lp, dir := testPaths(t)
	writeUnitFile(t, dir, "foo@.service", `[Service]
ExecStart=/bin/x %i
`)
	u, err := Load(lp, "foo@bar.service", "h", "0", "root", "/root")
	require.NoError(t, err)
	require.Equal(t, "/bin/x", u.Service.ExecStart[0].Path)
	require.Equal(t, []string{"/bin/x", "bar"}, u.Service.ExecStart[0].Args)
}

func TestLoadPathPrecedence(t *testing.T) {
	etcDir := t.TempDir()
	runDir := t.TempDir()
	lp := LoadPaths{Etc: etcDir, Run: runDir}

	writeUnitFile(t, runDir, "foo.service", `[Service]
ExecStart=/bin/run-version
`)
	writeUnitFile(t, etcDir, "foo.service", `[Service]
ExecStart=/bin/etc-version
`)
	u, err := Load(lp, "foo.service", "h", "0", "root", "/root")
	require.NoError(t, err)
	require.Equal(t, "/bin/etc-version", u.Service.ExecStart[0].Path)
}

func TestMalformedSectionHeader(t *testing.T) {
	lp, dir := testPaths(t)
	writeUnitFile(t, dir, "bad.service", `[Service
ExecStart=/bin/foo
`)
	_, err := Load(lp, "bad.service", "h", "0", "root", "/root")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}

func TestInvalidEnumValue(t *testing.T) {
	lp, dir := testPaths(t)
	writeUnitFile(t, dir, "bad.service", `[Service]
Type=bogus
ExecStart=/bin/foo
`)
	_, err := Load(lp, "bad.service", "h", "0", "root", "/root")
	require.Error(t, err)
}

func TestDurationParsing(t *testing.T) {
	cases := map[string]float64{
		"10":      10,
		"10s":     10,
		"1m":      60,
		"1h30m":   5400,
		"500ms":   0.5,
		"infinity": 0,
	}
	for in, wantSeconds := range cases {
		d, err := ParseDuration(in)
		require.NoError(t, err, in)
		require.InDelta(t, wantSeconds, d.Seconds(), 0.001, in)
	}
}

func TestSizeParsing(t *testing.T) {
	v, err := ParseSize("10M")
	require.NoError(t, err)
	require.EqualValues(t, 10*1<<20, v)
}
