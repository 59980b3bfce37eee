//go:build linux

package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Osso/sysd/internal/unit"
)

type fakeRegistry struct {
	entries map[string]*unit.Entry
}

func (f *fakeRegistry) Get(name string) (*unit.Entry, error) {
	e, ok := f.entries[name]
	if !ok {
		return nil, fmt.Errorf("%s: not found", name)
	}
	return e, nil
}

func TestClassifySuccessAndFailure(t *testing.T) {
	require.Equal(t, exitSuccess, classify(nil))

	err := exec.Command("false").Run()
	require.NotNil(t, err)
	require.Equal(t, exitFailure, classify(err))
	require.Equal(t, 1, exitCodeOf(err))
}

func TestClassifySignaled(t *testing.T) {
	cmd := exec.Command("sh", "-c", "kill -TERM $$")
	err := cmd.Run()
	require.NotNil(t, err)
	require.Equal(t, exitSignal, classify(err))
}

func TestSupervisorStartUnknownUnitIsNotFound(t *testing.T) {
	s := New(&fakeRegistry{entries: map[string]*unit.Entry{}}, t.TempDir())
	err := s.Start(context.Background(), "missing.service")
	require.Error(t, err)
}
