package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveCapabilitiesDefaultsWhenBoundingSetEmpty(t *testing.T) {
	cs, err := ResolveCapabilities(nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, cs.Bounding)
	require.Empty(t, cs.Ambient)
}

func TestResolveCapabilitiesRejectsUnknownName(t *testing.T) {
	_, err := ResolveCapabilities([]string{"CAP_NOT_A_REAL_CAP"}, nil)
	require.Error(t, err)
}

func TestResolveCapabilitiesHonorsExplicitBoundingSet(t *testing.T) {
	cs, err := ResolveCapabilities([]string{"CAP_NET_BIND_SERVICE"}, []string{"CAP_NET_BIND_SERVICE"})
	require.NoError(t, err)
	require.Len(t, cs.Bounding, 1)
	require.Len(t, cs.Ambient, 1)
}
