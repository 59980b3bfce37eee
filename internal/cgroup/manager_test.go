//go:build linux

package cgroup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Osso/sysd/internal/unit"
)

func TestGroupPathDefaultsToRootSlice(t *testing.T) {
	svc := &unit.Service{}
	require.Equal(t, "/nginx.service", groupPath(svc, "nginx.service"))
}

func TestGroupPathNestsUnderSlice(t *testing.T) {
	svc := &unit.Service{Slice: "system.slice"}
	require.Equal(t, "/system.slice/nginx.service", groupPath(svc, "nginx.service"))
}
