//go:build linux

// Package cgroup places supervised services into cgroup v2 and exposes
// their resource usage as Prometheus metrics (spec.md §4.5). Grounded on
// the teacher's core/metrics/cgroups/cgroups.go plugin (which selects a
// v1/v2 monitor by github.com/containerd/cgroups/v3's cgroups.Mode())
// and core/metrics/cgroups/v2/cgroups.go's collector/monitor shape; this
// system is cgroup v2 only (spec.md §4.5), so only that half is kept.
package cgroup

import (
	"fmt"
	"path/filepath"

	"github.com/containerd/cgroups/v3/cgroup2"

	"github.com/Osso/sysd/internal/unit"
)

// Manager places one service's main PID (and its descendants) into
// <Root>/<Slice>/<UnitName>.
type Manager struct {
	root string
}

func New(root string) *Manager {
	return &Manager{root: root}
}

// groupPath returns the cgroupfs-relative group path for a unit,
// respecting its Slice= directive (default: the root slice).
func groupPath(svc *unit.Service, unitName string) string {
	slice := svc.Slice
	if slice == "" {
		return "/" + unitName
	}
	return filepath.Join("/", filepath.FromSlash(slice), unitName)
}

// Create builds the unit's cgroup, returning a handle to add the
// started process to it. No resource limits are set on the group:
// resourcesFor returns an empty cgroup2.Resources.
func (m *Manager) Create(svc *unit.Service, unitName string) (*cgroup2.Manager, error) {
	res := resourcesFor(svc)
	mgr, err := cgroup2.NewManager(m.root, groupPath(svc, unitName), res)
	if err != nil {
		return nil, fmt.Errorf("cgroup: create %s: %w", unitName, err)
	}
	return mgr, nil
}

// Load reattaches to an already-created cgroup, e.g. after a daemon
// restart where the service itself was left running.
func (m *Manager) Load(svc *unit.Service, unitName string) (*cgroup2.Manager, error) {
	mgr, err := cgroup2.LoadManager(m.root, groupPath(svc, unitName))
	if err != nil {
		return nil, fmt.Errorf("cgroup: load %s: %w", unitName, err)
	}
	return mgr, nil
}

func resourcesFor(svc *unit.Service) *cgroup2.Resources {
	return &cgroup2.Resources{}
}

// AddProc places pid into the unit's cgroup.
func AddProc(mgr *cgroup2.Manager, pid int) error {
	return mgr.AddProc(uint64(pid))
}

// Delete removes the unit's cgroup once every process inside it has
// exited (spec.md §4.5 "cgroup-empty" handling drives this call).
func Delete(mgr *cgroup2.Manager) error {
	return mgr.Delete()
}
