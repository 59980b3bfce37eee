//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/Osso/sysd/internal/unit"
)

// Spec is the fully resolved sandbox configuration for one exec, ready
// to be applied in order inside the forked child (spec.md §4.4).
type Spec struct {
	Caps        CapSet
	Rlimits     map[string]unit.RlimitSpec
	Mounts      unit.Sandbox
	Seccomp     SeccompSpec
	NoNewPrivs  bool
}

// Resolve builds a Spec from a service's sandbox directives.
func Resolve(svc *unit.Service) (Spec, error) {
	caps, err := ResolveCapabilities(svc.Sandbox.CapabilityBoundingSet, svc.Sandbox.AmbientCapabilities)
	if err != nil {
		return Spec{}, err
	}
	deny := false
	names := svc.Sandbox.SystemCallFilter
	if len(names) > 0 && strings.HasPrefix(names[0], "~") {
		deny = true
		first := strings.TrimPrefix(names[0], "~")
		names = names[1:]
		if first != "" {
			names = append([]string{first}, names...)
		}
	}
	return Spec{
		Caps:    caps,
		Rlimits: svc.Rlimits,
		Mounts:  svc.Sandbox,
		Seccomp: SeccompSpec{Names: names, Deny: deny, ErrorName: svc.Sandbox.SystemCallErrorNumber},
		NoNewPrivs: svc.Sandbox.NoNewPrivileges,
	}, nil
}

// Apply runs every sandbox-construction step in the order spec.md §4.4
// requires: namespace unshare, mount construction, rlimits, identity
// drop (left to the caller, which knows the resolved uid/gid), no-new-
// privs, capability bounding/ambient sets, then the seccomp filter
// last so the filter itself cannot be used to re-widen privilege.
// On failure Apply writes the error text to errFD (when errFD > 0) and
// also returns the error (spec.md §4.4 "error pipe" protocol).
func (s Spec) Apply(errFD int) error {
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return reportAndWrap(errFD, fmt.Errorf("unshare mount namespace: %w", err))
	}
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return reportAndWrap(errFD, fmt.Errorf("make-rprivate /: %w", err))
	}
	if err := ApplyMountNamespace(s.Mounts); err != nil {
		return reportAndWrap(errFD, err)
	}
	if err := ApplyRlimits(s.Rlimits); err != nil {
		return reportAndWrap(errFD, err)
	}
	if s.NoNewPrivs {
		if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
			return reportAndWrap(errFD, fmt.Errorf("no_new_privs: %w", err))
		}
	}
	if err := s.Caps.Apply(); err != nil {
		return reportAndWrap(errFD, err)
	}
	if err := s.Seccomp.Load(); err != nil {
		return reportAndWrap(errFD, err)
	}
	return nil
}

func reportAndWrap(errFD int, err error) error {
	if errFD > 0 {
		f := os.NewFile(uintptr(errFD), "sandbox-error-pipe")
		fmt.Fprintf(f, "%v", err)
		f.Close()
	}
	return err
}
