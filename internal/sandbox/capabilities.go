// Package sandbox constructs the per-service execution sandbox (spec.md
// §4.4): capabilities, rlimits, seccomp filter, and mount/namespace
// isolation, applied in a forked child before execve.
//
// Adapted from the teacher's pkg/oci/spec.go default-capability-set and
// default-rlimit vocabulary (github.com/opencontainers/runtime-spec) and
// from syndtr/gocapability's enumeration used across the pack (e.g. the
// nomad/minimega executor reference files) for bounding-set application.
package sandbox

import (
	"fmt"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/syndtr/gocapability/capability"
)

// defaultCapabilities mirrors systemd's built-in default bounding set
// for services that do not restrict CapabilityBoundingSet= themselves;
// services narrow this set via the unit file, they never widen it.
func defaultCapabilities() []string {
	return []string{
		"CAP_CHOWN",
		"CAP_DAC_OVERRIDE",
		"CAP_FSETID",
		"CAP_FOWNER",
		"CAP_MKNOD",
		"CAP_NET_RAW",
		"CAP_SETGID",
		"CAP_SETUID",
		"CAP_SETFCAP",
		"CAP_SETPCAP",
		"CAP_NET_BIND_SERVICE",
		"CAP_SYS_CHROOT",
		"CAP_KILL",
		"CAP_AUDIT_WRITE",
	}
}

// nameToCap maps an OCI capability name (e.g. "CAP_SYS_ADMIN") to the
// gocapability enum used to actually apply it to the calling process.
func nameToCap(name string) (capability.Cap, error) {
	for _, c := range capability.List() {
		if matchesCapName(c, name) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("sandbox: unknown capability %q", name)
}

func matchesCapName(c capability.Cap, name string) bool {
	return "CAP_"+normalizeCapString(c.String()) == normalizeCapName(name)
}

func normalizeCapString(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch >= 'a' && ch <= 'z' {
			ch -= 'a' - 'A'
		}
		out = append(out, ch)
	}
	return string(out)
}

func normalizeCapName(name string) string {
	return normalizeCapString(name)
}

// CapSet is the fully resolved bounding/ambient capability configuration
// for one service, ready to apply to a forked child before execve.
type CapSet struct {
	Bounding []capability.Cap
	Ambient  []capability.Cap
}

// ResolveCapabilities computes the effective bounding and ambient sets
// for CapabilityBoundingSet= and AmbientCapabilities= directives,
// defaulting the bounding set to systemd's standard service set when
// the unit does not restrict it (spec.md §4.4).
func ResolveCapabilities(boundingSet, ambientSet []string) (CapSet, error) {
	bnames := boundingSet
	if len(bnames) == 0 {
		bnames = defaultCapabilities()
	}
	bounding, err := resolveNames(bnames)
	if err != nil {
		return CapSet{}, err
	}
	ambient, err := resolveNames(ambientSet)
	if err != nil {
		return CapSet{}, err
	}
	return CapSet{Bounding: bounding, Ambient: ambient}, nil
}

func resolveNames(names []string) ([]capability.Cap, error) {
	out := make([]capability.Cap, 0, len(names))
	for _, n := range names {
		c, err := nameToCap(n)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Apply loads the calling process's capability state and installs the
// resolved bounding and ambient sets. Must run in the forked child
// after unshare but before execve (spec.md §4.4 steps 9-10).
func (cs CapSet) Apply() error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("sandbox: load capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return fmt.Errorf("sandbox: load capability state: %w", err)
	}

	caps.Clear(capability.BOUNDING)
	for _, c := range cs.Bounding {
		caps.Set(capability.BOUNDING, c)
	}
	caps.Clear(capability.AMBIENT)
	for _, c := range cs.Ambient {
		caps.Set(capability.AMBIENT, c)
		caps.Set(capability.PERMITTED|capability.INHERITABLE, c)
	}

	if err := caps.Apply(capability.CAPS | capability.BOUNDS | capability.AMBS); err != nil {
		return fmt.Errorf("sandbox: apply capabilities: %w", err)
	}
	return nil
}

// DefaultRlimits returns systemd's built-in default rlimits. Spec.Apply
// does not apply them: ApplyRlimits starts from the process's current
// limits and changes only the LimitXXX= values a unit sets.
func DefaultRlimits() []specs.POSIXRlimit {
	return []specs.POSIXRlimit{
		{Type: "RLIMIT_NOFILE", Soft: 1024, Hard: 524288},
	}
}
