package sandbox

import (
	"fmt"
	"syscall"

	"github.com/Osso/sysd/internal/unit"
)

var rlimitResource = map[string]int{
	"CPU":        syscall.RLIMIT_CPU,
	"FSIZE":      syscall.RLIMIT_FSIZE,
	"DATA":       syscall.RLIMIT_DATA,
	"STACK":      syscall.RLIMIT_STACK,
	"CORE":       syscall.RLIMIT_CORE,
	"RSS":        syscall.RLIMIT_RSS,
	"NOFILE":     syscall.RLIMIT_NOFILE,
	"AS":         syscall.RLIMIT_AS,
	"NPROC":      syscall.RLIMIT_NPROC,
	"MEMLOCK":    syscall.RLIMIT_MEMLOCK,
	"LOCKS":      syscall.RLIMIT_LOCKS,
	"SIGPENDING": syscall.RLIMIT_SIGPENDING,
	"MSGQUEUE":   syscall.RLIMIT_MSGQUEUE,
	"NICE":       syscall.RLIMIT_NICE,
	"RTPRIO":     syscall.RLIMIT_RTPRIO,
}

// ApplyRlimits sets the calling process's rlimits from a unit's
// RLimit*= directives, falling back to the process's current limit for
// any field left unset (nil Soft/Hard), per spec.md §4.4 step 8.
func ApplyRlimits(limits map[string]unit.RlimitSpec) error {
	for name, spec := range limits {
		resource, ok := rlimitResource[name]
		if !ok {
			continue // RTTIME has no syscall.Rlimit counterpart on all arches
		}
		var cur syscall.Rlimit
		if err := syscall.Getrlimit(resource, &cur); err != nil {
			return fmt.Errorf("sandbox: getrlimit %s: %w", name, err)
		}
		if spec.Soft != nil {
			cur.Cur = *spec.Soft
		}
		if spec.Hard != nil {
			cur.Max = *spec.Hard
		}
		if err := syscall.Setrlimit(resource, &cur); err != nil {
			return fmt.Errorf("sandbox: setrlimit %s: %w", name, err)
		}
	}
	return nil
}
