//go:build linux

package activation

import (
	"fmt"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"

	"github.com/Osso/sysd/internal/unit"
)

// IsMounted reports whether path is already a mount point, so
// ExecuteMount can treat a .mount unit that is already satisfied as a
// no-op start rather than re-mounting (spec.md §4.2 Mount unit
// activation); grounded on github.com/moby/sys/mountinfo.Mounted,
// which parses /proc/self/mountinfo rather than the device-comparison
// stat trick internal/condition uses for the single-predicate
// PathIsMountPoint check.
func IsMounted(path string) (bool, error) {
	return mountinfo.Mounted(path)
}

// ExecuteMount brings up a .mount unit's filesystem (spec.md §3 Mount),
// translating its comma-separated Options= into the MS_* flag word
// mount(2) expects; unrecognized option tokens pass through as the
// data string, matching /bin/mount's own behavior for filesystem-
// specific options (e.g. tmpfs's size=).
func ExecuteMount(m *unit.Mount) error {
	mounted, err := IsMounted(m.Where)
	if err != nil {
		return fmt.Errorf("activation: stat mount table: %w", err)
	}
	if mounted {
		return nil
	}

	flags, data := parseMountOptions(m.Options)
	if err := unix.Mount(m.What, m.Where, m.Type, flags, data); err != nil {
		return fmt.Errorf("activation: mount %s on %s: %w", m.What, m.Where, err)
	}
	return nil
}

// ExecuteUnmount tears a .mount unit down.
func ExecuteUnmount(m *unit.Mount) error {
	return unix.Unmount(m.Where, unix.MNT_DETACH)
}

var mountOptionFlags = map[string]uintptr{
	"ro":         unix.MS_RDONLY,
	"nosuid":     unix.MS_NOSUID,
	"nodev":      unix.MS_NODEV,
	"noexec":     unix.MS_NOEXEC,
	"sync":       unix.MS_SYNCHRONOUS,
	"remount":    unix.MS_REMOUNT,
	"bind":       unix.MS_BIND,
	"rbind":      unix.MS_BIND | unix.MS_REC,
	"noatime":    unix.MS_NOATIME,
	"nodiratime": unix.MS_NODIRATIME,
	"relatime":   unix.MS_RELATIME,
	"strictatime": unix.MS_STRICTATIME,
}

func parseMountOptions(options string) (uintptr, string) {
	var flags uintptr
	var data []byte
	for _, tok := range splitComma(options) {
		if tok == "" || tok == "defaults" {
			continue
		}
		if f, ok := mountOptionFlags[tok]; ok {
			flags |= f
			continue
		}
		if len(data) > 0 {
			data = append(data, ',')
		}
		data = append(data, tok...)
	}
	return flags, string(data)
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// ActiveMounts lists every filesystem currently mounted under root,
// the source systemd imports to synthesize transient .mount units for
// whatever the kernel already has mounted at boot (spec.md §4.2).
func ActiveMounts() ([]*mountinfo.Info, error) {
	return mountinfo.GetMounts(mountinfo.PrefixFilter("/"))
}
