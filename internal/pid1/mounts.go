//go:build linux

// Package pid1 is the part of sysd that only makes sense when running
// as process 1: the essential early mounts, zombie reaping, signal
// dispatch and shutdown sequence spec.md §8 scenario 5 describes.
// Everything else (unit loading, the job engine, the supervisor) is
// the same whether sysd runs as PID 1 or as a user-mode instance under
// an existing init; this package is the thin PID-1-only shell around
// it, the way cmd/containerd's command package is the thin shell
// around the shared core/ packages.
package pid1

import (
	"os"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"
)

// essentialMount is one filesystem the kernel needs before any unit
// can run; these are the systemd "early mounts" (proc, sysfs, devtmpfs,
// and the API filesystems layered under /sys and /dev).
type essentialMount struct {
	source, target, fstype, options string
	flags                           uintptr
}

var essentialMounts = []essentialMount{
	{"proc", "/proc", "proc", "", unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV},
	{"sysfs", "/sys", "sysfs", "", unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV},
	{"devtmpfs", "/dev", "devtmpfs", "mode=0755", unix.MS_NOSUID},
	{"devpts", "/dev/pts", "devpts", "mode=0620,gid=5,ptmxmode=0666", unix.MS_NOSUID | unix.MS_NOEXEC},
	{"tmpfs", "/dev/shm", "tmpfs", "mode=1777", unix.MS_NOSUID | unix.MS_NODEV},
	{"tmpfs", "/run", "tmpfs", "mode=0755", unix.MS_NOSUID | unix.MS_NODEV},
	{"cgroup2", "/sys/fs/cgroup", "cgroup2", "", unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV},
}

// MountEssential brings up every filesystem a unit could reasonably
// need before the job engine starts anything, ignoring
// already-mounted targets (a restart of PID 1's userspace half, e.g.
// via the "daemon-reexec" open question, must not fail here).
func MountEssential() error {
	for _, m := range essentialMounts {
		if err := os.MkdirAll(m.target, 0755); err != nil {
			return err
		}
		err := unix.Mount(m.source, m.target, m.fstype, m.flags, m.options)
		if err != nil && err != unix.EBUSY {
			log.L.WithError(err).WithField("target", m.target).Warn("pid1: essential mount failed")
			continue
		}
	}
	return nil
}
