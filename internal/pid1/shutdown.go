//go:build linux

package pid1

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/containerd/log"

	"github.com/Osso/sysd/internal/activation"
)

// Supervisor is the subset of *supervisor.Supervisor the shutdown
// sequence drives.
type Supervisor interface {
	Stop(ctx context.Context, unitName string) error
	ActiveUnits(ctx context.Context) ([]string, error)
}

const (
	// shutdownGrace is how long every unit's own Stop (itself bounded
	// by TimeoutStopSec=, escalating SIGTERM->SIGKILL) gets to finish
	// before this loop gives up waiting on stragglers and proceeds to
	// sync/unmount/reboot regardless, matching spec.md §8 scenario 5's
	// "PID 1 sends SIGTERM to all units, escalates to SIGKILL after a
	// grace period, then sync(2)s and reboots."
	shutdownGrace = 5 * time.Second
)

// Shutdown stops every active unit concurrently, syncs and unmounts
// filesystems, then reboots or powers off.
func Shutdown(ctx context.Context, super Supervisor, reboot bool) {
	stopCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()

	units, err := super.ActiveUnits(stopCtx)
	if err != nil {
		log.L.WithError(err).Warn("pid1: failed to list active units for shutdown")
	}

	var wg sync.WaitGroup
	for _, u := range units {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := super.Stop(stopCtx, u); err != nil {
				log.L.WithError(err).WithField("unit", u).Warn("pid1: unit failed to stop cleanly during shutdown")
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-stopCtx.Done():
		log.L.Warn("pid1: shutdown grace period elapsed with units still stopping")
	}

	unix.Sync()
	unmountNonEssential()

	cmd := unix.LINUX_REBOOT_CMD_POWER_OFF
	if reboot {
		cmd = unix.LINUX_REBOOT_CMD_RESTART
	}
	if err := unix.Reboot(cmd); err != nil {
		log.L.WithError(err).Error("pid1: reboot(2) failed")
	}
}

// unmountNonEssential detaches every mount except the handful
// MountEssential brought up, best-effort: a busy mount at shutdown
// time is logged and skipped rather than blocking power-off.
func unmountNonEssential() {
	mounts, err := activation.ActiveMounts()
	if err != nil {
		log.L.WithError(err).Warn("pid1: failed to enumerate mounts before shutdown")
		return
	}
	essential := map[string]bool{}
	for _, m := range essentialMounts {
		essential[m.target] = true
	}
	for i := len(mounts) - 1; i >= 0; i-- {
		m := mounts[i]
		if essential[m.Mountpoint] || m.Mountpoint == "/" {
			continue
		}
		if err := unix.Unmount(m.Mountpoint, unix.MNT_DETACH); err != nil {
			log.L.WithError(err).WithField("mount", m.Mountpoint).Debug("pid1: unmount failed during shutdown")
		}
	}
}
