//go:build linux

package pid1

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/log"
)

// Handler is the set of callbacks the signal dispatch loop drives;
// internal/daemon wires its own Daemon methods in as these.
type Handler struct {
	// Shutdown is invoked on SIGTERM/SIGINT (graceful power-off) and on
	// SIGUSR2 (reboot instead of power-off, mirrored via the reboot
	// argument).
	Shutdown func(ctx context.Context, reboot bool)
	// Reload is invoked on SIGHUP: re-read every unit file without
	// restarting anything already running (spec.md's Reload control
	// request, triggered here the same way systemd's PID 1 does it).
	Reload func(ctx context.Context)
	// Dump is invoked on SIGUSR1: write the NDJSON unit-state dump.
	Dump func(ctx context.Context)
}

// Run dispatches signals to h until ctx is canceled. It does not
// return until then, so callers run it in its own goroutine.
func Run(ctx context.Context, h Handler) {
	sigs := make(chan os.Signal, 8)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			log.L.WithField("signal", sig).Info("pid1: received signal")
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				if h.Shutdown != nil {
					h.Shutdown(ctx, false)
				}
			case syscall.SIGUSR2:
				if h.Shutdown != nil {
					h.Shutdown(ctx, true)
				}
			case syscall.SIGHUP:
				if h.Reload != nil {
					h.Reload(ctx)
				}
			case syscall.SIGUSR1:
				if h.Dump != nil {
					h.Dump(ctx)
				}
			}
		}
	}
}
