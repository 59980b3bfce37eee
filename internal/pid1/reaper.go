//go:build linux

package pid1

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/containerd/log"
)

// Reap drains every exited child whose parent has reparented to PID 1
// (orphans whose own supervisor died, or daemonizing children the
// supervisor doesn't directly wait on). Grounded on the
// signal.Notify(SIGCHLD)+drain-loop shape used for zombie reaping in
// the pack's standalone podman-rpc supervisor, substituting a plain
// syscall.Wait4(-1, ..., WNOHANG, nil) loop for that file's cgo
// waitid_peek helper since this repo carries no cgo dependency.
//
// Units started by internal/supervisor are reaped by their own
// *exec.Cmd.Wait() call instead; this loop only catches processes that
// escape that bookkeeping (a forking service's eventual child, or any
// process a buggy unit daemonizes without reparenting cleanup).
func Reap(ctx context.Context) {
	sigchld := make(chan os.Signal, 1)
	signal.Notify(sigchld, syscall.SIGCHLD)
	defer signal.Stop(sigchld)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigchld:
			drainExited()
		}
	}
}

func drainExited() {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		log.L.WithField("pid", pid).WithField("status", status.ExitStatus()).Debug("pid1: reaped orphaned child")
	}
}

// SetSubreaper marks this process as the reaper for all of its
// descendants (PR_SET_CHILD_SUBREAPER), so daemonizing grandchildren
// reparent to PID 1 instead of becoming unreachable zombies once their
// immediate parent exits.
func SetSubreaper() error {
	return unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0)
}
