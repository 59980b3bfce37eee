//go:build linux

// Package supervisor implements job.Dispatcher: it is the collaborator
// the job engine hands Start/Stop/Reload to once a transaction has
// decided what needs to happen (spec.md §4.3, §4.6). One *Supervisor
// owns every unit's runtime state; one unitRuntime owns one unit's
// process lifecycle, so two units never block each other.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/cgroups/v3/cgroup2"
	"github.com/containerd/log"

	"github.com/Osso/sysd/internal/cgroup"
	"github.com/Osso/sysd/internal/condition"
	"github.com/Osso/sysd/internal/sandbox"
	"github.com/Osso/sysd/internal/uniterr"
	"github.com/Osso/sysd/internal/unit"
)

// Registry is the subset of *unit.Registry the supervisor needs,
// narrowed to an interface so tests can substitute a fake catalog.
type Registry interface {
	Get(name string) (*unit.Entry, error)
}

// Supervisor implements job.Dispatcher against a live unit registry,
// cgroup manager and sandbox builder.
type Supervisor struct {
	mu       sync.Mutex
	registry Registry
	cgroups  *cgroup.Manager
	sysconds condition.System
	units    map[string]*unitRuntime
}

// New builds a Supervisor. cgroupRoot is the cgroupfs mount point
// ("/sys/fs/cgroup" in production); a throwaway directory is injected
// in tests that never actually touch cgroups.
func New(registry Registry, cgroupRoot string) *Supervisor {
	return &Supervisor{
		registry: registry,
		cgroups:  cgroup.New(cgroupRoot),
		sysconds: condition.Live(),
		units:    make(map[string]*unitRuntime),
	}
}

// unitRuntime is the live state machine and process handle for one
// unit. Every exported Supervisor method serializes access to it
// through rt.mu.
type unitRuntime struct {
	mu      sync.Mutex
	name    string
	status  UnitStatus
	limiter *rateLimiter

	cmd       *exec.Cmd
	notify    *NotifyListener
	cgroupMgr *cgroup2.Manager
}

func (s *Supervisor) runtimeFor(name string) *unitRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.units[name]
	if !ok {
		rt = &unitRuntime{name: name, status: UnitStatus{Name: name, Active: StateInactive, Sub: SubDead}}
		s.units[name] = rt
	}
	return rt
}

// Start implements job.Dispatcher. It evaluates conditions, builds the
// sandbox, execs ExecStart (via the exec-init re-exec helper), and for
// Type=notify/dbus waits for readiness before returning; for
// Type=simple it returns once the process has been launched, matching
// spec.md §4.3's per-type readiness rule.
func (s *Supervisor) Start(ctx context.Context, unitName string) error {
	entry, err := s.registry.Get(unitName)
	if err != nil {
		return uniterr.New(uniterr.KindNotFound, unitName, "load failed", err)
	}
	if entry.Unit == nil || entry.Unit.Service == nil {
		return uniterr.New(uniterr.KindParse, unitName, "unit has no [Service] section", nil)
	}
	u := entry.Unit
	svc := u.Service

	conditionsOK, assertsOK, _ := condition.Evaluate(s.sysconds, u.Conditions)
	if !assertsOK {
		rt := s.runtimeFor(unitName)
		rt.mu.Lock()
		rt.status.transition(StateFailed, SubFailed)
		rt.status.Result = "assert"
		rt.mu.Unlock()
		return uniterr.New(uniterr.KindAssertFailed, unitName, "assert condition not met", nil)
	}
	if !conditionsOK {
		// Condition* (not Assert*) failures leave the unit inactive,
		// not failed, and are not errors from the job's perspective.
		return nil
	}

	rt := s.runtimeFor(unitName)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.status.Active == StateActive || rt.status.Active == StateActivating {
		return nil
	}
	if rt.limiter == nil {
		rt.limiter = newRateLimiter(svc.StartLimit)
	}
	if rt.limiter.record(time.Now()) {
		rt.status.transition(StateFailed, SubFailed)
		rt.status.Result = "start-limit-hit"
		return uniterr.New(uniterr.KindStartLimitHit, unitName, "start rate limit exceeded", nil)
	}

	rt.status.transition(StateActivating, SubStartPre)
	rt.status.ExecutedAt = time.Now()

	if err := s.launch(ctx, unitName, svc, rt); err != nil {
		rt.status.transition(StateFailed, SubFailed)
		rt.status.Result = "exit-code"
		return uniterr.New(uniterr.KindExecSetupFailed, unitName, "launch failed", err)
	}

	switch svc.Type {
	case unit.TypeNotify, unit.TypeNotifyReload, unit.TypeDBus:
		if err := s.awaitReady(ctx, unitName, svc, rt); err != nil {
			rt.status.transition(StateFailed, SubFailed)
			rt.status.Result = "timeout"
			return err
		}
	case unit.TypeOneshot:
		if err := rt.cmd.Wait(); err != nil {
			rt.status.transition(StateFailed, SubFailed)
			rt.status.Result = "exit-code"
			return uniterr.New(uniterr.KindExecFailed, unitName, "oneshot failed", err)
		}
		rt.status.transition(StateActive, SubExited)
	case unit.TypeForking:
		// The direct child is expected to fork and exit; readiness is
		// the daemonized grandchild's PID file appearing, the same
		// signal systemd's forking type waits on.
		pid, err := waitForPIDFile(ctx, svc.PIDFile, svc.TimeoutStartSec)
		if err != nil {
			rt.status.transition(StateFailed, SubFailed)
			rt.status.Result = "timeout"
			return uniterr.New(uniterr.KindTimeout, unitName, "forking service PID file never appeared", err)
		}
		rt.status.MainPID = pid
		rt.status.transition(StateActive, SubRunning)
	default:
		rt.status.transition(StateActive, SubRunning)
	}

	if svc.Type == unit.TypeForking {
		// The direct child already exited (that's what "forking"
		// means); reap it without feeding its exit into the restart
		// state machine, and track liveness of the daemonized grandchild
		// named in PIDFile= instead.
		go func() { rt.cmd.Wait() }()
		s.watchForking(unitName, svc, rt)
	} else {
		s.watch(unitName, svc, rt)
	}
	return nil
}

// launch builds the sandbox spec and execs ExecStart[0] through the
// exec-init re-exec helper (internal/supervisor/exec.go), handing the
// child its own notify socket and cgroup membership.
func (s *Supervisor) launch(ctx context.Context, unitName string, svc *unit.Service, rt *unitRuntime) error {
	if len(svc.ExecStart) == 0 {
		return fmt.Errorf("no ExecStart= directive")
	}
	main := svc.ExecStart[0]

	sbSpec, err := sandbox.Resolve(svc)
	if err != nil {
		return fmt.Errorf("resolve sandbox: %w", err)
	}

	nl, notifyAddr, err := ListenNotify(unitName)
	if err != nil {
		return fmt.Errorf("open notify socket: %w", err)
	}
	rt.notify = nl

	env := append([]string{}, svc.Environment...)
	env = append(env, "NOTIFY_SOCKET="+notifyAddr)

	req := ExecRequest{
		Argv:    append([]string{}, main.Args...),
		Env:     env,
		Dir:     svc.WorkingDirectory,
		Sandbox: sbSpec,
	}

	cmd, errPipe, err := BuildCommand(req, nil, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	rt.cmd = cmd
	rt.status.MainPID = cmd.Process.Pid

	if msg := drainErrPipe(errPipe); msg != "" {
		_ = cmd.Process.Kill()
		return fmt.Errorf("sandbox setup: %s", msg)
	}

	mgr, err := s.cgroups.Create(svc, unitName)
	if err == nil {
		_ = cgroup.AddProc(mgr, cmd.Process.Pid)
		rt.cgroupMgr = mgr
	} else {
		log.G(ctx).WithError(err).WithField("unit", unitName).Warn("cgroup create failed")
	}

	return nil
}

func drainErrPipe(f *os.File) string {
	defer f.Close()
	buf := make([]byte, 4096)
	f.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _ := f.Read(buf)
	return string(buf[:n])
}

// awaitReady blocks until the unit's process signals READY=1 over its
// notify socket, or TimeoutStartSec elapses.
func (s *Supervisor) awaitReady(ctx context.Context, unitName string, svc *unit.Service, rt *unitRuntime) error {
	waitCtx, cancel := context.WithTimeout(ctx, svc.TimeoutStartSec)
	defer cancel()

	ready := make(chan struct{})
	go rt.notify.Serve(waitCtx, func(msg NotifyMessage) {
		if msg.MainPID != 0 {
			rt.mu.Lock()
			rt.status.MainPID = msg.MainPID
			rt.mu.Unlock()
		}
		if msg.Ready {
			select {
			case ready <- struct{}{}:
			default:
			}
		}
	})

	select {
	case <-ready:
		rt.status.transition(StateActive, SubRunning)
		return nil
	case <-waitCtx.Done():
		return uniterr.New(uniterr.KindTimeout, unitName, "no READY=1 within TimeoutStartSec", waitCtx.Err())
	}
}

// watch reaps the process asynchronously and applies Restart= policy,
// spec.md §4.3's "restart loop".
func (s *Supervisor) watch(unitName string, svc *unit.Service, rt *unitRuntime) {
	go func() {
		err := rt.cmd.Wait()

		rt.mu.Lock()
		class := classify(err)
		code := exitCodeOf(err)
		rt.status.MainPID = 0
		restart := rt.status.Active != StateDeactivating && shouldRestart(svc.Restart, class, svc.RestartPreventExitStatus, code)
		if !restart {
			if class == exitSuccess {
				rt.status.transition(StateInactive, SubDead)
				rt.status.Result = "success"
			} else {
				rt.status.transition(StateFailed, SubFailed)
				rt.status.Result = "exit-code"
			}
		} else {
			rt.status.transition(StateActivating, SubAutoRestart)
		}
		cgroupMgr := rt.cgroupMgr
		rt.mu.Unlock()

		if cgroupMgr != nil {
			_ = cgroup.Delete(cgroupMgr)
		}

		if restart && svc.RestartSec > 0 {
			time.Sleep(svc.RestartSec)
		}
		if restart {
			_ = s.Start(context.Background(), unitName)
		}
	}()
}

// waitForPIDFile polls path until it contains a parseable, live pid or
// timeout elapses. Forking services are expected to have written it by
// the time they're done with their own start-up.
func waitForPIDFile(ctx context.Context, path string, timeout time.Duration) (int, error) {
	if path == "" {
		return 0, fmt.Errorf("PIDFile= not set for forking service")
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if pid, ok := readLivePID(path); ok {
			return pid, nil
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("timed out waiting for %s", path)
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func readLivePID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return 0, false
	}
	return pid, true
}

// watchForking polls PIDFile='s pid for liveness instead of waiting on
// rt.cmd, since the process os/exec is tracking already exited by
// design; the forked daemon it left behind is a stranger process this
// supervisor never forked itself.
func (s *Supervisor) watchForking(unitName string, svc *unit.Service, rt *unitRuntime) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			rt.mu.Lock()
			pid := rt.status.MainPID
			active := rt.status.Active
			rt.mu.Unlock()

			if active != StateActive && active != StateActivating {
				return
			}
			if pid == 0 || syscall.Kill(pid, 0) == nil {
				continue
			}

			rt.mu.Lock()
			restart := rt.status.Active != StateDeactivating && shouldRestart(svc.Restart, exitFailure, svc.RestartPreventExitStatus, 1)
			rt.status.MainPID = 0
			if !restart {
				rt.status.transition(StateFailed, SubFailed)
				rt.status.Result = "exit-code"
			} else {
				rt.status.transition(StateActivating, SubAutoRestart)
			}
			cgroupMgr := rt.cgroupMgr
			rt.mu.Unlock()

			if cgroupMgr != nil {
				_ = cgroup.Delete(cgroupMgr)
			}
			if restart && svc.RestartSec > 0 {
				time.Sleep(svc.RestartSec)
			}
			if restart {
				_ = s.Start(context.Background(), unitName)
			}
			return
		}
	}()
}

// Stop implements job.Dispatcher: it sends the configured stop signal
// to the PIDs KillMode= selects and waits up to TimeoutStopSec before
// escalating to SIGKILL (spec.md §4.3).
func (s *Supervisor) Stop(ctx context.Context, unitName string) error {
	rt := s.runtimeFor(unitName)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.status.Active == StateInactive || rt.cmd == nil {
		rt.status.transition(StateInactive, SubDead)
		return nil
	}
	rt.status.transition(StateDeactivating, SubStopSigterm)

	entry, err := s.registry.Get(unitName)
	timeout := 90 * time.Second
	killMode := unit.KillControlGroup
	if err == nil && entry.Unit != nil && entry.Unit.Service != nil {
		timeout = entry.Unit.Service.TimeoutStopSec
		killMode = entry.Unit.Service.KillMode
	}

	s.signalUnit(rt, killMode, syscall.SIGTERM)

	done := make(chan struct{})
	cmd := rt.cmd
	go func() {
		cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		rt.status.transition(StateDeactivating, SubStopSigkill)
		s.signalUnit(rt, killMode, syscall.SIGKILL)
		<-done
	}

	rt.status.transition(StateInactive, SubDead)
	rt.status.Result = "success"
	return nil
}

// signalUnit delivers sig to the unit's processes per KillMode=. The
// control-group case relies on the cgroup's own kill knob rather than
// tracking every descendant pid ourselves (spec.md §4.3 KillMode=
// control-group): cgroup2.Manager.Kill() always sends SIGKILL, which
// is a deliberate simplification for the escalation path but means a
// cgrouped SIGTERM falls back to signaling the main pid only.
func (s *Supervisor) signalUnit(rt *unitRuntime, mode unit.KillMode, sig syscall.Signal) {
	if rt.cmd == nil || rt.cmd.Process == nil {
		return
	}
	switch mode {
	case unit.KillNone:
		return
	case unit.KillProcess:
		_ = rt.cmd.Process.Signal(sig)
	default: // control-group, mixed
		if rt.cgroupMgr != nil && sig == syscall.SIGKILL {
			_ = rt.cgroupMgr.Kill()
			return
		}
		_ = rt.cmd.Process.Signal(sig)
	}
}

// Reload implements job.Dispatcher: runs ExecReload= in place without
// changing ActiveState (spec.md §4.3 "reloading" transient state).
func (s *Supervisor) Reload(ctx context.Context, unitName string) error {
	entry, err := s.registry.Get(unitName)
	if err != nil || entry.Unit == nil || entry.Unit.Service == nil {
		return uniterr.New(uniterr.KindNotFound, unitName, "load failed", err)
	}
	svc := entry.Unit.Service
	if len(svc.ExecReload) == 0 {
		return nil
	}

	rt := s.runtimeFor(unitName)
	rt.mu.Lock()
	prev := rt.status.Active
	rt.status.transition(StateReloading, SubReload)
	rt.mu.Unlock()

	reloadCmd := svc.ExecReload[0]
	c := exec.CommandContext(ctx, reloadCmd.Path, reloadCmd.Args[1:]...)
	c.Stdout, c.Stderr = os.Stdout, os.Stderr
	runErr := c.Run()

	rt.mu.Lock()
	rt.status.Active = prev
	rt.status.Sub = SubRunning
	rt.mu.Unlock()

	if runErr != nil && !reloadCmd.IgnoreFailure {
		return uniterr.New(uniterr.KindExecFailed, unitName, "ExecReload failed", runErr)
	}
	return nil
}

// ActiveUnits implements job.Dispatcher for isolate-mode transactions.
func (s *Supervisor) ActiveUnits(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name, rt := range s.units {
		rt.mu.Lock()
		active := rt.status.Active == StateActive || rt.status.Active == StateActivating
		rt.mu.Unlock()
		if active {
			out = append(out, name)
		}
	}
	return out, nil
}

// Status returns a snapshot of one unit's runtime status, used by the
// control surface's GetUnit.
func (s *Supervisor) Status(unitName string) UnitStatus {
	rt := s.runtimeFor(unitName)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.status
}

func classify(err error) exitClass {
	if err == nil {
		return exitSuccess
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			if ws.Signal() == syscall.SIGABRT {
				return exitAbort
			}
			return exitSignal
		}
		return exitFailure
	}
	return exitFailure
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
