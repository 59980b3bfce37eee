//go:build linux

// Package daemon wires the load-order registry, job engine, process
// supervisor, cgroup manager, activation subsystems and control
// surfaces into one running instance, the way cmd/containerd's
// command.NewServer assembles services out of registered plugins.
// sysd has no plugin registry of its own scale, so wiring is explicit
// here rather than discovered, but the shape (construct leaves first,
// wire dependents against interfaces, fan out independent startup work
// under a bounded concurrency limiter) is the same.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Osso/sysd/internal/activation"
	"github.com/Osso/sysd/internal/config"
	"github.com/Osso/sysd/internal/control"
	"github.com/Osso/sysd/internal/control/dbusbridge"
	"github.com/Osso/sysd/internal/job"
	"github.com/Osso/sysd/internal/pid1"
	"github.com/Osso/sysd/internal/statedb"
	"github.com/Osso/sysd/internal/supervisor"
	"github.com/Osso/sysd/internal/unit"
)

// startupConcurrency bounds how many independent socket/mount
// activation units are brought up at once during boot, the same
// "bounded fan-out over independent leaves" shape as
// core/images/handlers.go's Dispatch(ctx, handler, limiter, descs...).
const startupConcurrency = 8

// Daemon owns every long-lived collaborator for one sysd instance.
type Daemon struct {
	cfg      config.Config
	registry *unit.Registry
	engine   *job.Engine
	super    *supervisor.Supervisor
	store    *statedb.Store
	ctrl     *control.Server
	bridge   *dbusbridge.Bridge

	bootTime time.Time
	timerNext map[string]time.Time
}

// New constructs every collaborator and loads the unit catalog, but
// does not yet start anything; call Serve to run the daemon.
func New(cfg config.Config) (*Daemon, error) {
	hostname, _ := os.Hostname()
	identity := unit.Identity{Hostname: hostname, UID: fmt.Sprint(os.Getuid()), User: os.Getenv("USER"), Home: os.Getenv("HOME")}

	paths := unit.LoadPaths{
		Transient: cfg.Dirs.Transient,
		Etc:       cfg.Dirs.Etc,
		Run:       cfg.Dirs.Run,
		UsrLib:    cfg.Dirs.UsrLib,
	}
	registry := unit.New(paths, identity)
	if err := registry.ReloadAll(); err != nil {
		log.L.WithError(err).Warn("daemon: initial unit load reported errors")
	}

	if err := os.MkdirAll(cfg.StateDir, 0700); err != nil {
		return nil, fmt.Errorf("daemon: state dir: %w", err)
	}
	store, err := statedb.Open(filepath.Join(cfg.StateDir, "sysd.db"))
	if err != nil {
		return nil, fmt.Errorf("daemon: open state store: %w", err)
	}

	super := supervisor.New(registry, cfg.CgroupRoot)

	lookup := func(name string) (*unit.Unit, bool) {
		entry, err := registry.Get(name)
		if err != nil || entry.Unit == nil {
			return nil, false
		}
		return entry.Unit, true
	}
	engine := job.New(lookup, super)

	ctrl, err := control.New(cfg.ControlSocket, engine, registry, nil)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("daemon: control socket: %w", err)
	}

	bridge, err := dbusbridge.Connect(cfg.Mode == "user", engine, registry)
	if err != nil {
		// A missing system bus (common in containers/CI) must not
		// keep the rest of the daemon from running: the Unix control
		// socket remains fully functional without it.
		log.L.WithError(err).Warn("daemon: D-Bus bridge unavailable, continuing without it")
		bridge = nil
	}

	return &Daemon{
		cfg:       cfg,
		registry:  registry,
		engine:    engine,
		super:     super,
		store:     store,
		ctrl:      ctrl,
		bridge:    bridge,
		bootTime:  time.Now(),
		timerNext: make(map[string]time.Time),
	}, nil
}

// Close releases every held resource (sockets, bus connection, state
// database).
func (d *Daemon) Close() error {
	d.ctrl.Close()
	if d.bridge != nil {
		d.bridge.Close()
	}
	return d.store.Close()
}

// SignalHandler returns the pid1.Handler that wires PID 1's signal
// dispatch loop into this daemon's engine/supervisor. Only meaningful
// when this Daemon is actually running as process 1.
func (d *Daemon) SignalHandler() pid1.Handler {
	return pid1.Handler{
		Shutdown: func(ctx context.Context, reboot bool) { pid1.Shutdown(ctx, d.super, reboot) },
		Reload: func(ctx context.Context) {
			if err := d.registry.ReloadAll(); err != nil {
				log.G(ctx).WithError(err).Warn("daemon: reload reported errors")
			}
		},
		Dump: func(ctx context.Context) {
			pid1.Dump(ctx, d.registry, func(name string) pid1.DumpUnit {
				st := d.super.Status(name)
				return pid1.DumpUnit{Active: string(st.Active), Sub: string(st.Sub), MainPID: st.MainPID, Result: st.Result}
			}, filepath.Dir(d.cfg.Dirs.Transient))
		},
	}
}

// Serve brings the catalog to cfg.DefaultTarget, activates sockets/
// timers/mounts, and then serves the control surfaces until ctx is
// canceled.
func (d *Daemon) Serve(ctx context.Context) error {
	if err := d.activateBoot(ctx); err != nil {
		log.G(ctx).WithError(err).Error("daemon: boot activation reported errors")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.ctrl.Serve(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		if d.bridge != nil {
			d.bridge.Close()
		}
		return nil
	})
	g.Go(func() error { return d.runTimers(ctx) })

	if _, err := d.engine.Enqueue(ctx, d.cfg.DefaultTarget, job.DirStart, job.ModeReplace); err != nil {
		log.G(ctx).WithError(err).Error("daemon: failed to enqueue default target")
	}

	return g.Wait()
}

// activateBoot binds every socket unit's listeners and performs every
// mount unit's mount(2) call up front, bounded to startupConcurrency
// concurrent units at a time since these are independent of each
// other and of unit ordering (spec.md §4.4 socket activation happens
// before the service using it is started).
func (d *Daemon) activateBoot(ctx context.Context) error {
	limiter := semaphore.NewWeighted(startupConcurrency)
	g, ctx2 := errgroup.WithContext(ctx)

	for _, entry := range d.registry.List() {
		entry := entry
		if entry.Unit == nil {
			continue
		}
		switch entry.Unit.Kind {
		case unit.KindSocket, unit.KindMount:
		default:
			continue
		}
		if err := limiter.Acquire(ctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer limiter.Release(1)
			return d.activateOne(ctx2, entry.Unit)
		})
	}
	return g.Wait()
}

func (d *Daemon) activateOne(ctx context.Context, u *unit.Unit) error {
	switch u.Kind {
	case unit.KindSocket:
		if u.Socket == nil {
			return nil
		}
		files, err := activation.Listeners(u.Socket)
		if err != nil {
			return fmt.Errorf("activate %s: %w", u.Name, err)
		}
		log.G(ctx).WithField("unit", u.Name).WithField("fds", len(files)).Info("daemon: socket activated")
	case unit.KindMount:
		if u.Mount == nil {
			return nil
		}
		if err := activation.ExecuteMount(u.Mount); err != nil {
			return fmt.Errorf("mount %s: %w", u.Name, err)
		}
	}
	return nil
}

// runTimers polls every timer unit's schedule once a second, driving
// engine.Enqueue(DirStart) when a trigger fires and persisting
// last-fire stamps for Persistent= catch-up across restarts (spec.md
// §6 "timer last-fire stamps under /var/lib/<name>/timers/<unit>").
func (d *Daemon) runTimers(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			d.tickTimers(ctx, now)
		}
	}
}

// tickTimers compares each timer unit's cached next-fire time against
// now. activation.Schedule returns a time after the "after" argument
// it's given, or "after" itself when Persistent= catch-up finds a
// missed calendar fire, so firing is decided here by the
// scheduler loop (compute once, wait for it to elapse, fire, then
// recompute), not by Schedule itself.
func (d *Daemon) tickTimers(ctx context.Context, now time.Time) {
	for _, entry := range d.registry.List() {
		if entry.Unit == nil || entry.Unit.Kind != unit.KindTimer || entry.Unit.Timer == nil {
			continue
		}
		t := entry.Unit.Timer

		next, scheduled := d.timerNext[entry.Name]
		if !scheduled || now.Before(next) {
			if !scheduled {
				d.recomputeTimer(entry.Name, t, now)
			}
			continue
		}

		if err := d.store.SetLastFire(entry.Name, now); err != nil {
			log.G(ctx).WithError(err).WithField("unit", entry.Name).Warn("daemon: failed to persist timer fire stamp")
		}

		target := t.Unit
		if target == "" {
			target = entry.Name
		}
		if _, err := d.engine.Enqueue(ctx, target, job.DirStart, job.ModeReplace); err != nil {
			log.G(ctx).WithError(err).WithField("unit", target).Warn("daemon: timer-triggered start failed")
		}

		d.recomputeTimer(entry.Name, t, now)
	}
}

func (d *Daemon) recomputeTimer(name string, t *unit.Timer, now time.Time) {
	last, err := d.store.LastFire(name)
	if err != nil {
		return
	}
	state := activation.TimerState{LastFire: last}
	next, found := activation.Schedule(t, d.bootTime, state, now)
	if !found {
		delete(d.timerNext, name)
		return
	}
	d.timerNext[name] = next
}
