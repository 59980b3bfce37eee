package job

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/containerd/log"

	"github.com/Osso/sysd/internal/depgraph"
	"github.com/Osso/sysd/internal/uniterr"
)

// Dispatcher actually performs the start/stop/reload side effects
// (implemented by the supervisor). The engine only decides ordering,
// coalescing, mode policy, and propagation.
type Dispatcher interface {
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	Reload(ctx context.Context, unit string) error
	// ActiveUnits lists units the dispatcher currently considers
	// started, for isolate mode's "stop everything outside the new
	// closure" step.
	ActiveUnits(ctx context.Context) ([]string, error)
}

// Lookup resolves unit dependency edges for ordering and propagation.
type Lookup = depgraph.Lookup

// Engine commits and dispatches job transactions (spec.md §4.6).
type Engine struct {
	mu         sync.Mutex
	lookup     Lookup
	dispatcher Dispatcher
	nextID     uint64
	pending    map[string]map[Class]*Job
}

func New(lookup Lookup, dispatcher Dispatcher) *Engine {
	return &Engine{
		lookup:     lookup,
		dispatcher: dispatcher,
		pending:    make(map[string]map[Class]*Job),
	}
}

// Result is what Enqueue returns: the job representing the requested
// unit's own operation, plus every job the transaction spawned.
type Result struct {
	Job     *Job
	Jobs    []*Job
	Dropped []string
}

// Enqueue commits a transaction for direction applied to unit root
// under mode, and starts dispatching it. It returns immediately; use
// WaitFor or Result.Job.Done() to observe completion.
func (e *Engine) Enqueue(ctx context.Context, root string, dir Direction, mode Mode) (*Result, error) {
	if dir == DirStop {
		return e.enqueueStop(ctx, root, mode)
	}
	return e.enqueueStart(ctx, root, dir, mode)
}

func (e *Engine) enqueueStart(ctx context.Context, root string, dir Direction, mode Mode) (*Result, error) {
	var units []string
	var pulls []depgraph.PullEdge
	var order []string
	var dropped []string

	if mode == ModeIgnoreDependencies {
		units = []string{root}
		order = []string{root}
	} else {
		tx, err := depgraph.Resolve(root, e.lookup)
		if err != nil {
			return nil, err
		}
		units, pulls, order, dropped = tx.Units, tx.Pulls, tx.Order, tx.Dropped
	}

	e.mu.Lock()
	if mode == ModeFail {
		for _, u := range units {
			if existing := e.pending[u][ClassDeactivation]; existing != nil && existing.state != StateDone {
				e.mu.Unlock()
				return nil, fmt.Errorf("job: conflicting deactivation job pending for %s", u)
			}
		}
	}

	jobs := make(map[string]*Job, len(units))
	fresh := make(map[string]bool, len(units))
	for _, u := range units {
		j, isNew := e.claimOrReuseLocked(u, dir, mode)
		jobs[u] = j
		fresh[u] = isNew
	}

	var stopJobs []*Job
	var freshStopJobs []*Job
	if mode == ModeIsolate {
		active, err := e.dispatcher.ActiveUnits(ctx)
		if err != nil {
			e.mu.Unlock()
			return nil, err
		}
		inClosure := make(map[string]bool, len(units))
		for _, u := range units {
			inClosure[u] = true
		}
		var toStop []string
		for _, u := range active {
			if !inClosure[u] {
				toStop = append(toStop, u)
			}
		}
		sort.Strings(toStop)
		for _, u := range toStop {
			j, isNew := e.claimOrReuseLocked(u, DirStop, mode)
			stopJobs = append(stopJobs, j)
			if isNew {
				freshStopJobs = append(freshStopJobs, j)
			}
		}
	}
	e.mu.Unlock()

	settled := make(map[string]chan struct{}, len(units))
	for _, u := range units {
		settled[u] = make(chan struct{})
	}

	for _, u := range units {
		if fresh[u] {
			go e.runStart(ctx, u, jobs, pulls, units, settled)
		} else {
			go e.forwardSettled(jobs[u], settled[u])
		}
	}
	for _, j := range freshStopJobs {
		go e.runStop(ctx, j)
	}

	rootJob := jobs[root]
	all := make([]*Job, 0, len(units)+len(stopJobs))
	for _, u := range order {
		all = append(all, jobs[u])
	}
	all = append(all, stopJobs...)

	return &Result{Job: rootJob, Jobs: all, Dropped: dropped}, nil
}

func (e *Engine) enqueueStop(ctx context.Context, unitName string, mode Mode) (*Result, error) {
	e.mu.Lock()
	if mode == ModeFail {
		if existing := e.pending[unitName][ClassActivation]; existing != nil && existing.state != StateDone {
			e.mu.Unlock()
			return nil, fmt.Errorf("job: conflicting activation job pending for %s", unitName)
		}
	}
	j, isNew := e.claimOrReuseLocked(unitName, DirStop, mode)
	e.mu.Unlock()

	if isNew {
		go e.runStop(ctx, j)
	}
	return &Result{Job: j, Jobs: []*Job{j}}, nil
}

// claimOrReuseLocked returns the existing pending job of dir's class
// for unit if one is queued/waiting/running (coalescing, spec.md §3),
// reporting isNew=false so the caller does not dispatch it again. The
// previous entry, if any, is already StateDone at this point and is
// simply overwritten.
func (e *Engine) claimOrReuseLocked(unit string, dir Direction, mode Mode) (j *Job, isNew bool) {
	class := dir.Class()
	if e.pending[unit] == nil {
		e.pending[unit] = make(map[Class]*Job)
	}
	if existing := e.pending[unit][class]; existing != nil && existing.state != StateDone {
		return existing, false
	}
	e.nextID++
	j = newJob(e.nextID, unit, dir, mode)
	e.pending[unit][class] = j
	return j, true
}

// forwardSettled closes settled once an already-pending (coalesced)
// job reaches its terminal state, so dependants waiting on this unit
// within a new transaction still unblock correctly.
func (e *Engine) forwardSettled(j *Job, settled chan struct{}) {
	<-j.Done()
	close(settled)
}

// runStart waits for j's ordering prerequisites within the
// transaction to settle, checks Requires/Requisite/BindsTo failure
// propagation, then dispatches the start (spec.md §4.6 Propagation,
// §5 Ordering guarantees).
func (e *Engine) runStart(ctx context.Context, unit string, jobs map[string]*Job, pulls []depgraph.PullEdge, units []string, settled map[string]chan struct{}) {
	j := jobs[unit]
	defer close(settled[unit])

	inClosure := make(map[string]bool, len(units))
	for _, u := range units {
		inClosure[u] = true
	}

	u, ok := e.lookup(unit)
	var waitOn []string
	if ok {
		for _, dep := range u.Edges.After {
			if inClosure[dep] {
				waitOn = append(waitOn, dep)
			}
		}
	}
	for _, p := range pulls {
		if p.From == unit && inClosure[p.To] {
			waitOn = append(waitOn, p.To)
		}
	}

	for _, dep := range waitOn {
		select {
		case <-settled[dep]:
		case <-ctx.Done():
			j.finish(ctx.Err())
			return
		}
	}

	if !ok {
		j.finish(uniterr.New(uniterr.KindNotFound, unit, "unit not loaded", nil))
		return
	}

	for _, p := range pulls {
		if p.From != unit || !p.Kind.Strict() {
			continue
		}
		dep, ok := jobs[p.To]
		if !ok || dep.Err() == nil {
			continue
		}
		j.finish(uniterr.New(uniterr.KindDependencyFailed, unit, "dependency "+p.To+" failed", dep.Err()))
		return
	}

	j.state = StateRunning
	err := e.dispatcher.Start(ctx, unit)
	if err != nil {
		log.G(ctx).WithField("unit", unit).WithError(err).Warn("start job failed")
	}
	j.finish(err)
}

func (e *Engine) runStop(ctx context.Context, j *Job) {
	j.state = StateRunning
	err := e.dispatcher.Stop(ctx, j.Unit)
	if err != nil {
		log.G(ctx).WithField("unit", j.Unit).WithError(err).Warn("stop job failed")
	}
	j.finish(err)
}

// WaitFor blocks until unit's most recent job of class reaches its
// terminal state, returning that job's result (nil if no such job was
// ever enqueued).
func (e *Engine) WaitFor(ctx context.Context, unit string, class Class) error {
	e.mu.Lock()
	j := e.pending[unit][class]
	e.mu.Unlock()
	if j == nil {
		return nil
	}
	select {
	case <-j.Done():
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync blocks until every currently pending job has settled.
func (e *Engine) Sync(ctx context.Context) error {
	e.mu.Lock()
	var jobs []*Job
	for _, classes := range e.pending {
		for _, j := range classes {
			if j.state != StateDone {
				jobs = append(jobs, j)
			}
		}
	}
	e.mu.Unlock()

	for _, j := range jobs {
		select {
		case <-j.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
