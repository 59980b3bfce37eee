package job

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Osso/sysd/internal/unit"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	started []string
	stopped []string
	fail    map[string]bool
	active  []string
}

func newFakeDispatcher(fail ...string) *fakeDispatcher {
	m := make(map[string]bool, len(fail))
	for _, f := range fail {
		m[f] = true
	}
	return &fakeDispatcher{fail: m}
}

func (d *fakeDispatcher) Start(ctx context.Context, u string) error {
	d.mu.Lock()
	d.started = append(d.started, u)
	d.mu.Unlock()
	if d.fail[u] {
		return fmt.Errorf("exec-setup failed for %s", u)
	}
	return nil
}

func (d *fakeDispatcher) Stop(ctx context.Context, u string) error {
	d.mu.Lock()
	d.stopped = append(d.stopped, u)
	d.mu.Unlock()
	return nil
}

func (d *fakeDispatcher) Reload(ctx context.Context, u string) error { return nil }

func (d *fakeDispatcher) ActiveUnits(ctx context.Context) ([]string, error) {
	return d.active, nil
}

func mkUnit(name string, after, requires, wants []string) *unit.Unit {
	return &unit.Unit{
		Name: name,
		Edges: unit.EdgeSet{
			After:    after,
			Requires: requires,
			Wants:    wants,
		},
	}
}

func lookupFrom(units map[string]*unit.Unit) Lookup {
	return func(name string) (*unit.Unit, bool) {
		u, ok := units[name]
		return u, ok
	}
}

func TestEnqueueStartDispatchesWholeClosure(t *testing.T) {
	units := map[string]*unit.Unit{
		"a.service": mkUnit("a.service", []string{"b.service"}, []string{"b.service"}, nil),
		"b.service": mkUnit("b.service", nil, nil, nil),
	}
	disp := newFakeDispatcher()
	e := New(lookupFrom(units), disp)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := e.Enqueue(ctx, "a.service", DirStart, ModeReplace)
	require.NoError(t, err)
	require.NoError(t, e.WaitFor(ctx, "a.service", ClassActivation))
	require.NoError(t, res.Job.Err())

	disp.mu.Lock()
	defer disp.mu.Unlock()
	require.ElementsMatch(t, []string{"a.service", "b.service"}, disp.started)
}

func TestRequiresFailurePropagates(t *testing.T) {
	units := map[string]*unit.Unit{
		"a.service": mkUnit("a.service", []string{"b.service"}, []string{"b.service"}, nil),
		"b.service": mkUnit("b.service", nil, nil, nil),
	}
	disp := newFakeDispatcher("b.service")
	e := New(lookupFrom(units), disp)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := e.Enqueue(ctx, "a.service", DirStart, ModeReplace)
	require.NoError(t, err)
	err = e.WaitFor(ctx, "a.service", ClassActivation)
	require.Error(t, err)
}

func TestWantsFailureDoesNotPropagate(t *testing.T) {
	units := map[string]*unit.Unit{
		"a.service": mkUnit("a.service", []string{"b.service"}, nil, []string{"b.service"}),
		"b.service": mkUnit("b.service", nil, nil, nil),
	}
	disp := newFakeDispatcher("b.service")
	e := New(lookupFrom(units), disp)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := e.Enqueue(ctx, "a.service", DirStart, ModeReplace)
	require.NoError(t, err)
	require.NoError(t, e.WaitFor(ctx, "a.service", ClassActivation))
}

func TestCoalescingReturnsSameJobForSecondRequest(t *testing.T) {
	units := map[string]*unit.Unit{
		"a.service": mkUnit("a.service", nil, nil, nil),
	}
	disp := newFakeDispatcher()
	disp.mu.Lock()
	disp.fail = map[string]bool{}
	disp.mu.Unlock()

	e := New(lookupFrom(units), disp)
	ctx := context.Background()

	e.mu.Lock()
	e.pending["a.service"] = map[Class]*Job{ClassActivation: newJob(99, "a.service", DirStart, ModeReplace)}
	e.mu.Unlock()

	res, err := e.Enqueue(ctx, "a.service", DirStart, ModeReplace)
	require.NoError(t, err)
	require.Equal(t, uint64(99), res.Job.ID)
}

func TestFailModeRejectsConflictingPendingJob(t *testing.T) {
	units := map[string]*unit.Unit{
		"a.service": mkUnit("a.service", nil, nil, nil),
	}
	disp := newFakeDispatcher()
	e := New(lookupFrom(units), disp)

	e.mu.Lock()
	e.pending["a.service"] = map[Class]*Job{ClassDeactivation: newJob(1, "a.service", DirStop, ModeReplace)}
	e.mu.Unlock()

	_, err := e.Enqueue(context.Background(), "a.service", DirStart, ModeFail)
	require.Error(t, err)
}

func TestIsolateStopsUnitsOutsideClosure(t *testing.T) {
	units := map[string]*unit.Unit{
		"rescue.target": mkUnit("rescue.target", nil, nil, nil),
	}
	disp := newFakeDispatcher()
	disp.active = []string{"sshd.service", "rescue.target"}
	e := New(lookupFrom(units), disp)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := e.Enqueue(ctx, "rescue.target", DirStart, ModeIsolate)
	require.NoError(t, err)
	require.NoError(t, e.WaitFor(ctx, "rescue.target", ClassActivation))
	for _, j := range res.Jobs {
		<-j.Done()
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()
	require.Contains(t, disp.stopped, "sshd.service")
}
