package rtpod

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPod(t *testing.T, ncpus int, opts ...Option) (*Pod, *SimArch) {
	t.Helper()
	arch := NewSimArch(ncpus)
	base := []Option{WithArch(arch)}
	if ncpus > 1 {
		base = append(base, WithSMP(true))
	}
	p, err := NewPod(append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Shutdown(0) })
	return p, arch
}

func initThread(t *testing.T, p *Pod, name string, prio int, flags StateFlags) *Thread {
	t.Helper()
	th := new(Thread)
	if err := p.InitThread(th, p.Timebase(), name, prio, flags, 0); err != nil {
		t.Fatal(err)
	}
	return th
}

func startThread(t *testing.T, p *Pod, name string, prio int, flags, mode StateFlags) *Thread {
	t.Helper()
	th := initThread(t, p, name, prio, flags)
	if err := p.StartThread(th, mode, 0, AllCPUs, func(any) {}, nil); err != nil {
		t.Fatal(err)
	}
	return th
}

// checkInvariants asserts the structural invariants that must hold after
// any admissible call sequence.
func checkInvariants(t *testing.T, p *Pod) {
	t.Helper()
	spl := p.lockSave()
	defer p.unlockRestore(spl)

	for _, s := range p.sched {
		if s.curr.sched != s {
			t.Errorf("slot %d: curr %q bound to slot %d", s.cpu, s.curr.name, s.curr.sched.cpu)
		}
		if s.fpuholder != nil {
			found := false
			for _, th := range p.threads {
				if th == s.fpuholder {
					found = true
				}
			}
			if !found {
				t.Errorf("slot %d: fpuholder not a live thread", s.cpu)
			}
		}
	}

	for _, th := range p.threads {
		inq := false
		for _, s := range p.sched {
			for _, o := range s.runq.q {
				if o == th {
					inq = true
				}
			}
		}
		if ready := th.state.test(Ready); ready != inq {
			t.Errorf("thread %q: Ready=%v but queued=%v", th.name, ready, inq)
		}
		if th.state.test(Ready) && th.state.test(BlockBits) {
			t.Errorf("thread %q: ready and blocked at once (%s)", th.name, th.state)
		}
		if th.state.test(Pended) && th.wchan == nil {
			t.Errorf("thread %q: pended without a wait channel", th.name)
		}
	}
}

func TestNewPod_activates(t *testing.T) {
	p, _ := newTestPod(t, 1)
	require.True(t, p.Active())
	require.False(t, p.Fatal())
	require.Equal(t, 1, p.NumCPUs())
	require.True(t, p.Timebase().Enabled())

	// The root thread owns the CPU from the start.
	curr := p.CurrentThread()
	require.NotNil(t, curr)
	assert.True(t, curr.State().test(Root))
	assert.Equal(t, "ROOT/0", curr.Name())
	checkInvariants(t, p)
}

func TestInit_refcount(t *testing.T) {
	arch := NewSimArch(1)
	p1, err := Init(WithArch(arch))
	require.NoError(t, err)
	p2, err := Init()
	require.NoError(t, err)
	require.Same(t, p1, p2, "stacking must reuse the active pod")

	p2.Shutdown(0)
	require.True(t, p1.Active(), "first release must not tear down")
	require.Same(t, p1, CurrentPod())

	p1.Shutdown(0)
	require.False(t, p1.Active(), "last release tears down")
	require.Nil(t, CurrentPod())

	// Releasing an inactive pod stays a no-op.
	p1.Shutdown(0)
	require.False(t, p1.Active())
}

func TestShutdown_deletesNonRootThreads(t *testing.T) {
	arch := NewSimArch(1)
	p, err := NewPod(WithArch(arch))
	require.NoError(t, err)

	a := startThread(t, p, "A", 10, 0, 0)
	b := startThread(t, p, "B", 20, 0, 0)
	require.Same(t, b, p.CurrentThread())

	p.Shutdown(0)
	require.False(t, p.Active())
	assert.True(t, a.State().test(Zombie))
	assert.True(t, b.State().test(Zombie))
}

func TestEnableTimesource_rollsBackOnFailure(t *testing.T) {
	arch := NewSimArch(2)
	arch.FailStartTimer = func(cpu int) (int, error) {
		if cpu == 1 {
			return 0, ErrNoDev
		}
		return 0, nil
	}
	_, err := NewPod(WithArch(arch), WithSMP(true))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNoDev)
}

func TestAddHook_unknownType(t *testing.T) {
	p, _ := newTestPod(t, 1)
	_, err := p.AddHook(HookType(42), func(*Thread) {})
	require.ErrorIs(t, err, ErrInvalid)
	_, err = p.AddHook(HookStart, nil)
	require.ErrorIs(t, err, ErrInvalid)
	require.ErrorIs(t, p.RemoveHook(HookType(-1), nil), ErrInvalid)
}

func TestHooks_fireInRegistrationOrder(t *testing.T) {
	p, _ := newTestPod(t, 1)

	var order []string
	h1, err := p.AddHook(HookStart, func(th *Thread) { order = append(order, "h1:"+th.Name()) })
	require.NoError(t, err)
	h2, err := p.AddHook(HookStart, func(th *Thread) { order = append(order, "h2:"+th.Name()) })
	require.NoError(t, err)

	startThread(t, p, "A", 10, 0, 0)
	require.Equal(t, []string{"h1:A", "h2:A"}, order)

	require.NoError(t, p.RemoveHook(HookStart, h1))
	require.ErrorIs(t, p.RemoveHook(HookStart, h1), ErrInvalid, "double removal")

	order = nil
	startThread(t, p, "B", 10, 0, 0)
	require.Equal(t, []string{"h2:B"}, order)
	_ = h2
}

func TestHooks_calloutMayEditOwnChain(t *testing.T) {
	p, _ := newTestPod(t, 1)

	var fired []string
	var h1 *Hook
	h1, _ = p.AddHook(HookStart, func(th *Thread) {
		fired = append(fired, "h1")
		_ = p.RemoveHook(HookStart, h1) // self-removal while running
	})
	_, _ = p.AddHook(HookStart, func(*Thread) { fired = append(fired, "h2") })

	startThread(t, p, "A", 10, 0, 0)
	require.Equal(t, []string{"h1", "h2"}, fired)

	fired = nil
	startThread(t, p, "B", 10, 0, 0)
	require.Equal(t, []string{"h2"}, fired, "removed callout must not fire again")
}

func TestForEachThread_revision(t *testing.T) {
	p, _ := newTestPod(t, 1)
	a := startThread(t, p, "A", 10, 0, 0)
	startThread(t, p, "B", 5, 0, 0)

	var names []string
	require.NoError(t, p.ForEachThread(func(th *Thread) bool {
		names = append(names, th.Name())
		return true
	}))
	require.Equal(t, []string{"ROOT/0", "A", "B"}, names)

	err := p.ForEachThread(func(th *Thread) bool {
		if th == a {
			p.DeleteThread(a)
		}
		return true
	})
	require.ErrorIs(t, err, ErrIdRemoved)
}

func TestFatal_latchesDiagnostics(t *testing.T) {
	var captured string
	arch := NewSimArch(1)
	arch.OnPanic = func(msg string) { captured = msg }
	p, err := NewPod(WithArch(arch))
	require.NoError(t, err)
	t.Cleanup(func() { p.Shutdown(0) })

	startThread(t, p, "A", 10, 0, 0)

	root := p.SchedSlot(0).rootcb
	p.DeleteThread(root)

	require.True(t, p.Fatal())
	diag := p.FatalDiagnostics()
	assert.Contains(t, captured, "root thread")
	assert.Contains(t, diag, "NAME", "diagnostic header")
	assert.Contains(t, diag, "ROOT/0")
	assert.Contains(t, diag, "A")
	assert.Contains(t, diag, "Master time base")

	// Sticky: a second fatal appends to the same buffer.
	p.SuspendThread(root, Suspended, Infinite, Relative, nil)
	assert.Contains(t, p.FatalDiagnostics(), "suspend root thread")
}

func TestStackPool_exhaustion(t *testing.T) {
	p, _ := newTestPod(t, 1, WithStackPool(16<<10))
	var a Thread
	require.NoError(t, p.InitThread(&a, nil, "A", 10, 0, 8<<10))
	var b Thread
	err := p.InitThread(&b, nil, "B", 10, 0, 16<<10)
	require.ErrorIs(t, err, ErrNoMem)
}

func TestRegistry_notified(t *testing.T) {
	reg := &recordingRegistry{}
	p, _ := newTestPod(t, 1, WithRegistry(reg))
	a := startThread(t, p, "A", 10, 0, 0)
	require.Equal(t, []string{"+A"}, reg.events)
	p.SuspendThread(a, Suspended, Infinite, Relative, nil)
	p.DeleteThread(a)
	require.Equal(t, []string{"+A", "-A"}, reg.events)
}

type recordingRegistry struct{ events []string }

func (r *recordingRegistry) Register(t *Thread)   { r.events = append(r.events, "+"+t.Name()) }
func (r *recordingRegistry) Unregister(t *Thread) { r.events = append(r.events, "-"+t.Name()) }

func TestErrors_areSentinels(t *testing.T) {
	for _, err := range []error{
		ErrNoMem, ErrInvalid, ErrBusy, ErrPerm, ErrTimedOut,
		ErrWouldBlock, ErrIntr, ErrIdRemoved, ErrExist, ErrNoDev, ErrNoSys,
	} {
		if err.Error() == "" {
			t.Fatal("empty error message")
		}
		if !errors.Is(err, err) {
			t.Fatal("sentinel must match itself")
		}
	}
}
