package rtpod

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A higher-priority thread preempts at start; suspending it hands the CPU
// back.
func TestSchedule_priorityPreemption(t *testing.T) {
	p, _ := newTestPod(t, 1)

	a := startThread(t, p, "A", 10, 0, 0)
	require.Same(t, a, p.CurrentThread(), "A preempts the root thread")

	b := startThread(t, p, "B", 20, 0, 0)
	require.Same(t, b, p.CurrentThread(), "B outranks A")
	assert.True(t, a.State().test(Ready))

	p.SuspendThread(b, Suspended, Infinite, Relative, nil)
	require.Same(t, a, p.CurrentThread(), "A resumes once B suspends")
	assert.True(t, b.State().test(Suspended))
	checkInvariants(t, p)
}

// Same-priority round-robin rotates in insertion order, one quantum each.
func TestSchedule_roundRobin(t *testing.T) {
	p, arch := newTestPod(t, 1)

	a := startThread(t, p, "A", 10, 0, RoundRobin)
	b := startThread(t, p, "B", 10, 0, RoundRobin)
	c := startThread(t, p, "C", 10, 0, RoundRobin)
	require.Same(t, a, p.CurrentThread(), "first started keeps the CPU")

	p.ActivateRR(Ticks(5 * time.Millisecond))

	quantum := Ticks(5 * time.Millisecond)
	want := []*Thread{b, c, a, b, c, a}
	for i, next := range want {
		arch.Advance(quantum)
		require.Same(t, next, p.CurrentThread(), "rotation %d", i)
	}
	checkInvariants(t, p)

	// Deactivation leaves the policy attached but the credit unbounded.
	p.DeactivateRR()
	assert.True(t, a.State().test(RoundRobin))
	curr := p.CurrentThread()
	arch.Advance(quantum * 3)
	require.Same(t, curr, p.CurrentThread(), "no rotation without credit")
}

func TestSchedule_fromCalloutIsDeferred(t *testing.T) {
	p, _ := newTestPod(t, 1)

	var nested *Thread
	_, err := p.AddHook(HookStart, func(*Thread) {
		p.Schedule() // must be a deferred no-op under KCOUT
		nested = p.CurrentThread()
	})
	require.NoError(t, err)

	a := startThread(t, p, "A", 10, 0, 0)
	require.Same(t, a, p.CurrentThread())
	assert.True(t, nested.State().test(Root), "callout ran before the switch")
}

func TestLockSched_blocksPreemption(t *testing.T) {
	p, _ := newTestPod(t, 1)

	a := startThread(t, p, "A", 10, 0, 0)
	p.LockSched()
	p.LockSched() // nests

	b := startThread(t, p, "B", 20, 0, 0)
	require.Same(t, a, p.CurrentThread(), "lock holder keeps the CPU")
	assert.True(t, b.State().test(Ready))

	p.UnlockSched()
	require.Same(t, a, p.CurrentThread(), "still nested")

	p.UnlockSched()
	require.Same(t, b, p.CurrentThread(), "last unlock reschedules")
	checkInvariants(t, p)
}

func TestSetThreadMode_lockAndRR(t *testing.T) {
	p, _ := newTestPod(t, 1)

	a := startThread(t, p, "A", 10, 0, 0)

	old := p.SetThreadMode(a, 0, Locked)
	require.Equal(t, StateFlags(0), old)

	b := startThread(t, p, "B", 20, 0, 0)
	require.Same(t, a, p.CurrentThread(), "mode lock holds the CPU")

	old = p.SetThreadMode(a, Locked, RoundRobin)
	require.True(t, old.test(Locked))
	p.Schedule()
	require.Same(t, b, p.CurrentThread(), "caller reschedules after clearing the lock")

	assert.True(t, a.State().test(RoundRobin))
	assert.False(t, a.State().test(Locked))
}

func TestFPU_handover(t *testing.T) {
	p, _ := newTestPod(t, 1, WithFPU(true))
	s := p.SchedSlot(0)

	a := startThread(t, p, "A", 10, UseFPU, 0)
	require.Same(t, a, s.fpuholder, "first entry initializes and claims the FPU")
	require.NotNil(t, a.Arch().FPU)

	b := startThread(t, p, "B", 20, UseFPU, 0)
	require.Same(t, b, s.fpuholder)
	afpu := a.Arch().FPU.(*simFPU)
	require.Equal(t, 1, afpu.saves, "outgoing holder saved on handover")

	// A thread without FPU use leaves the holder alone.
	c := startThread(t, p, "C", 30, 0, 0)
	require.Same(t, c, p.CurrentThread())
	require.Same(t, b, s.fpuholder, "lazy: holder survives non-FPU threads")

	p.SuspendThread(c, Suspended, Infinite, Relative, nil)
	require.Same(t, b, p.CurrentThread())
	bfpu := b.Arch().FPU.(*simFPU)
	require.Equal(t, 0, bfpu.saves, "holder resumed without a save/restore cycle")

	p.SuspendThread(b, Suspended, Infinite, Relative, nil)
	require.Same(t, a, p.CurrentThread())
	require.Same(t, a, s.fpuholder)
	require.Equal(t, 1, bfpu.saves)
	require.Equal(t, 1, afpu.restores)
	checkInvariants(t, p)
}

func TestDeleteThread_zombieFinalizedAfterSwitch(t *testing.T) {
	p, _ := newTestPod(t, 1)

	var deleted []string
	_, err := p.AddHook(HookDelete, func(th *Thread) { deleted = append(deleted, th.Name()) })
	require.NoError(t, err)

	a := startThread(t, p, "A", 10, 0, 0)
	require.Same(t, a, p.CurrentThread())

	p.DeleteThread(a) // self-deletion schedules out for good
	require.True(t, p.CurrentThread().State().test(Root))
	require.Equal(t, []string{"A"}, deleted)
	require.Nil(t, p.SchedSlot(0).zombie, "corpse drained after the switch")
	assert.True(t, a.State().test(Zombie))
	assert.Nil(t, a.Arch().Stack, "stack released")

	// Idempotent on an already dying thread.
	p.DeleteThread(a)
	require.Equal(t, []string{"A"}, deleted)
	checkInvariants(t, p)
}

func TestSignals_dispatchedFromEpilogue(t *testing.T) {
	p, _ := newTestPod(t, 1)

	a := startThread(t, p, "A", 10, 0, 0)

	var got []SigMask
	p.SetThreadASR(a, func(sigs SigMask) { got = append(got, sigs) }, 0, 0)

	p.PostSignals(a, 0b101)
	p.Schedule()
	require.Equal(t, []SigMask{0b101}, got)

	// Cleared once delivered.
	p.Schedule()
	require.Equal(t, []SigMask{0b101}, got)

	// SigDisable suppresses delivery; signals stay pending.
	p.SetThreadMode(a, 0, SigDisable)
	p.PostSignals(a, 0b10)
	p.Schedule()
	require.Equal(t, []SigMask{0b101}, got)

	p.SetThreadMode(a, SigDisable, 0)
	p.Schedule()
	require.Equal(t, []SigMask{0b101, 0b10}, got)
}

func TestWatchdog_suspendsRunaway(t *testing.T) {
	p, arch := newTestPod(t, 1, WithWatchdog(time.Second))

	a := startThread(t, p, "A", 10, 0, 0)
	require.Same(t, a, p.CurrentThread())

	arch.Advance(Ticks(5 * time.Second))
	require.True(t, a.State().test(Suspended), "runaway thread frozen")
	require.True(t, p.CurrentThread().State().test(Root))

	p.ResumeThread(a, Suspended)
	p.Schedule()
	require.Same(t, a, p.CurrentThread())
}
