package rtpod

import (
	"errors"
	"testing"
)

func TestMigrateThread_movesToTargetSlot(t *testing.T) {
	p, arch := newTestPod(t, 2, WithFPU(true), WithStats(true))

	a := startThread(t, p, "A", 10, UseFPU, 0)
	if p.CurrentThread() != a {
		t.Fatal("setup: A must run on cpu 0")
	}
	if p.SchedSlot(0).fpuholder != a {
		t.Fatal("setup: A must hold cpu 0's FPU")
	}

	if err := p.MigrateThread(1); err != nil {
		t.Fatal(err)
	}

	if a.CPU() != 1 {
		t.Fatalf("want slot 1, got %d", a.CPU())
	}
	if p.SchedSlot(0).fpuholder == a {
		t.Fatal("source slot must release the FPU claim")
	}
	if !p.SchedSlot(0).curr.State().test(Root) {
		t.Fatal("source CPU must fall back to its root thread")
	}

	// The remote CPU takes the IPI and picks the migrated thread up.
	arch.Advance(0)
	if p.SchedSlot(1).curr != a {
		t.Fatalf("want A current on cpu 1, got %q", p.SchedSlot(1).curr.Name())
	}
	checkInvariants(t, p)
}

func TestMigrateThread_sameCPUNoop(t *testing.T) {
	p, _ := newTestPod(t, 2)
	a := startThread(t, p, "A", 10, 0, 0)
	if err := p.MigrateThread(0); err != nil {
		t.Fatal(err)
	}
	if a.CPU() != 0 || p.CurrentThread() != a {
		t.Fatal("same-CPU migration must change nothing")
	}
}

func TestMigrateThread_errors(t *testing.T) {
	p, arch := newTestPod(t, 2)

	a := initThread(t, p, "A", 10, 0)
	if err := p.StartThread(a, 0, 0, CPUMask(0), func(any) {}, nil); err != nil {
		t.Fatal(err)
	}

	// Outside affinity.
	if err := p.MigrateThread(1); !errors.Is(err, ErrPerm) {
		t.Fatalf("want ErrPerm, got %v", err)
	}

	// Scheduler locked.
	p.LockSched()
	if err := p.MigrateThread(0); !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}
	p.UnlockSched()

	// Interrupt context.
	arch.mu.Lock()
	arch.irqNest++
	arch.mu.Unlock()
	err := p.MigrateThread(0)
	arch.mu.Lock()
	arch.irqNest--
	arch.mu.Unlock()
	if !errors.Is(err, ErrPerm) {
		t.Fatalf("want ErrPerm from interrupt context, got %v", err)
	}
}

func TestRemoteSuspend_preemptsViaIPI(t *testing.T) {
	p, arch := newTestPod(t, 2)

	a := startThread(t, p, "A", 10, 0, 0)
	if err := p.MigrateThread(1); err != nil {
		t.Fatal(err)
	}
	arch.Advance(0)
	if p.SchedSlot(1).curr != a {
		t.Fatal("setup: A must run on cpu 1")
	}

	// From cpu 0's context, stop the thread running on cpu 1.
	p.SuspendThread(a, Suspended, Infinite, Relative, nil)
	arch.Advance(0) // deliver the resched IPI
	if !p.SchedSlot(1).curr.State().test(Root) {
		t.Fatalf("cpu 1 must have preempted A, got %q", p.SchedSlot(1).curr.Name())
	}
	if !a.State().test(Suspended) {
		t.Fatalf("want SUSP, got %s", a.State())
	}
	checkInvariants(t, p)
}
