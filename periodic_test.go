package rtpod

import (
	"errors"
	"testing"
	"time"
)

const ms = Ticks(time.Millisecond)

// The canonical periodic loop: a release every 10ms, a 25ms overrun, then
// recovery.
func TestPeriodic_waitAndOverrun(t *testing.T) {
	p, arch := newTestPod(t, 1)

	a := startThread(t, p, "A", 10, 0, 0)
	if err := p.SetThreadPeriodic(a, Infinite, 10*ms); err != nil {
		t.Fatal(err)
	}

	// First wait consumes the first release point.
	if o, err := p.WaitThreadPeriod(); err != nil || o != 0 {
		t.Fatalf("wait#1: got (%d, %v)", o, err)
	}
	if !a.State().test(Delayed) {
		t.Fatalf("want DELAY until the release point, got %s", a.State())
	}
	arch.Advance(10 * ms)
	if p.CurrentThread() != a {
		t.Fatal("release point must wake the thread")
	}

	// A 25ms loop body blows through two release points.
	arch.Advance(25 * ms)
	o, err := p.WaitThreadPeriod()
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("wait#2: want ErrTimedOut, got %v", err)
	}
	if o < 1 {
		t.Fatalf("wait#2: want overruns >= 1, got %d", o)
	}

	// Back on schedule afterwards.
	o, err = p.WaitThreadPeriod()
	if err != nil || o != 0 {
		t.Fatalf("wait#3: got (%d, %v)", o, err)
	}
	arch.Advance(5 * ms)
	if p.CurrentThread() != a {
		t.Fatal("thread must resume at the next release point")
	}
	checkInvariants(t, p)
}

func TestPeriodic_requiresTimebase(t *testing.T) {
	p, _ := newTestPod(t, 1)
	var a Thread
	if err := p.InitThread(&a, nil, "A", 10, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := p.SetThreadPeriodic(&a, Infinite, 10*ms); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("want ErrWouldBlock, got %v", err)
	}
}

func TestPeriodic_latencyFloor(t *testing.T) {
	p, _ := newTestPod(t, 1, WithLatency(time.Millisecond))
	a := startThread(t, p, "A", 10, 0, 0)
	if err := p.SetThreadPeriodic(a, Infinite, Ticks(100*time.Microsecond)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
}

func TestPeriodic_infinitePeriodStops(t *testing.T) {
	p, _ := newTestPod(t, 1)
	a := startThread(t, p, "A", 10, 0, 0)
	if err := p.SetThreadPeriodic(a, Infinite, 10*ms); err != nil {
		t.Fatal(err)
	}
	if !a.ptimer.Running() {
		t.Fatal("setup: periodic timer must run")
	}
	if err := p.SetThreadPeriodic(a, Infinite, Infinite); err != nil {
		t.Fatal(err)
	}
	if a.ptimer.Running() {
		t.Fatal("infinite period must stop the timer")
	}

	// Waiting without an armed timer refuses.
	if _, err := p.WaitThreadPeriod(); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("want ErrWouldBlock, got %v", err)
	}
}

func TestPeriodic_pastInitialDate(t *testing.T) {
	p, arch := newTestPod(t, 1)
	arch.Advance(50 * ms)

	a := startThread(t, p, "A", 10, 0, 0)
	past := arch.HostTime() - 20*ms
	if err := p.SetThreadPeriodic(a, past, 10*ms); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("want ErrTimedOut for a past initial date, got %v", err)
	}
}

func TestPeriodic_absoluteInitialDateDelays(t *testing.T) {
	p, arch := newTestPod(t, 1)

	a := startThread(t, p, "A", 10, 0, 0)
	idate := arch.HostTime() + 30*ms
	if err := p.SetThreadPeriodic(a, idate, 10*ms); err != nil {
		t.Fatal(err)
	}
	if !a.State().test(Delayed) {
		t.Fatalf("want DELAY until the initial date, got %s", a.State())
	}
	if p.CurrentThread() == a {
		t.Fatal("caller must have been scheduled out")
	}

	arch.Advance(30 * ms)
	if p.CurrentThread() != a {
		t.Fatal("initial release point must wake the thread")
	}
	checkInvariants(t, p)
}

func TestPeriodic_waitBrokenByUnblock(t *testing.T) {
	p, _ := newTestPod(t, 1)

	b := startThread(t, p, "B", 5, 0, 0) // where the CPU goes while A waits
	a := startThread(t, p, "A", 10, 0, 0)
	if err := p.SetThreadPeriodic(a, Infinite, 10*ms); err != nil {
		t.Fatal(err)
	}

	// Break the wait from the context that takes over the CPU, before the
	// release point arrives.
	var h *Hook
	h, _ = p.AddHook(HookSwitch, func(th *Thread) {
		if th == b {
			p.UnblockThread(a)
			_ = p.RemoveHook(HookSwitch, h)
		}
	})

	if _, err := p.WaitThreadPeriod(); !errors.Is(err, ErrIntr) {
		t.Fatalf("want ErrIntr, got %v", err)
	}
	if !a.Info().test(Broken) {
		t.Fatalf("want BREAK, got %s", a.Info())
	}
}
