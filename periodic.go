package rtpod

import (
	"fmt"
)

// SetThreadPeriodic makes a thread periodic by programming its first
// release point and its period on the processor time line. Subsequent
// calls to [Pod.WaitThreadPeriod] delay the thread until the next release
// point.
//
// An Infinite idate means "now": the periodic timer starts relative with no
// initial delay. Otherwise the thread is delayed until the absolute idate
// (interpreted on the wallclock-adjusted time line) is reached. An Infinite
// period stops the periodic timer and always succeeds.
//
// Returns ErrWouldBlock when the thread has no time base, and ErrInvalid
// when the period undercuts the intrinsic scheduling latency.
func (p *Pod) SetThreadPeriodic(t *Thread, idate, period Ticks) error {
	if !t.timedP() {
		return ErrWouldBlock
	}

	spl := p.lockSave()
	defer p.unlockRestore(spl)

	if period == Infinite {
		if t.ptimer.Running() {
			t.ptimer.Stop()
		}
		return nil
	}
	if period < p.conf.Latency {
		// Periods shorter than the intrinsic latency figure cannot be
		// honoured.
		return fmt.Errorf(`%w: period %d under latency %d`, ErrInvalid, period, p.conf.Latency)
	}

	t.ptimer.SetSched(t.sched)

	if idate == Infinite {
		return t.ptimer.Start(period, period, Relative)
	}

	idate -= t.tbase.wallclockOffset
	if err := t.ptimer.Start(idate, period, Absolute); err != nil {
		return err
	}

	// Record the expected arrival before blocking, so the overruns of the
	// initial delay are not lost to the next wait.
	t.ptimer.ForwardPexpect(t.ptimer.Interval())
	p.suspendThreadLocked(t, Delayed, Infinite, Relative, nil)

	return nil
}

// WaitThreadPeriod delays the calling thread until the next periodic
// release point, set up by a previous [Pod.SetThreadPeriodic].
//
// The returned overrun count reports release points missed since the last
// wait; it comes with ErrTimedOut when nonzero. ErrIntr reports a wait
// broken by [Pod.UnblockThread], and ErrWouldBlock a periodic timer that
// was never armed. A release point already reached returns immediately.
func (p *Pod) WaitThreadPeriod() (uint64, error) {
	spl := p.lockSave()
	defer p.unlockRestore(spl)

	t := p.currentSched().curr

	if !t.ptimer.Running() {
		return 0, ErrWouldBlock
	}

	now := t.tbase.rawClock()

	if now < t.ptimer.Pexpect() {
		p.suspendThreadLocked(t, Delayed, Infinite, Relative, nil)

		if t.info.test(Broken) {
			return 0, ErrIntr
		}

		now = t.tbase.rawClock()
	}

	overruns := t.ptimer.Overruns(now)
	if overruns != 0 {
		p.logDebug("missed periodic release points", t)
		return overruns, ErrTimedOut
	}

	return 0, nil
}

// periodicRelease is the periodic-timer handler: a release point arrived;
// wake the thread if it is waiting on it.
func (p *Pod) periodicRelease(t *Thread) {
	spl := p.lockSave()
	if t.state.test(Delayed) {
		p.resumeThreadLocked(t, Delayed)
	}
	p.unlockRestore(spl)
	p.ScheduleDeferred()
}
