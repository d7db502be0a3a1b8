package rtpod

// SuspendThread suspends the execution of a thread according to a
// suspensive condition. The thread will not be eligible for scheduling
// until every pending condition added by this service is removed by calls
// to [Pod.ResumeThread].
//
// mask is one of the blocking bits: Suspended forcibly suspends regardless
// of resources (wchan must be nil); Delayed is a counted delay bounded by
// timeout; Pended waits for wchan to be signaled, optionally bounded by
// timeout. (Infinite, Relative) means an unbounded wait; any other timeout
// arms the resume timer, and a past absolute deadline short-circuits into a
// TimedOut outcome without blocking.
//
// Suspending the root thread or adding a wait channel over an existing one
// (a conjunctive wait) is a fatal error.
func (p *Pod) SuspendThread(t *Thread, mask StateFlags, timeout Ticks, mode TimerMode, wchan *Synch) {
	if t.state.test(Root) {
		p.fatalf("attempt to suspend root thread %q", t.name)
		return
	}
	if t.wchan != nil && wchan != nil {
		p.fatalf("thread %q attempts a conjunctive wait", t.name)
		return
	}

	spl := p.lockSave()
	p.suspendThreadLocked(t, mask, timeout, mode, wchan)
	p.unlockRestore(spl)
}

func (p *Pod) suspendThreadLocked(t *Thread, mask StateFlags, timeout Ticks, mode TimerMode, wchan *Synch) {
	s := t.sched

	p.logDebug("thread suspend", t)

	if t == s.curr {
		p.requestResched(s)
	}

	// Is the thread ready to run?
	if !t.state.test(BlockBits) {
		// Suspending a runnable shadow which has received a host signal:
		// raise the break condition instead and return immediately. A
		// relaxed shadow never has Kicked set, so relaxing is never
		// prevented from blocking the current thread.
		if p.conf.Pervasive && t.info.test(Kicked) {
			if mask.test(Relaxed) {
				p.fatalf("relaxing the kicked thread %q", t.name)
				return
			}
			t.info &^= Removed | TimedOut
			t.info |= Broken
			return
		}

		t.info &^= Removed | TimedOut | Broken | Woken | Robbed
	}

	// No timer for a thread indefinitely delayed by a plain
	// (Infinite, Relative) wait.
	if timeout != Infinite || mode != Relative {
		t.rtimer.SetSched(t.sched)
		if t.rtimer.Start(timeout, Infinite, mode) != nil {
			// Absolute timeout value in the past, bail out.
			if wchan != nil {
				t.wchan = wchan
				wchan.addSleeper(t)
				forgetSleeper(t)
			}
			t.info |= TimedOut
			return
		}
		t.state |= Delayed
	}

	if t.state.test(Ready) {
		p.class.Dequeue(t)
		t.state &^= Ready
	}

	t.state |= mask

	// Never clear the wait channel here: a thread first blocked on a
	// resource then forcibly suspended holds both conditions at once.
	if wchan != nil {
		t.wchan = wchan
		wchan.addSleeper(t)
	}

	if t == s.curr {
		// A target running on another CPU is preempted through the IPI
		// the rescheduling procedure sends.
		p.scheduleInPlace()
	} else if p.conf.Pervasive &&
		t.state&(Shadow|Relaxed|Dormant) == Shadow|Relaxed &&
		mask.test(Delayed|Suspended) {
		// Stopping a relaxed shadow that is not current: the mate runs
		// under the host scheduler, out of reach. Force it to migrate
		// back to primary mode so the pod actually controls, hence
		// stops, it.
		p.shadow.Suspend(t)
	}
}

// ResumeThread removes a suspensive condition from a thread. When the last
// blocking bit clears, the thread is readied and becomes eligible for
// scheduling anew. Resuming an unblocked thread requeues it — the manual
// round-robin effect.
//
// The caller batches state edits; this service never reschedules.
func (p *Pod) ResumeThread(t *Thread, mask StateFlags) {
	spl := p.lockSave()
	p.resumeThreadLocked(t, mask)
	p.unlockRestore(spl)
}

func (p *Pod) resumeThreadLocked(t *Thread, mask StateFlags) {
	s := t.sched

	p.logDebug("thread resume", t)

	if !t.state.test(BlockBits) {
		// Already runnable: move it to the end of its priority group.
		if t.state.test(Ready) {
			p.class.Dequeue(t)
		}
		p.readyThread(t, s)
		return
	}

	// Clear the specified block bit(s).
	t.state &^= mask

	// Delayed in the clear mask means either an unblock or an elapsed
	// timeout; in the latter case stopping the timer is a no-op.
	if mask.test(Delayed) {
		t.rtimer.Stop()
	}

	if !t.state.test(BlockBits) {
		// Fully unblocked: dissociate from the wait channel unless the
		// resume was a pure delay expiry.
		if mask&^Delayed != 0 && t.wchan != nil {
			forgetSleeper(t)
		}
		p.readyThread(t, s)
		return
	}

	switch {
	case mask.test(Delayed):
		if !t.state.test(Pended) {
			// Still blocked by bits the caller did not clear.
			return
		}
		// The delay expired while pending on a resource. Forgetting the
		// sleeper may fold in a further block (e.g. a barrier).
		if t.wchan != nil {
			forgetSleeper(t)
			if t.state.test(BlockBits) {
				return
			}
			p.readyThread(t, s)
		}

	case t.state.test(Delayed):
		if mask.test(Pended) {
			// Woken by the availability of the requested resource;
			// cancel the bounding timer.
			t.rtimer.Stop()
			t.state &^= Delayed
		}
		if t.state.test(BlockBits) {
			return
		}
		if mask&^Delayed != 0 && t.wchan != nil {
			forgetSleeper(t)
		}
		p.readyThread(t, s)

	default:
		// Still suspended, but no more pending on a resource.
		if mask.test(Pended) && t.wchan != nil {
			forgetSleeper(t)
		}
	}
}

// readyThread links a thread into its slot's ready queue and requests a
// re-pick there.
func (p *Pod) readyThread(t *Thread, s *Sched) {
	p.class.Enqueue(t)
	t.state |= Ready
	p.requestResched(s)
}

// UnblockThread breaks the thread out of any delay or resource wait it
// currently undergoes, leaving the Broken outcome in its information mask.
// It does not release Suspended, Relaxed or Dormant conditions. Unblocking
// a non-blocked thread is harmless and reports false, so that an already
// successful wait is never marked as interrupted.
func (p *Pod) UnblockThread(t *Thread) bool {
	spl := p.lockSave()
	defer p.unlockRestore(spl)
	return p.unblockThreadLocked(t)
}

func (p *Pod) unblockThreadLocked(t *Thread) bool {
	// An armed resume timer bounding a resource wait clears the Pended
	// state through the same move.
	ret := true
	switch {
	case t.state.test(Delayed):
		p.resumeThreadLocked(t, Delayed)
	case t.state.test(Pended):
		p.resumeThreadLocked(t, Pended)
	default:
		ret = false
	}

	// A break state, once raised, survives until the thread actually
	// resumes: repeated unblocks must not clear it, and unblocking an
	// awake thread must not raise it.
	if ret {
		t.info |= Broken
	}

	return ret
}

// resumeTimeout is the resume-timer handler: the bounded wait elapsed.
func (p *Pod) resumeTimeout(t *Thread) {
	spl := p.lockSave()
	t.info |= TimedOut
	p.resumeThreadLocked(t, Delayed)
	p.unlockRestore(spl)
	p.ScheduleDeferred()
}
