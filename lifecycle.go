package rtpod

import (
	"fmt"
)

// InitThread initializes a new thread attached to the pod. The descriptor
// must stay valid for the thread's whole life. The thread is left dormant
// (plus forcibly suspended when the Suspended creation flag is given) until
// [Pod.StartThread] releases it.
//
// Accepted creation flags are UseFPU, Shadow, Shielded and Suspended; any
// other bit returns ErrInvalid. Shadow requires the Pervasive
// configuration, Shielded the IShield one (it is stripped otherwise). A nil
// tb leaves the thread without a time base: it can still be delayed against
// the master clock, but periodic services refuse it.
//
// This service never calls the rescheduling procedure.
func (p *Pod) InitThread(t *Thread, tb *Timebase, name string, prio int, flags StateFlags, stackSize int) error {
	if flags&^threadInitFlags != 0 {
		return fmt.Errorf(`%w: creation flags %s`, ErrInvalid, flags&^threadInitFlags)
	}
	if flags.test(Shadow) && !p.conf.Pervasive {
		return fmt.Errorf(`%w: shadow threads need the pervasive configuration`, ErrInvalid)
	}
	if !p.conf.IShield {
		flags &^= Shielded
	}
	if stackSize == 0 {
		stackSize = p.conf.DefaultStackSize
	}

	// Suspended is withheld from the initial state so that the suspension
	// below actually performs the work.
	if err := p.threadInit(t, tb, name, prio, flags&^Suspended, stackSize); err != nil {
		return err
	}

	spl := p.lockSave()
	t.sched = p.currentSched()
	p.threads = append(p.threads, t)
	p.threadsRev++
	if p.registry != nil {
		p.registry.Register(t)
	}
	p.suspendThreadLocked(t, Dormant|(flags&Suspended), Infinite, Relative, nil)
	p.unlockRestore(spl)

	p.logDebug("thread initialized", t)
	return nil
}

// StartThread starts a (newly) created thread, scheduling it for the first
// time. It releases the dormant condition, latches the initial mode bits
// (Locked, RoundRobin, SigDisable, Shielded — plus Suspended to start
// held), the interrupt mask and the entry point, and binds the thread to a
// CPU allowed by affinity.
//
// Returns ErrBusy when the thread is not dormant or was already started,
// and ErrInvalid when the effective affinity set is empty.
func (p *Pod) StartThread(t *Thread, mode StateFlags, imask int, affinity CPUSet, entry EntryFunc, cookie any) error {
	if !t.state.test(Dormant) {
		return ErrBusy
	}

	spl := p.lockSave()
	defer p.unlockRestore(spl)

	if affinity.Empty() {
		affinity = AllCPUs
	}
	t.affinity = affinity & p.affinity & p.onlineMask()
	if t.affinity.Empty() {
		return fmt.Errorf(`%w: empty effective affinity`, ErrInvalid)
	}
	if p.conf.SMP && !t.affinity.Has(t.sched.cpu) {
		t.sched = p.sched[t.affinity.First()]
	}

	if t.state.test(Started) {
		return ErrBusy
	}
	if !p.conf.IShield {
		mode &^= Shielded
	}
	mode &= Locked | RoundRobin | SigDisable | Shielded | Suspended

	t.state |= (mode & (ModeBits | Suspended)) | Started
	t.imask = imask
	t.imode = mode & ModeBits
	t.entry = entry
	t.cookie = cookie

	if t.state.test(RoundRobin) {
		t.rrcredit = t.rrperiod
	}

	p.logDebug("thread started", t)

	if t.state.test(Shadow) {
		p.shadow.Start(t)
		p.scheduleLocked()
		return nil
	}

	p.arch.InitThreadContext(&t.arch, entry, cookie, imask)

	p.resumeThreadLocked(t, Dormant)

	p.fireHooks(HookStart, t)

	p.scheduleLocked()
	return nil
}

// RestartThread terminates then respawns a previously started thread with
// the information that prevailed at its first start, rerunning the entry
// point. Restarting a never-started thread is a no-op; restarting the root
// thread or a shadow is a fatal error.
func (p *Pod) RestartThread(t *Thread) {
	if !t.state.test(Started) {
		return // not started yet, or not restartable
	}
	if t.state.test(Root | Shadow) {
		p.fatalf("attempt to restart a user-space thread %q", t.name)
		return
	}

	spl := p.lockSave()
	defer p.unlockRestore(spl)

	p.logDebug("thread restart", t)

	p.unblockThreadLocked(t)

	releaseAllOwnerships(t)

	if t.state.test(Suspended) {
		p.resumeThreadLocked(t, Suspended)
	}

	t.state &^= ModeBits
	t.state |= t.imode

	t.cprio = t.iprio
	t.bprio = t.iprio
	t.baseClass = t.initClass
	t.schedClass = t.initClass

	t.signals = 0

	if t == p.currentSched().curr {
		if t.state.test(Locked) {
			t.state &^= Locked
			t.lockCount = 0
		}
		t.state |= Restart
	}

	p.arch.InitThreadContext(&t.arch, t.entry, t.cookie, t.imask)

	// Restarting another thread must reschedule: our own priority may be
	// lower than the restarted thread's. A self-restart re-enters through
	// the same path, diverging into the fresh context.
	p.scheduleLocked()
}

// SetThreadMode changes the control mode bits of a thread, clearing clr
// then applying set; only mode bits are affected. Toggling Locked on the
// current thread grabs or releases the scheduler lock. Raising RoundRobin
// refreshes the time credit. The previous mode bits are returned.
//
// This service never reschedules; callers clearing Locked should.
func (p *Pod) SetThreadMode(t *Thread, clr, set StateFlags) StateFlags {
	spl := p.lockSave()

	curr := p.currentSched().curr

	if !p.conf.IShield {
		set &^= Shielded
	}
	oldmode := t.state & ModeBits
	t.state &^= clr & ModeBits
	t.state |= set & ModeBits

	if curr == t {
		if !oldmode.test(Locked) {
			if t.state.test(Locked) {
				// Actually grab the scheduler lock.
				p.lockSchedLocked()
			}
		} else if !t.state.test(Locked) {
			t.lockCount = 0
		}
	}

	if !oldmode.test(RoundRobin) && t.state.test(RoundRobin) {
		t.rrcredit = t.rrperiod
	}

	p.unlockRestore(spl)

	if p.conf.IShield && curr == t && t.state.test(Shadow) &&
		(clr|set).test(Shielded) {
		p.shadow.ResetShield()
	}

	return oldmode
}

// DeleteThread terminates a thread and releases all the pod resources it
// holds. Deletion of an active user-space shadow is deferred: the mate is
// sent a lethal signal and the teardown happens on its exit path.
// Self-deletion schedules the caller out for good; the TCB is finalized
// from the next thread's prologue. Deleting an already dying thread is a
// no-op; deleting the root thread is a fatal error.
func (p *Pod) DeleteThread(t *Thread) {
	if t.state.test(Root) {
		p.fatalf("attempt to delete the root thread %q", t.name)
		return
	}

	spl := p.lockSave()
	p.deleteThreadLocked(t)
	p.unlockRestore(spl)
}

func (p *Pod) deleteThreadLocked(t *Thread) {
	if t.state.test(Zombie) {
		return // no double-deletion
	}

	s := t.sched

	if p.conf.Pervasive {
		// Shadows die on behalf of their own context: an alive,
		// non-dormant mate is signalled instead, and re-enters here from
		// its exit notification. A dormant mate is torn down in place;
		// signalling it would confuse host-side debuggers.
		if t.arch.UserTask != nil && !t.state.test(Dormant) && !p.currentP(t) {
			p.shadow.SendSig(t, sigLethal)
			return
		}
	}

	p.logDebug("thread delete", t)

	p.removeThread(t)
	if p.registry != nil {
		p.registry.Unregister(t)
	}

	if t.state.test(Ready) {
		p.class.Dequeue(t)
		t.state &^= Ready
	}

	t.rtimer.Destroy()
	t.ptimer.Destroy()

	if t.state.test(Pended) {
		forgetSleeper(t)
	}

	releaseAllOwnerships(t)

	p.giveupFPU(s, t)

	t.state |= Zombie

	if s.curr == t {
		// Pick a new current thread before switching this one out
		// forever; the zombie state carries the corpse through the
		// rescheduling procedure, which destroys the thread object.
		p.requestResched(s)
		p.scheduleInPlace()
	} else if s.status&schedSwitchLocked == 0 && !t.state.test(Migrating) {
		p.fireHooks(HookDelete, t)
		// The control block must remain intact until the hooks ran.
		p.cleanupTCB(t)
		p.arch.FinalizeNoSwitch(&t.arch)
	}
	// Otherwise the thread dies in the course of an unlocked switch or in
	// flight to another CPU; the post-switch reconciliation catches it.
}

// AbortThread unconditionally terminates a thread, freezing a non-current
// target with a forced dormant suspension first. Reserved for skin cleanup
// paths; DeleteThread is the common method.
func (p *Pod) AbortThread(t *Thread) {
	spl := p.lockSave()
	if !p.currentP(t) {
		p.suspendThreadLocked(t, Dormant, Infinite, Relative, nil)
	}
	p.deleteThreadLocked(t)
	p.unlockRestore(spl)
}

// ReniceThread changes the base priority of a thread. The effective
// priority follows unless a priority-inheritance boost would be lowered. A
// sleeper pending on a priority-ordered channel is requeued; a runnable,
// non-scheduler-locked thread is repositioned in its ready queue. Assigning
// the current priority to a running or ready thread moves it to the end of
// its group — a manual round-robin.
//
// This service never reschedules.
func (p *Pod) ReniceThread(t *Thread, prio int) {
	p.reniceThread(t, prio, true)
}

func (p *Pod) reniceThread(t *Thread, prio int, propagate bool) {
	spl := p.lockSave()
	defer p.unlockRestore(spl)

	oldprio := t.cprio
	t.bprio = prio

	// Never lower the effective priority of a thread undergoing a
	// priority-inheritance boost; the inheritance scheme owns it.
	if !t.state.test(Boosted) || prio > oldprio {
		t.cprio = prio
		if prio != oldprio && t.wchan != nil &&
			t.wchan.flags&SynchNoReorder == 0 {
			reniceSleeper(t)
		}

		if !t.state.test(BlockBits | Locked) {
			p.putbackRunnable(t)
		}
	}

	if p.conf.Pervasive && propagate {
		if t.state.test(Relaxed) {
			p.shadow.Renice(t)
		} else if t.state.test(Shadow) {
			t.info |= PrioSet
		}
	}
}

// putbackRunnable requeues a runnable thread at the tail of its priority
// group in its slot's ready queue after a priority change, the running
// thread included, and flags the slot for a re-pick. The root thread, a
// dying thread and one in flight to another CPU are only flagged.
func (p *Pod) putbackRunnable(t *Thread) {
	if t.state.test(Root | Zombie | Migrating) {
		p.requestResched(t.sched)
		return
	}
	if t.state.test(Ready) {
		p.class.Dequeue(t)
	}
	p.readyThread(t, t.sched)
}
