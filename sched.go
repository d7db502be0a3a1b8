package rtpod

import (
	"fmt"
)

// Sched is a per-CPU scheduler slot. Exactly one thread runs per slot at a
// time; everything else sits in the slot's ready queue, managed by the
// scheduling class.
type Sched struct {
	pod *Pod
	cpu int

	// curr never reads nil once the slot is built; it defaults to the
	// root thread.
	curr *Thread

	// resched collects the CPUs whose slots need a re-pick: this slot's
	// own bit, plus peer bits accumulated for IPI delivery.
	resched CPUSet

	status schedStatus

	// fpuholder is the thread whose FPU state is live in this CPU's FPU
	// registers; nil when nothing was saved lazily.
	fpuholder *Thread

	// zombie is the single-element handoff of a self-deleted thread to
	// the next rescheduling for finalization.
	zombie *Thread

	// rootcb is the root (idle) thread, always present, never deletable.
	rootcb *Thread

	// last is the outgoing thread during an unlocked switch; the incoming
	// side reconciles migrations against it.
	last *Thread

	// runq is the class-owned ready queue.
	runq *readyQueue

	// htimer emulates the host tick, wdtimer is the runaway-thread
	// watchdog.
	htimer  Timer
	wdtimer Timer
	wdcount int
}

// CPU returns the slot's CPU number.
func (s *Sched) CPU() int { return s.cpu }

// Current returns the thread running on the slot.
func (s *Sched) Current() *Thread { return s.curr }

// schedInit builds the slot and its root thread. The root thread enters the
// pod thread list like any other, but never blocks, never dies, and never
// fires hooks.
func (p *Pod) schedInit(s *Sched, cpu int) {
	*s = Sched{pod: p, cpu: cpu}

	root := &Thread{
		name:       fmt.Sprintf("ROOT/%d", cpu),
		state:      Root | Started,
		bprio:      rootPriority,
		cprio:      rootPriority,
		iprio:      rootPriority,
		baseClass:  p.class,
		schedClass: p.class,
		initClass:  p.class,
		affinity:   CPUMask(cpu),
		rrcredit:   Infinite,
		tbase:      &p.tbase,
		sched:      s,
		pod:        p,
	}
	root.arch.Name = root.name
	root.rtimer = p.arch.NewTimer(func() { p.resumeTimeout(root) })
	root.ptimer = p.arch.NewTimer(func() { p.periodicRelease(root) })

	s.rootcb = root
	s.curr = root
	s.last = root

	s.htimer = p.arch.NewTimer(func() { p.hostTick(s) })
	s.wdtimer = p.arch.NewTimer(func() { p.watchdogTick(s) })

	p.class.InitSched(s)

	if p.conf.Stats {
		root.Stat.lastSwitch = p.arch.CPUTime()
	}
}

// schedDestroy tears the slot down on the pod's last release.
func (s *Sched) schedDestroy() {
	s.htimer.Destroy()
	s.wdtimer.Destroy()
	s.rootcb.rtimer.Destroy()
	s.rootcb.ptimer.Destroy()
	s.runq = nil
}

// setResched flags this slot as needing a re-pick.
func (s *Sched) setResched() {
	s.resched = s.resched.With(s.cpu)
}

// setReschedRemote flags a peer slot, accumulating the IPI on the slot of
// the caller so a single schedule drains the whole batch.
func (s *Sched) setReschedRemote(target *Sched) {
	target.resched = target.resched.With(target.cpu)
	s.resched = s.resched.With(target.cpu)
}

// requestResched flags the target slot, routing through the caller's slot
// when the target is remote so the IPI goes out with the next schedule.
func (p *Pod) requestResched(s *Sched) {
	if p.currentSched() == s {
		s.setResched()
	} else {
		p.currentSched().setReschedRemote(s)
	}
}

// reschedP reports whether any reschedule request is pending on the slot.
func (s *Sched) reschedP() bool { return !s.resched.Empty() }

// testResched consumes the slot's own resched bit and forwards any peer
// bits through IPIs.
func (s *Sched) testResched() bool {
	resched := s.resched.Has(s.cpu)
	s.resched = s.resched.Without(s.cpu)
	if s.pod.conf.SMP && !s.resched.Empty() {
		s.pod.arch.SendIPI(s.resched)
		s.resched = 0
	}
	return resched
}

// zombieHooks records the outgoing corpse in the slot and fires the delete
// hook chain on behalf of the deletor context, before the switch.
func (s *Sched) zombieHooks(t *Thread) {
	s.pod.fireHooks(HookDelete, t)
	s.zombie = t
}

// finalizeZombie drains the slot's corpse once the new thread runs:
// releases the TCB resources, reclaims the architecture context.
func (p *Pod) finalizeZombie(s *Sched) {
	t := s.zombie
	if t == nil {
		return
	}
	p.cleanupTCB(t)
	p.arch.FinalizeNoSwitch(&t.arch)
	s.zombie = nil
}

// finishUnlockedSwitch reconciles slot state after a context switch made
// with the pod lock dropped: reacquires a coherent slot for the CPU we woke
// up on and requeues a thread that migrated while in flight.
func (p *Pod) finishUnlockedSwitch(s *Sched) *Sched {
	if !p.conf.UnlockedSwitch {
		return s
	}
	s = p.sched[p.arch.CurrentCPU()]
	s.status &^= schedSwitchLocked

	last := s.last
	if last != nil && last.state.test(Migrating) {
		last.state &^= Migrating
		last.state |= Ready
		p.class.Putback(last)
		p.requestResched(last.sched)
	}
	return s
}

// reschedAfterUnlockedSwitch replays a reschedule request that landed while
// the lock was dropped across the switch.
func (p *Pod) reschedAfterUnlockedSwitch() {
	if !p.conf.UnlockedSwitch {
		return
	}
	spl := p.lockSave()
	if p.activeP() && p.currentSched().reschedP() {
		p.scheduleLocked()
	}
	p.unlockRestore(spl)
}

// resetWatchdog rearms the runaway counter; entering the root context
// proves the CPU is not starved.
func (s *Sched) resetWatchdog() {
	s.wdcount = 0
}

// hostTick runs in interrupt context on the slot's CPU: it relays the
// emulated host tick and charges the round-robin quantum.
func (p *Pod) hostTick(s *Sched) {
	spl := p.lockSave()
	p.class.Tick(s)
	p.unlockRestore(spl)
	p.ScheduleDeferred()
}

// watchdogTick fires once per watchdog period. Four silent periods with a
// non-root thread monopolizing the CPU suspend the culprit.
func (p *Pod) watchdogTick(s *Sched) {
	spl := p.lockSave()
	curr := s.curr
	if curr.state.test(Root) {
		s.resetWatchdog()
		p.unlockRestore(spl)
		return
	}
	s.wdcount++
	if s.wdcount >= watchdogTrigger {
		p.logErr("watchdog triggered", curr)
		s.resetWatchdog()
		p.suspendThreadLocked(curr, Suspended, Infinite, Relative, nil)
	}
	p.unlockRestore(spl)
	p.ScheduleDeferred()
}

const watchdogTrigger = 4
