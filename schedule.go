package rtpod

// Schedule is the rescheduling procedure entry point: it validates and
// applies changes previously made to the scheduling state — suspensions,
// resumptions, priority changes — electing and switching in a new thread as
// needed.
//
// The pod implements lazy rescheduling: most state-affecting services must
// be followed by a call to this procedure. Services that suspend or delete
// the current thread call it themselves. Calling it with nothing to apply
// is harmless.
//
// From interrupt context the call escalates into the architecture's
// deferred path and returns immediately. Any scheduler lock held by the
// outgoing thread is reinstated when it is scheduled back in. Pending
// asynchronous signals are delivered to the elected thread before this
// procedure returns.
func (p *Pod) Schedule() {
	if p.arch.Escalate() {
		return
	}

	spl := p.lockSave()
	p.scheduleLocked()
	p.unlockRestore(spl)
}

// ScheduleDeferred runs the rescheduling procedure only if a request is
// pending, e.g. after an interrupt handler batch.
func (p *Pod) ScheduleDeferred() {
	if p.arch.Escalate() {
		return
	}
	spl := p.lockSave()
	if p.activeP() && p.currentSched().reschedP() {
		p.scheduleLocked()
	}
	p.unlockRestore(spl)
}

// scheduleInPlace runs the rescheduling procedure on behalf of a service
// that just blocked or killed the current thread, deferring through the
// architecture when the service ran in interrupt context. Pod lock held.
func (p *Pod) scheduleInPlace() {
	if p.arch.Escalate() {
		return
	}
	p.scheduleLocked()
}

// scheduleHandler is the reschedule-IPI handler: a peer CPU poked us to
// re-pick. Runs in interrupt context with the lock not held.
func (p *Pod) scheduleHandler() {
	spl := p.lockSave()
	s := p.currentSched()
	if p.conf.SMP && p.conf.PrioCoupling && s.status&schedRemotePick != 0 {
		s.status &^= schedRemotePick
		p.shadow.RPICheck()
	}
	s.setResched()
	p.unlockRestore(spl)
	p.Schedule()
}

// scheduleLocked is the rescheduling procedure body. Pod lock held on
// entry and on exit; with unlocked switch configured the lock is dropped
// across the machine switch.
func (p *Pod) scheduleLocked() {
	s := p.currentSched()
	curr := s.curr

	if s.status&schedCallout != 0 {
		// Callouts and ASRs must not reschedule; the intent stays
		// latched in the resched mask until the chain unwinds.
		return
	}

	needResched := s.testResched()
	zombie := curr.state.test(Zombie)

	next := p.class.PickNext(s)
	if next == curr && !curr.state.test(Restart) {
		// The root thread never restarts.
		p.dispatchSignals(s.curr)
		return
	}

	if p.conf.Debug && !needResched && !curr.state.test(Restart) {
		p.fatalf("schedule switch without resched request (curr=%q next=%q)",
			curr.name, next.name)
		return
	}

	prev := curr
	shadow := prev.state.test(Shadow)

	p.logDebug("switching out", prev)
	p.logDebug("switching in", next)

	if next.state.test(Root) {
		s.resetWatchdog()
	}

	if zombie {
		s.zombieHooks(prev)
	}

	s.curr = next

	if prev.state.test(Root) {
		p.arch.LeaveRoot(&prev.arch)
	} else if next.state.test(Root) {
		p.arch.EnterRoot(&next.arch)
	}

	p.accountSwitch(prev, next, p.arch.CPUTime())

	p.switchTo(s, prev, next)

	// The world may have moved under us across the switch: re-read the
	// slot and its current thread (relaxed/hardened transitions, CPU
	// migration with unlocked switch).
	s = p.finishUnlockedSwitch(s)
	curr = s.curr

	if p.conf.Pervasive && shadow && curr.state.test(Root) {
		// Relaxing a shadow: this is the epilogue of the host's own
		// scheduling, not ours.
		p.relaxEpilogue()
		return
	}

	if zombie && s.curr == prev {
		p.fatalf("zombie thread %q would not die", prev.name)
		return
	}

	p.finalizeZombie(s)

	if curr.arch.Fresh {
		p.welcomeThread(s, curr)
	} else {
		p.switchFPU(s)
	}

	p.fireHooks(HookSwitch, curr)

	p.dispatchSignals(curr)

	if p.conf.UnlockedSwitch {
		// A reschedule request may have landed while the lock was
		// dropped across the switch; replay it before returning.
		p.mu.Unlock()
		p.reschedAfterUnlockedSwitch()
		p.mu.Lock()
	}
}

// switchTo performs the context switch, dropping the pod lock across the
// machine switch when the architecture supports reconciling afterwards.
func (p *Pod) switchTo(s *Sched, prev, next *Thread) {
	if p.conf.UnlockedSwitch {
		s.last = prev
		s.status |= schedSwitchLocked
		p.mu.Unlock()
		p.arch.SwitchTo(&prev.arch, &next.arch)
		p.mu.Lock()
		return
	}
	p.arch.SwitchTo(&prev.arch, &next.arch)
}

// welcomeThread is the prologue of a thread entered for the first time
// since its context was (re)built: it was not switched out through the
// rescheduling procedure, so the usual epilogue is replaced.
func (p *Pod) welcomeThread(s *Sched, t *Thread) {
	if t.state.test(Locked) {
		// Reinstate the scheduler lock requested at start.
		p.lockSchedLocked()
	}

	p.initFPUOnEntry(s, t)

	t.state &^= Restart
	t.arch.Fresh = false
}

// dispatchSignals delivers pending asynchronous signals to the given
// thread by running its ASR. Pod lock held.
//
// The pending mask is snapshotted and cleared first — an ASR may be
// reentered — and the thread's mode bits are swapped to the ASR mode around
// the call, under the ASR interrupt mask.
func (p *Pod) dispatchSignals(t *Thread) {
	if t.signals == 0 || t.state.test(SigDisable) || t.asr == nil {
		return
	}

	oldmode := t.state & ModeBits
	sigs := t.signals
	asrimask := t.asrimask
	asr := t.asr

	t.signals = 0

	t.state &^= ModeBits
	t.state |= t.asrmode
	t.asrlevel++

	s := p.currentSched()
	s.status |= schedCallout

	saved := p.arch.SetIMask(asrimask)
	p.mu.Unlock()
	asr(sigs)
	p.mu.Lock()
	p.arch.SetIMask(saved)

	s.status &^= schedCallout

	t.asrlevel--
	t.state &^= ModeBits
	t.state |= oldmode
}

// relaxEpilogue takes over when the switch handed execution to the host
// scheduler: a shadow was switched out and the root context resumed on its
// behalf.
func (p *Pod) relaxEpilogue() {
	// Shadow on entry, root without a mapped mate on exit: this is the
	// user-space mate of a deleted shadow, rescheduled into the host
	// domain to exit properly. Reap it now.
	if !p.shadow.CurrentMapped() {
		p.shadow.Exit()
	}
}

// LockSched locks the scheduler on the current CPU: the current thread
// keeps the CPU until [Pod.UnlockSched] drops the last nesting level, even
// against higher-priority threads. A locked thread may still block, in
// which case the lock is reasserted when it is scheduled back in.
func (p *Pod) LockSched() {
	spl := p.lockSave()
	p.lockSchedLocked()
	p.unlockRestore(spl)
}

func (p *Pod) lockSchedLocked() {
	curr := p.currentSched().curr
	if curr.lockCount == 0 {
		curr.state |= Locked
	}
	curr.lockCount++
}

// UnlockSched drops one scheduler lock nesting level, rescheduling when
// the last one goes.
func (p *Pod) UnlockSched() {
	spl := p.lockSave()
	p.unlockSchedLocked()
	p.unlockRestore(spl)
}

func (p *Pod) unlockSchedLocked() {
	curr := p.currentSched().curr
	if curr.lockCount == 0 {
		return
	}
	curr.lockCount--
	if curr.lockCount == 0 {
		curr.state &^= Locked
		p.currentSched().setResched()
		p.scheduleLocked()
	}
}

// lockedP reports whether the current thread holds the scheduler lock.
func (p *Pod) lockedP() bool {
	return p.currentSched().curr.state.test(Locked)
}

// initFPUOnEntry switches FPU contexts when entering a newly built thread,
// standing in for the rescheduling epilogue the fresh context never went
// through.
func (p *Pod) initFPUOnEntry(s *Sched, t *Thread) {
	if !p.conf.FPU || !t.state.test(UseFPU) {
		return
	}
	if s.fpuholder != nil && s.fpuholder.arch.FPU != t.arch.FPU {
		p.arch.SaveFPU(&s.fpuholder.arch)
	}
	p.arch.InitFPU(&t.arch)
	s.fpuholder = t
}

// switchFPU makes the current thread the slot's FPU holder, saving the
// previous holder's context as needed. The FPU is a lazily switched,
// single-holder resource: the last thread to use it keeps it live until
// another FPU-enabled thread runs.
func (p *Pod) switchFPU(s *Sched) {
	if !p.conf.FPU {
		return
	}
	curr := s.curr
	if !curr.state.test(UseFPU) {
		return
	}

	if s.fpuholder == curr {
		p.arch.EnableFPU(&curr.arch)
		return
	}

	if s.fpuholder == nil || s.fpuholder.arch.FPU != curr.arch.FPU {
		if s.fpuholder != nil {
			p.arch.SaveFPU(&s.fpuholder.arch)
		}
		p.arch.RestoreFPU(&curr.arch)
	} else {
		p.arch.EnableFPU(&curr.arch)
	}
	s.fpuholder = curr
}

// giveupFPU drops a dying or leaving thread's claim on the slot's FPU.
func (p *Pod) giveupFPU(s *Sched, t *Thread) {
	if t == s.fpuholder {
		s.fpuholder = nil
	}
}

// releaseFPU forces the FPU save for a thread leaving its CPU, so the
// holder slot does not point into a migrated context.
func (p *Pod) releaseFPU(t *Thread) {
	if !p.conf.FPU || !t.state.test(UseFPU) {
		return
	}
	p.arch.SaveFPU(&t.arch)
	t.sched.fpuholder = nil
}
