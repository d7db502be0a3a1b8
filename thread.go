package rtpod

// SigMask is a bitmask of pending asynchronous signals directed to a
// thread's ASR.
type SigMask uint32

// AsrFunc is an asynchronous service routine, invoked from the rescheduling
// epilogue with the snapshot of pending signals.
type AsrFunc func(sigs SigMask)

// Thread is a pod thread control block. A descriptor must stay valid for
// the whole life of the thread; the zero value is initialized through
// [Pod.InitThread] and released through [Pod.DeleteThread].
//
// All fields below are owned by the pod and guarded by the pod lock.
type Thread struct {
	name    string
	userPID int

	state StateFlags
	info  InfoFlags

	// bprio is the base priority, cprio the effective one (equal unless a
	// priority-inheritance boost raised it), iprio the initial one latched
	// for restart.
	bprio int
	cprio int
	iprio int

	// baseClass/schedClass mirror the priority pair at the class level;
	// initClass is latched for restart.
	baseClass  SchedClass
	schedClass SchedClass
	initClass  SchedClass

	// sched is the slot the thread runs on; it changes only under the pod
	// lock, on start rebind and migration.
	sched *Sched

	// wchan is non-nil iff Pended is set, except during the brief window
	// when a forcible suspension folds over a pre-existing pend.
	wchan      *Synch
	ownerships []*Synch

	affinity CPUSet

	rrperiod  Ticks
	rrcredit  Ticks
	rrExpired bool

	// rtimer bounds suspensions; ptimer drives periodic release.
	rtimer Timer
	ptimer Timer

	tbase *Timebase

	// Start parameters, retained for restart.
	entry  EntryFunc
	cookie any
	imask  int
	imode  StateFlags

	lockCount int

	asr      AsrFunc
	asrmode  StateFlags
	asrimask int
	asrlevel int
	signals  SigMask

	// Stat carries execution accounting when statistics are configured.
	Stat ThreadStat

	arch ArchTCB

	pod *Pod
}

// Name returns the thread's symbolic name.
func (t *Thread) Name() string { return t.name }

// State returns the thread's state mask. Plain read; coherent snapshots
// require the caller to hold still relative to the pod (e.g. from a hook).
func (t *Thread) State() StateFlags { return t.state }

// Info returns the thread's one-shot wake-up information mask.
func (t *Thread) Info() InfoFlags { return t.info }

// BasePriority returns the base priority.
func (t *Thread) BasePriority() int { return t.bprio }

// CurrentPriority returns the effective (possibly boosted) priority.
func (t *Thread) CurrentPriority() int { return t.cprio }

// Affinity returns the thread's CPU affinity set.
func (t *Thread) Affinity() CPUSet { return t.affinity }

// CPU returns the number of the CPU slot the thread is bound to.
func (t *Thread) CPU() int { return t.sched.cpu }

// UserPID returns the host PID of the shadow mate, 0 for kernel threads.
func (t *Thread) UserPID() int { return t.userPID }

// SetUserTask binds the user-space mate handle of a shadow thread; the
// bridge calls this while mapping the shadow.
func (t *Thread) SetUserTask(task any, pid int) {
	t.arch.UserTask = task
	t.userPID = pid
}

// Arch exposes the architecture-dependent part of the TCB.
func (t *Thread) Arch() *ArchTCB { return &t.arch }

// timedP reports whether the thread may issue timed operations.
func (t *Thread) timedP() bool { return t.tbase != nil }

// threadInit fills in a TCB, including its scheduling class, and allocates
// its resources. The slot binding is the caller's business.
func (p *Pod) threadInit(t *Thread, tb *Timebase, name string, prio int, flags StateFlags, stackSize int) error {
	stack, err := p.stacks.Alloc(stackSize)
	if err != nil {
		return err
	}

	*t = Thread{
		name:       name,
		state:      flags,
		bprio:      prio,
		cprio:      prio,
		iprio:      prio,
		baseClass:  p.class,
		schedClass: p.class,
		initClass:  p.class,
		affinity:   AllCPUs,
		rrcredit:   Infinite,
		tbase:      tb,
		pod:        p,
	}
	t.arch.Name = name
	t.arch.Stack = stack

	t.rtimer = p.arch.NewTimer(func() { p.resumeTimeout(t) })
	t.ptimer = p.arch.NewTimer(func() { p.periodicRelease(t) })

	return nil
}

// cleanupTCB releases the thread-owned resources once the last hook ran.
// The descriptor itself stays valid: the architecture finalization that
// follows may still need it.
func (p *Pod) cleanupTCB(t *Thread) {
	p.stacks.Free(t.arch.Stack)
	t.arch.Stack = nil
}

// timeout returns the remaining ticks before the thread's resume timer
// fires, 0 when unbounded, for diagnostics.
func (t *Thread) timeout(now Ticks) Ticks {
	if t.rtimer == nil || !t.rtimer.Running() {
		return 0
	}
	d := t.rtimer.Expiry() - now
	if d < 0 {
		return 0
	}
	return d
}
