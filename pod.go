package rtpod

import (
	"fmt"
	"strings"
	"sync"

	"github.com/joeycumines/logiface"
)

// rootPriority sits below every user priority so the root thread only runs
// an otherwise idle CPU.
const rootPriority = -1

// HookType selects one of the pod's callout chains.
type HookType int

const (
	// HookStart callouts run on behalf of the starter whenever a thread
	// starts.
	HookStart HookType = iota
	// HookSwitch callouts run on behalf of the resuming thread on every
	// context switch.
	HookSwitch
	// HookDelete callouts run on behalf of the deletor whenever a thread
	// is deleted.
	HookDelete

	hookTypes
)

// HookFunc is a scheduling-event callout. It runs with scheduling
// effectively locked and must not reschedule.
type HookFunc func(t *Thread)

// Hook is a registered callout, used as the removal handle.
type Hook struct {
	routine HookFunc
	linked  bool
}

// Pod is the process-wide real-time runtime: the thread registry, the
// per-CPU scheduler slots, the hook chains and the master time base.
//
// There is normally a single pod per process, shared by every skin through
// [Init]; [NewPod] builds private instances, e.g. for tests.
type Pod struct {
	mu sync.Mutex

	conf     Config
	arch     Arch
	class    SchedClass
	shadow   ShadowBridge
	stacks   StackAllocator
	logger   *logiface.Logger[logiface.Event]
	registry Registrar

	status podStatus
	refcnt int

	// threads lists every TCB including the per-CPU root threads, in
	// insertion order; threadsRev invalidates concurrent enumerations.
	threads    []*Thread
	threadsRev uint64

	hooks [hookTypes][]*Hook

	sched []*Sched

	// affinity restricts where threads may run, pod-wide.
	affinity CPUSet

	tbase Timebase

	fatalBuf strings.Builder
}

var (
	podMu sync.Mutex
	nkpod *Pod
)

// Init initializes the process-wide pod, or stacks over it: when a pod is
// already active the options are ignored and only the reference count
// grows. Every successful Init must be balanced by a [Pod.Shutdown].
func Init(opts ...Option) (*Pod, error) {
	podMu.Lock()
	defer podMu.Unlock()

	if nkpod != nil && nkpod.activeP() {
		spl := nkpod.lockSave()
		nkpod.refcnt++
		nkpod.unlockRestore(spl)
		return nkpod, nil
	}

	p, err := NewPod(opts...)
	if err != nil {
		return nil, err
	}
	nkpod = p
	return p, nil
}

// CurrentPod returns the process-wide pod, or nil when none is active.
func CurrentPod() *Pod {
	podMu.Lock()
	defer podMu.Unlock()
	if nkpod != nil && nkpod.activeP() {
		return nkpod
	}
	return nil
}

// NewPod builds and activates a private pod instance with a reference count
// of one. Once active, real-time threads can be created and started on it.
func NewPod(opts ...Option) (*Pod, error) {
	conf, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}

	p := &Pod{
		conf:     conf,
		arch:     conf.arch,
		class:    conf.class,
		shadow:   conf.shadow,
		logger:   conf.logger,
		registry: conf.registry,
		refcnt:   1,
		affinity: AllCPUs,
	}
	p.tbase.pod = p
	if p.class == nil {
		p.class = newFIFOClass(conf.TickPeriod)
	}
	if p.shadow == nil {
		p.shadow = noShadow{}
	}
	if conf.StackPoolSize > 0 {
		p.stacks = newSlabPool(conf.StackPoolSize)
	} else {
		p.stacks = heapStacks{}
	}

	ncpus := p.arch.NumCPUs()
	if ncpus < 1 || ncpus > MaxCPUs {
		return nil, fmt.Errorf("%w: %d cpus", ErrInvalid, ncpus)
	}
	if !conf.SMP {
		ncpus = 1
	}

	p.sched = make([]*Sched, 0, ncpus)
	for cpu := 0; cpu < ncpus; cpu++ {
		s := &Sched{}
		p.schedInit(s, cpu)
		p.sched = append(p.sched, s)
		p.threads = append(p.threads, s.rootcb)
		p.threadsRev++
	}

	p.arch.HookIPI(p.scheduleHandler)
	if h, ok := p.arch.(escalationHooker); ok {
		h.HookEscalation(p.ScheduleDeferred)
	}

	p.status |= podActive

	if err := p.EnableTimesource(); err != nil {
		p.shutdown(fatalExit)
		return nil, err
	}

	p.logInfo("pod activated", nil)
	return p, nil
}

// fatalExit is the exit code a pod passes to its own shutdown on a failed
// bring-up.
const fatalExit = 99

// Shutdown releases one reference on the pod. The last release disables
// the time source, terminates every non-root thread, drains zombies, and
// destroys the per-CPU slots. Skins must not stack over a pod while its
// last reference is being released.
func (p *Pod) Shutdown(xtype int) {
	p.shutdown(xtype)

	podMu.Lock()
	if nkpod == p && !p.Active() {
		nkpod = nil
	}
	podMu.Unlock()
}

func (p *Pod) shutdown(xtype int) {
	spl := p.lockSave()
	if !p.activeP() {
		p.unlockRestore(spl)
		return
	}
	p.refcnt--
	if p.refcnt != 0 {
		p.unlockRestore(spl)
		return
	}

	// The time source must be stopped with the lock released; a skin
	// stacking over the pod in that window would race the teardown, a
	// situation the stacking protocol forbids.
	p.unlockRestore(spl)

	p.DisableTimesource()

	spl = p.lockSave()

	for _, t := range p.snapshotThreads() {
		if !t.state.test(Root) {
			p.deleteThreadLocked(t)
		}
	}

	p.scheduleLocked()

	p.status &^= podActive

	for _, s := range p.sched {
		s.schedDestroy()
	}

	p.unlockRestore(spl)

	p.stacks.Destroy()

	p.logInfo("pod shut down", nil)
	_ = xtype
}

// Active reports whether the pod is initialized and accepting skins.
func (p *Pod) Active() bool {
	spl := p.lockSave()
	defer p.unlockRestore(spl)
	return p.activeP()
}

// Fatal reports whether a fatal condition has been latched.
func (p *Pod) Fatal() bool {
	spl := p.lockSave()
	defer p.unlockRestore(spl)
	return p.status&podFatal != 0
}

// FatalDiagnostics returns the latched fatal diagnostic buffer, empty when
// no fatal condition occurred.
func (p *Pod) FatalDiagnostics() string {
	spl := p.lockSave()
	defer p.unlockRestore(spl)
	return p.fatalBuf.String()
}

// Timebase returns the pod's master time base.
func (p *Pod) Timebase() *Timebase { return &p.tbase }

// NumCPUs returns the number of scheduler slots.
func (p *Pod) NumCPUs() int { return len(p.sched) }

// SchedSlot returns the scheduler slot of the given CPU.
func (p *Pod) SchedSlot(cpu int) *Sched { return p.sched[cpu] }

// SetAffinityMask restricts, pod-wide, the CPUs new threads may start on.
func (p *Pod) SetAffinityMask(mask CPUSet) {
	spl := p.lockSave()
	p.affinity = mask
	p.unlockRestore(spl)
}

func (p *Pod) activeP() bool { return p.status&podActive != 0 }

// onlineMask returns the set of CPUs the pod built slots for.
func (p *Pod) onlineMask() CPUSet {
	if len(p.sched) >= MaxCPUs {
		return AllCPUs
	}
	return CPUSet(1)<<uint(len(p.sched)) - 1
}

func (p *Pod) currentSched() *Sched { return p.sched[p.arch.CurrentCPU()] }

// CurrentThread returns the thread running on the caller's CPU.
func (p *Pod) CurrentThread() *Thread {
	spl := p.lockSave()
	defer p.unlockRestore(spl)
	return p.currentSched().curr
}

func (p *Pod) currentP(t *Thread) bool { return p.currentSched().curr == t }

// idleP reports whether the caller's CPU sits in its root context outside
// any interrupt.
func (p *Pod) idleP() bool {
	return !p.arch.Interrupting() && p.currentSched().curr.state.test(Root)
}

// spl carries the interrupt state across a lock section.
type spl struct{ irqs bool }

// lockSave acquires the pod lock with local interrupts masked, the only
// discipline under which pod state may be mutated.
func (p *Pod) lockSave() spl {
	irqs := p.arch.LocalIRQSave()
	p.mu.Lock()
	return spl{irqs: irqs}
}

func (p *Pod) unlockRestore(s spl) {
	p.mu.Unlock()
	p.arch.LocalIRQRestore(s.irqs)
}

// snapshotThreads copies the thread list so callers may mutate it while
// iterating.
func (p *Pod) snapshotThreads() []*Thread {
	out := make([]*Thread, len(p.threads))
	copy(out, p.threads)
	return out
}

func (p *Pod) removeThread(t *Thread) {
	for i, o := range p.threads {
		if o == t {
			copy(p.threads[i:], p.threads[i+1:])
			p.threads[len(p.threads)-1] = nil
			p.threads = p.threads[:len(p.threads)-1]
			p.threadsRev++
			return
		}
	}
}

// ForEachThread enumerates the pod's threads in insertion order, without
// holding the pod lock across fn. The enumeration aborts with ErrIdRemoved
// when the thread list changes under it, e.g. because fn deleted a thread.
func (p *Pod) ForEachThread(fn func(t *Thread) bool) error {
	spl := p.lockSave()
	threads := p.snapshotThreads()
	rev := p.threadsRev
	p.unlockRestore(spl)

	for _, t := range threads {
		if !fn(t) {
			return nil
		}
		spl = p.lockSave()
		changed := p.threadsRev != rev
		p.unlockRestore(spl)
		if changed {
			return ErrIdRemoved
		}
	}
	return nil
}

// AddHook installs a scheduling-event callout at the tail of its chain.
// Chains run in registration order. The returned handle removes it.
func (p *Pod) AddHook(typ HookType, routine HookFunc) (*Hook, error) {
	if typ < 0 || typ >= hookTypes || routine == nil {
		return nil, ErrInvalid
	}
	h := &Hook{routine: routine, linked: true}
	spl := p.lockSave()
	p.hooks[typ] = append(p.hooks[typ], h)
	p.unlockRestore(spl)
	return h, nil
}

// RemoveHook uninstalls a callout previously registered with AddHook.
func (p *Pod) RemoveHook(typ HookType, h *Hook) error {
	if typ < 0 || typ >= hookTypes {
		return ErrInvalid
	}
	spl := p.lockSave()
	defer p.unlockRestore(spl)
	q := p.hooks[typ]
	for i, o := range q {
		if o == h {
			copy(q[i:], q[i+1:])
			q[len(q)-1] = nil
			p.hooks[typ] = q[:len(q)-1]
			h.linked = false
			return nil
		}
	}
	return ErrInvalid
}

// fireHooks runs a callout chain with scheduling locked via the slot's
// callout status: any rescheduling intent raised by a callout is deferred
// until the chain unwinds. Callouts may edit the chain they run in,
// including removing themselves; the chain is snapshotted first and
// unlinked entries are skipped. Pod lock held on entry and exit, dropped
// across the callouts so they may call pod services.
func (p *Pod) fireHooks(typ HookType, t *Thread) {
	if len(p.hooks[typ]) == 0 || t.state.test(Root) {
		return
	}
	s := p.currentSched()
	s.status |= schedCallout
	snapshot := make([]*Hook, len(p.hooks[typ]))
	copy(snapshot, p.hooks[typ])
	p.mu.Unlock()
	for _, h := range snapshot {
		if h.linked {
			h.routine(t)
		}
	}
	p.mu.Lock()
	s.status &^= schedCallout
}

// fatalf latches the pod-fatal condition: formats the diagnostic buffer
// (every thread across every CPU, then the master clock state), then hands
// over to the architecture's panic path. Sticky: later fatals append to the
// same buffer.
func (p *Pod) fatalf(format string, args ...any) {
	fmt.Fprintf(&p.fatalBuf, format, args...)
	p.fatalBuf.WriteByte('\n')

	if p.activeP() && p.status&podFatal == 0 {
		p.status |= podFatal
		now := p.tbase.rawClock()

		fmt.Fprintf(&p.fatalBuf, "\n %-3s  %-6s %-8s %-8s %-10s  %s\n",
			"CPU", "PID", "PRI", "TIMEOUT", "STAT", "NAME")

		for cpu, s := range p.sched {
			for _, t := range p.threads {
				if t.sched != s {
					continue
				}
				marker := ' '
				if t == s.curr {
					marker = '>'
				}
				prio := fmt.Sprintf("%3d", t.cprio)
				if t.cprio != t.bprio {
					prio = fmt.Sprintf("%3d(%d)", t.cprio, t.bprio)
				}
				fmt.Fprintf(&p.fatalBuf, "%c%3d  %-6d %-8s %-8d %-10s  %s\n",
					marker, cpu, t.userPID, prio, t.timeout(now),
					t.state, t.name)
			}
		}

		if p.tbase.enabledP() {
			fmt.Fprintf(&p.fatalBuf, "Master time base: clock=%d\n", now)
		} else {
			fmt.Fprintf(&p.fatalBuf, "Master time base: disabled\n")
		}
		if p.conf.SMP {
			fmt.Fprintf(&p.fatalBuf, "Current CPU: #%d\n", p.arch.CurrentCPU())
		}
	}

	p.arch.Panic(p.fatalBuf.String())
}

func (p *Pod) logInfo(msg string, t *Thread) {
	if p.logger == nil {
		return
	}
	b := p.logger.Info()
	if t != nil {
		b = b.Str(`thread`, t.name).Int(`cpu`, t.sched.cpu)
	}
	b.Log(msg)
}

func (p *Pod) logDebug(msg string, t *Thread) {
	if p.logger == nil {
		return
	}
	b := p.logger.Debug()
	if t != nil {
		b = b.Str(`thread`, t.name).Str(`state`, t.state.String())
	}
	b.Log(msg)
}

func (p *Pod) logErr(msg string, t *Thread) {
	if p.logger == nil {
		return
	}
	b := p.logger.Err()
	if t != nil {
		b = b.Str(`thread`, t.name).Str(`state`, t.state.String())
	}
	b.Log(msg)
}
