package rtpod

import (
	"fmt"
	"sort"
	"sync"
)

// SwitchRecord captures one context switch performed by the simulator.
type SwitchRecord struct {
	CPU  int
	Prev string
	Next string
}

// SimArch is a deterministic, fully virtual architecture: a manually
// advanced monotonic clock, software timers fired from [SimArch.Advance],
// recorded context switches, latched IPIs and virtual FPU contexts. It is
// the package default and what the package tests run against.
//
// The simulator models the calling goroutine as "the machine": pod services
// are invoked from the context of whatever thread is current on the
// simulated CPU, and Advance plays the passage of time, running timer
// handlers in simulated interrupt context.
type SimArch struct {
	mu sync.Mutex

	ncpus int
	cpu   int

	irqNest   int
	irqsOff   bool
	escalated bool

	clock    Ticks
	hostBase Ticks

	timers []*simTimer
	seq    uint64

	ipiHandler func()
	escalation func()
	pendingIPI CPUSet

	switches []SwitchRecord

	// FailStartTimer, when set, overrides the hardware timer grab, e.g.
	// to inject per-CPU bring-up failures.
	FailStartTimer func(cpu int) (int, error)

	// HostTickPeriod, when nonzero, makes StartTimer report a periodic
	// host tick device of that period.
	HostTickPeriod int

	// OnPanic, when set, captures fatal conditions instead of aborting
	// the process.
	OnPanic func(msg string)
}

// NewSimArch builds a simulator with the given number of virtual CPUs.
func NewSimArch(ncpus int) *SimArch {
	if ncpus < 1 {
		ncpus = 1
	}
	return &SimArch{ncpus: ncpus, hostBase: 1 << 40}
}

func (a *SimArch) NumCPUs() int { return a.ncpus }

func (a *SimArch) CurrentCPU() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cpu
}

// SetCurrentCPU relocates the simulated execution context, standing in for
// code running on another CPU.
func (a *SimArch) SetCurrentCPU(cpu int) {
	a.mu.Lock()
	a.cpu = cpu
	a.mu.Unlock()
}

func (a *SimArch) Interrupting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.irqNest > 0
}

func (a *SimArch) Escalate() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.irqNest > 0 {
		a.escalated = true
		return true
	}
	return false
}

func (a *SimArch) SendIPI(mask CPUSet) {
	a.mu.Lock()
	a.pendingIPI |= mask
	a.mu.Unlock()
}

func (a *SimArch) HookIPI(fn func()) {
	a.mu.Lock()
	a.ipiHandler = fn
	a.mu.Unlock()
}

// HookEscalation installs the deferred rescheduling entry replayed from
// the simulated interrupt epilogue.
func (a *SimArch) HookEscalation(fn func()) {
	a.mu.Lock()
	a.escalation = fn
	a.mu.Unlock()
}

func (a *SimArch) LocalIRQSave() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := !a.irqsOff
	a.irqsOff = true
	return prev
}

func (a *SimArch) LocalIRQRestore(on bool) {
	a.mu.Lock()
	a.irqsOff = !on
	a.mu.Unlock()
}

func (a *SimArch) SetIMask(imask int) int {
	// The simulator has no interrupt priorities to mask.
	return imask
}

func (a *SimArch) InitThreadContext(tcb *ArchTCB, entry EntryFunc, cookie any, imask int) {
	tcb.Entry = entry
	tcb.Cookie = cookie
	tcb.IMask = imask
	tcb.Fresh = true
}

func (a *SimArch) SwitchTo(prev, next *ArchTCB) {
	a.mu.Lock()
	a.switches = append(a.switches, SwitchRecord{CPU: a.cpu, Prev: prev.Name, Next: next.Name})
	a.mu.Unlock()
}

func (a *SimArch) FinalizeNoSwitch(tcb *ArchTCB) {
	tcb.Entry = nil
	tcb.Cookie = nil
	tcb.FPU = nil
	tcb.Fresh = false
}

func (a *SimArch) LeaveRoot(*ArchTCB) {}
func (a *SimArch) EnterRoot(*ArchTCB) {}

// simFPU is a virtual FPU save area; identity is all the pod compares.
type simFPU struct{ saves, restores int }

func (a *SimArch) InitFPU(tcb *ArchTCB) {
	tcb.FPU = &simFPU{}
}

func (a *SimArch) SaveFPU(tcb *ArchTCB) {
	if f, ok := tcb.FPU.(*simFPU); ok {
		f.saves++
	}
}

func (a *SimArch) RestoreFPU(tcb *ArchTCB) {
	if f, ok := tcb.FPU.(*simFPU); ok {
		f.restores++
	}
}

func (a *SimArch) EnableFPU(*ArchTCB) {}

func (a *SimArch) StartTimer(cpu int, tick func()) (int, error) {
	if a.FailStartTimer != nil {
		return a.FailStartTimer(cpu)
	}
	_ = tick
	return a.HostTickPeriod, nil
}

func (a *SimArch) StopTimer(cpu int) {}

func (a *SimArch) HostTime() Ticks {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hostBase + a.clock
}

func (a *SimArch) CPUTime() Ticks {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clock
}

func (a *SimArch) NewTimer(handler func()) Timer {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return &simTimer{arch: a, handler: handler, seq: a.seq}
}

func (a *SimArch) Panic(msg string) {
	if a.OnPanic != nil {
		a.OnPanic(msg)
		return
	}
	panic(fmt.Sprintf("rtpod: fatal: %s", msg))
}

// Switches returns the context switches recorded so far.
func (a *SimArch) Switches() []SwitchRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SwitchRecord, len(a.switches))
	copy(out, a.switches)
	return out
}

// Now returns the simulated monotonic clock.
func (a *SimArch) Now() Ticks {
	return a.CPUTime()
}

// Advance moves the simulated clock forward by d, firing due timers in
// order, delivering latched IPIs and replaying escalated rescheduling
// requests from each simulated interrupt epilogue. Advance(0) flushes
// pending IPIs and escalations without moving the clock.
//
// Must not be called from pod callbacks; it is the test harness's hand on
// the wheel of time.
func (a *SimArch) Advance(d Ticks) {
	a.mu.Lock()
	target := a.clock + d

	for {
		t := a.nextDueLocked(target)
		if t == nil {
			break
		}
		a.clock = t.expiry
		a.removeLocked(t)
		if t.interval != Infinite {
			t.expiry += t.interval
			a.insertLocked(t)
		} else {
			t.running = false
		}

		prevCPU := a.cpu
		a.cpu = t.cpu
		a.irqNest++
		handler := t.handler
		a.mu.Unlock()

		handler()

		a.mu.Lock()
		a.irqNest--
		a.flushIRQLocked()
		a.cpu = prevCPU
	}

	a.clock = target
	a.flushIRQLocked()
	a.mu.Unlock()
}

// flushIRQLocked delivers latched IPIs and replays escalations once the
// simulated interrupt nesting unwinds. Escalations replay on the CPU whose
// interrupt raised them. Called with a.mu held; drops and reacquires it
// around handlers.
func (a *SimArch) flushIRQLocked() {
	if a.irqNest > 0 {
		return
	}

	for {
		if a.escalated {
			a.escalated = false
			fn := a.escalation
			a.mu.Unlock()
			if fn != nil {
				fn()
			}
			a.mu.Lock()
			continue
		}

		cpu := a.pendingIPI.First()
		if cpu < 0 {
			return
		}
		a.pendingIPI = a.pendingIPI.Without(cpu)

		prevCPU := a.cpu
		a.cpu = cpu
		a.irqNest++
		handler := a.ipiHandler
		a.mu.Unlock()
		if handler != nil {
			handler()
		}
		a.mu.Lock()
		a.irqNest--

		// Replay the poked CPU's escalation before leaving its context.
		if a.escalated {
			a.escalated = false
			fn := a.escalation
			a.mu.Unlock()
			if fn != nil {
				fn()
			}
			a.mu.Lock()
		}
		a.cpu = prevCPU
	}
}

func (a *SimArch) nextDueLocked(target Ticks) *simTimer {
	if len(a.timers) == 0 {
		return nil
	}
	t := a.timers[0]
	if t.expiry > target {
		return nil
	}
	return t
}

func (a *SimArch) insertLocked(t *simTimer) {
	i := sort.Search(len(a.timers), func(i int) bool {
		o := a.timers[i]
		return o.expiry > t.expiry || (o.expiry == t.expiry && o.seq > t.seq)
	})
	a.timers = append(a.timers, nil)
	copy(a.timers[i+1:], a.timers[i:])
	a.timers[i] = t
}

func (a *SimArch) removeLocked(t *simTimer) {
	for i, o := range a.timers {
		if o == t {
			copy(a.timers[i:], a.timers[i+1:])
			a.timers[len(a.timers)-1] = nil
			a.timers = a.timers[:len(a.timers)-1]
			return
		}
	}
}

// simTimer is the simulator's software timer.
type simTimer struct {
	arch    *SimArch
	handler func()
	seq     uint64

	cpu      int
	expiry   Ticks
	interval Ticks
	pexpect  Ticks
	running  bool
}

func (t *simTimer) Start(value, interval Ticks, mode TimerMode) error {
	a := t.arch
	a.mu.Lock()
	defer a.mu.Unlock()

	var expiry Ticks
	switch mode {
	case Relative:
		expiry = a.clock + value
	case Absolute:
		expiry = value
	case Realtime:
		expiry = value - a.hostBase
	}

	if mode != Relative && expiry <= a.clock {
		return ErrTimedOut
	}

	if t.running {
		a.removeLocked(t)
	}
	t.expiry = expiry
	t.interval = interval
	t.pexpect = expiry
	t.running = true
	a.insertLocked(t)
	return nil
}

func (t *simTimer) Stop() {
	a := t.arch
	a.mu.Lock()
	defer a.mu.Unlock()
	if t.running {
		a.removeLocked(t)
		t.running = false
	}
}

func (t *simTimer) Running() bool {
	a := t.arch
	a.mu.Lock()
	defer a.mu.Unlock()
	return t.running
}

func (t *simTimer) SetSched(s *Sched) {
	a := t.arch
	a.mu.Lock()
	t.cpu = s.cpu
	a.mu.Unlock()
}

func (t *simTimer) Interval() Ticks {
	a := t.arch
	a.mu.Lock()
	defer a.mu.Unlock()
	return t.interval
}

func (t *simTimer) Expiry() Ticks {
	a := t.arch
	a.mu.Lock()
	defer a.mu.Unlock()
	if !t.running {
		return 0
	}
	return t.expiry
}

func (t *simTimer) Pexpect() Ticks {
	a := t.arch
	a.mu.Lock()
	defer a.mu.Unlock()
	return t.pexpect
}

func (t *simTimer) ForwardPexpect(delta Ticks) {
	a := t.arch
	a.mu.Lock()
	t.pexpect += delta
	a.mu.Unlock()
}

func (t *simTimer) Overruns(now Ticks) uint64 {
	a := t.arch
	a.mu.Lock()
	defer a.mu.Unlock()
	if t.interval == Infinite {
		return 0
	}
	var overruns uint64
	if now >= t.pexpect {
		overruns = uint64((now - t.pexpect) / t.interval)
	}
	t.pexpect += Ticks(overruns+1) * t.interval
	return overruns
}

func (t *simTimer) Destroy() {
	t.Stop()
}
