package rtpod

import (
	"fmt"
)

// MigrateThread moves the current thread to another CPU, affinity
// permitting. Only self-migration is supported: a thread decides for
// itself when to change CPUs.
//
// Returns ErrPerm when called from interrupt context or when the target
// CPU is outside the current affinity set, and ErrBusy while the scheduler
// is locked. Migrating to the current CPU is a successful no-op.
func (p *Pod) MigrateThread(cpu int) error {
	if p.arch.Interrupting() {
		return fmt.Errorf(`%w: migrating from interrupt context`, ErrPerm)
	}

	spl := p.lockSave()
	defer p.unlockRestore(spl)

	if p.lockedP() {
		return ErrBusy
	}

	t := p.currentSched().curr

	if cpu < 0 || cpu >= len(p.sched) || !t.affinity.Has(cpu) {
		return fmt.Errorf(`%w: cpu %d outside affinity %s`, ErrPerm, cpu, t.affinity)
	}

	if cpu == p.arch.CurrentCPU() {
		return nil
	}

	p.logDebug("thread migrate", t)

	p.releaseFPU(t)

	if t.state.test(Ready) {
		p.class.Dequeue(t)
		t.state &^= Ready
	}

	source := t.sched
	source.setResched()
	t.sched = p.sched[cpu]

	// The periodic timer follows its thread; the resume timer is rebound
	// on each arming.
	t.ptimer.SetSched(t.sched)

	if p.conf.UnlockedSwitch {
		// Mark the thread in flight; the post-switch reconciliation puts
		// it on the remote runqueue.
		t.state |= Migrating
	} else {
		// Move it to the remote runqueue right away.
		t.state |= Ready
		p.class.Putback(t)
		source.setReschedRemote(t.sched)
	}

	p.scheduleLocked()

	// Restart the execution time measurement period so per-CPU statistics
	// stay meaningful.
	p.resetAccount(t, p.arch.CPUTime())

	return nil
}
