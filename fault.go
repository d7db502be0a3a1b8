package rtpod

// FaultInfo describes a trapped exception, as reported by the architecture
// layer.
type FaultInfo struct {
	// PC is the faulting program counter.
	PC uintptr

	// Trap is the architecture's exception number.
	Trap int

	// FPUFault marks an FPU-use exception.
	FPUFault bool

	// UserMode marks a fault taken from user space.
	UserMode bool

	// PageFault marks a memory access fault.
	PageFault bool

	// Notify requests host-side notification (debug traps clear it).
	Notify bool
}

// TrapFault is the default fault handler, called whenever an uncontrolled
// exception is caught. It reports true when the fault was absorbed on
// behalf of a real-time thread; false propagates it to the host system.
//
// A first FPU use by a shadow initializes its FPU context and absorbs the
// fault. A faulting kernel thread is suspended indefinitely. A faulting
// shadow is relaxed into secondary mode so the host can process the
// exception, e.g. for user-space error reporting or debug stepping.
func (p *Pod) TrapFault(info *FaultInfo) bool {
	spl := p.lockSave()

	if !p.activeP() || (!p.arch.Interrupting() && p.idleP()) {
		p.unlockRestore(spl)
		return false
	}

	t := p.currentSched().curr

	p.logErr("trapped fault", t)

	if info.FPUFault {
		if p.faultInitFPU(t) {
			p.unlockRestore(spl)
			return true
		}
		p.logErr("invalid use of FPU in real-time context", t)
	}

	if !t.state.test(Shadow) {
		// A kernel thread has nowhere to propagate to: freeze it where
		// it stands.
		p.suspendThreadLocked(t, Suspended, Infinite, Relative, nil)
		p.unlockRestore(spl)
		return true
	}

	if p.conf.Pervasive {
		if info.PageFault {
			// Not SMP-safe, but a simple indicator that something went
			// wrong with memory locking.
			t.Stat.PF++
		}
		p.unlockRestore(spl)
		p.shadow.Relax(info.Notify)
		return false
	}

	p.unlockRestore(spl)
	return false
}

// faultInitFPU absorbs the first FPU use of a shadow whose context was
// never initialized. Pod lock held.
func (p *Pod) faultInitFPU(t *Thread) bool {
	if !p.conf.FPU || !p.conf.Pervasive {
		return false
	}
	if !t.state.test(Shadow) || t.arch.FPU != nil {
		return false
	}
	p.arch.InitFPU(&t.arch)
	return true
}
