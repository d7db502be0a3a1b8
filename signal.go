package rtpod

// SetThreadASR installs the thread's asynchronous service routine, the
// mode bits asserted while it runs and the interrupt mask set around the
// call. A nil fn disables delivery.
func (p *Pod) SetThreadASR(t *Thread, fn AsrFunc, mode StateFlags, imask int) {
	spl := p.lockSave()
	t.asr = fn
	t.asrmode = mode & ModeBits
	t.asrimask = imask
	p.unlockRestore(spl)
}

// PostSignals directs asynchronous signals to the thread. They are
// delivered through its ASR from the rescheduling epilogue, on behalf of
// the thread itself, unless delivery is disabled by the SigDisable mode
// bit.
func (p *Pod) PostSignals(t *Thread, sigs SigMask) {
	if sigs == 0 {
		return
	}
	spl := p.lockSave()
	t.signals |= sigs
	if p.currentP(t) {
		t.sched.setResched()
	}
	p.unlockRestore(spl)
}
