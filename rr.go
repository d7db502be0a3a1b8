package rtpod

// ActivateRR globally activates round-robin scheduling: every thread
// carrying the RoundRobin mode bit is granted the given time quantum, after
// which it rotates to the end of its priority group.
func (p *Pod) ActivateRR(quantum Ticks) {
	spl := p.lockSave()
	for _, t := range p.threads {
		if t.state.test(RoundRobin) {
			t.rrperiod = quantum
			t.rrcredit = quantum
		}
	}
	p.unlockRestore(spl)
}

// DeactivateRR globally deactivates round-robin scheduling. The RoundRobin
// mode bit stays attached to its threads; only the credit becomes
// unbounded.
func (p *Pod) DeactivateRR() {
	spl := p.lockSave()
	for _, t := range p.threads {
		if t.state.test(RoundRobin) {
			t.rrcredit = Infinite
			t.rrExpired = false
		}
	}
	p.unlockRestore(spl)
}
