package rtpod

// ThreadStat aggregates per-thread execution accounting. Execution time
// and switch counts are maintained only when statistics are configured;
// the page-fault count is maintained always.
type ThreadStat struct {
	// Exec is the cumulated execution time, in clock ticks.
	Exec Ticks

	// lastSwitch is the clock reading when the thread was last switched
	// in, the start of the running measurement period.
	lastSwitch Ticks

	// CSW counts context switches into the thread.
	CSW uint64

	// PF counts page faults taken by the shadow mate, a cheap indicator
	// of memory-locking trouble.
	PF uint64
}

// accountSwitch closes the outgoing thread's measurement period and opens
// the incoming one's. Pod lock held.
func (p *Pod) accountSwitch(prev, next *Thread, now Ticks) {
	if !p.conf.Stats {
		return
	}
	prev.Stat.Exec += now - prev.Stat.lastSwitch
	next.Stat.lastSwitch = now
	next.Stat.CSW++
}

// resetAccount restarts the measurement period, e.g. after a CPU migration
// so per-CPU figures stay meaningful.
func (p *Pod) resetAccount(t *Thread, now Ticks) {
	if !p.conf.Stats {
		return
	}
	t.Stat.lastSwitch = now
}
