package rtpod

// Timebase is the master time base: the clock all timed pod services count
// against. The pod drives it aperiodically (tick-less), timings in
// nanoseconds.
type Timebase struct {
	pod    *Pod
	status tbStatus

	// wallclockOffset translates the monotonic raw clock into host
	// wallclock dates, captured when the time source is enabled.
	wallclockOffset Ticks
}

// Enabled reports whether the time source currently drives the base.
func (tb *Timebase) Enabled() bool {
	spl := tb.pod.lockSave()
	defer tb.pod.unlockRestore(spl)
	return tb.enabledP()
}

// WallclockOffset returns the host-time offset captured at enable time.
func (tb *Timebase) WallclockOffset() Ticks {
	spl := tb.pod.lockSave()
	defer tb.pod.unlockRestore(spl)
	return tb.wallclockOffset
}

// Now returns the current raw clock reading.
func (tb *Timebase) Now() Ticks {
	return tb.rawClock()
}

func (tb *Timebase) enabledP() bool { return tb.status&tbRunning != 0 }

func (tb *Timebase) rawClock() Ticks { return tb.pod.arch.CPUTime() }
