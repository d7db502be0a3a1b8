package rtpod

// Ticks counts time on the master time base, in nanoseconds for an
// aperiodic base or in base jiffies for a periodic one.
type Ticks int64

// Infinite is the distinguished "no bound" tick value. Suspending with
// (Infinite, Relative) specifies an unbounded wait.
const Infinite Ticks = 0

// TimerMode qualifies how a timer date is interpreted.
type TimerMode int

const (
	// Relative dates count from now.
	Relative TimerMode = iota
	// Absolute dates are absolute on the monotonic raw clock.
	Absolute
	// Realtime dates are absolute on the wallclock-adjusted clock.
	Realtime
)

func (m TimerMode) String() string {
	switch m {
	case Relative:
		return "relative"
	case Absolute:
		return "absolute"
	case Realtime:
		return "realtime"
	default:
		return "unknown"
	}
}

// Timer is the per-thread software timer contract the pod consumes from the
// timer wheel. Instances are created through [Arch.NewTimer]; the pod never
// looks inside.
//
// All methods are invoked with the pod lock held.
type Timer interface {
	// Start arms the timer to fire at value (qualified by mode), then
	// every interval ticks if interval is not Infinite. Starting an
	// already-running timer reprograms it. An absolute value already in
	// the past returns ErrTimedOut and leaves the timer idle.
	Start(value, interval Ticks, mode TimerMode) error

	// Stop disarms the timer. Stopping an idle timer is a no-op.
	Stop()

	// Running reports whether the timer is armed.
	Running() bool

	// SetSched rebinds the timer to the given CPU slot, so that it fires
	// on the CPU its thread runs on.
	SetSched(s *Sched)

	// Interval returns the programmed recurrence interval.
	Interval() Ticks

	// Expiry returns the next firing date, 0 when idle. Diagnostics only.
	Expiry() Ticks

	// Pexpect returns the expected arrival date of the next release point,
	// used by the periodic wait service for overrun accounting.
	Pexpect() Ticks

	// ForwardPexpect advances the expected arrival date by delta.
	ForwardPexpect(delta Ticks)

	// Overruns counts release points missed before now, consuming them.
	Overruns(now Ticks) uint64

	// Destroy disarms the timer and releases its wheel slot. The timer
	// must not be used afterwards.
	Destroy()
}
