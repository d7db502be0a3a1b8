package rtpod

import (
	"fmt"
)

// EnableTimesource configures the hardware timer of every online CPU and
// activates the master time base. The pod drives the hardware tick-less;
// when a CPU's tick device stays periodic, a pod timer emulates the host
// tick at the period the architecture reports.
//
// Returns ErrNoSys without an active pod, or the architecture's error after
// stopping any timer already started.
func (p *Pod) EnableTimesource() error {
	spl := p.lockSave()
	if !p.activeP() {
		p.unlockRestore(spl)
		return ErrNoSys
	}
	p.tbase.status |= tbRunning
	p.unlockRestore(spl)

	p.logInfo("time source enabled", nil)

	p.tbase.wallclockOffset = p.arch.HostTime() + p.arch.CPUTime()

	for cpu := 0; cpu < len(p.sched); cpu++ {
		s := p.sched[cpu]

		// The hardware timer must be grabbed before any pod timer may be
		// started on its CPU, and without the pod lock held.
		htickval, err := p.arch.StartTimer(cpu, p.clockTick)
		if err != nil {
			for cpu--; cpu >= 0; cpu-- {
				p.arch.StopTimer(cpu)
			}
			return fmt.Errorf(`hardware timer: %w`, err)
		}

		spl = p.lockSave()

		if htickval > 1 {
			// The tick device stays periodic; emulate the host tick.
			s.htimer.SetSched(s)
			_ = s.htimer.Start(Ticks(htickval), Ticks(htickval), Relative)
		} else {
			s.htimer.SetSched(s)
			_ = s.htimer.Start(p.conf.TickPeriod, p.conf.TickPeriod, Relative)
		}

		if p.conf.Watchdog {
			s.wdtimer.SetSched(s)
			_ = s.wdtimer.Start(p.conf.WatchdogPeriod, p.conf.WatchdogPeriod, Relative)
			s.resetWatchdog()
		}

		p.unlockRestore(spl)
	}

	return nil
}

// DisableTimesource releases the hardware timers and deactivates the
// master time base.
func (p *Pod) DisableTimesource() {
	spl := p.lockSave()
	if !p.activeP() || !p.tbase.enabledP() {
		p.unlockRestore(spl)
		return
	}
	p.tbase.status &^= tbRunning
	p.unlockRestore(spl)

	// Stopping the hardware timers with the pod lock held invites
	// deadlocks on SMP; the lock stays released across the sweep.
	for cpu := 0; cpu < len(p.sched); cpu++ {
		p.arch.StopTimer(cpu)
	}

	p.logInfo("time source disabled", nil)
}

// clockTick is the hardware timer relay: it runs in interrupt context on
// the interrupted CPU.
func (p *Pod) clockTick() {
	// The architecture's timer wheel fires pod timers directly; nothing
	// else to relay at this level.
}
