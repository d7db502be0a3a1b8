package rtpod

import (
	"strings"
)

// StateFlags is the bitmask of thread states and scheduling attributes.
//
// State machine (blocking bits):
//
//	Dormant  → (start)            [StartThread clears via resume]
//	Ready    → Running            [schedule picks the thread]
//	Running  → Suspended/Delayed/Pended/Dormant
//	                              [SuspendThread adds blocking bits]
//	blocked  → Ready              [ResumeThread clears the last one]
//	any      → Zombie             [DeleteThread; terminal]
//
// Blocking bits are cumulative: a thread may be Pended on a wait channel,
// Delayed by the resume timer bounding that wait, and Suspended forcibly,
// all at once. It becomes runnable again only when every blocking bit has
// been cleared.
type StateFlags uint32

const (
	// Suspended is the forcible suspension condition, cumulative with any
	// other blocking bit.
	Suspended StateFlags = 1 << iota
	// Pended denotes a wait for a synchronization object to be signaled.
	// A thread has Pended set iff its wait channel is non-nil.
	Pended
	// Delayed denotes a counted delay wait, bounded by the resume timer.
	Delayed
	// Dormant is the pre-runtime state between InitThread and StartThread.
	Dormant
	// Relaxed marks a shadow thread currently running under the host
	// scheduler (secondary mode).
	Relaxed
	// Ready means the thread is linked into its slot's ready queue.
	Ready
	// Zombie marks a deleted thread awaiting post-switch finalization.
	Zombie
	// Restart marks a self-restarting thread across its scheduler re-entry.
	Restart
	// Started is latched by the first successful StartThread.
	Started
	// Migrating marks a thread in flight to another CPU across an unlocked
	// context switch.
	Migrating
	// Root identifies a per-CPU root (idle) thread.
	Root
	// Shadow identifies a thread bound to a user-space mate.
	Shadow
	// Boosted marks an undergoing priority-inheritance boost; ReniceThread
	// will not lower the effective priority while it is set.
	Boosted
	// UseFPU enables FPU context save/restore for the thread.
	UseFPU
	// Locked means the thread holds the scheduler lock.
	Locked
	// RoundRobin marks the thread as undergoing the round-robin policy.
	RoundRobin
	// SigDisable disables asynchronous signal (ASR) delivery.
	SigDisable
	// Shielded engages the interrupt shield for a relaxed shadow.
	Shielded
	// RPIOff disables priority coupling with the host scheduler.
	RPIOff
)

// BlockBits groups the states under which a thread is not eligible for
// scheduling. The state machine predicates on this subset repeatedly.
const BlockBits = Suspended | Pended | Delayed | Dormant | Relaxed

// ModeBits are the attributes settable through SetThreadMode and latched at
// start time for restart.
const ModeBits = Locked | RoundRobin | SigDisable | Shielded | RPIOff

const threadInitFlags = UseFPU | Shadow | Shielded | Suspended

func (f StateFlags) test(mask StateFlags) bool { return f&mask != 0 }

var stateNames = [...]struct {
	bit  StateFlags
	name string
}{
	{Suspended, "SUSP"},
	{Pended, "PEND"},
	{Delayed, "DELAY"},
	{Dormant, "DORMANT"},
	{Relaxed, "RELAX"},
	{Ready, "READY"},
	{Zombie, "ZOMBIE"},
	{Restart, "RESTART"},
	{Started, "STARTED"},
	{Migrating, "MIGRATE"},
	{Root, "ROOT"},
	{Shadow, "SHADOW"},
	{Boosted, "BOOST"},
	{UseFPU, "FPU"},
	{Locked, "LOCK"},
	{RoundRobin, "RRB"},
	{SigDisable, "ASDI"},
	{Shielded, "SHIELD"},
	{RPIOff, "RPIOFF"},
}

func (f StateFlags) String() string {
	if f == 0 {
		return "0"
	}
	var b strings.Builder
	for _, s := range stateNames {
		if f&s.bit != 0 {
			if b.Len() != 0 {
				b.WriteByte('|')
			}
			b.WriteString(s.name)
		}
	}
	return b.String()
}

// InfoFlags is the bitmask of one-shot wake-up outcomes. A single suspension
// distinguishes "satisfied", "timed out", "flushed" and "interrupted" after
// the fact through this mask rather than through return values.
type InfoFlags uint32

const (
	// TimedOut: the delay elapsed, or the bounding timer went off before
	// the pended object was signaled.
	TimedOut InfoFlags = 1 << iota
	// Removed: the pended object was destroyed while sleeping on it.
	Removed
	// Broken: the wait was forcibly broken by UnblockThread.
	Broken
	// Woken: the sleeper was explicitly woken up on the wait channel.
	Woken
	// Robbed: the resource granted to the sleeper was stolen before it
	// resumed.
	Robbed
	// Kicked: a host-originated signal was delivered to the shadow mate.
	Kicked
	// PrioSet: a priority change is pending propagation to the mate.
	PrioSet
)

var infoNames = [...]struct {
	bit  InfoFlags
	name string
}{
	{TimedOut, "TIMEO"},
	{Removed, "RMID"},
	{Broken, "BREAK"},
	{Woken, "WAKEN"},
	{Robbed, "ROBBED"},
	{Kicked, "KICKED"},
	{PrioSet, "PRIOSET"},
}

func (f InfoFlags) String() string {
	if f == 0 {
		return "0"
	}
	var b strings.Builder
	for _, s := range infoNames {
		if f&s.bit != 0 {
			if b.Len() != 0 {
				b.WriteByte('|')
			}
			b.WriteString(s.name)
		}
	}
	return b.String()
}

func (f InfoFlags) test(mask InfoFlags) bool { return f&mask != 0 }

// podStatus is the pod-wide status bitset.
type podStatus uint32

const (
	podActive podStatus = 1 << iota // initialized and accepting skins
	podFatal                        // panic latched
)

// schedStatus is the per-slot status bitset.
type schedStatus uint32

const (
	schedCallout schedStatus = 1 << iota // running a hook callout
	schedSwitchLocked                    // mid-switch with the pod lock dropped
	schedRemotePick                      // remote priority-coupling check requested
)

// tbStatus is the time base status bitset.
type tbStatus uint32

const tbRunning tbStatus = 1 << iota
