package rtpod

// ShadowBridge is the user-space bridge contract: how the pod reaches the
// host-scheduler side of shadow threads. The bridging semantics live
// entirely outside the core; a pod without user-space support runs the
// no-op implementation.
type ShadowBridge interface {
	// Start wakes the user-space mate of a freshly started shadow. It is
	// called with the pod lock held and must not call pod services that
	// take the lock.
	Start(t *Thread)

	// Suspend asks a relaxed shadow's mate to migrate back to primary
	// mode so the pod can actually stop it.
	Suspend(t *Thread)

	// Relax moves the current shadow to secondary mode, optionally
	// notifying the mate.
	Relax(notify bool)

	// SendSig delivers a host signal to the mate.
	SendSig(t *Thread, sig int)

	// Renice propagates a priority change to the mate of a relaxed
	// shadow.
	Renice(t *Thread)

	// Exit reaps the user-space mate of a deleted shadow from the relax
	// epilogue. It does not return.
	Exit()

	// RPICheck re-evaluates the root-priority coupling on a remote
	// reschedule request.
	RPICheck()

	// ResetShield re-arms the interrupt shield after a mode change on the
	// current shadow.
	ResetShield()

	// CurrentMapped reports whether the current host task still maps to a
	// shadow TCB; the relax epilogue reaps unmapped mates.
	CurrentMapped() bool
}

// sigLethal is the host signal delivered to the mate of a deleted shadow.
const sigLethal = 9

// noShadow is the bridge used when user-space support is not configured.
type noShadow struct{}

func (noShadow) Start(*Thread)       {}
func (noShadow) Suspend(*Thread)     {}
func (noShadow) Relax(bool)          {}
func (noShadow) SendSig(*Thread, int) {}
func (noShadow) Renice(*Thread)      {}
func (noShadow) Exit()               {}
func (noShadow) RPICheck()           {}
func (noShadow) ResetShield()        {}
func (noShadow) CurrentMapped() bool { return true }
