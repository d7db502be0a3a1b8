package rtpod

import (
	"errors"
)

// Sentinel errors returned by pod services. They are comparable with
// [errors.Is], including through wrapped values.
var (
	// ErrNoMem indicates a memory or stack-pool exhaustion.
	ErrNoMem = errors.New(`rtpod: out of memory`)

	// ErrInvalid indicates an invalid argument, e.g. unknown creation
	// flags, an empty effective affinity set, or an unknown hook type.
	ErrInvalid = errors.New(`rtpod: invalid argument`)

	// ErrBusy indicates a state mismatch, e.g. starting an already started
	// thread, or migrating while holding the scheduler lock.
	ErrBusy = errors.New(`rtpod: resource busy`)

	// ErrPerm indicates a capability or context violation, e.g. migrating
	// from interrupt context.
	ErrPerm = errors.New(`rtpod: operation not permitted`)

	// ErrTimedOut indicates an elapsed deadline, including missed periodic
	// release points (overruns).
	ErrTimedOut = errors.New(`rtpod: timed out`)

	// ErrWouldBlock indicates a precondition for blocking is missing, e.g.
	// waiting on a periodic timer that was never armed.
	ErrWouldBlock = errors.New(`rtpod: operation would block`)

	// ErrIntr indicates a wait forcibly broken by [Pod.UnblockThread].
	ErrIntr = errors.New(`rtpod: interrupted`)

	// ErrIdRemoved indicates the waited-for object was destroyed while
	// pending on it.
	ErrIdRemoved = errors.New(`rtpod: identifier removed`)

	// ErrExist indicates a duplicate registration.
	ErrExist = errors.New(`rtpod: already exists`)

	// ErrNoDev indicates a hardware timer configuration failure.
	ErrNoDev = errors.New(`rtpod: no such device`)

	// ErrNoSys indicates the pod is not active.
	ErrNoSys = errors.New(`rtpod: pod not active`)
)
