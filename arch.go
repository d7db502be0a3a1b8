package rtpod

// EntryFunc is a thread body. The cookie passed to StartThread is handed
// back as the sole argument.
type EntryFunc func(cookie any)

// ArchTCB is the architecture-dependent part of a thread control block. The
// pod core treats its contents as opaque except for the fields documented
// below, which encode contracts the core itself enforces.
type ArchTCB struct {
	// Name mirrors the thread name, for the architecture's diagnostics.
	Name string

	// Entry and Cookie are the start parameters latched for the initial
	// stack frame.
	Entry  EntryFunc
	Cookie any

	// IMask is the interrupt mask asserted when the thread starts.
	IMask int

	// Stack is the kernel stack backing the context, drawn from the pod's
	// stack pool when one is configured.
	Stack []byte

	// FPU points to the FPU save area, nil until initialized. Two TCBs
	// sharing a save area (a shadow and its mate) compare equal here,
	// which elides redundant saves on switch.
	FPU any

	// UserTask identifies the user-space mate of a shadow thread, nil for
	// kernel threads.
	UserTask any

	// Fresh is set by InitThreadContext and cleared by the pod's
	// first-entry (welcome) path the first time the context is switched
	// in. A fresh FPU-enabled
	// thread has its FPU context initialized on first entry instead of
	// restored.
	Fresh bool
}

// Arch is the machine-level contract the pod consumes: context switching,
// FPU management, inter-processor signalling, hardware timers and clocks.
// The package provides [SimArch]; embedders targeting real hardware or
// OS threads supply their own.
//
// Unless stated otherwise, methods are invoked with the pod lock held.
type Arch interface {
	// NumCPUs returns the number of online CPUs. Slots are built for CPUs
	// [0, NumCPUs).
	NumCPUs() int

	// CurrentCPU returns the CPU the caller executes on.
	CurrentCPU() int

	// Interrupting reports whether the caller executes in interrupt
	// context (ISR, timer handler, IPI handler).
	Interrupting() bool

	// Escalate returns true when a rescheduling request must be deferred
	// because of the current context; the architecture is then responsible
	// for replaying it (e.g. from the interrupt epilogue).
	Escalate() bool

	// SendIPI pokes the CPUs in mask so that they run the hooked
	// reschedule handler upon their next interrupt window.
	SendIPI(mask CPUSet)

	// HookIPI installs the handler run on reschedule IPIs. Called once at
	// pod init.
	HookIPI(fn func())

	// LocalIRQSave masks local interrupt delivery and returns the prior
	// state; LocalIRQRestore reinstates it. Not called with the lock held;
	// these bracket the lock itself.
	LocalIRQSave() bool
	LocalIRQRestore(on bool)

	// SetIMask swaps the current interrupt mask, returning the previous
	// one. Used around ASR invocation.
	SetIMask(imask int) int

	// InitThreadContext builds the initial stack frame so that the thread
	// enters entry(cookie) with imask asserted when first switched in.
	InitThreadContext(tcb *ArchTCB, entry EntryFunc, cookie any, imask int)

	// SwitchTo performs the machine context switch from prev to next.
	// With unlocked switch configured, the pod lock is NOT held across
	// this call.
	SwitchTo(prev, next *ArchTCB)

	// FinalizeNoSwitch reclaims the context of a thread deleted without
	// being switched out (other-deletion or zombie finalization).
	FinalizeNoSwitch(tcb *ArchTCB)

	// LeaveRoot and EnterRoot bracket transitions of a CPU out of and
	// into its root context.
	LeaveRoot(tcb *ArchTCB)
	EnterRoot(tcb *ArchTCB)

	// FPU context operations. Only called when the pod is configured with
	// FPU support.
	InitFPU(tcb *ArchTCB)
	SaveFPU(tcb *ArchTCB)
	RestoreFPU(tcb *ArchTCB)
	EnableFPU(tcb *ArchTCB)

	// StartTimer grabs the hardware timer of the given CPU and routes its
	// interrupt to tick. The return value is a host-tick emulation hint:
	// 0 or 1 when the hardware tick device is one-shot, otherwise the
	// period (in ticks) of a periodic host tick the pod must emulate.
	// Not called with the pod lock held.
	StartTimer(cpu int, tick func()) (int, error)

	// StopTimer releases the hardware timer of the given CPU. Not called
	// with the pod lock held.
	StopTimer(cpu int)

	// HostTime returns the host wallclock, CPUTime the monotonic CPU
	// clock, both in nanoseconds.
	HostTime() Ticks
	CPUTime() Ticks

	// NewTimer allocates a software timer firing handler in interrupt
	// context on the timer's bound CPU.
	NewTimer(handler func()) Timer

	// Panic aborts on an unrecoverable pod state with the formatted
	// diagnostic buffer. It does not return, except under test
	// architectures that capture the fault instead.
	Panic(msg string)
}

// escalationHooker is implemented by architectures that defer rescheduling
// requests raised in interrupt context and replay them from the interrupt
// epilogue.
type escalationHooker interface {
	HookEscalation(fn func())
}
