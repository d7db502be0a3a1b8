// Package rtpod implements the core of a real-time "pod": a process-wide
// runtime that owns real-time threads, performs preemptive scheduling across
// one or more virtual CPUs, mediates thread state transitions, and arbitrates
// CPU, FPU, and timer resources.
//
// The pod is the substrate on which higher-level skin APIs (POSIX-like
// tasking, message queues, semaphores, ...) layer their user-visible
// primitives. Skins stack over a single refcounted pod per process via
// [Init] and release it via [Pod.Shutdown].
//
// Machine-level concerns are abstracted behind the [Arch] interface; the
// package ships [SimArch], a deterministic simulator architecture with a
// manually advanced clock, which is also what the package tests run against.
// The ready-queue policy, wait channels, stack allocation and the user-space
// shadow bridge are likewise pluggable ([SchedClass], [Synch],
// [StackAllocator], [ShadowBridge]).
package rtpod
