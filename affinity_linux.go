//go:build linux

package rtpod

import (
	"golang.org/x/sys/unix"
)

// PinOSThread binds the calling OS thread to the given CPU set.
// Architecture layers backing pod CPUs with host cores call this, paired
// with runtime.LockOSThread, so a virtual CPU stays put.
func PinOSThread(cpus CPUSet) error {
	var set unix.CPUSet
	for cpu := 0; cpu < MaxCPUs; cpu++ {
		if cpus.Has(cpu) {
			set.Set(cpu)
		}
	}
	return unix.SchedSetaffinity(0, &set)
}

// OSThreadAffinity reads the calling OS thread's CPU binding.
func OSThreadAffinity() (CPUSet, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0, err
	}
	var cpus CPUSet
	for cpu := 0; cpu < MaxCPUs; cpu++ {
		if set.IsSet(cpu) {
			cpus = cpus.With(cpu)
		}
	}
	return cpus, nil
}
