package rtpod

import (
	"math/bits"
	"strconv"
	"strings"
)

// MaxCPUs bounds the number of per-CPU scheduler slots a pod may manage.
const MaxCPUs = 64

// CPUSet is a bitmask of CPU numbers, bit n standing for CPU n.
type CPUSet uint64

// AllCPUs selects every CPU the pod may know about. Intersected with the
// online map, it means "any cpu".
const AllCPUs = CPUSet(1<<MaxCPUs - 1)

// CPUMask returns the set holding only the given CPU.
func CPUMask(cpu int) CPUSet { return 1 << uint(cpu) }

// Has reports whether cpu is a member of the set.
func (s CPUSet) Has(cpu int) bool { return s&CPUMask(cpu) != 0 }

// With returns the set with cpu added.
func (s CPUSet) With(cpu int) CPUSet { return s | CPUMask(cpu) }

// Without returns the set with cpu removed.
func (s CPUSet) Without(cpu int) CPUSet { return s &^ CPUMask(cpu) }

// Empty reports whether no CPU is selected.
func (s CPUSet) Empty() bool { return s == 0 }

// Count returns the number of selected CPUs.
func (s CPUSet) Count() int { return bits.OnesCount64(uint64(s)) }

// First returns the lowest-numbered CPU in the set, or -1 if empty.
func (s CPUSet) First() int {
	if s == 0 {
		return -1
	}
	return bits.TrailingZeros64(uint64(s))
}

func (s CPUSet) String() string {
	if s == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for cpu := 0; s != 0; cpu, s = cpu+1, s>>1 {
		if s&1 != 0 {
			if b.Len() > 1 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(cpu))
		}
	}
	b.WriteByte('}')
	return b.String()
}
