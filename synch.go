package rtpod

// SynchFlags qualifies a wait channel's queuing discipline.
type SynchFlags uint32

const (
	// SynchPrio orders sleepers by effective priority; the default is
	// FIFO.
	SynchPrio SynchFlags = 1 << iota
	// SynchNoReorder pins a sleeper's position for its whole wait, even
	// across priority changes.
	SynchNoReorder
)

// Synch is a wait channel: the object a thread pends on while a resource it
// requested is unavailable. The synchronization layer proper (ownership
// tracking, priority inheritance) stays outside the core; the pod only
// manages sleeper membership and two edges: forget and renice. Flushing all
// sleepers of a channel at once is not provided.
type Synch struct {
	flags    SynchFlags
	sleepers []*Thread

	// releaseOwnerships, when set, transfers or drops whatever resources
	// the synchronization layer recorded against the exiting thread.
	releaseOwnerships func(t *Thread)
}

// NewSynch creates a wait channel with the given queuing discipline.
func NewSynch(flags SynchFlags) *Synch {
	return &Synch{flags: flags}
}

// Flags returns the queuing discipline flags.
func (s *Synch) Flags() SynchFlags { return s.flags }

// Sleepers returns the number of threads currently pending on the channel.
func (s *Synch) Sleepers() int { return len(s.sleepers) }

// addSleeper links the thread into the channel's wait queue, by priority
// when SynchPrio is set, FIFO otherwise. Pod lock held.
func (s *Synch) addSleeper(t *Thread) {
	if s.flags&SynchPrio == 0 {
		s.sleepers = append(s.sleepers, t)
		return
	}
	i := len(s.sleepers)
	for i > 0 && s.sleepers[i-1].cprio < t.cprio {
		i--
	}
	s.sleepers = append(s.sleepers, nil)
	copy(s.sleepers[i+1:], s.sleepers[i:])
	s.sleepers[i] = t
}

func (s *Synch) removeSleeper(t *Thread) {
	for i, o := range s.sleepers {
		if o == t {
			copy(s.sleepers[i:], s.sleepers[i+1:])
			s.sleepers[len(s.sleepers)-1] = nil
			s.sleepers = s.sleepers[:len(s.sleepers)-1]
			return
		}
	}
}

// forgetSleeper dissociates the thread from the channel it pends on,
// clearing the Pended state and the wait-channel pointer. Pod lock held.
func forgetSleeper(t *Thread) {
	wchan := t.wchan
	t.state &^= Pended
	t.wchan = nil
	if wchan != nil {
		wchan.removeSleeper(t)
	}
}

// reniceSleeper reorders the thread inside its channel's wait queue after a
// priority change. Pod lock held.
func reniceSleeper(t *Thread) {
	wchan := t.wchan
	if wchan == nil || wchan.flags&SynchPrio == 0 {
		return
	}
	wchan.removeSleeper(t)
	wchan.addSleeper(t)
}

// ClaimOwnership records the thread as owner of the resource the channel
// guards. The release callback runs when the pod strips the thread's
// ownerships — on deletion and on restart — so the synchronization layer
// can pass the resource on or drop it.
func (p *Pod) ClaimOwnership(t *Thread, s *Synch, release func(owner *Thread)) {
	spl := p.lockSave()
	s.releaseOwnerships = release
	t.ownerships = append(t.ownerships, s)
	p.unlockRestore(spl)
}

// releaseAllOwnerships lets the synchronization layer drop every resource
// the thread still owns, on deletion or restart. Pod lock held.
func releaseAllOwnerships(t *Thread) {
	for _, s := range t.ownerships {
		if s.releaseOwnerships != nil {
			s.releaseOwnerships(t)
		}
	}
	t.ownerships = nil
}
