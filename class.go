package rtpod

// SchedClass is the per-CPU ready-queue policy capability set. The pod
// treats the policy as a black box: it only asks for queue membership
// edits and for the next thread to run.
//
// All methods are invoked with the pod lock held.
type SchedClass interface {
	// InitSched prepares the class's per-slot state.
	InitSched(s *Sched)

	// Enqueue links the thread at the tail of its priority group on its
	// slot's ready queue.
	Enqueue(t *Thread)

	// Dequeue unlinks the thread from its slot's ready queue.
	Dequeue(t *Thread)

	// Putback relinks a preempted thread at the head of its priority
	// group, so that it resumes before same-priority peers.
	Putback(t *Thread)

	// PickNext elects the thread to run on the slot, requeueing the
	// current one as appropriate. It never returns nil: with an empty
	// ready queue the root thread is elected.
	PickNext(s *Sched) *Thread

	// SetResched marks the slot as needing a reschedule.
	SetResched(s *Sched)

	// Tick accounts one host tick against the slot's current thread
	// (round-robin credit consumption).
	Tick(s *Sched)
}

// fifoClass is the default scheduling class: strict priority, FIFO within a
// priority group, optional round-robin rotation driven by host ticks.
type fifoClass struct {
	tickPeriod Ticks
}

// readyQueue holds runnable threads ordered by descending effective
// priority, FIFO within a group. Sizes are small; ordered insertion into a
// slice beats fancier structures here.
type readyQueue struct {
	q []*Thread
}

func (rq *readyQueue) len() int { return len(rq.q) }

func (rq *readyQueue) head() *Thread {
	if len(rq.q) == 0 {
		return nil
	}
	return rq.q[0]
}

// insertTail links t after the last thread of greater or equal priority.
func (rq *readyQueue) insertTail(t *Thread) {
	i := len(rq.q)
	for i > 0 && rq.q[i-1].cprio < t.cprio {
		i--
	}
	rq.q = append(rq.q, nil)
	copy(rq.q[i+1:], rq.q[i:])
	rq.q[i] = t
}

// insertHead links t before the first thread of equal priority.
func (rq *readyQueue) insertHead(t *Thread) {
	i := 0
	for i < len(rq.q) && rq.q[i].cprio > t.cprio {
		i++
	}
	rq.q = append(rq.q, nil)
	copy(rq.q[i+1:], rq.q[i:])
	rq.q[i] = t
}

func (rq *readyQueue) remove(t *Thread) bool {
	for i, o := range rq.q {
		if o == t {
			copy(rq.q[i:], rq.q[i+1:])
			rq.q[len(rq.q)-1] = nil
			rq.q = rq.q[:len(rq.q)-1]
			return true
		}
	}
	return false
}

func newFIFOClass(tickPeriod Ticks) *fifoClass {
	return &fifoClass{tickPeriod: tickPeriod}
}

func (c *fifoClass) InitSched(s *Sched) {
	s.runq = &readyQueue{}
}

func (c *fifoClass) Enqueue(t *Thread) {
	t.sched.runq.insertTail(t)
}

func (c *fifoClass) Dequeue(t *Thread) {
	t.sched.runq.remove(t)
}

func (c *fifoClass) Putback(t *Thread) {
	t.sched.runq.insertHead(t)
}

func (c *fifoClass) SetResched(s *Sched) {
	s.setResched()
}

// PickNext elects the highest-priority ready thread, requeueing the current
// one when it remains runnable. A current thread holding the scheduler lock
// is never preempted; a thread whose round-robin quantum just expired
// rotates to the tail of its group instead of the head.
func (c *fifoClass) PickNext(s *Sched) *Thread {
	curr := s.curr

	if !curr.state.test(BlockBits|Zombie|Ready|Migrating) && !curr.state.test(Root) {
		if curr.state.test(Locked) {
			return curr
		}
		if curr.rrExpired {
			curr.rrExpired = false
			s.runq.insertTail(curr)
		} else {
			s.runq.insertHead(curr)
		}
		curr.state |= Ready
	}

	next := s.runq.head()
	if next == nil {
		return s.rootcb
	}
	s.runq.remove(next)
	next.state &^= Ready
	return next
}

// Tick consumes one host tick worth of round-robin credit from the slot's
// current thread. Credit exhaustion refills from the period and requests a
// rotation on the next pick.
func (c *fifoClass) Tick(s *Sched) {
	curr := s.curr
	if !curr.state.test(RoundRobin) || curr.rrcredit == Infinite {
		return
	}
	curr.rrcredit -= c.tickPeriod
	if curr.rrcredit > 0 {
		return
	}
	curr.rrcredit = curr.rrperiod
	curr.rrExpired = true
	s.setResched()
}
