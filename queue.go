package aqmsim

// queue.go holds the bounded packet queue.  The queue is the sole owner of its
// buffer, its counters and the state of its admission policy; all three are
// read and written only with the queue's mutex held.  Service order is strict
// FIFO whatever the policy, the policy only decides what gets in.

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// Snapshot is a consistent read of a queue's length, counters and policy state.
// It carries no clock value, so two snapshots taken with no mutation between them are equal
type Snapshot struct {
	Policy           string      `json:"policy" yaml:"policy"`
	Length           int         `json:"length" yaml:"length"`
	Capacity         int         `json:"capacity" yaml:"capacity"`
	Submitted        int         `json:"submitted" yaml:"submitted"`
	Enqueued         int         `json:"enqueued" yaml:"enqueued"`
	Dropped          int         `json:"dropped" yaml:"dropped"`
	DroppedAQM       int         `json:"droppedaqm" yaml:"droppedaqm"`
	Flushed          int         `json:"flushed" yaml:"flushed"`
	Serviced         int         `json:"serviced" yaml:"serviced"`
	ServiceTime      float64     `json:"servicetime" yaml:"servicetime"`
	TransmissionTime float64     `json:"transmissiontime" yaml:"transmissiontime"`
	AvgServiceTime   float64     `json:"avgservicetime" yaml:"avgservicetime"`
	MaxLength        int         `json:"maxlength" yaml:"maxlength"`
	State            PolicyState `json:"state" yaml:"state"`
}

// Drained is true once every submitted packet has reached a terminal state
func (s Snapshot) Drained() bool {
	return s.Submitted == s.Enqueued+s.Dropped-s.Flushed && s.Enqueued == s.Serviced+s.Flushed
}

// counters accumulated by the queue.  Each is monotone non-decreasing
type counters struct {
	submitted        int
	enqueued         int
	dropped          int
	droppedAQM       int
	flushed          int
	serviced         int
	serviceTime      float64
	transmissionTime float64
	maxLength        int
}

// Queue is a capacity-bounded FIFO buffer of Items guarded by an admission policy
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	items       []Item
	length      int // data packets in items; the end-of-stream marker does not count
	capacity    int
	serviceRate float64 // bytes per second

	policy AdmissionPolicy
	clock  Clock

	// packets handed out by a dequeue and not yet serviced or abandoned
	inflight map[int]*Packet

	cnt counters
}

// NewQueue is a constructor.  capacity counts data packets, serviceRate is in bytes/sec
func NewQueue(capacity int, serviceRate float64, policy AdmissionPolicy, clock Clock) (*Queue, error) {
	errs := []error{}
	if capacity <= 0 {
		errs = append(errs, configErrorf("queue capacity must be positive, got %d", capacity))
	}
	if !(serviceRate > 0.0) || math.IsInf(serviceRate, 1) {
		errs = append(errs, configErrorf("queue service rate must be positive and finite, got %g", serviceRate))
	}
	if policy == nil {
		errs = append(errs, configErrorf("queue needs an admission policy"))
	}
	if clock == nil {
		errs = append(errs, configErrorf("queue needs a clock"))
	}
	if err := ReportErrs(errs); err != nil {
		return nil, err
	}

	q := new(Queue)
	q.cond = sync.NewCond(&q.mu)
	q.items = make([]Item, 0, capacity+1)
	q.capacity = capacity
	q.serviceRate = serviceRate
	q.policy = policy
	q.clock = clock
	q.inflight = make(map[int]*Packet)
	return q, nil
}

// view is what the policy is shown.  Called with the lock held
func (q *Queue) view(now float64) QueueView {
	qv := QueueView{Length: q.length, Capacity: q.capacity, Empty: true}
	for _, it := range q.items {
		if !it.IsEndOfStream() {
			qv.HeadSojourn = it.Packet.SojournAt(now)
			qv.Empty = false
			break
		}
	}
	return qv
}

// Offer presents an item to the queue.  The end-of-stream marker is always
// appended; a data packet is stamped with its arrival time and then put to the
// admission policy.  The returned Packet is a copy taken under the lock.
func (q *Queue) Offer(it Item) (Verdict, Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it.IsEndOfStream() {
		q.items = append(q.items, it)
		q.cond.Signal()
		return Accept, Packet{}
	}

	if it.Packet == nil {
		panic("data item offered to queue without a packet")
	}

	now := q.clock.Now()
	p := it.Packet
	p.ArrivalTime = now
	q.cnt.submitted += 1

	verdict := q.policy.Decide(q.view(now), now)
	switch verdict {
	case Accept:
		q.items = append(q.items, it)
		q.length += 1
		q.cnt.enqueued += 1
		q.cnt.maxLength = max(q.cnt.maxLength, q.length)
		q.cond.Signal()
	case DropAQM:
		q.cnt.dropped += 1
		q.cnt.droppedAQM += 1
	default:
		q.cnt.dropped += 1
	}
	return verdict, *p
}

// Enqueue is Offer reduced to whether the item was admitted
func (q *Queue) Enqueue(it Item) bool {
	verdict, _ := q.Offer(it)
	return verdict.Accepted()
}

// popHead removes and returns the head item, dequeued at now.  Called with the
// lock held on a non-empty queue
func (q *Queue) popHead(now float64) Item {
	it := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]

	if it.IsEndOfStream() {
		return it
	}
	p := it.Packet
	p.dequeued = now
	q.length -= 1
	q.inflight[p.ID] = p
	q.policy.Observe(p.SojournAt(now), now)
	return it
}

// DequeueBlocking waits until the queue is non-empty and removes the head.
// It returns ErrShutdown if ctx is cancelled while waiting, or before.
func (q *Queue) DequeueBlocking(ctx context.Context) (Item, error) {
	// wake the waiter when ctx ends
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return Item{}, ErrShutdown
		}
		if len(q.items) > 0 {
			return q.popHead(q.clock.Now()), nil
		}
		q.cond.Wait()
	}
}

// TryDequeue removes the head if there is one
func (q *Queue) TryDequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.popHead(q.clock.Now()), true
}

// service completes p, which must be in flight.  Called with the lock held
func (q *Queue) service(op string, p *Packet, now float64) (Packet, error) {
	if p == nil {
		return Packet{}, &InvariantError{Op: op, Detail: "nil packet"}
	}
	if p.completed {
		return Packet{}, &InvariantError{Op: op, Detail: fmt.Sprintf("%s already completed service", p.String())}
	}
	held, present := q.inflight[p.ID]
	if !present || held != p {
		return Packet{}, &InvariantError{Op: op, Detail: fmt.Sprintf("%s was not handed out by a dequeue", p.String())}
	}
	delete(q.inflight, p.ID)

	start := math.Max(now, p.DeliveryTime)
	duration := float64(p.Size) / q.serviceRate
	p.ServiceStartTime = start
	p.CompletionTime = start + duration
	p.completed = true

	q.cnt.serviceTime += duration
	q.cnt.transmissionTime += math.Max(0.0, p.DeliveryTime-p.dequeued)
	q.cnt.serviced += 1
	return *p, nil
}

// Service times the service of a packet previously removed by a dequeue.
// Service starts at now or when the packet came off the link, whichever is
// later, and lasts Size/serviceRate seconds.  Servicing a packet that is not in
// flight, or that was already serviced, is an InvariantError.
func (q *Queue) Service(p *Packet, now float64) (Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.service("Service", p, now)
}

// ServiceHead removes the head packet and services it at once.  The caller must
// know the queue holds a data packet at its head; otherwise it is an InvariantError
func (q *Queue) ServiceHead(now float64) (Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Packet{}, &InvariantError{Op: "ServiceHead", Detail: "queue is empty"}
	}
	if q.items[0].IsEndOfStream() {
		return Packet{}, &InvariantError{Op: "ServiceHead", Detail: "head is the end-of-stream marker"}
	}
	it := q.popHead(now)
	return q.service("ServiceHead", it.Packet, now)
}

// Abandon gives up on an in-flight packet at shutdown; it is counted as
// dropped.  The return is false if p was not in flight
func (q *Queue) Abandon(p *Packet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p == nil {
		return false
	}
	held, present := q.inflight[p.ID]
	if !present || held != p {
		return false
	}
	delete(q.inflight, p.ID)
	q.cnt.dropped += 1
	q.cnt.flushed += 1
	return true
}

// Flush empties the queue at shutdown.  Every data packet still queued is
// counted as dropped and returned, in queue order
func (q *Queue) Flush() []Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	flushed := make([]Packet, 0, q.length)
	for _, it := range q.items {
		if it.IsEndOfStream() {
			continue
		}
		flushed = append(flushed, *it.Packet)
		q.cnt.dropped += 1
		q.cnt.flushed += 1
	}
	q.items = q.items[:0]
	q.length = 0
	return flushed
}

// Snapshot reads the queue's state under its lock
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Snapshot{Policy: q.policy.Kind().String(), Length: q.length, Capacity: q.capacity,
		Submitted: q.cnt.submitted, Enqueued: q.cnt.enqueued, Dropped: q.cnt.dropped,
		DroppedAQM: q.cnt.droppedAQM, Flushed: q.cnt.flushed, Serviced: q.cnt.serviced,
		ServiceTime: q.cnt.serviceTime, TransmissionTime: q.cnt.transmissionTime,
		MaxLength: q.cnt.maxLength, State: q.policy.State()}
	if s.Serviced > 0 {
		s.AvgServiceTime = s.ServiceTime / float64(s.Serviced)
	}
	return s
}

// Len is the number of data packets queued
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// Capacity is the most data packets the queue holds
func (q *Queue) Capacity() int {
	return q.capacity
}

// ServiceDuration is the time servicing a packet of the given size takes
func (q *Queue) ServiceDuration(size int) float64 {
	return float64(size) / q.serviceRate
}

// Policy is the admission policy the queue consults
func (q *Queue) Policy() AdmissionPolicy {
	return q.policy
}
