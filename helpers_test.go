package aqmsim

import (
	"sync"
)

// manualClock is a Clock the test moves by hand
type manualClock struct {
	mu  sync.Mutex
	now float64
}

func (mc *manualClock) Now() float64 {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.now
}

func (mc *manualClock) Set(now float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.now = now
}

// collectSink keeps every event, safe for use from several goroutines
type collectSink struct {
	mu        sync.Mutex
	generated []Packet
	enqueued  []Packet
	dropped   []Packet
	reasons   []DropReason
	serviced  []Packet
	snapshots []Snapshot
}

func (cs *collectSink) OnGenerated(p Packet) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.generated = append(cs.generated, p)
}

func (cs *collectSink) OnEnqueued(p Packet) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.enqueued = append(cs.enqueued, p)
}

func (cs *collectSink) OnDropped(p Packet, reason DropReason) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.dropped = append(cs.dropped, p)
	cs.reasons = append(cs.reasons, reason)
}

func (cs *collectSink) OnServiced(p Packet) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.serviced = append(cs.serviced, p)
}

func (cs *collectSink) OnSnapshot(now float64, s Snapshot) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.snapshots = append(cs.snapshots, s)
}

func (cs *collectSink) countReason(reason DropReason) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	n := 0
	for _, r := range cs.reasons {
		if r == reason {
			n += 1
		}
	}
	return n
}

// newTestQueue builds a queue on a manual clock, panicking on a bad argument
func newTestQueue(capacity int, serviceRate float64, policy AdmissionPolicy) (*Queue, *manualClock) {
	mc := &manualClock{}
	q, err := NewQueue(capacity, serviceRate, policy, mc)
	if err != nil {
		panic(err)
	}
	return q, mc
}

// offerAt sets the clock and offers a fresh packet
func offerAt(q *Queue, mc *manualClock, now float64, id, size int) Verdict {
	mc.Set(now)
	verdict, _ := q.Offer(Data(createPacket(id, size, now)))
	return verdict
}

// testDesc is a small virtual-time experiment over a synthetic source
func testDesc() *ExpDesc {
	xd := DefaultExpDesc()
	xd.Name = "test"
	xd.Log.Level = "error"
	xd.SampleInterval = 0.05
	return xd
}
