package aqmsim

// sink.go defines the interface through which the pipeline reports what
// happens to packets, and the general-purpose sinks: fan-out, discard,
// asynchronous hand-off, logging, and the recorder the run report is built from

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DropReason says why a packet did not complete service
type DropReason int

const (
	CapacityDrop DropReason = iota
	AQMDrop
	ShutdownDrop
)

var dropReasonToStr map[DropReason]string = map[DropReason]string{CapacityDrop: "capacity", AQMDrop: "aqm", ShutdownDrop: "shutdown"}

func (dr DropReason) String() string {
	return dropReasonToStr[dr]
}

// dropReasonOf maps a refusing verdict onto its reason
func dropReasonOf(v Verdict) DropReason {
	if v == DropAQM {
		return AQMDrop
	}
	return CapacityDrop
}

// StatsSink receives per-packet events and periodic snapshots.  Packets are
// passed by value; a sink never sees memory the pipeline still writes
type StatsSink interface {
	OnGenerated(p Packet)
	OnEnqueued(p Packet)
	OnDropped(p Packet, reason DropReason)
	OnServiced(p Packet)
	OnSnapshot(now float64, s Snapshot)
}

// NopSink ignores everything
type NopSink struct{}

func (NopSink) OnGenerated(p Packet)                  {}
func (NopSink) OnEnqueued(p Packet)                   {}
func (NopSink) OnDropped(p Packet, reason DropReason) {}
func (NopSink) OnServiced(p Packet)                   {}
func (NopSink) OnSnapshot(now float64, s Snapshot)    {}

// MultiSink hands every event to each of its members, in order
type MultiSink []StatsSink

func (ms MultiSink) OnGenerated(p Packet) {
	for _, sink := range ms {
		sink.OnGenerated(p)
	}
}

func (ms MultiSink) OnEnqueued(p Packet) {
	for _, sink := range ms {
		sink.OnEnqueued(p)
	}
}

func (ms MultiSink) OnDropped(p Packet, reason DropReason) {
	for _, sink := range ms {
		sink.OnDropped(p, reason)
	}
}

func (ms MultiSink) OnServiced(p Packet) {
	for _, sink := range ms {
		sink.OnServiced(p)
	}
}

func (ms MultiSink) OnSnapshot(now float64, s Snapshot) {
	for _, sink := range ms {
		sink.OnSnapshot(now, s)
	}
}

type sinkEventType int

const (
	generatedEvt sinkEventType = iota
	enqueuedEvt
	droppedEvt
	servicedEvt
	snapshotEvt
)

type sinkEvent struct {
	evtType sinkEventType
	pckt    Packet
	reason  DropReason
	now     float64
	snap    Snapshot
}

// defaultSendTimeout bounds how long a pipeline task waits on a full AsyncSink buffer
const defaultSendTimeout = 5 * time.Millisecond

// AsyncSink decouples a possibly slow sink from the pipeline.  Events go into
// a buffered channel drained by one goroutine, so the inner sink is called
// serially.  When the buffer stays full longer than the send timeout the event
// is discarded and counted as lost.
type AsyncSink struct {
	inner   StatsSink
	events  chan sinkEvent
	timeout time.Duration
	lost    atomic.Int64
	done    chan struct{}
	once    sync.Once
}

// NewAsyncSink is a constructor; it starts the draining goroutine
func NewAsyncSink(inner StatsSink, buffer int, timeout time.Duration) *AsyncSink {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	as := &AsyncSink{inner: inner, events: make(chan sinkEvent, max(buffer, 1)),
		timeout: timeout, done: make(chan struct{})}
	go as.drain()
	return as
}

func (as *AsyncSink) drain() {
	defer close(as.done)
	for evt := range as.events {
		switch evt.evtType {
		case generatedEvt:
			as.inner.OnGenerated(evt.pckt)
		case enqueuedEvt:
			as.inner.OnEnqueued(evt.pckt)
		case droppedEvt:
			as.inner.OnDropped(evt.pckt, evt.reason)
		case servicedEvt:
			as.inner.OnServiced(evt.pckt)
		case snapshotEvt:
			as.inner.OnSnapshot(evt.now, evt.snap)
		}
	}
}

func (as *AsyncSink) send(evt sinkEvent) {
	select {
	case as.events <- evt:
		return
	default:
	}
	timer := time.NewTimer(as.timeout)
	defer timer.Stop()
	select {
	case as.events <- evt:
	case <-timer.C:
		as.lost.Add(1)
	}
}

func (as *AsyncSink) OnGenerated(p Packet) {
	as.send(sinkEvent{evtType: generatedEvt, pckt: p})
}

func (as *AsyncSink) OnEnqueued(p Packet) {
	as.send(sinkEvent{evtType: enqueuedEvt, pckt: p})
}

func (as *AsyncSink) OnDropped(p Packet, reason DropReason) {
	as.send(sinkEvent{evtType: droppedEvt, pckt: p, reason: reason})
}

func (as *AsyncSink) OnServiced(p Packet) {
	as.send(sinkEvent{evtType: servicedEvt, pckt: p})
}

func (as *AsyncSink) OnSnapshot(now float64, s Snapshot) {
	as.send(sinkEvent{evtType: snapshotEvt, now: now, snap: s})
}

// Close stops accepting events and waits until the inner sink has seen every
// buffered one.  No event may be sent after Close
func (as *AsyncSink) Close() {
	as.once.Do(func() { close(as.events) })
	<-as.done
}

// Lost is the number of events discarded on timeout
func (as *AsyncSink) Lost() int64 {
	return as.lost.Load()
}

// LogSink writes every event to a zap logger.  Per-packet events are logged at
// debug level, so they cost nothing unless asked for
type LogSink struct {
	lg *zap.Logger
}

// NewLogSink is a constructor
func NewLogSink(lg *zap.Logger) *LogSink {
	return &LogSink{lg: orNop(lg)}
}

func (ls *LogSink) OnGenerated(p Packet) {
	ls.lg.Debug("packet generated", zap.Int("id", p.ID), zap.Int("size", p.Size),
		zap.Float64("creation", p.CreationTime))
}

func (ls *LogSink) OnEnqueued(p Packet) {
	ls.lg.Debug("packet enqueued", zap.Int("id", p.ID), zap.Float64("arrival", p.ArrivalTime))
}

func (ls *LogSink) OnDropped(p Packet, reason DropReason) {
	ls.lg.Debug("packet dropped", zap.Int("id", p.ID), zap.Int("size", p.Size),
		zap.Stringer("reason", reason), zap.Float64("arrival", p.ArrivalTime))
}

func (ls *LogSink) OnServiced(p Packet) {
	ls.lg.Debug("packet serviced", zap.Int("id", p.ID),
		zap.Float64("queueing_delay", p.QueueingDelay()), zap.Float64("completion", p.CompletionTime))
}

func (ls *LogSink) OnSnapshot(now float64, s Snapshot) {
	ls.lg.Debug("queue snapshot", zap.Float64("now", now), zap.String("policy", s.Policy),
		zap.Int("length", s.Length), zap.Int("submitted", s.Submitted), zap.Int("dropped", s.Dropped),
		zap.Int("serviced", s.Serviced), zap.Float64("dropprob", s.State.DropProbability))
}

// Recorder keeps what the run report needs: every serviced packet, in
// completion order, the count of each kind of drop, and the largest queue length sampled
type Recorder struct {
	mu        sync.Mutex
	generated int
	serviced  []Packet
	drops     map[DropReason]int
	samples   int
	maxLength int
	last      Snapshot
	lastTime  float64
}

// NewRecorder is a constructor
func NewRecorder() *Recorder {
	return &Recorder{serviced: make([]Packet, 0), drops: make(map[DropReason]int)}
}

func (rc *Recorder) OnGenerated(p Packet) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.generated += 1
}

func (rc *Recorder) OnEnqueued(p Packet) {}

func (rc *Recorder) OnDropped(p Packet, reason DropReason) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.drops[reason] += 1
}

func (rc *Recorder) OnServiced(p Packet) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.serviced = append(rc.serviced, p)
}

func (rc *Recorder) OnSnapshot(now float64, s Snapshot) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.samples += 1
	rc.maxLength = max(rc.maxLength, s.Length)
	rc.last = s
	rc.lastTime = now
}

// Serviced returns the serviced packets in the order they completed
func (rc *Recorder) Serviced() []Packet {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]Packet(nil), rc.serviced...)
}

// QueueingDelays returns the queueing delay of each serviced packet
func (rc *Recorder) QueueingDelays() []float64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delays := make([]float64, len(rc.serviced))
	for idx, p := range rc.serviced {
		delays[idx] = p.QueueingDelay()
	}
	return delays
}

// Drops is the number of drops reported for reason
func (rc *Recorder) Drops(reason DropReason) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.drops[reason]
}

// Generated is the number of packets the producer reported creating
func (rc *Recorder) Generated() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.generated
}

// Samples is the number of snapshots received
func (rc *Recorder) Samples() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.samples
}

// LastSnapshot is the most recent snapshot received, and the time it was taken
func (rc *Recorder) LastSnapshot() (Snapshot, float64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.last, rc.lastTime
}

// MaxSampledLength is the largest queue length any snapshot showed
func (rc *Recorder) MaxSampledLength() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.maxLength
}
