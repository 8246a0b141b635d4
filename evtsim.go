package aqmsim

// evtsim.go runs the pipeline as a discrete-event simulation on the evtm event
// manager.  The producer, the consumer and the sampler become chains of events
// on a virtual clock, so a run takes no real time and repeats exactly.
//
// Every handler has the evtm signature; the first data argument is always the
// *eventRun whose pipeline it advances

import (
	"context"
	"math"
	"time"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"go.uber.org/zap"
)

// unboundedHorizon is the run limit when no horizon is set, in seconds.  It
// must stay small enough to convert to vrtime ticks
const unboundedHorizon = 1e9

// eventRun is the state of one virtual-time run
type eventRun struct {
	parts  *runParts
	evtMgr *evtm.EventManager
	wl     Workload
	sink   StatsSink
	rec    *Recorder
	lg     *zap.Logger
	ctx    context.Context

	startDelay     float64
	sampleInterval float64
	horizon        float64

	nxtPckt         int     // index in wl of the next packet to generate
	consumerStarted bool    // start delay has passed
	inflight        *Packet // packet crossing the link or in service
	lastEvent       float64 // time of the last event that did work
	finished        bool    // consumer has taken the end-of-stream marker
	stopped         bool
	interrupted     bool
	err             error
	ran             bool
}

// newEventRun is a constructor.  sink and lg may be nil
func newEventRun(xd *ExpDesc, kind PolicyKind, wl Workload, sink StatsSink, lg *zap.Logger) (*eventRun, error) {
	er := new(eventRun)
	er.evtMgr = evtm.New()
	parts, err := assemble(xd, kind, &evtClock{evtMgr: er.evtMgr})
	if err != nil {
		return nil, err
	}
	er.parts = parts
	er.wl = wl
	er.rec = NewRecorder()
	if sink == nil {
		er.sink = er.rec
	} else {
		er.sink = MultiSink{er.rec, sink}
	}
	er.lg = orNop(lg).With(zap.String("policy", kind.String()), zap.String("engine", VirtualEngine))
	er.startDelay = xd.Consumer.StartDelay
	er.sampleInterval = xd.SampleInterval
	er.horizon = xd.Horizon
	return er, nil
}

// Run executes the simulation to completion, to the horizon, or until ctx is
// cancelled, with the same outcomes as Pipeline.Run
func (er *eventRun) Run(ctx context.Context) (RunReport, error) {
	if er.ran {
		return RunReport{}, ErrAlreadyRun
	}
	er.ran = true
	er.ctx = ctx
	wallStart := time.Now()

	er.lg.Info("run starting", zap.Int("packets", er.wl.Len()), zap.Int("capacity", er.parts.queue.Capacity()))

	if er.wl.Len() > 0 {
		er.evtMgr.Schedule(er, nil, producePacket, vrtime.SecondsToTime(0.0))
	} else {
		er.parts.queue.Enqueue(EndOfStream())
	}
	er.evtMgr.Schedule(er, nil, startConsumer, vrtime.SecondsToTime(er.startDelay))
	er.evtMgr.Schedule(er, nil, takeSample, vrtime.SecondsToTime(er.sampleInterval))

	limit := unboundedHorizon
	if er.horizon > 0.0 {
		limit = er.horizon
	}
	er.evtMgr.Run(limit)

	// the event manager advances its clock to the limit once the event list
	// drains, so the run ends with its last event
	simSecs := er.lastEvent
	if !er.finished && !er.stopped {
		// the horizon cut the run short
		simSecs = math.Max(simSecs, limit)
		er.stop()
	}

	final := er.parts.queue.Snapshot()
	er.sink.OnSnapshot(simSecs, final)
	rr := buildRunReport(VirtualEngine, final, er.rec, simSecs, time.Since(wallStart).Seconds(), er.interrupted)

	switch {
	case er.err != nil:
		er.lg.Error("run aborted", zap.Error(er.err), zap.Int("serviced", final.Serviced))
		return rr, er.err
	case er.interrupted:
		er.lg.Warn("run interrupted", zap.Int("flushed", final.Flushed), zap.Int("serviced", final.Serviced))
		return rr, ErrShutdown
	}
	er.lg.Info("run complete", zap.Int("submitted", final.Submitted), zap.Int("dropped", final.Dropped),
		zap.Int("serviced", final.Serviced), zap.Float64("simseconds", simSecs))
	return rr, nil
}

// halted tells a handler whether the run has ended, ending it if ctx was
// cancelled or an invariant broke since the last event
func (er *eventRun) halted() bool {
	if er.stopped {
		return true
	}
	if er.err != nil || er.ctx.Err() != nil {
		er.stop()
		return true
	}
	return false
}

// stop ends the run.  Unless an invariant broke, the packet in flight and
// everything still queued are reported as dropped
func (er *eventRun) stop() {
	er.stopped = true
	if er.err != nil {
		return
	}
	er.interrupted = true
	queue := er.parts.queue
	if p := er.inflight; p != nil {
		if queue.Abandon(p) {
			er.sink.OnDropped(*p, ShutdownDrop)
		} else if p.Completed() {
			er.sink.OnServiced(*p)
		}
		er.inflight = nil
	}
	for _, p := range queue.Flush() {
		er.sink.OnDropped(p, ShutdownDrop)
	}
}

// takeNext starts the consumer on the head of the queue, if it is free to take one
func (er *eventRun) takeNext() {
	if !er.consumerStarted || er.inflight != nil || er.finished {
		return
	}
	it, ok := er.parts.queue.TryDequeue()
	if !ok {
		return
	}
	if it.IsEndOfStream() {
		er.finished = true
		return
	}
	p := it.Packet
	now := er.evtMgr.CurrentSeconds()
	p.DeliveryTime = er.parts.link.Transmit(p, now)
	er.inflight = p
	er.evtMgr.Schedule(er, p, packetDelivered, vrtime.SecondsToTime(p.DeliveryTime-now))
}

// producePacket generates the next packet of the workload and offers it to the
// queue, then schedules the generation of the one after.  After the last
// packet the end-of-stream marker follows at once
func producePacket(evtMgr *evtm.EventManager, context any, data any) any {
	er := context.(*eventRun)
	if er.halted() {
		return nil
	}
	er.lastEvent = evtMgr.CurrentSeconds()
	queue := er.parts.queue
	idx := er.nxtPckt
	spec := er.wl.Specs[idx]
	er.nxtPckt += 1

	p := createPacket(spec.ID, spec.Size, evtMgr.CurrentSeconds())
	er.sink.OnGenerated(*p)
	verdict, pc := queue.Offer(Data(p))
	if verdict.Accepted() {
		er.sink.OnEnqueued(pc)
	} else {
		er.sink.OnDropped(pc, dropReasonOf(verdict))
	}

	if er.nxtPckt < er.wl.Len() {
		evtMgr.Schedule(er, nil, producePacket, vrtime.SecondsToTime(er.wl.gap(idx)))
	} else {
		queue.Enqueue(EndOfStream())
	}
	er.takeNext()
	return nil
}

// startConsumer ends the consumer's start delay
func startConsumer(evtMgr *evtm.EventManager, context any, data any) any {
	er := context.(*eventRun)
	if er.halted() {
		return nil
	}
	er.lastEvent = evtMgr.CurrentSeconds()
	er.consumerStarted = true
	er.takeNext()
	return nil
}

// packetDelivered marks the last bit of the in-flight packet coming off the
// link; service starts and its completion is scheduled
func packetDelivered(evtMgr *evtm.EventManager, context any, data any) any {
	er := context.(*eventRun)
	if er.halted() {
		return nil
	}
	er.lastEvent = evtMgr.CurrentSeconds()
	p := data.(*Packet)
	done, err := er.parts.queue.Service(p, evtMgr.CurrentSeconds())
	if err != nil {
		er.err = err
		er.stop()
		return nil
	}
	evtMgr.Schedule(er, p, serviceCompleted, vrtime.SecondsToTime(done.CompletionTime-evtMgr.CurrentSeconds()))
	return nil
}

// serviceCompleted reports the serviced packet and frees the consumer
func serviceCompleted(evtMgr *evtm.EventManager, context any, data any) any {
	er := context.(*eventRun)
	if er.halted() {
		return nil
	}
	er.lastEvent = evtMgr.CurrentSeconds()
	p := data.(*Packet)
	er.sink.OnServiced(*p)
	er.inflight = nil
	er.takeNext()
	return nil
}

// takeSample hands a snapshot to the sink and schedules the next sample
func takeSample(evtMgr *evtm.EventManager, context any, data any) any {
	er := context.(*eventRun)
	if er.finished || er.halted() {
		return nil
	}
	er.lastEvent = evtMgr.CurrentSeconds()
	er.sink.OnSnapshot(evtMgr.CurrentSeconds(), er.parts.queue.Snapshot())
	evtMgr.Schedule(er, nil, takeSample, vrtime.SecondsToTime(er.sampleInterval))
	return nil
}
