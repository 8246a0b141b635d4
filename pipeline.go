package aqmsim

// pipeline.go runs the producer and the consumer as goroutines against the
// shared queue in (scaled) real time, with a sampler reading snapshots on the
// side.  The virtual-time version of the same pipeline is in evtsim.go

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// sink buffer of the real-time pipeline, in events
const asyncSinkBuffer = 4096

// runParts are the pieces one run of either engine is assembled from
type runParts struct {
	kind   PolicyKind
	policy AdmissionPolicy
	queue  *Queue
	link   *Link
}

// assemble builds the policy, queue and link a run of kind needs, reading time from clock
func assemble(xd *ExpDesc, kind PolicyKind, clock Clock) (*runParts, error) {
	policy, err := NewPolicy(xd.PolicyFor(kind), xd.Name+"-"+kind.String())
	if err != nil {
		return nil, err
	}
	queue, qerr := NewQueue(xd.Queue.Capacity, xd.Queue.ServiceRate, policy, clock)
	link, lerr := NewLink(xd.Link.Bandwidth, xd.Link.Latency)
	if err = ReportErrs([]error{qerr, lerr}); err != nil {
		return nil, err
	}
	return &runParts{kind: kind, policy: policy, queue: queue, link: link}, nil
}

// Pipeline is one producer, one consumer and a sampler sharing a queue and a link
type Pipeline struct {
	parts *runParts
	clock *wallClock
	wl    Workload
	sink  StatsSink
	lg    *zap.Logger

	startDelay     float64
	sampleInterval float64
	horizon        float64

	ran         atomic.Bool
	interrupted atomic.Bool
}

// NewPipeline is a constructor.  sink may be nil; lg may be nil
func NewPipeline(xd *ExpDesc, kind PolicyKind, wl Workload, sink StatsSink, lg *zap.Logger) (*Pipeline, error) {
	pl := new(Pipeline)
	pl.clock = createWallClock(xd.TimeScale)
	parts, err := assemble(xd, kind, pl.clock)
	if err != nil {
		return nil, err
	}
	pl.parts = parts
	pl.wl = wl
	pl.sink = sink
	if pl.sink == nil {
		pl.sink = NopSink{}
	}
	pl.lg = orNop(lg).With(zap.String("policy", kind.String()), zap.String("engine", RealtimeEngine))
	pl.startDelay = xd.Consumer.StartDelay
	pl.sampleInterval = xd.SampleInterval
	pl.horizon = xd.Horizon
	return pl, nil
}

// Queue gives access to the pipeline's queue
func (pl *Pipeline) Queue() *Queue {
	return pl.parts.queue
}

// Run drives the pipeline until the consumer has seen the end of the stream,
// ctx is cancelled, or the horizon passes.  It may be called only once.
// An interrupted run returns its report along with ErrShutdown; a broken
// invariant returns the report built from the last consistent snapshot along
// with the InvariantError
func (pl *Pipeline) Run(ctx context.Context) (RunReport, error) {
	if !pl.ran.CompareAndSwap(false, true) {
		return RunReport{}, ErrAlreadyRun
	}

	rec := NewRecorder()
	async := NewAsyncSink(pl.sink, asyncSinkBuffer, defaultSendTimeout)
	sink := MultiSink{rec, async}

	wallStart := time.Now()
	pl.clock.start = wallStart

	if pl.horizon > 0.0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pl.clock.realDuration(pl.horizon))
		defer cancel()
	}

	pl.lg.Info("run starting", zap.Int("packets", pl.wl.Len()), zap.Int("capacity", pl.parts.queue.Capacity()))

	consumerDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pl.produce(gctx, sink)
	})
	g.Go(func() error {
		defer close(consumerDone)
		return pl.consume(gctx, sink)
	})
	g.Go(func() error {
		return pl.sample(gctx, sink, consumerDone)
	})
	err := g.Wait()

	// the producer may have slipped a packet in after the consumer flushed
	if pl.interrupted.Load() {
		pl.reportShutdown(nil, sink)
	}

	final := pl.parts.queue.Snapshot()
	simSecs := pl.clock.Now()
	sink.OnSnapshot(simSecs, final)
	async.Close()

	rr := buildRunReport(RealtimeEngine, final, rec, simSecs, time.Since(wallStart).Seconds(), pl.interrupted.Load())
	rr.LostSinkEvents = async.Lost()

	switch {
	case err != nil:
		pl.lg.Error("run aborted", zap.Error(err), zap.Int("serviced", final.Serviced))
		return rr, err
	case rr.Interrupted:
		pl.lg.Warn("run interrupted", zap.Int("flushed", final.Flushed), zap.Int("serviced", final.Serviced))
		return rr, ErrShutdown
	}
	pl.lg.Info("run complete", zap.Int("submitted", final.Submitted), zap.Int("dropped", final.Dropped),
		zap.Int("serviced", final.Serviced), zap.Float64("simseconds", simSecs))
	return rr, nil
}

// produce offers every packet of the workload, pausing the drawn gap after
// each, and always finishes by pushing the end-of-stream marker
func (pl *Pipeline) produce(ctx context.Context, sink StatsSink) error {
	queue := pl.parts.queue
	defer queue.Enqueue(EndOfStream())

	for idx, spec := range pl.wl.Specs {
		if ctx.Err() != nil {
			pl.interrupted.Store(true)
			return nil
		}
		p := createPacket(spec.ID, spec.Size, pl.clock.Now())
		sink.OnGenerated(*p)

		verdict, pc := queue.Offer(Data(p))
		if verdict.Accepted() {
			sink.OnEnqueued(pc)
		} else {
			sink.OnDropped(pc, dropReasonOf(verdict))
		}

		if idx == pl.wl.Len()-1 {
			break
		}
		if err := pl.clock.Sleep(ctx, pl.wl.gap(idx)); err != nil {
			pl.interrupted.Store(true)
			return nil
		}
	}
	return nil
}

// consume takes packets off the queue until the end-of-stream marker, putting
// each across the link and through service
func (pl *Pipeline) consume(ctx context.Context, sink StatsSink) error {
	queue := pl.parts.queue

	if err := pl.clock.Sleep(ctx, pl.startDelay); err != nil {
		pl.reportShutdown(nil, sink)
		return nil
	}

	for {
		it, err := queue.DequeueBlocking(ctx)
		if err != nil {
			pl.reportShutdown(nil, sink)
			return nil
		}
		if it.IsEndOfStream() {
			return nil
		}

		p := it.Packet
		now := pl.clock.Now()
		p.DeliveryTime = pl.parts.link.Transmit(p, now)
		if err := pl.clock.Sleep(ctx, p.DeliveryTime-now); err != nil {
			pl.reportShutdown(p, sink)
			return nil
		}

		done, serr := queue.Service(p, pl.clock.Now())
		if serr != nil {
			return serr
		}
		// service is under way; a shutdown now still lets the packet complete
		serr = pl.clock.Sleep(ctx, done.CompletionTime-pl.clock.Now())
		sink.OnServiced(done)
		if serr != nil {
			pl.reportShutdown(nil, sink)
			return nil
		}
	}
}

// reportShutdown abandons the in-flight packet, if any, flushes the queue,
// and reports all of them as dropped
func (pl *Pipeline) reportShutdown(inflight *Packet, sink StatsSink) {
	pl.interrupted.Store(true)
	queue := pl.parts.queue
	if inflight != nil && queue.Abandon(inflight) {
		sink.OnDropped(*inflight, ShutdownDrop)
	}
	for _, p := range queue.Flush() {
		sink.OnDropped(p, ShutdownDrop)
	}
}

// sample reads a snapshot every sample interval until the consumer is done
func (pl *Pipeline) sample(ctx context.Context, sink StatsSink, consumerDone <-chan struct{}) error {
	ticker := time.NewTicker(max(pl.clock.realDuration(pl.sampleInterval), time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-consumerDone:
			return nil
		case <-ticker.C:
			sink.OnSnapshot(pl.clock.Now(), pl.parts.queue.Snapshot())
		}
	}
}
