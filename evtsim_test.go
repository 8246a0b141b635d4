package aqmsim

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertAccounting(t *testing.T, rr RunReport) {
	t.Helper()
	assert.Equal(t, rr.Submitted, rr.Enqueued+rr.Dropped-rr.Flushed, "submitted = enqueued + dropped")
	assert.Equal(t, rr.Enqueued, rr.Serviced+rr.Flushed, "enqueued = serviced")
	assert.LessOrEqual(t, rr.MaxQueueLength, rr.Final.Capacity)
}

// ten packets of 10..130 bytes every 20ms, against a fast consumer: the queue
// never gets near half full so PIE never drops
func TestEventRunPIEFastConsumer(t *testing.T) {
	xd := testDesc()
	xd.Queue = QueueDesc{Capacity: 500, ServiceRate: 200000}
	xd.Policy = PolicyDesc{Kind: "PIE", Alpha: Gain(0.01), Beta: Gain(0.05), TargetDelay: 0.05}
	xd.Producer = ProducerDesc{Interval: 0.02, Distribution: ConstantDist}
	xd.Source = SourceDesc{Path: "testdata/packets.csv"}

	exp, err := BuildExperiment(xd, nil)
	require.NoError(t, err)
	rr, err := exp.Run(context.Background(), PIEKind)
	require.NoError(t, err)

	assert.Equal(t, 10, rr.Submitted)
	assert.Equal(t, 0, rr.Dropped)
	assert.Equal(t, 10, rr.Serviced)
	assert.False(t, rr.Interrupted)
	assert.GreaterOrEqual(t, rr.FinalDropProbability, 0.0)
	assert.LessOrEqual(t, rr.FinalDropProbability, 1.0)
	assertAccounting(t, rr)
}

// the consumer starts 250ms late, so the head delay stays above target for
// more than a whole interval: one delay drop at the interval boundary, none after
func TestEventRunCoDelPausedConsumer(t *testing.T) {
	xd := testDesc()
	xd.Queue = QueueDesc{Capacity: 10, ServiceRate: 1e6}
	xd.Policy = PolicyDesc{Kind: "CODEL"}
	xd.Link = LinkDesc{Bandwidth: 1e6, Latency: 0.001}
	xd.Producer = ProducerDesc{Interval: 0.03, Distribution: ConstantDist}
	xd.Consumer.StartDelay = 0.25

	specs := make([]PacketSpec, 12)
	for idx := range specs {
		specs[idx] = PacketSpec{ID: idx + 1, Size: 100}
	}
	wl := NewWorkload(specs, xd.Producer, "codel-paused")

	cs := &collectSink{}
	er, err := newEventRun(xd, CoDelKind, wl, cs, nil)
	require.NoError(t, err)
	rr, err := er.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, rr.Submitted)
	assert.Equal(t, 1, rr.DroppedAQM)
	assert.Equal(t, 1, rr.Dropped)
	assert.Equal(t, 11, rr.Serviced)
	assertAccounting(t, rr)

	require.Len(t, cs.dropped, 1)
	assert.Equal(t, 9, cs.dropped[0].ID)
	assert.InDelta(t, 0.24, cs.dropped[0].ArrivalTime, 1e-6)
	assert.Equal(t, AQMDrop, cs.reasons[0])

	// strict FIFO completion order
	require.Len(t, cs.serviced, 11)
	for idx := 1; idx < len(cs.serviced); idx++ {
		assert.Less(t, cs.serviced[idx-1].ID, cs.serviced[idx].ID)
		assert.LessOrEqual(t, cs.serviced[idx-1].CompletionTime, cs.serviced[idx].ServiceStartTime)
	}

	// the first packet waited for the consumer
	first := cs.serviced[0]
	assert.InDelta(t, 0.25, first.DeliveryTime-xd.Link.Latency-0.0001, 1e-6)
	assert.InDelta(t, first.DeliveryTime, first.ServiceStartTime, 1e-6)
}

func TestEventRunCapacityDrops(t *testing.T) {
	xd := testDesc()
	xd.Queue = QueueDesc{Capacity: 1, ServiceRate: 1000}
	xd.Producer = ProducerDesc{Interval: 0.001}
	xd.Consumer.StartDelay = 1.0

	wl := NewWorkload([]PacketSpec{{ID: 1, Size: 10}, {ID: 2, Size: 20}}, xd.Producer, "cap1")
	er, err := newEventRun(xd, FIFOKind, wl, nil, nil)
	require.NoError(t, err)
	rr, err := er.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, rr.Submitted)
	assert.Equal(t, 1, rr.Enqueued)
	assert.Equal(t, 1, rr.Dropped)
	assert.Equal(t, 1, rr.Serviced)
	assertAccounting(t, rr)
}

func TestEventRunHorizonInterrupts(t *testing.T) {
	xd := testDesc()
	xd.Horizon = 0.1
	xd.Producer = ProducerDesc{Interval: 0.03}
	xd.Consumer.StartDelay = 0.5

	specs := make([]PacketSpec, 20)
	for idx := range specs {
		specs[idx] = PacketSpec{ID: idx + 1, Size: 100}
	}
	cs := &collectSink{}
	er, err := newEventRun(xd, FIFOKind, NewWorkload(specs, xd.Producer, "horizon"), cs, nil)
	require.NoError(t, err)

	rr, err := er.Run(context.Background())
	assert.ErrorIs(t, err, ErrShutdown)
	assert.True(t, rr.Interrupted)
	assert.Equal(t, 4, rr.Submitted)
	assert.Equal(t, 4, rr.Flushed)
	assert.Equal(t, 0, rr.Serviced)
	assert.Equal(t, 4, cs.countReason(ShutdownDrop))
	assert.True(t, rr.Final.Drained())
	assertAccounting(t, rr)
}

func TestEventRunCancelled(t *testing.T) {
	xd := testDesc()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exp, err := BuildExperiment(xd, nil)
	require.NoError(t, err)
	rr, err := exp.Run(ctx, CoDelKind)
	assert.ErrorIs(t, err, ErrShutdown)
	assert.True(t, rr.Interrupted)
	assert.Equal(t, 0, rr.Serviced)
	assertAccounting(t, rr)
}

func TestEventRunOnlyOnce(t *testing.T) {
	xd := testDesc()
	exp, err := BuildExperiment(xd, nil)
	require.NoError(t, err)
	runner, err := exp.NewRunner(FIFOKind)
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.NoError(t, err)
	_, err = runner.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestEventRunRepeats(t *testing.T) {
	xd := testDesc()
	xd.Queue.Capacity = 5
	xd.Producer.Interval = 0.005
	exp, err := BuildExperiment(xd, nil)
	require.NoError(t, err)

	first, err := exp.Run(context.Background(), CoDelKind)
	require.NoError(t, err)
	second, err := exp.Run(context.Background(), CoDelKind)
	require.NoError(t, err)

	assert.Equal(t, first.Final, second.Final)
	assert.Equal(t, first.AvgQueueingDelay, second.AvgQueueingDelay)
	assert.Greater(t, first.Dropped, 0, "a slow consumer on a short queue must drop")
	assertAccounting(t, first)
}

func TestCompareRunsEveryPolicy(t *testing.T) {
	xd, err := ReadExpDescFile("testdata/exp.yaml")
	require.NoError(t, err)
	xd.Report.File = t.TempDir() + "/report.json"
	xd.Trace.File = t.TempDir() + "/trace.yaml"

	exp, err := BuildExperiment(xd, nil)
	require.NoError(t, err)
	er, err := exp.Compare(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"FIFO", "CODEL", "PIE"}, er.Order)
	for _, name := range er.Order {
		rr := er.Results[name]
		assert.Equal(t, 10, rr.Submitted, name)
		assert.Equal(t, 10, rr.Serviced, name)
		assertAccounting(t, rr)
	}
	assert.FileExists(t, xd.Report.File)
	assert.NotNil(t, exp.Trace(CoDelKind))
	assert.Greater(t, exp.Trace(CoDelKind).Len(), 0)
}

func TestEventRunDefaultHorizonRunsToCompletion(t *testing.T) {
	xd := testDesc()
	require.Equal(t, 0.0, xd.Horizon)
	cs := &collectSink{}
	er, err := newEventRun(xd, FIFOKind, NewWorkload(sequentialSpecs(3, 100), xd.Producer, "unbounded"), cs, nil)
	require.NoError(t, err)

	rr, err := er.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, rr.Interrupted)
	assert.Equal(t, 3, rr.Submitted)
	assert.Equal(t, 3, rr.Serviced)

	// the run ends with the last completion, not at the event manager's limit
	require.Len(t, cs.serviced, 3)
	last := cs.serviced[2].CompletionTime
	assert.InDelta(t, last, rr.SimSeconds, 1e-6)
	assert.InDelta(t, 3.0/last, rr.Throughput, 1e-3)
}

// a horizon far past the end of the stream does not stretch the run
func TestEventRunEndsBeforeHorizon(t *testing.T) {
	xd := testDesc()
	xd.Horizon = 100.0
	cs := &collectSink{}
	er, err := newEventRun(xd, FIFOKind, NewWorkload(sequentialSpecs(3, 100), xd.Producer, "early"), cs, nil)
	require.NoError(t, err)

	rr, err := er.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, rr.Interrupted)
	require.Len(t, cs.serviced, 3)
	assert.InDelta(t, cs.serviced[2].CompletionTime, rr.SimSeconds, 1e-6)
	assert.Less(t, rr.SimSeconds, 1.0)
}

func TestExperimentConcurrentRuns(t *testing.T) {
	xd := testDesc()
	xd.Trace.File = t.TempDir() + "/trace.yaml"
	exp, err := BuildExperiment(xd, nil)
	require.NoError(t, err)

	kinds := []PolicyKind{FIFOKind, CoDelKind}
	reports := make([]RunReport, len(kinds))
	errs := make([]error, len(kinds))
	var wg sync.WaitGroup
	for idx, kind := range kinds {
		wg.Add(1)
		go func(idx int, kind PolicyKind) {
			defer wg.Done()
			reports[idx], errs[idx] = exp.Run(context.Background(), kind)
		}(idx, kind)
	}
	wg.Wait()

	for idx, kind := range kinds {
		require.NoError(t, errs[idx], kind.String())
		assert.Equal(t, kind.String(), reports[idx].Policy)
		assert.Equal(t, exp.Workload().Len(), reports[idx].Submitted)
		if assert.NotNil(t, exp.Trace(kind)) {
			assert.Greater(t, exp.Trace(kind).Len(), 0)
		}
	}
}
