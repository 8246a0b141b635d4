package aqmsim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func realtimeDesc() *ExpDesc {
	xd := testDesc()
	xd.Engine = RealtimeEngine
	xd.TimeScale = 10.0
	xd.SampleInterval = 0.01
	xd.Queue = QueueDesc{Capacity: 50, ServiceRate: 1e6}
	xd.Link = LinkDesc{Bandwidth: 1e6, Latency: 0.001}
	xd.Producer = ProducerDesc{Interval: 0.02, Distribution: ConstantDist}
	return xd
}

func sequentialSpecs(n, size int) []PacketSpec {
	specs := make([]PacketSpec, n)
	for idx := range specs {
		specs[idx] = PacketSpec{ID: idx + 1, Size: size}
	}
	return specs
}

func TestPipelineRunsToCompletion(t *testing.T) {
	xd := realtimeDesc()
	cs := &collectSink{}
	pl, err := NewPipeline(xd, FIFOKind, NewWorkload(sequentialSpecs(10, 100), xd.Producer, "rt"), cs, nil)
	require.NoError(t, err)

	rr, err := pl.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, rr.Interrupted)
	assert.Equal(t, RealtimeEngine, rr.Engine)
	assert.Equal(t, 10, rr.Submitted)
	assert.Equal(t, 10, rr.Serviced)
	assert.Equal(t, 0, rr.Dropped)
	assert.True(t, rr.Final.Drained())
	assertAccounting(t, rr)

	// the async sink has delivered everything once Run returns
	cs.mu.Lock()
	defer cs.mu.Unlock()
	assert.Len(t, cs.generated, 10)
	require.Len(t, cs.serviced, 10)
	for idx, p := range cs.serviced {
		assert.Equal(t, idx+1, p.ID, "completion order")
		assert.GreaterOrEqual(t, p.ServiceStartTime, p.DeliveryTime)
		assert.GreaterOrEqual(t, p.QueueingDelay(), 0.0)
	}
	assert.NotEmpty(t, cs.snapshots)
}

func TestPipelineCancelFlushesQueue(t *testing.T) {
	xd := realtimeDesc()
	xd.TimeScale = 1.0
	xd.Producer.Interval = 0.005
	xd.Consumer.StartDelay = 60.0

	cs := &collectSink{}
	pl, err := NewPipeline(xd, CoDelKind, NewWorkload(sequentialSpecs(5, 100), xd.Producer, "rt-cancel"), cs, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	start := time.Now()
	rr, err := pl.Run(ctx)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must wake the consumer")

	assert.ErrorIs(t, err, ErrShutdown)
	assert.True(t, rr.Interrupted)
	assert.Equal(t, 5, rr.Submitted)
	assert.Equal(t, 5, rr.Flushed)
	assert.Equal(t, 0, rr.Serviced)
	assert.Equal(t, 0, pl.Queue().Len())
	assert.True(t, rr.Final.Drained())
	assert.Equal(t, 5, cs.countReason(ShutdownDrop))
	assertAccounting(t, rr)
}

func TestPipelineHorizon(t *testing.T) {
	xd := realtimeDesc()
	xd.TimeScale = 1.0
	xd.Horizon = 0.05
	xd.Consumer.StartDelay = 30.0

	pl, err := NewPipeline(xd, FIFOKind, NewWorkload(sequentialSpecs(100, 100), xd.Producer, "rt-horizon"), nil, nil)
	require.NoError(t, err)
	rr, err := pl.Run(context.Background())
	assert.ErrorIs(t, err, ErrShutdown)
	assert.True(t, rr.Interrupted)
	assert.Less(t, rr.Submitted, 100)
	assert.Equal(t, 0, pl.Queue().Len())
	assertAccounting(t, rr)
}

func TestPipelineOnlyOnce(t *testing.T) {
	xd := realtimeDesc()
	pl, err := NewPipeline(xd, PIEKind, NewWorkload(sequentialSpecs(2, 10), xd.Producer, "rt-once"), nil, nil)
	require.NoError(t, err)
	_, err = pl.Run(context.Background())
	require.NoError(t, err)
	_, err = pl.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestPipelineEmptyWorkload(t *testing.T) {
	xd := realtimeDesc()
	pl, err := NewPipeline(xd, FIFOKind, NewWorkload(nil, xd.Producer, "rt-empty"), nil, nil)
	require.NoError(t, err)
	rr, err := pl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rr.Submitted)
	assert.Equal(t, 0.0, rr.AvgQueueingDelay)
}

func TestNewPipelineRejectsBadParts(t *testing.T) {
	xd := realtimeDesc()
	xd.Queue.Capacity = 0
	xd.Link.Bandwidth = 0
	_, err := NewPipeline(xd, FIFOKind, Workload{}, nil, nil)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.Problems, 2)
}
