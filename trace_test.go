package aqmsim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTraceManagerRecordsPacketEvents(t *testing.T) {
	tm := CreateTraceManager("trc", "CODEL", true)
	p := *createPacket(3, 120, 0.5)
	p.ArrivalTime = 0.5
	tm.OnGenerated(p)
	tm.OnEnqueued(p)
	tm.OnDropped(p, AQMDrop)
	tm.OnSnapshot(0.6, Snapshot{Length: 2, Dropped: 1})

	require.Len(t, tm.Traces[3], 3)
	assert.Equal(t, 3, tm.Len())
	assert.Len(t, tm.Samples, 1)
	assert.Equal(t, "sample", tm.Samples[0].TraceType)

	drop := tm.Traces[3][2]
	assert.Equal(t, "packet", drop.TraceType)
	var ptr PacketTrace
	require.NoError(t, yaml.Unmarshal([]byte(drop.TraceStr), &ptr))
	assert.Equal(t, "drop", ptr.Op)
	assert.Equal(t, "aqm", ptr.Reason)
	assert.Equal(t, 120, ptr.Size)
	assert.InDelta(t, 0.5, ptr.Time, 1e-6)
}

func TestTraceManagerInactive(t *testing.T) {
	tm := CreateTraceManager("trc", "FIFO", false)
	tm.OnGenerated(*createPacket(1, 10, 0))
	tm.OnSnapshot(0, Snapshot{})
	assert.Equal(t, 0, tm.Len())
	assert.Empty(t, tm.Samples)

	written, err := tm.WriteToFile(filepath.Join(t.TempDir(), "never.yaml"))
	require.NoError(t, err)
	assert.False(t, written)
}

func TestTraceManagerWriteToFile(t *testing.T) {
	tm := CreateTraceManager("trc", "PIE", true)
	tm.OnGenerated(*createPacket(1, 10, 0.25))

	filename := filepath.Join(t.TempDir(), "trace.json")
	written, err := tm.WriteToFile(filename)
	require.NoError(t, err)
	assert.True(t, written)

	bytes, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(bytes), `"expname"`)
	assert.Contains(t, string(bytes), `"PIE"`)

	_, err = tm.WriteToFile(filepath.Join(t.TempDir(), "trace.txt"))
	assert.Error(t, err)
}
