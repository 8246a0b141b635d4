package aqmsim

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDelayStats(t *testing.T) {
	mean, std, p95 := delayStats([]float64{4, 1, 3, 2})
	assert.InDelta(t, 2.5, mean, 1e-12)
	assert.InDelta(t, 1.2909944, std, 1e-6)
	assert.Equal(t, 4.0, p95)

	mean, std, p95 = delayStats([]float64{0.3})
	assert.Equal(t, 0.3, mean)
	assert.Equal(t, 0.0, std)
	assert.Equal(t, 0.3, p95)

	mean, std, p95 = delayStats(nil)
	assert.Zero(t, mean+std+p95)
}

func TestBuildRunReport(t *testing.T) {
	rec := NewRecorder()
	for idx, delay := range []float64{0.1, 0.3} {
		p := *createPacket(idx+1, 500, 0)
		p.ServiceStartTime = delay
		rec.OnServiced(p)
	}
	rec.OnSnapshot(0.5, Snapshot{Length: 9})
	final := Snapshot{Policy: "PIE", Capacity: 10, Submitted: 3, Enqueued: 2, Dropped: 1, DroppedAQM: 1,
		Serviced: 2, MaxLength: 4, State: PolicyState{DropProbability: 0.2}}

	rr := buildRunReport(VirtualEngine, final, rec, 2.0, 0.01, false)
	assert.NotEmpty(t, rr.RunID)
	assert.Equal(t, "PIE", rr.Policy)
	assert.InDelta(t, 0.2, rr.AvgQueueingDelay, 1e-12)
	assert.Equal(t, 9, rr.MaxQueueLength, "largest of the sampled and the tracked length")
	assert.Equal(t, 1.0, rr.Throughput)
	assert.Equal(t, 500.0, rr.Goodput)
	assert.Equal(t, 0.2, rr.FinalDropProbability)
	assert.InDelta(t, 1.0/3.0, rr.DropRate(), 1e-12)

	other := buildRunReport(VirtualEngine, final, rec, 2.0, 0.01, false)
	assert.NotEqual(t, rr.RunID, other.RunID)

	var buf bytes.Buffer
	rr.WriteSummary(&buf)
	assert.Contains(t, buf.String(), "=== PIE (virtual engine) ===")
	assert.Contains(t, buf.String(), "final drop probability: 0.2000")
	assert.NotContains(t, buf.String(), "interrupted")
}

func TestExperimentReport(t *testing.T) {
	xd := testDesc()
	er := createExperimentReport(xd, LoadEstimate{Utilization: 0.5})
	er.AddRun(RunReport{Policy: "FIFO", Serviced: 5, AvgQueueingDelay: 0.4})
	er.AddRun(RunReport{Policy: "CODEL", Serviced: 5, AvgQueueingDelay: 0.1})
	er.AddRun(RunReport{Policy: "PIE", Serviced: 0})
	assert.Equal(t, []string{"FIFO", "CODEL", "PIE"}, er.Order)
	assert.Equal(t, "CODEL", er.Best())

	// a second report for a policy replaces the first, keeping its place
	er.AddRun(RunReport{Policy: "FIFO", Serviced: 5, AvgQueueingDelay: 0.01})
	assert.Equal(t, []string{"FIFO", "CODEL", "PIE"}, er.Order)
	assert.Equal(t, "FIFO", er.Best())

	filename := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, er.WriteToFile(filename))
	raw, err := os.ReadFile(filename)
	require.NoError(t, err)
	var back ExperimentReport
	require.NoError(t, yaml.Unmarshal(raw, &back))
	assert.Equal(t, er.Order, back.Order)
	assert.Equal(t, "test", back.Parameters.Name)
	assert.Equal(t, 0.01, back.Results["FIFO"].AvgQueueingDelay)
}
