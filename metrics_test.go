package aqmsim

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scrape renders the registry the way a Prometheus server would read it
func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestMetricsSinkCounts(t *testing.T) {
	m := NewMetrics()
	ms := m.ForPolicy(CoDelKind)

	p := *createPacket(1, 100, 0)
	ms.OnGenerated(p)
	ms.OnGenerated(p)
	ms.OnEnqueued(p)
	ms.OnDropped(p, AQMDrop)
	p.ServiceStartTime = 0.02
	ms.OnServiced(p)
	ms.OnSnapshot(1.0, Snapshot{Length: 7, State: PolicyState{DropProbability: 0.25}})

	body := scrape(t, m)
	assert.Contains(t, body, `aqmsim_packets_total{event="generated",policy="CODEL"} 2`)
	assert.Contains(t, body, `aqmsim_packets_total{event="dropped",policy="CODEL"} 1`)
	assert.Contains(t, body, `aqmsim_drops_total{policy="CODEL",reason="aqm"} 1`)
	assert.Contains(t, body, `aqmsim_queue_length{policy="CODEL"} 7`)
	assert.Contains(t, body, `aqmsim_drop_probability{policy="CODEL"} 0.25`)
	assert.Contains(t, body, `aqmsim_queueing_delay_seconds_count{policy="CODEL"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestExperimentFeedsMetrics(t *testing.T) {
	xd := testDesc()
	xd.Producer.Interval = 0.5
	exp, err := BuildExperiment(xd, nil)
	require.NoError(t, err)
	m := NewMetrics()
	exp.AttachMetrics(m)

	rr, err := exp.Run(context.Background(), FIFOKind)
	require.NoError(t, err)
	// the synthetic mix draws count packets of each host type
	want := 3 * xd.Source.Synthetic.Count
	require.Equal(t, want, rr.Serviced)
	assert.Contains(t, scrape(t, m), fmt.Sprintf(`aqmsim_packets_total{event="serviced",policy="FIFO"} %d`, want))
}
