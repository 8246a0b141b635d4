package aqmsim

// report.go condenses a finished run into a RunReport, and the runs of an
// experiment into an ExperimentReport that can be written out as YAML or JSON

import (
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"
)

// RunReport is the outcome of one run of the pipeline
type RunReport struct {
	RunID  string `json:"runid" yaml:"runid"`
	Policy string `json:"policy" yaml:"policy"`
	Engine string `json:"engine" yaml:"engine"`

	Submitted  int `json:"submitted" yaml:"submitted"`
	Enqueued   int `json:"enqueued" yaml:"enqueued"`
	Dropped    int `json:"dropped" yaml:"dropped"`
	DroppedAQM int `json:"droppedaqm" yaml:"droppedaqm"`
	Flushed    int `json:"flushed" yaml:"flushed"`
	Serviced   int `json:"serviced" yaml:"serviced"`

	AvgServiceTime   float64 `json:"avgservicetime" yaml:"avgservicetime"`
	AvgQueueingDelay float64 `json:"avgqueueingdelay" yaml:"avgqueueingdelay"`
	StdQueueingDelay float64 `json:"stdqueueingdelay" yaml:"stdqueueingdelay"`
	P95QueueingDelay float64 `json:"p95queueingdelay" yaml:"p95queueingdelay"`
	MaxQueueLength   int     `json:"maxqueuelength" yaml:"maxqueuelength"`
	Throughput       float64 `json:"throughput" yaml:"throughput"` // serviced packets per simulated second
	Goodput          float64 `json:"goodput" yaml:"goodput"`       // serviced bytes per simulated second

	FinalDropProbability float64 `json:"finaldropprob" yaml:"finaldropprob"`
	SimSeconds           float64 `json:"simseconds" yaml:"simseconds"`
	WallSeconds          float64 `json:"wallseconds" yaml:"wallseconds"`
	Interrupted          bool    `json:"interrupted" yaml:"interrupted"`
	LostSinkEvents       int64   `json:"lostsinkevents" yaml:"lostsinkevents"`

	Final Snapshot `json:"final" yaml:"final"`
}

// delayStats gives the mean, standard deviation and 95th percentile of the delays
func delayStats(delays []float64) (mean, std, p95 float64) {
	if len(delays) == 0 {
		return 0.0, 0.0, 0.0
	}
	sorted := slices.Clone(delays)
	slices.Sort(sorted)
	mean = stat.Mean(sorted, nil)
	if len(sorted) > 1 {
		std = stat.StdDev(sorted, nil)
	}
	p95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return mean, std, p95
}

// buildRunReport assembles the report of a run from the queue's final
// snapshot and what the recorder collected
func buildRunReport(engine string, final Snapshot, rec *Recorder, simSecs, wallSecs float64, interrupted bool) RunReport {
	rr := RunReport{RunID: uuid.NewString(), Policy: final.Policy, Engine: engine,
		Submitted: final.Submitted, Enqueued: final.Enqueued, Dropped: final.Dropped,
		DroppedAQM: final.DroppedAQM, Flushed: final.Flushed, Serviced: final.Serviced,
		AvgServiceTime: final.AvgServiceTime, FinalDropProbability: final.State.DropProbability,
		SimSeconds: simSecs, WallSeconds: wallSecs, Interrupted: interrupted, Final: final}

	rr.AvgQueueingDelay, rr.StdQueueingDelay, rr.P95QueueingDelay = delayStats(rec.QueueingDelays())
	rr.MaxQueueLength = max(final.MaxLength, rec.MaxSampledLength())

	if simSecs > 0.0 {
		bytes := 0
		for _, p := range rec.Serviced() {
			bytes += p.Size
		}
		rr.Throughput = float64(final.Serviced) / simSecs
		rr.Goodput = float64(bytes) / simSecs
	}
	return rr
}

// DropRate is the fraction of submitted packets that did not complete service
func (rr *RunReport) DropRate() float64 {
	if rr.Submitted == 0 {
		return 0.0
	}
	return float64(rr.Dropped) / float64(rr.Submitted)
}

// WriteSummary prints the final statistics of the run
func (rr *RunReport) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "=== %s (%s engine) ===\n", rr.Policy, rr.Engine)
	fmt.Fprintf(w, "packets submitted:      %d\n", rr.Submitted)
	fmt.Fprintf(w, "packets enqueued:       %d\n", rr.Enqueued)
	fmt.Fprintf(w, "packets dropped:        %d (aqm %d, shutdown %d, %.2f%%)\n",
		rr.Dropped, rr.DroppedAQM, rr.Flushed, 100.0*rr.DropRate())
	fmt.Fprintf(w, "packets serviced:       %d\n", rr.Serviced)
	fmt.Fprintf(w, "avg service time:       %.6f s\n", rr.AvgServiceTime)
	fmt.Fprintf(w, "avg queueing delay:     %.6f s (std %.6f, p95 %.6f)\n",
		rr.AvgQueueingDelay, rr.StdQueueingDelay, rr.P95QueueingDelay)
	fmt.Fprintf(w, "max queue length:       %d\n", rr.MaxQueueLength)
	fmt.Fprintf(w, "throughput:             %.3f pkts/s, %.1f B/s\n", rr.Throughput, rr.Goodput)
	if rr.Policy == PIEKind.String() {
		fmt.Fprintf(w, "final drop probability: %.4f\n", rr.FinalDropProbability)
	}
	fmt.Fprintf(w, "elapsed:                %.3f s simulated, %.3f s wall\n", rr.SimSeconds, rr.WallSeconds)
	if rr.Interrupted {
		fmt.Fprintln(w, "run was interrupted")
	}
}

// ExperimentReport gathers the reports of every run of an experiment
type ExperimentReport struct {
	Name       string               `json:"name" yaml:"name"`
	Parameters ExpDesc              `json:"parameters" yaml:"parameters"`
	Estimate   LoadEstimate         `json:"estimate" yaml:"estimate"`
	Order      []string             `json:"order" yaml:"order"`
	Results    map[string]RunReport `json:"results" yaml:"results"`
}

// createExperimentReport is a constructor
func createExperimentReport(xd *ExpDesc, est LoadEstimate) *ExperimentReport {
	return &ExperimentReport{Name: xd.Name, Parameters: *xd, Estimate: est, Order: make([]string, 0),
		Results: make(map[string]RunReport)}
}

// WriteEstimate prints the offered load and the delays queueing theory predicts for it
func (er *ExperimentReport) WriteEstimate(w io.Writer) {
	est := er.Estimate
	if est.Burst {
		fmt.Fprintln(w, "offered load:           every packet at once, no finite arrival rate")
		fmt.Fprintln(w, "unbounded-queue model:  unstable, the queue grows without limit")
		return
	}
	fmt.Fprintf(w, "offered load:           %.3f pkts/s, %.6f s demand each, utilization %.3f\n",
		est.ArrivalRate, est.MeanDemand, est.Utilization)
	if !est.Stable() {
		fmt.Fprintln(w, "unbounded-queue model:  unstable, the queue grows without limit")
		return
	}
	fmt.Fprintf(w, "unbounded-queue model:  wait %.6f s (M/M/1), %.6f s (M/D/1), %.6f s (M/G/1)\n",
		est.MM1Wait, est.MD1Wait, est.MG1Wait)
}

// AddRun saves a run's report under its policy name
func (er *ExperimentReport) AddRun(rr RunReport) {
	if _, present := er.Results[rr.Policy]; !present {
		er.Order = append(er.Order, rr.Policy)
	}
	er.Results[rr.Policy] = rr
}

// Best names the policy with the smallest average queueing delay among runs
// that serviced something
func (er *ExperimentReport) Best() string {
	best := ""
	bestDelay := math.Inf(1)
	for _, name := range er.Order {
		rr := er.Results[name]
		if rr.Serviced > 0 && rr.AvgQueueingDelay < bestDelay {
			best = name
			bestDelay = rr.AvgQueueingDelay
		}
	}
	return best
}

// WriteToFile stores the ExperimentReport to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (er *ExperimentReport) WriteToFile(filename string) error {
	return writeSerialized(filename, *er)
}
