package aqmsim

// aqmsim.go has the code that builds an experiment from its description and
// runs it, under one admission policy or under each policy of a comparison

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Runner is a pipeline of either engine, ready to run once
type Runner interface {
	Run(ctx context.Context) (RunReport, error)
}

// Experiment is a validated description together with its resolved workload.
// The description and workload are not changed after the build; the traces
// runs leave behind are guarded by mu, so runs may go on concurrently
type Experiment struct {
	desc    *ExpDesc
	wl      Workload
	est     LoadEstimate
	lg      *zap.Logger
	metrics *Metrics

	mu sync.Mutex

	// traces of the runs, by policy, when a trace file is configured
	traces map[PolicyKind]*TraceManager

	// extra sinks every run reports to
	sinks []StatsSink
}

// BuildExperiment validates xd and loads its packet source.  Everything that
// can be wrong with a description is reported here, before any run starts
func BuildExperiment(xd *ExpDesc, lg *zap.Logger) (*Experiment, error) {
	if xd == nil {
		return nil, configErrorf("no experiment description")
	}
	if err := xd.Validate(); err != nil {
		return nil, err
	}
	specs, err := LoadSource(xd.Source)
	if err != nil {
		return nil, err
	}

	exp := new(Experiment)
	exp.desc = xd
	exp.lg = orNop(lg)
	exp.wl = NewWorkload(specs, xd.Producer, xd.Name+"-arrivals")
	exp.est = EstimateLoad(xd, exp.wl)
	exp.traces = make(map[PolicyKind]*TraceManager)
	exp.sinks = make([]StatsSink, 0)

	exp.lg.Info("experiment built", zap.String("name", xd.Name), zap.String("engine", xd.Engine),
		zap.Int("packets", exp.wl.Len()), zap.Float64("utilization", exp.est.Utilization))
	if !exp.est.Stable() {
		exp.lg.Warn("offered load exceeds what the consumer can serve", zap.Float64("utilization", exp.est.Utilization))
	}
	return exp, nil
}

// Desc is the description the experiment was built from
func (exp *Experiment) Desc() *ExpDesc {
	return exp.desc
}

// Workload is the packet sequence every run of the experiment uses
func (exp *Experiment) Workload() Workload {
	return exp.wl
}

// Estimate is the offered load of the experiment and its queueing-theory predictions
func (exp *Experiment) Estimate() LoadEstimate {
	return exp.est
}

// AttachMetrics makes every later run report to m
func (exp *Experiment) AttachMetrics(m *Metrics) {
	exp.mu.Lock()
	defer exp.mu.Unlock()
	exp.metrics = m
}

// AddSink makes every later run report to sink as well
func (exp *Experiment) AddSink(sink StatsSink) {
	exp.mu.Lock()
	defer exp.mu.Unlock()
	exp.sinks = append(exp.sinks, sink)
}

// Trace is the trace of the run under kind, nil when tracing is off or the policy has not run
func (exp *Experiment) Trace(kind PolicyKind) *TraceManager {
	exp.mu.Lock()
	defer exp.mu.Unlock()
	return exp.traces[kind]
}

// runSinks gathers the sinks a run under kind reports to
func (exp *Experiment) runSinks(kind PolicyKind) StatsSink {
	exp.mu.Lock()
	sinks := MultiSink{NewLogSink(exp.lg)}
	sinks = append(sinks, exp.sinks...)
	metrics := exp.metrics
	exp.mu.Unlock()
	if metrics != nil {
		sinks = append(sinks, metrics.ForPolicy(kind))
	}
	if len(exp.desc.Trace.File) > 0 {
		tm := CreateTraceManager(exp.desc.Name, kind.String(), true)
		exp.mu.Lock()
		exp.traces[kind] = tm
		exp.mu.Unlock()
		sinks = append(sinks, tm)
	}
	return sinks
}

// NewRunner builds a runner for kind on the experiment's engine
func (exp *Experiment) NewRunner(kind PolicyKind) (Runner, error) {
	sink := exp.runSinks(kind)
	if exp.desc.Engine == RealtimeEngine {
		pl, err := NewPipeline(exp.desc, kind, exp.wl, sink, exp.lg)
		if err != nil {
			return nil, err
		}
		return pl, nil
	}
	er, err := newEventRun(exp.desc, kind, exp.wl, sink, exp.lg)
	if err != nil {
		return nil, err
	}
	return er, nil
}

// Run runs the experiment once under kind.  An interrupted run returns its
// report with ErrShutdown
func (exp *Experiment) Run(ctx context.Context, kind PolicyKind) (RunReport, error) {
	return exp.runOnce(ctx, kind, false)
}

// runOnce runs under kind and writes the trace, its file name marked with the policy when tagged is set
func (exp *Experiment) runOnce(ctx context.Context, kind PolicyKind, tagged bool) (RunReport, error) {
	runner, err := exp.NewRunner(kind)
	if err != nil {
		return RunReport{}, err
	}
	rr, err := runner.Run(ctx)
	if werr := exp.writeTrace(kind, tagged); werr != nil && err == nil {
		err = werr
	}
	return rr, err
}

// RunConfigured runs the experiment under the policy its description selects,
// and writes the report file if one is named
func (exp *Experiment) RunConfigured(ctx context.Context) (*ExperimentReport, error) {
	kind, err := ParsePolicyKind(exp.desc.Policy.Kind)
	if err != nil {
		return nil, err
	}
	er := createExperimentReport(exp.desc, exp.est)
	rr, err := exp.Run(ctx, kind)
	er.AddRun(rr)
	if werr := exp.writeReport(er); werr != nil && err == nil {
		err = werr
	}
	return er, err
}

// Compare runs the experiment under each policy of the comparison in turn,
// over the same workload.  An interruption stops the comparison after the run
// it interrupted; that run's report is kept
func (exp *Experiment) Compare(ctx context.Context) (*ExperimentReport, error) {
	er := createExperimentReport(exp.desc, exp.est)
	var runErr error
	kinds := exp.desc.CompareKinds()
	for _, kind := range kinds {
		rr, err := exp.runOnce(ctx, kind, len(kinds) > 1)
		if err != nil && !errors.Is(err, ErrShutdown) && !IsInvariantError(err) {
			runErr = errors.Wrapf(err, "running %s", kind.String())
			break
		}
		er.AddRun(rr)
		if err != nil {
			runErr = err
			break
		}
	}
	if werr := exp.writeReport(er); werr != nil && runErr == nil {
		runErr = werr
	}
	exp.lg.Info("comparison done", zap.String("policies", strings.Join(er.Order, ",")),
		zap.String("lowest_delay", er.Best()))
	return er, runErr
}

// writeTrace stores the trace of the run under kind when tracing is on.  When
// tagged the policy name is added ahead of the file extension
func (exp *Experiment) writeTrace(kind PolicyKind, tagged bool) error {
	exp.mu.Lock()
	defer exp.mu.Unlock()
	tm := exp.traces[kind]
	if tm == nil {
		return nil
	}
	filename := exp.desc.Trace.File
	if tagged {
		filename = withSuffix(filename, strings.ToLower(kind.String()))
	}
	_, err := tm.WriteToFile(filename)
	return err
}

func (exp *Experiment) writeReport(er *ExperimentReport) error {
	if len(exp.desc.Report.File) == 0 {
		return nil
	}
	return er.WriteToFile(exp.desc.Report.File)
}

// withSuffix turns dir/name.ext into dir/name-suffix.ext
func withSuffix(filename, suffix string) string {
	dot := strings.LastIndex(filename, ".")
	if dot <= strings.LastIndex(filename, "/") {
		return filename + "-" + suffix
	}
	return filename[:dot] + "-" + suffix + filename[dot:]
}
