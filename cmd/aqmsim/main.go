// aqmsim runs the single-link queue simulator under one admission policy, or
// compares FIFO, CoDel and PIE over the same packet stream
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iti/aqmsim"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "aqmsim",
	Short: "aqmsim: single-link AQM queueing simulator",
	Long: `aqmsim drives a bounded packet queue, guarded by a FIFO, CoDel or PIE
admission policy, with a producer and a consumer across a modeled link, and
reports what was dropped and how long packets waited.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the experiment under the configured policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return execute(cmd, false)
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Run the experiment under each policy in turn and compare them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return execute(cmd, true)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aqmsim %s\n", Version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "experiment description (.yaml or .json)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-file", "", "write the log to this file, rotated")
	pf.String("engine", "", "virtual or realtime")
	pf.String("policy", "", "FIFO, CODEL or PIE")
	pf.Int("capacity", 0, "queue capacity in packets")
	pf.Float64("service-rate", 0, "consumer service rate, bytes/sec")
	pf.Float64("interval", 0, "mean seconds between generated packets")
	pf.Float64("start-delay", 0, "seconds before the consumer starts")
	pf.Float64("horizon", 0, "stop a run after this many simulated seconds")
	pf.Float64("time-scale", 0, "simulated seconds per real second, realtime engine")
	pf.String("source", "", "packet source file (.csv, .yaml or .json)")
	pf.String("metrics-listen", "", "serve Prometheus metrics on this address")
	pf.String("report", "", "write the experiment report to this file")
	pf.String("trace", "", "write packet traces to this file")

	rootCmd.AddCommand(runCmd, compareCmd, versionCmd)
}

// loadDesc reads the description named by --config, or takes the defaults,
// then applies any flags given explicitly
func loadDesc(cmd *cobra.Command) (*aqmsim.ExpDesc, error) {
	xd := aqmsim.DefaultExpDesc()
	if len(cfgFile) > 0 {
		var err error
		xd, err = aqmsim.ReadExpDescFile(cfgFile)
		if err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		xd.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-file") {
		xd.Log.File, _ = flags.GetString("log-file")
	}
	if flags.Changed("engine") {
		xd.Engine, _ = flags.GetString("engine")
	}
	if flags.Changed("policy") {
		xd.Policy.Kind, _ = flags.GetString("policy")
	}
	if flags.Changed("capacity") {
		xd.Queue.Capacity, _ = flags.GetInt("capacity")
	}
	if flags.Changed("service-rate") {
		xd.Queue.ServiceRate, _ = flags.GetFloat64("service-rate")
	}
	if flags.Changed("interval") {
		xd.Producer.Interval, _ = flags.GetFloat64("interval")
	}
	if flags.Changed("start-delay") {
		xd.Consumer.StartDelay, _ = flags.GetFloat64("start-delay")
	}
	if flags.Changed("horizon") {
		xd.Horizon, _ = flags.GetFloat64("horizon")
	}
	if flags.Changed("time-scale") {
		xd.TimeScale, _ = flags.GetFloat64("time-scale")
	}
	if flags.Changed("source") {
		path, _ := flags.GetString("source")
		xd.Source = aqmsim.SourceDesc{Path: path}
	}
	if flags.Changed("metrics-listen") {
		xd.Metrics.Listen, _ = flags.GetString("metrics-listen")
	}
	if flags.Changed("report") {
		xd.Report.File, _ = flags.GetString("report")
	}
	if flags.Changed("trace") {
		xd.Trace.File, _ = flags.GetString("trace")
	}
	return xd, nil
}

func execute(cmd *cobra.Command, compare bool) error {
	xd, err := loadDesc(cmd)
	if err != nil {
		return err
	}
	lg, err := aqmsim.NewLogger(xd.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer lg.Sync()

	exp, err := aqmsim.BuildExperiment(xd, lg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(xd.Metrics.Listen) > 0 {
		m := aqmsim.NewMetrics()
		exp.AttachMetrics(m)
		srvCtx, stopSrv := context.WithCancel(context.Background())
		defer stopSrv()
		go func() {
			if serr := m.Serve(srvCtx, xd.Metrics.Listen, lg); serr != nil {
				lg.Error("metrics server failed", zap.Error(serr))
			}
		}()
	}

	var er *aqmsim.ExperimentReport
	if compare {
		er, err = exp.Compare(ctx)
	} else {
		er, err = exp.RunConfigured(ctx)
	}

	if er != nil {
		er.WriteEstimate(os.Stdout)
		fmt.Println()
		for _, name := range er.Order {
			rr := er.Results[name]
			rr.WriteSummary(os.Stdout)
			fmt.Println()
		}
		if compare && len(er.Order) > 1 {
			fmt.Printf("lowest average queueing delay: %s\n", er.Best())
		}
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, aqmsim.ErrShutdown):
		lg.Warn("stopped before the packet source was exhausted")
		return nil
	case aqmsim.IsInvariantError(err):
		return errors.Wrap(err, "simulation aborted")
	}
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
