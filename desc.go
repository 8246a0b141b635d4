package aqmsim

// desc.go has the serializable description of an experiment: the queue, the
// admission policy and its constants, the link, the producer's pacing, where
// packets come from, and the ambient settings (logging, metrics, trace and
// report files).  A description is read from YAML or JSON, completed with
// defaults, validated once, and never changed while a run uses it.

import (
	"encoding/json"
	"math"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

const (
	VirtualEngine  = "virtual"
	RealtimeEngine = "realtime"
)

const (
	ConstantDist    = "constant"
	ExponentialDist = "exponential"
)

// QueueDesc describes the bounded queue
type QueueDesc struct {
	Capacity    int     `json:"capacity" yaml:"capacity"`
	ServiceRate float64 `json:"service_rate" yaml:"service_rate"` // bytes/sec
}

// PolicyDesc selects an admission policy and carries its tunable constants.
// A zero constant takes the policy's default.  The PIE gains are pointers
// because zero is a meaningful gain; nil takes the default
type PolicyDesc struct {
	Kind           string   `json:"kind" yaml:"kind"`
	TargetDelay    float64  `json:"target_delay" yaml:"target_delay"`
	Interval       float64  `json:"interval" yaml:"interval"`               // CoDel
	UpdateInterval float64  `json:"update_interval" yaml:"update_interval"` // PIE
	Alpha          *float64 `json:"alpha,omitempty" yaml:"alpha,omitempty"`
	Beta           *float64 `json:"beta,omitempty" yaml:"beta,omitempty"`
	QueueWeight    float64  `json:"queue_weight" yaml:"queue_weight"`
	LowWater       float64  `json:"low_water" yaml:"low_water"`
	Saturation     float64  `json:"saturation" yaml:"saturation"`
}

// Gain wraps a controller gain for a PolicyDesc
func Gain(v float64) *float64 {
	return &v
}

// LinkDesc describes the link between queue and consumer
type LinkDesc struct {
	Bandwidth float64 `json:"bandwidth" yaml:"bandwidth"` // bytes/sec
	Latency   float64 `json:"latency" yaml:"latency"`     // seconds
}

// ProducerDesc gives the pacing of packet generation
type ProducerDesc struct {
	Interval     float64 `json:"interval" yaml:"interval"`         // mean seconds between packets
	Distribution string  `json:"distribution" yaml:"distribution"` // constant or exponential
}

// ConsumerDesc lets the consumer start late, so a backlog builds up
type ConsumerDesc struct {
	StartDelay float64 `json:"start_delay" yaml:"start_delay"`
}

// SyntheticDesc asks for Count packets from each host type of the synthetic mix
type SyntheticDesc struct {
	Count int `json:"count" yaml:"count"`
}

// SourceDesc names where packets come from: a file, or the synthetic mix
type SourceDesc struct {
	Path      string         `json:"path,omitempty" yaml:"path,omitempty"`
	Synthetic *SyntheticDesc `json:"synthetic,omitempty" yaml:"synthetic,omitempty"`
}

// LogDesc configures logging.  A non-empty File sends log output to a rotated file
type LogDesc struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty"`
}

// MetricsDesc enables the Prometheus endpoint when Listen is set
type MetricsDesc struct {
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// FileDesc names an output file; empty means no output
type FileDesc struct {
	File string `json:"file,omitempty" yaml:"file,omitempty"`
}

// ExpDesc is the complete description of an experiment
type ExpDesc struct {
	Name           string  `json:"name" yaml:"name"`
	Engine         string  `json:"engine" yaml:"engine"`
	TimeScale      float64 `json:"time_scale" yaml:"time_scale"` // simulated seconds per real second, realtime engine only
	Horizon        float64 `json:"horizon" yaml:"horizon"`       // simulated seconds after which a run is stopped, 0 for none
	SampleInterval float64 `json:"sample_interval" yaml:"sample_interval"`

	Queue    QueueDesc    `json:"queue" yaml:"queue"`
	Policy   PolicyDesc   `json:"policy" yaml:"policy"`
	Link     LinkDesc     `json:"link" yaml:"link"`
	Producer ProducerDesc `json:"producer" yaml:"producer"`
	Consumer ConsumerDesc `json:"consumer" yaml:"consumer"`
	Source   SourceDesc   `json:"source" yaml:"source"`

	Log     LogDesc     `json:"log" yaml:"log"`
	Metrics MetricsDesc `json:"metrics" yaml:"metrics"`
	Trace   FileDesc    `json:"trace" yaml:"trace"`
	Report  FileDesc    `json:"report" yaml:"report"`

	// policies run, in order, by a comparison
	Compare []string `json:"compare,omitempty" yaml:"compare,omitempty"`
}

// DefaultExpDesc is a constructor giving a description every field of which is usable
func DefaultExpDesc() *ExpDesc {
	xd := new(ExpDesc)
	xd.Name = "aqm"
	xd.Engine = VirtualEngine
	xd.TimeScale = 1.0
	xd.SampleInterval = 0.1
	xd.Queue = QueueDesc{Capacity: 500, ServiceRate: 200000}
	xd.Policy = PolicyDesc{Kind: "PIE"}
	xd.Link = LinkDesc{Bandwidth: 100000, Latency: 0.1}
	xd.Producer = ProducerDesc{Interval: 0.02, Distribution: ConstantDist}
	xd.Source = SourceDesc{Synthetic: &SyntheticDesc{Count: 10}}
	xd.Log = LogDesc{Level: "info", MaxSizeMB: 10, MaxBackups: 3}
	xd.Compare = []string{"FIFO", "CODEL", "PIE"}
	return xd
}

// ReadExpDesc deserializes a byte slice holding a representation of an ExpDesc.
// If dict is empty the file whose name is given is read to acquire the bytes.
// Fields absent from the representation keep their defaults.
func ReadExpDesc(filename string, useYAML bool, dict []byte) (*ExpDesc, error) {
	var err error

	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, &ConfigError{Problems: []string{errors.Wrap(err, "reading experiment description").Error()}}
		}
	}

	xd := DefaultExpDesc()
	// an explicit source replaces the default one rather than merging with it
	xd.Source = SourceDesc{}

	if useYAML {
		err = yaml.Unmarshal(dict, xd)
	} else {
		err = json.Unmarshal(dict, xd)
	}
	if err != nil {
		return nil, configErrorf("parsing experiment description %s: %v", filename, err)
	}

	if len(xd.Source.Path) == 0 && xd.Source.Synthetic == nil {
		xd.Source.Synthetic = &SyntheticDesc{Count: 10}
	}
	return xd, nil
}

// ReadExpDescFile reads a description, choosing the format from the file extension
func ReadExpDescFile(filename string) (*ExpDesc, error) {
	return ReadExpDesc(filename, isYAMLFile(filename), nil)
}

// WriteToFile stores the ExpDesc to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (xd *ExpDesc) WriteToFile(filename string) error {
	return writeSerialized(filename, *xd)
}

// Validate checks every field, gathering all problems into one ConfigError
func (xd *ExpDesc) Validate() error {
	errs := []error{}
	positive := func(name string, v float64) {
		if !(v > 0.0) || math.IsInf(v, 1) {
			errs = append(errs, configErrorf("%s must be positive and finite, got %g", name, v))
		}
	}
	nonNegative := func(name string, v float64) {
		if v < 0.0 || math.IsNaN(v) || math.IsInf(v, 1) {
			errs = append(errs, configErrorf("%s must not be negative, got %g", name, v))
		}
	}

	if !slices.Contains([]string{VirtualEngine, RealtimeEngine}, xd.Engine) {
		errs = append(errs, configErrorf("engine must be %s or %s, got %q", VirtualEngine, RealtimeEngine, xd.Engine))
	}
	positive("time_scale", xd.TimeScale)
	nonNegative("horizon", xd.Horizon)
	positive("sample_interval", xd.SampleInterval)

	if xd.Queue.Capacity <= 0 {
		errs = append(errs, configErrorf("queue capacity must be positive, got %d", xd.Queue.Capacity))
	}
	positive("queue service_rate", xd.Queue.ServiceRate)

	_, perr := ParsePolicyKind(xd.Policy.Kind)
	errs = append(errs, perr)
	nonNegative("policy target_delay", xd.Policy.TargetDelay)
	nonNegative("policy interval", xd.Policy.Interval)
	nonNegative("policy update_interval", xd.Policy.UpdateInterval)
	if xd.Policy.Alpha != nil {
		nonNegative("policy alpha", *xd.Policy.Alpha)
	}
	if xd.Policy.Beta != nil {
		nonNegative("policy beta", *xd.Policy.Beta)
	}
	nonNegative("policy queue_weight", xd.Policy.QueueWeight)
	if xd.Policy.LowWater < 0.0 || xd.Policy.LowWater > 1.0 {
		errs = append(errs, configErrorf("policy low_water must lie in [0,1], got %g", xd.Policy.LowWater))
	}
	if xd.Policy.Saturation < 0.0 || xd.Policy.Saturation > 1.0 {
		errs = append(errs, configErrorf("policy saturation must lie in [0,1], got %g", xd.Policy.Saturation))
	}

	positive("link bandwidth", xd.Link.Bandwidth)
	nonNegative("link latency", xd.Link.Latency)

	nonNegative("producer interval", xd.Producer.Interval)
	if _, present := distAliases[strings.ToLower(xd.Producer.Distribution)]; !present {
		errs = append(errs, configErrorf("producer distribution must be %s or %s, got %q",
			ConstantDist, ExponentialDist, xd.Producer.Distribution))
	}
	if xd.Producer.Interval == 0.0 && canonicalDist(xd.Producer.Distribution) == ExponentialDist {
		errs = append(errs, configErrorf("exponential producer distribution needs a positive interval"))
	}
	nonNegative("consumer start_delay", xd.Consumer.StartDelay)

	hasPath := len(xd.Source.Path) > 0
	hasSynth := xd.Source.Synthetic != nil
	switch {
	case hasPath && hasSynth:
		errs = append(errs, configErrorf("source names both a path and a synthetic mix"))
	case !hasPath && !hasSynth:
		errs = append(errs, configErrorf("source names neither a path nor a synthetic mix"))
	case hasSynth && xd.Source.Synthetic.Count <= 0:
		errs = append(errs, configErrorf("synthetic source count must be positive, got %d", xd.Source.Synthetic.Count))
	}

	if _, lerr := parseLevel(xd.Log.Level); lerr != nil {
		errs = append(errs, lerr)
	}

	for _, name := range xd.Compare {
		_, cerr := ParsePolicyKind(name)
		errs = append(errs, cerr)
	}

	return ReportErrs(errs)
}

// PolicyFor gives the policy description of the experiment with the kind replaced
func (xd *ExpDesc) PolicyFor(kind PolicyKind) PolicyDesc {
	pd := xd.Policy
	pd.Kind = kind.String()
	return pd
}

// CompareKinds lists the policies a comparison runs, all three when none are named
func (xd *ExpDesc) CompareKinds() []PolicyKind {
	if len(xd.Compare) == 0 {
		return slices.Clone(PolicyKinds)
	}
	kinds := make([]PolicyKind, 0, len(xd.Compare))
	for _, name := range xd.Compare {
		kind, err := ParsePolicyKind(name)
		if err != nil || slices.Contains(kinds, kind) {
			continue
		}
		kinds = append(kinds, kind)
	}
	return kinds
}

func isYAMLFile(filename string) bool {
	pathExt := path.Ext(filename)
	return pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml"
}

func isJSONFile(filename string) bool {
	pathExt := path.Ext(filename)
	return pathExt == ".json" || pathExt == ".JSON"
}

// writeSerialized stores obj to the file whose name is given, as json or yaml
// depending on the extension of the name
func writeSerialized(filename string, obj any) error {
	var bytes []byte
	var merr error

	switch {
	case isYAMLFile(filename):
		bytes, merr = yaml.Marshal(obj)
	case isJSONFile(filename):
		bytes, merr = json.MarshalIndent(obj, "", "\t")
	default:
		return errors.Errorf("cannot tell serialization format of %s, use .yaml or .json", filename)
	}
	if merr != nil {
		return errors.Wrapf(merr, "serializing to %s", filename)
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		return errors.Wrap(cerr, "creating output file")
	}
	_, werr := f.Write(bytes)
	if werr != nil {
		f.Close()
		return errors.Wrapf(werr, "writing %s", filename)
	}
	return errors.Wrapf(f.Close(), "closing %s", filename)
}
