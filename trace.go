package aqmsim

import (
	"strconv"
	"sync"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// TraceRecordType distinguishes records of packet passage from queue samples
type TraceRecordType int

const (
	PacketType TraceRecordType = iota
	SampleType
)

var trtToStr map[TraceRecordType]string = map[TraceRecordType]string{PacketType: "packet", SampleType: "sample"}

func (trt TraceRecordType) String() string {
	return trtToStr[trt]
}

type TraceInst struct {
	TraceTime string `json:"tracetime" yaml:"tracetime"`
	TraceType string `json:"tracetype" yaml:"tracetype"`
	TraceStr  string `json:"tracestr" yaml:"tracestr"`
}

// TraceManager is a StatsSink that gathers a record of every packet event and
// every queue sample of a run, for post-run analysis
type TraceManager struct {
	mu sync.Mutex

	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// admission policy of the run traced
	Policy string `json:"policy" yaml:"policy"`

	// packet records, indexed by packet id
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`

	// queue samples, in time order
	Samples []TraceInst `json:"samples" yaml:"samples"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the activity of gathering a trace when we don't want it,
// while embedding calls to its methods everywhere we need them when it is
func CreateTraceManager(expName, policy string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.Policy = policy
	tm.Traces = make(map[int][]TraceInst)
	tm.Samples = make([]TraceInst, 0)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddTrace stores a record under the identifier of the packet it concerns
func (tm *TraceManager) AddTrace(vrt vrtime.Time, pcktID int, trace TraceInst) {
	if !tm.InUse {
		return
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.Traces[pcktID] = append(tm.Traces[pcktID], trace)
}

// WriteToFile stores the TraceManager to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
// Nothing is written by an inactive manager
func (tm *TraceManager) WriteToFile(filename string) (bool, error) {
	if !tm.InUse {
		return false, nil
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	err := writeSerialized(filename, tm)
	return err == nil, err
}

// Len is the number of packet records held
func (tm *TraceManager) Len() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	n := 0
	for _, trcs := range tm.Traces {
		n += len(trcs)
	}
	return n
}

// PacketTrace saves the passage of a packet through one stage of the pipeline
type PacketTrace struct {
	Time     float64 // time in float64
	Ticks    int64   // ticks variable of time
	Priority int64   // priority field of time-stamp
	PcktID   int     // packet identifier
	Size     int     // bytes
	Op       string  // "generate", "enqueue", "drop", "service"
	Reason   string  // for "drop", why
	Delay    float64 // for "service", the queueing delay
}

func (ptr *PacketTrace) TraceType() TraceRecordType {
	return PacketType
}

func (ptr *PacketTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*ptr)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// SampleTrace records a queue snapshot
type SampleTrace struct {
	Time     float64
	Ticks    int64
	Length   int
	Dropped  int
	Serviced int
	DropProb float64
}

func (str *SampleTrace) TraceType() TraceRecordType {
	return SampleType
}

func (str *SampleTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*str)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// addPacketTrace creates a record of a packet event and stores it
func (tm *TraceManager) addPacketTrace(time float64, p Packet, op, reason string, delay float64) {
	if !tm.InUse {
		return
	}
	vrt := vrtime.SecondsToTime(time)
	ptr := new(PacketTrace)
	ptr.Time = vrt.Seconds()
	ptr.Ticks = vrt.Ticks()
	ptr.Priority = vrt.Pri()
	ptr.PcktID = p.ID
	ptr.Size = p.Size
	ptr.Op = op
	ptr.Reason = reason
	ptr.Delay = delay

	traceTime := strconv.FormatFloat(vrt.Seconds(), 'f', -1, 64)
	trcInst := TraceInst{TraceTime: traceTime, TraceType: ptr.TraceType().String(), TraceStr: ptr.Serialize()}
	tm.AddTrace(vrt, p.ID, trcInst)
}

func (tm *TraceManager) OnGenerated(p Packet) {
	tm.addPacketTrace(p.CreationTime, p, "generate", "", 0.0)
}

func (tm *TraceManager) OnEnqueued(p Packet) {
	tm.addPacketTrace(p.ArrivalTime, p, "enqueue", "", 0.0)
}

func (tm *TraceManager) OnDropped(p Packet, reason DropReason) {
	tm.addPacketTrace(p.ArrivalTime, p, "drop", reason.String(), 0.0)
}

func (tm *TraceManager) OnServiced(p Packet) {
	tm.addPacketTrace(p.CompletionTime, p, "service", "", p.QueueingDelay())
}

func (tm *TraceManager) OnSnapshot(now float64, s Snapshot) {
	if !tm.InUse {
		return
	}
	vrt := vrtime.SecondsToTime(now)
	str := &SampleTrace{Time: vrt.Seconds(), Ticks: vrt.Ticks(), Length: s.Length, Dropped: s.Dropped,
		Serviced: s.Serviced, DropProb: s.State.DropProbability}
	traceTime := strconv.FormatFloat(vrt.Seconds(), 'f', -1, 64)

	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.Samples = append(tm.Samples, TraceInst{TraceTime: traceTime, TraceType: str.TraceType().String(), TraceStr: str.Serialize()})
}
