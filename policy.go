package aqmsim

// policy.go defines the admission policy contract the bounded queue consults
// for every data packet, and the tail-drop FIFO policy.  The delay-based
// policies live in codel.go and pie.go

import (
	"strings"
)

// PolicyKind names one of the admission disciplines
type PolicyKind int

const (
	FIFOKind PolicyKind = iota
	CoDelKind
	PIEKind
)

var policyKindToStr map[PolicyKind]string = map[PolicyKind]string{FIFOKind: "FIFO", CoDelKind: "CODEL", PIEKind: "PIE"}

// PolicyKinds lists the kinds in the order a comparison runs them
var PolicyKinds []PolicyKind = []PolicyKind{FIFOKind, CoDelKind, PIEKind}

func (pk PolicyKind) String() string {
	str, present := policyKindToStr[pk]
	if !present {
		return "UNKNOWN"
	}
	return str
}

// ParsePolicyKind maps a name (any case) to its PolicyKind
func ParsePolicyKind(name string) (PolicyKind, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, pk := range PolicyKinds {
		if policyKindToStr[pk] == upper {
			return pk, nil
		}
	}
	names := make([]string, 0, len(PolicyKinds))
	for _, pk := range PolicyKinds {
		names = append(names, pk.String())
	}
	return FIFOKind, configErrorf("unknown policy %q, expected one of %s", name, strings.Join(names, "|"))
}

// Verdict is the outcome of an admission decision
type Verdict int

const (
	Accept Verdict = iota
	DropCapacity
	DropAQM
)

var verdictToStr map[Verdict]string = map[Verdict]string{Accept: "accept", DropCapacity: "capacity", DropAQM: "aqm"}

func (v Verdict) String() string {
	return verdictToStr[v]
}

// Accepted is true when the packet was admitted
func (v Verdict) Accepted() bool {
	return v == Accept
}

// QueueView is the state of the queue a policy sees, computed under the queue lock
type QueueView struct {
	Length      int     // data packets in the queue before the arriving one
	Capacity    int     // maximum number of data packets
	HeadSojourn float64 // time the head packet has spent in the queue, 0 when empty
	Empty       bool
}

// PolicyState exposes a policy's control variables for snapshots and reports
type PolicyState struct {
	DropProbability  float64 `json:"dropprob" yaml:"dropprob"`
	AccumulatedError float64 `json:"accerror" yaml:"accerror"`
	MinSojourn       float64 `json:"minsojourn" yaml:"minsojourn"` // -1 when no packet was observed this interval
	LastDrop         float64 `json:"lastdrop" yaml:"lastdrop"`
}

// AdmissionPolicy decides whether a data packet enters the queue.  The queue
// calls Decide once per data packet, before appending it, and Observe once per
// packet removed for service; both with the queue lock held, so an
// implementation needs no locking of its own.
type AdmissionPolicy interface {
	Kind() PolicyKind
	Decide(v QueueView, now float64) Verdict
	Observe(sojourn, now float64)
	State() PolicyState
}

// NewPolicy builds the policy a PolicyDesc describes.  name seeds the
// random stream of policies that draw random numbers
func NewPolicy(pd PolicyDesc, name string) (AdmissionPolicy, error) {
	kind, err := ParsePolicyKind(pd.Kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case CoDelKind:
		return createCoDel(pd.TargetDelay, pd.Interval), nil
	case PIEKind:
		return createPIE(pd, name), nil
	default:
		return createFIFO(), nil
	}
}

// fifoPolicy is plain tail-drop
type fifoPolicy struct{}

func createFIFO() *fifoPolicy {
	return &fifoPolicy{}
}

func (fp *fifoPolicy) Kind() PolicyKind {
	return FIFOKind
}

// Decide admits whenever there is room
func (fp *fifoPolicy) Decide(v QueueView, now float64) Verdict {
	if v.Length >= v.Capacity {
		return DropCapacity
	}
	return Accept
}

func (fp *fifoPolicy) Observe(sojourn, now float64) {}

func (fp *fifoPolicy) State() PolicyState {
	return PolicyState{MinSojourn: -1}
}
