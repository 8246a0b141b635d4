package aqmsim

// pie.go implements the Proportional Integral controller Enhanced policy.  A
// controller, run lazily from the enqueue path once every update interval,
// turns the gap between the head-of-queue delay and a target into a drop
// probability; arriving packets are then dropped at random once the queue
// passes a low-water mark

import (
	"math"

	"github.com/iti/rngstream"
)

const (
	defaultPIETarget     = 0.05 // seconds
	defaultPIEUpdate     = 0.01 // seconds
	defaultPIEAlpha      = 0.01
	defaultPIEBeta       = 0.05
	defaultPIEWeight     = 0.1
	defaultPIELowWater   = 0.5
	defaultPIESaturation = 0.95
)

type piePolicy struct {
	target         float64 // target queueing delay
	updateInterval float64
	alpha          float64 // proportional gain
	beta           float64 // integral gain
	queueWeight    float64 // weight of the queue-growth term in the error
	lowWater       float64 // fraction of capacity below which nothing is dropped at random
	saturation     float64 // probability above which the controller resets

	dropProb   float64
	accError   float64
	lastUpdate float64
	lastLength int
	started    bool

	rngstrm *rngstream.RngStream
}

// createPIE is a constructor.  Zero-valued fields of pd take the defaults, as
// do unset gains
func createPIE(pd PolicyDesc, name string) *piePolicy {
	pp := new(piePolicy)
	pp.target = orDefault(pd.TargetDelay, defaultPIETarget)
	pp.updateInterval = orDefault(pd.UpdateInterval, defaultPIEUpdate)
	pp.alpha = gainOrDefault(pd.Alpha, defaultPIEAlpha)
	pp.beta = gainOrDefault(pd.Beta, defaultPIEBeta)
	pp.queueWeight = orDefault(pd.QueueWeight, defaultPIEWeight)
	pp.lowWater = orDefault(pd.LowWater, defaultPIELowWater)
	pp.saturation = orDefault(pd.Saturation, defaultPIESaturation)
	pp.rngstrm = rngstream.New(name)
	return pp
}

func orDefault(value, dflt float64) float64 {
	if value <= 0.0 {
		return dflt
	}
	return value
}

func gainOrDefault(gain *float64, dflt float64) float64 {
	if gain == nil {
		return dflt
	}
	return *gain
}

func (pp *piePolicy) Kind() PolicyKind {
	return PIEKind
}

// Decide runs the controller if an update is due, then the random drop test
// and finally the capacity check
func (pp *piePolicy) Decide(v QueueView, now float64) Verdict {
	pp.update(v, now)

	if float64(v.Length) > pp.lowWater*float64(v.Capacity) {
		threshold := pp.dropProb * (float64(v.Length) / float64(v.Capacity))
		if pp.rngstrm.RandU01() < threshold {
			return DropAQM
		}
	}

	if v.Length >= v.Capacity {
		return DropCapacity
	}
	return Accept
}

// update advances the PI controller when at least one update interval has
// passed since the last advance.  The first call only starts the clock
func (pp *piePolicy) update(v QueueView, now float64) {
	if !pp.started {
		pp.started = true
		pp.lastUpdate = now
		pp.lastLength = v.Length
		return
	}

	dt := now - pp.lastUpdate
	if dt < pp.updateInterval {
		return
	}

	delay := 0.0
	if !v.Empty {
		delay = v.HeadSojourn
	}

	growth := float64(v.Length-pp.lastLength) / float64(v.Capacity)
	pp.lastLength = v.Length

	err := (delay - pp.target) + pp.queueWeight*growth
	pp.accError += err * dt
	pp.dropProb = math.Max(0.0, math.Min(1.0, pp.dropProb+pp.alpha*err+pp.beta*pp.accError))

	// anti-windup
	if v.Empty || pp.dropProb > pp.saturation {
		pp.dropProb = 0.0
		pp.accError = 0.0
	}
	pp.lastUpdate = now
}

func (pp *piePolicy) Observe(sojourn, now float64) {}

// DropProbability is the probability the controller last computed
func (pp *piePolicy) DropProbability() float64 {
	return pp.dropProb
}

func (pp *piePolicy) State() PolicyState {
	return PolicyState{DropProbability: pp.dropProb, AccumulatedError: pp.accError,
		MinSojourn: -1, LastDrop: pp.lastUpdate}
}
