package aqmsim

import (
	"math"
)

const (
	defaultCoDelTarget   = 0.005 // seconds
	defaultCoDelInterval = 0.100 // seconds
)

// coDelPolicy tracks the smallest sojourn time seen during an interval and,
// when a whole interval passes with that minimum above target, drops the
// arriving packet and opens a new interval.
//
// The delay is always that of the packet at the head of the queue (the one to
// be serviced next), never that of the arriving packet, which has not waited.
type coDelPolicy struct {
	target     float64
	interval   float64
	minSojourn float64 // +Inf at the start of each interval
	lastDrop   float64 // start of the current interval
}

// createCoDel is a constructor; non-positive arguments take the defaults
func createCoDel(target, interval float64) *coDelPolicy {
	if target <= 0.0 {
		target = defaultCoDelTarget
	}
	if interval <= 0.0 {
		interval = defaultCoDelInterval
	}
	return &coDelPolicy{target: target, interval: interval, minSojourn: math.Inf(1)}
}

func (cd *coDelPolicy) Kind() PolicyKind {
	return CoDelKind
}

// Decide applies the capacity check, then the interval test
func (cd *coDelPolicy) Decide(v QueueView, now float64) Verdict {
	if v.Length >= v.Capacity {
		return DropCapacity
	}

	observed := 0.0
	if !v.Empty {
		observed = v.HeadSojourn
	}
	cd.minSojourn = math.Min(cd.minSojourn, observed)

	if now-cd.lastDrop < cd.interval {
		return Accept
	}

	above := cd.minSojourn > cd.target
	cd.lastDrop = now
	cd.minSojourn = math.Inf(1)
	if above {
		return DropAQM
	}
	return Accept
}

// Observe folds the sojourn of a packet leaving the queue into the interval minimum
func (cd *coDelPolicy) Observe(sojourn, now float64) {
	cd.minSojourn = math.Min(cd.minSojourn, sojourn)
}

// MinSojourn is the minimum delay seen so far in the current interval
func (cd *coDelPolicy) MinSojourn() float64 {
	return cd.minSojourn
}

func (cd *coDelPolicy) State() PolicyState {
	ms := cd.minSojourn
	if math.IsInf(ms, 1) {
		ms = -1
	}
	return PolicyState{MinSojourn: ms, LastDrop: cd.lastDrop}
}
