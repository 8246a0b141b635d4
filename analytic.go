package aqmsim

// analytic.go gives closed-form queueing estimates for an experiment, to set
// beside what the simulation measures.  The consumer is taken as the server: it
// holds each packet for the link crossing and then the service time, so one
// packet's service demand is size/bandwidth + latency + size/service_rate.
// The estimates ignore the capacity bound and the admission policy; they are
// what an unbounded FIFO queue would see

import (
	"gonum.org/v1/gonum/stat"
)

// LoadEstimate is the offered load of an experiment and the mean queueing
// delay queueing theory predicts for it.  A wait of -1 means the queue is unstable
type LoadEstimate struct {
	ArrivalRate float64 `json:"arrivalrate" yaml:"arrivalrate"` // packets per second
	Burst       bool    `json:"burst" yaml:"burst"`             // every packet offered at the same instant
	MeanDemand  float64 `json:"meandemand" yaml:"meandemand"`   // seconds of consumer time per packet
	Utilization float64 `json:"utilization" yaml:"utilization"`

	MM1Wait float64 `json:"mm1wait" yaml:"mm1wait"` // exponential arrivals and demands
	MD1Wait float64 `json:"md1wait" yaml:"md1wait"` // exponential arrivals, demand fixed at its mean
	MG1Wait float64 `json:"mg1wait" yaml:"mg1wait"` // exponential arrivals, demands as the workload has them
}

// Stable is true when the consumer keeps up with the offered load on average
func (le LoadEstimate) Stable() bool {
	return !le.Burst && le.Utilization < 1.0
}

// EstimateLoad computes the LoadEstimate of the workload wl run against the
// queue and link xd describes.  The arrival rate comes from the gaps actually
// drawn, so it matches what every run of the experiment offers
func EstimateLoad(xd *ExpDesc, wl Workload) LoadEstimate {
	le := LoadEstimate{MM1Wait: -1, MD1Wait: -1, MG1Wait: -1}
	if wl.Len() == 0 {
		le.MM1Wait, le.MD1Wait, le.MG1Wait = 0.0, 0.0, 0.0
		return le
	}

	demands := make([]float64, wl.Len())
	for idx, spec := range wl.Specs {
		size := float64(spec.Size)
		demands[idx] = size/xd.Link.Bandwidth + xd.Link.Latency + size/xd.Queue.ServiceRate
	}
	le.MeanDemand = stat.Mean(demands, nil)

	// the last gap follows the last packet and offers nothing
	meanGap := xd.Producer.Interval
	if wl.Len() > 1 {
		meanGap = stat.Mean(wl.Gaps[:wl.Len()-1], nil)
	}
	switch {
	case meanGap > 0.0:
		le.ArrivalRate = 1.0 / meanGap
	case wl.Len() > 1:
		// no time between arrivals, the load has no finite rate
		le.Burst = true
		return le
	}
	le.Utilization = le.ArrivalRate * le.MeanDemand
	if !le.Stable() {
		return le
	}

	le.MM1Wait = estMM1Wait(le.Utilization, le.MeanDemand)
	le.MD1Wait = estMD1Wait(le.Utilization, le.MeanDemand)

	// Pollaczek-Khinchine needs the second moment of the demand
	secondMoment := stat.Mean(squares(demands), nil)
	le.MG1Wait = le.ArrivalRate * secondMoment / (2.0 * (1.0 - le.Utilization))
	return le
}

// estMM1Wait is the mean wait before service in an M/M/1 queue.  With
// mu = 1/demand and rho = lambda/mu, the time in system is 1/(mu-lambda),
// and the wait is rho times that
func estMM1Wait(rho, demand float64) float64 {
	mu := 1.0 / demand
	lambda := rho * mu
	return rho / (mu - lambda)
}

// estMD1Wait is the mean wait before service in an M/D/1 queue,
// rho/(2*mu*(1-rho)), half the M/M/1 wait
func estMD1Wait(rho, demand float64) float64 {
	mu := 1.0 / demand
	return rho / (2.0 * mu * (1.0 - rho))
}

func squares(vals []float64) []float64 {
	sq := make([]float64, len(vals))
	for idx, v := range vals {
		sq[idx] = v * v
	}
	return sq
}
