package aqmsim

// arrivals.go holds the arrival process that paces the producer: the gap
// before each next packet is drawn from either a constant or an exponential
// distribution with the configured mean

import (
	"math"
	"strings"

	"github.com/iti/rngstream"
)

// distAliases maps accepted spellings of a distribution onto its canonical name
var distAliases map[string]string = map[string]string{
	"":            ConstantDist,
	"constant":    ConstantDist,
	"const":       ConstantDist,
	"exponential": ExponentialDist,
	"exp":         ExponentialDist,
	"expon":       ExponentialDist,
}

// canonicalDist gives the canonical name of a distribution, constant when not recognized
func canonicalDist(dist string) string {
	canon, present := distAliases[strings.ToLower(dist)]
	if !present {
		return ConstantDist
	}
	return canon
}

// arrivalProcess draws inter-arrival gaps
type arrivalProcess struct {
	interval float64 // mean gap, seconds

	// function that computes inter-arrival times.  First argument
	// is U01 random number, second argument is vector of parameters for distribution
	sampleNxtArrival func(float64, []float64) float64

	rngstrm *rngstream.RngStream
}

// createArrivalProcess is a constructor.  name identifies the random number stream
func createArrivalProcess(pd ProducerDesc, name string) *arrivalProcess {
	ap := new(arrivalProcess)
	ap.interval = pd.Interval
	ap.rngstrm = rngstream.New(name)

	switch canonicalDist(pd.Distribution) {
	case ExponentialDist:
		ap.sampleNxtArrival = sampleExpRV
	default:
		ap.sampleNxtArrival = sampleConst
	}
	return ap
}

// next gives the gap before the following packet
func (ap *arrivalProcess) next() float64 {
	if ap.interval <= 0.0 {
		return 0.0
	}
	u01 := ap.rngstrm.RandU01()
	return roundFloat(ap.sampleNxtArrival(u01, []float64{1.0 / ap.interval}), rdigits)
}

var rdigits uint = 15

// round computed simulation time to avoid non-sensical comparisons
// induced by rounding error
func roundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}

// expRV returns a sample of a exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// sampleExpRV samples an exponential gap, params[0] is the rate
func sampleExpRV(u01 float64, params []float64) float64 {
	return expRV(u01, params[0])
}

// sampleConst ignores the random number, the gap is 1/params[0]
func sampleConst(u01 float64, params []float64) float64 {
	return 1.0 / params[0]
}

// Workload is the packet sequence of an experiment together with the gap the
// producer waits after each packet.  Drawing the gaps once lets every run of a
// comparison see the same arrivals
type Workload struct {
	Specs []PacketSpec
	Gaps  []float64
}

// NewWorkload draws the gaps for specs from the producer's arrival process
func NewWorkload(specs []PacketSpec, pd ProducerDesc, name string) Workload {
	ap := createArrivalProcess(pd, name)
	gaps := make([]float64, len(specs))
	for idx := range specs {
		gaps[idx] = ap.next()
	}
	return Workload{Specs: specs, Gaps: gaps}
}

// Len is the number of packets in the workload
func (wl Workload) Len() int {
	return len(wl.Specs)
}

// gap is the pause following packet idx, zero past the end
func (wl Workload) gap(idx int) float64 {
	if idx < 0 || idx >= len(wl.Gaps) {
		return 0.0
	}
	return wl.Gaps[idx]
}
