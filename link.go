package aqmsim

import (
	"math"
)

// Link models the single abstracted link between queue and consumer.  Its
// delay depends only on the packet size, so a Link holds nothing but its
// constants and may be shared freely between goroutines
type Link struct {
	bndwdth float64 // bytes per second
	latency float64 // seconds
}

// NewLink is a constructor.  bandwidth is in bytes/sec and must be positive, latency is in seconds
func NewLink(bandwidth, latency float64) (*Link, error) {
	errs := []error{}
	if !(bandwidth > 0.0) || math.IsInf(bandwidth, 1) {
		errs = append(errs, configErrorf("link bandwidth must be positive and finite, got %g", bandwidth))
	}
	if latency < 0.0 || math.IsNaN(latency) {
		errs = append(errs, configErrorf("link latency must not be negative, got %g", latency))
	}
	if err := ReportErrs(errs); err != nil {
		return nil, err
	}
	return &Link{bndwdth: bandwidth, latency: latency}, nil
}

// Delay is the time a packet of size bytes spends crossing the link
func (lnk *Link) Delay(size int) float64 {
	return float64(size)/lnk.bndwdth + lnk.latency
}

// Transmit gives the time the last bit of p, put on the link at now, reaches the far end
func (lnk *Link) Transmit(p *Packet, now float64) float64 {
	return now + lnk.Delay(p.Size)
}

func (lnk *Link) Bandwidth() float64 {
	return lnk.bndwdth
}

func (lnk *Link) Latency() float64 {
	return lnk.latency
}
