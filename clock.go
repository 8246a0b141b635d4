package aqmsim

// clock.go gives the two notions of time a run can be driven by: a wall clock,
// optionally running faster or slower than real time, and the virtual clock of
// an evtm event manager

import (
	"context"
	"time"

	"github.com/iti/evt/evtm"
)

// Clock reports the current simulation time in seconds, relative to the start of a run
type Clock interface {
	Now() float64
}

// wallClock maps elapsed real time to simulation seconds.  scale is the number
// of simulated seconds per real second
type wallClock struct {
	start time.Time
	scale float64
}

// createWallClock is a constructor; the clock reads zero when created
func createWallClock(scale float64) *wallClock {
	if scale <= 0.0 {
		scale = 1.0
	}
	return &wallClock{start: time.Now(), scale: scale}
}

func (wc *wallClock) Now() float64 {
	return time.Since(wc.start).Seconds() * wc.scale
}

// realDuration converts a span of simulation seconds to a real-time duration
func (wc *wallClock) realDuration(simSecs float64) time.Duration {
	return time.Duration(simSecs / wc.scale * float64(time.Second))
}

// Sleep suspends the caller for simSecs of simulation time, returning
// ErrShutdown early if ctx is cancelled first
func (wc *wallClock) Sleep(ctx context.Context, simSecs float64) error {
	if simSecs <= 0.0 {
		if ctx.Err() != nil {
			return ErrShutdown
		}
		return nil
	}
	timer := time.NewTimer(wc.realDuration(simSecs))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrShutdown
	case <-timer.C:
		return nil
	}
}

// evtClock reads the virtual time of an event manager
type evtClock struct {
	evtMgr *evtm.EventManager
}

func (ec *evtClock) Now() float64 {
	return ec.evtMgr.CurrentSeconds()
}
