package bake

import (
	"math"
	"sync/atomic"
)

// Progress is shared between a running job and its host. The host sets the stop flag and
// polls the update flag and the completion fraction.
type Progress struct {
	stop     atomic.Bool
	update   atomic.Bool
	fraction atomic.Uint32
}

// Stop asks the job to end after the capture in flight.
func (p *Progress) Stop() { p.stop.Store(true) }

func (p *Progress) Stopped() bool { return p.stop.Load() }

func (p *Progress) signalUpdate() { p.update.Store(true) }

// TakeUpdate reports whether the cache changed since the last call and resets the flag.
func (p *Progress) TakeUpdate() bool { return p.update.Swap(false) }

func (p *Progress) setFraction(f float32) {
	p.fraction.Store(math.Float32bits(min(max(f, 0), 1)))
}

// Fraction is the completed share of all captures, in [0, 1].
func (p *Progress) Fraction() float32 { return math.Float32frombits(p.fraction.Load()) }
