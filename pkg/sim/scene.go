package sim

import (
	"math"
	"sync"
	"time"

	"github.com/itohio/pulseox/pkg/config"
	"github.com/itohio/pulseox/pkg/hal"
)

const (
	midRail        = 2048 // AC amplifier output with no pulsatile signal
	disconnectedDC = 20
	disconnectedAC = adcMax
	saturatedDC    = adcMax
)

// Pulse is a synthetic photoplethysmogram.
//
// With a finger present and the LED lit the DC path reads
// base·(1 − m·sin(ωt)) and the AC path reads 2048 − gain·base·m·sin(ωt).
// Red modulation is ratio times the IR modulation, so the ratio of
// normalised AC/DC amplitudes equals the configured ratio.
type Pulse struct {
	mu           sync.RWMutex
	cfg          config.MockConfig
	finger       bool
	disconnected bool
}

var _ Scene = (*Pulse)(nil)

// NewPulse creates a scene with a finger in the probe.
func NewPulse(cfg *config.MockConfig) *Pulse {
	if cfg == nil {
		cfg = &config.Default().Mock
	}
	return &Pulse{cfg: *cfg, finger: true}
}

// SetFinger places or removes the finger.
func (p *Pulse) SetFinger(present bool) {
	p.mu.Lock()
	p.finger = present
	p.mu.Unlock()
}

// SetDisconnected unplugs or replugs the probe.
func (p *Pulse) SetDisconnected(disconnected bool) {
	p.mu.Lock()
	p.disconnected = disconnected
	p.mu.Unlock()
}

// SetRatio changes the ratio of ratios produced by the scene.
func (p *Pulse) SetRatio(ratio float64) {
	p.mu.Lock()
	p.cfg.Ratio = ratio
	p.mu.Unlock()
}

// SetHeartRate changes the pulse rate in beats per minute.
func (p *Pulse) SetHeartRate(bpm float64) {
	p.mu.Lock()
	p.cfg.HeartRate = bpm
	p.mu.Unlock()
}

// Level implements Scene.
func (p *Pulse) Level(ch hal.Channel, in hal.Input, at time.Duration, lit bool) uint16 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.disconnected {
		if in == hal.DC {
			return disconnectedDC
		}
		return disconnectedAC
	}
	if !lit {
		if in == hal.DC {
			return p.cfg.Ambient
		}
		return midRail
	}
	if !p.finger {
		if in == hal.DC {
			return saturatedDC
		}
		return midRail
	}

	base := float64(p.cfg.IRDC)
	m := p.cfg.Perfusion
	if ch == hal.Red {
		base = float64(p.cfg.RedDC)
		m *= p.cfg.Ratio
	}
	s := math.Sin(2 * math.Pi * p.cfg.HeartRate / 60 * at.Seconds())

	var v float64
	if in == hal.DC {
		v = base * (1 - m*s)
	} else {
		v = midRail - p.cfg.ACGain*base*m*s
	}
	return clamp(v)
}

func clamp(v float64) uint16 {
	switch {
	case v < 0:
		return 0
	case v > adcMax:
		return adcMax
	}
	return uint16(math.Round(v))
}
