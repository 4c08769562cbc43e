// Package power estimates each FD's instantaneous and cumulative power
// draw from the token share it currently holds, the same nonlinear
// idle-to-max curve the teacher model used for CPU utilisation, re-themed
// here around the token percentage that already stands in for utilisation
// in this domain (100 tokens == max frequency == roughly max draw).
package power

import (
	"time"

	"github.com/tokensmart/governor/internal/numeric"
)

// Config holds the curve coefficients.
type Config struct {
	PIdle float64 // watts at 0 tokens
	PMax  float64 // watts at 100 tokens
	Gamma float64 // nonlinearity of the power/token-share curve
}

// DefaultConfig mirrors typical many-core per-domain draw figures; these
// are display/estimation coefficients only, never fed back into the token
// economy.
func DefaultConfig() Config {
	return Config{PIdle: 8.0, PMax: 35.0, Gamma: 1.3}
}

// Accumulator tracks one FD's instantaneous power and running energy.
type Accumulator struct {
	cfg        Config
	energyCumJ float64
	count      int
	sum        float64
}

// New constructs an accumulator with cfg, or DefaultConfig if cfg is the
// zero value.
func New(cfg Config) *Accumulator {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	return &Accumulator{cfg: cfg}
}

// Sample estimates instantaneous power from the FD's currently held
// tokens and folds dt worth of energy into the running total.
func (a *Accumulator) Sample(myTokens int, dt time.Duration) float64 {
	share := numeric.Clamp01(float64(myTokens) / 100)
	p := a.cfg.PIdle + (a.cfg.PMax-a.cfg.PIdle)*numeric.Pow(share, a.cfg.Gamma)

	a.energyCumJ += p * dt.Seconds()
	a.count++
	a.sum += p

	return p
}

// EnergyCumJ returns cumulative energy in joules since construction.
func (a *Accumulator) EnergyCumJ() float64 { return a.energyCumJ }

// Average returns the mean instantaneous power over all samples, or 0
// before the first sample.
func (a *Accumulator) Average() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}
