package types

import "fmt"

// Hertz is a uint64 wrapper representing a CPU frequency in Hz, the unit
// the host governor contract actuates in.
type Hertz uint64

// Humanized returns a human-readable string with automatic unit (Hz, kHz, MHz, GHz).
func (h Hertz) Humanized() string {
	const unit = 1000
	v := float64(h)
	switch {
	case h >= 1_000_000_000:
		return fmt.Sprintf("%.3f GHz", v/1e9)
	case h >= 1_000_000:
		return fmt.Sprintf("%.3f MHz", v/1e6)
	case h >= 1_000:
		return fmt.Sprintf("%.3f kHz", v/1e3)
	default:
		return fmt.Sprintf("%d Hz", h)
	}
}

// MHz returns the frequency in megahertz.
func (h Hertz) MHz() float64 { return float64(h) / 1e6 }

// GHz returns the frequency in gigahertz.
func (h Hertz) GHz() float64 { return float64(h) / 1e9 }

// FromTokens maps a held-token percentage in [0,100] onto the frequency
// range [minF, maxF], the formula the tick handler actuates every cycle.
func FromTokens(tokens int, minF, maxF Hertz) Hertz {
	if tokens < 0 {
		tokens = 0
	}
	if tokens > 100 {
		tokens = 100
	}
	span := int64(maxF) - int64(minF)
	return Hertz(int64(minF) + span*int64(tokens)/100)
}
