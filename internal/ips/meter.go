// Package ips maintains the per-CPU EWMA of retired instructions per
// millisecond and the per-FD aggregation of it the FD controller reads as
// its frequency-sensitivity signal.
package ips

import (
	"sync"
	"time"

	"github.com/tokensmart/governor/internal/numeric"
)

const (
	// PastWeight and CurrWeight are the EWMA coefficients from §4.2;
	// the sum is 10 and the blend is an integer-friendly /10 divide so
	// the formula matches the kernel source exactly rather than using a
	// 0..1 alpha.
	PastWeight = 8
	CurrWeight = 2

	// Period is the low-pass gate: an update is skipped, and the meter
	// reports "not updated", for any sample closer than this to the
	// previous one.
	Period = 100 * time.Millisecond
)

// Counter is one CPU's running state: the last retired-instruction count
// and the timestamp it was read at, plus the smoothed rate.
type Counter struct {
	lastInstructions uint64
	lastTimestamp    time.Time
	haveLast         bool
	mips             float64
}

// Sample folds a fresh (instructions, now) reading into the counter's
// EWMA. It returns the updated rate and whether the gate admitted the
// sample; on a gated or first-ever sample, updated is false and mips is
// unchanged.
func (c *Counter) Sample(instructions uint64, now time.Time) (mips float64, updated bool) {
	if !c.haveLast {
		c.lastInstructions = instructions
		c.lastTimestamp = now
		c.haveLast = true
		return c.mips, false
	}

	dt := now.Sub(c.lastTimestamp)
	if dt < Period {
		return c.mips, false
	}

	dInst := numeric.DeltaU64(instructions, c.lastInstructions)
	dtMs := float64(dt.Nanoseconds()) / 1e6
	instantaneous := numeric.SafeDiv(float64(dInst), dtMs)

	c.mips = (c.mips*PastWeight + instantaneous*CurrWeight) / 10
	c.lastInstructions = instructions
	c.lastTimestamp = now

	return c.mips, true
}

// Value returns the counter's current smoothed rate without sampling.
func (c *Counter) Value() float64 { return c.mips }

// Meter owns one Counter per CPU across every FD and serialises per-FD
// aggregation behind a single mutex, mirroring policy_mips_lock: any CPU
// of an FD may be the one to call UpdateFD in the rare host-permitted
// races, so the read-aggregate-write sequence must not interleave.
type Meter struct {
	mu       sync.Mutex
	counters map[int]*Counter
}

// NewMeter returns an empty meter; counters are created lazily per CPU on
// first sample.
func NewMeter() *Meter {
	return &Meter{counters: make(map[int]*Counter)}
}

// UpdateFD samples every CPU in cpus at (instructions[cpu], now) and
// returns the FD's aggregated policy_mips (max over CPUs) together with
// whether any CPU's sample passed the period gate. A cpu with no entry in
// instructions (an unreadable counter) is sampled as a count of 0, which
// DeltaU64 turns into a zero-instruction interval: that CPU's smoothed
// rate decays toward 0 rather than panicking or going negative.
func (m *Meter) UpdateFD(cpus []int, instructions map[int]uint64, now time.Time) (policyMIPS float64, updated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, cpu := range cpus {
		c, ok := m.counters[cpu]
		if !ok {
			c = &Counter{}
			m.counters[cpu] = c
		}
		mips, gated := c.Sample(instructions[cpu], now)
		if gated {
			updated = true
		}
		if i == 0 || mips > policyMIPS {
			policyMIPS = mips
		}
	}

	return policyMIPS, updated
}
