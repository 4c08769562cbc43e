package ips

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCounter_FirstSampleNotUpdated(t *testing.T) {
	c := &Counter{}
	mips, updated := c.Sample(1000, time.Now())
	require.False(t, updated)
	require.Zero(t, mips)
}

func TestCounter_GatedBelowPeriod(t *testing.T) {
	c := &Counter{}
	start := time.Now()
	c.Sample(1000, start)

	_, updated := c.Sample(2000, start.Add(50*time.Millisecond))
	require.False(t, updated, "50ms is below the 100ms gate")
}

func TestCounter_UpdatesAfterPeriod(t *testing.T) {
	c := &Counter{}
	start := time.Now()
	c.Sample(0, start)

	// 100,000 instructions over 100ms = 1000 inst/ms.
	mips, updated := c.Sample(100_000, start.Add(100*time.Millisecond))
	require.True(t, updated)
	require.InDelta(t, 200.0, mips, 0.001, "first real sample: (0*8 + 1000*2)/10")
}

func TestCounter_EWMAConverges(t *testing.T) {
	c := &Counter{}
	now := time.Now()
	c.Sample(0, now)

	// Feed a constant 500 inst/ms rate repeatedly; the EWMA should climb
	// toward 500 and stay there.
	inst := uint64(0)
	for i := 0; i < 50; i++ {
		now = now.Add(100 * time.Millisecond)
		inst += 50_000
		c.Sample(inst, now)
	}
	require.InDelta(t, 500.0, c.Value(), 1.0)
}

func TestCounter_WrappedCounterTreatedAsZeroDelta(t *testing.T) {
	c := &Counter{}
	now := time.Now()
	c.Sample(1_000_000, now)

	mips, updated := c.Sample(10, now.Add(200*time.Millisecond))
	require.True(t, updated)
	require.Zero(t, mips, "a lower reading than last time must not go negative")
}

func TestMeter_UpdateFD_MaxAggregation(t *testing.T) {
	m := NewMeter()
	cpus := []int{10, 11, 12, 13}
	start := time.Now()

	// Prime every counter.
	m.UpdateFD(cpus, map[int]uint64{10: 0, 11: 0, 12: 0, 13: 0}, start)

	// CPU 12 runs hot, the rest idle.
	next := start.Add(100 * time.Millisecond)
	policyMIPS, updated := m.UpdateFD(cpus, map[int]uint64{
		10: 0, 11: 0, 12: 200_000, 13: 0,
	}, next)

	require.True(t, updated)
	require.Greater(t, policyMIPS, 0.0)
	t.Logf("policy_mips after hot cpu 12: %v", policyMIPS)
}

func TestMeter_UpdateFD_MissingCounterTreatedAsZero(t *testing.T) {
	m := NewMeter()
	cpus := []int{20, 21}
	start := time.Now()
	m.UpdateFD(cpus, map[int]uint64{20: 0, 21: 0}, start)

	// CPU 21's reading is entirely absent from the map, simulating an
	// unreadable perf counter; it must not panic and must contribute 0.
	policyMIPS, updated := m.UpdateFD(cpus, map[int]uint64{20: 100_000}, start.Add(100*time.Millisecond))
	require.True(t, updated)
	require.Greater(t, policyMIPS, 0.0)
}
