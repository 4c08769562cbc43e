package power

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAccumulator_ZeroTokensIsIdle(t *testing.T) {
	a := New(Config{})
	p := a.Sample(0, time.Second)
	require.InDelta(t, DefaultConfig().PIdle, p, 1e-9)
}

func TestAccumulator_FullTokensIsMax(t *testing.T) {
	a := New(Config{})
	p := a.Sample(100, time.Second)
	require.InDelta(t, DefaultConfig().PMax, p, 1e-9)
}

func TestAccumulator_MonotonicInTokens(t *testing.T) {
	a := New(Config{})
	low := a.Sample(10, time.Millisecond)
	high := a.Sample(90, time.Millisecond)
	require.Less(t, low, high)
}

func TestAccumulator_EnergyAccumulates(t *testing.T) {
	a := New(Config{PIdle: 10, PMax: 10, Gamma: 1})
	a.Sample(50, time.Second)
	a.Sample(50, time.Second)
	require.InDelta(t, 20.0, a.EnergyCumJ(), 1e-9)
	require.InDelta(t, 10.0, a.Average(), 1e-9)
}

func TestAccumulator_AverageBeforeAnySample(t *testing.T) {
	a := New(Config{})
	require.Zero(t, a.Average())
}
