package loadview

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestView_AggregateIsMax(t *testing.T) {
	v := NewView(4)
	v.Set(0, 10)
	v.Set(1, 90)
	v.Set(2, 5)
	v.Set(3, 0)
	require.Equal(t, 90, v.Aggregate())
}

func TestView_SetClampsToPercent(t *testing.T) {
	v := NewView(2)
	v.Set(0, -5)
	v.Set(1, 150)
	require.Equal(t, 0, v.samples[0])
	require.Equal(t, 100, v.samples[1])
	require.Equal(t, 100, v.Aggregate())
}

func TestView_EmptyIsZero(t *testing.T) {
	v := NewView(0)
	require.Equal(t, 0, v.Aggregate())
}
