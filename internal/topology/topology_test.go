package topology

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func genericPolicies(nrFDs, cpusPerFD int) []Policy {
	policies := make([]Policy, nrFDs)
	cpu := 0
	for i := range policies {
		cpus := make([]int, cpusPerFD)
		for j := range cpus {
			cpus[j] = cpu
			cpu++
		}
		policies[i] = Policy{CPUs: cpus}
	}
	return policies
}

func TestBuild_Empty(t *testing.T) {
	_, err := Build(nil, Generic{})
	require.ErrorIs(t, err, ErrEmpty)
}

func TestBuild_GenericRingWraps(t *testing.T) {
	top, err := Build(genericPolicies(12, 4), Generic{})
	require.NoError(t, err)
	require.Equal(t, 12, top.NrFDs())

	t.Logf("active fds: %v", top.ActiveFDs())

	cur := 0
	visited := map[int]bool{}
	for i := 0; i < 12; i++ {
		require.False(t, visited[cur], "fd %d revisited before a full lap", cur)
		visited[cur] = true
		next, ok := top.NextInRing(cur)
		require.True(t, ok)
		cur = next
	}
	require.Equal(t, 0, cur, "ring should have returned to FD 0 after one lap")
	require.Len(t, visited, 12)
}

func TestBuild_GenericFirstCPUOf(t *testing.T) {
	top, err := Build(genericPolicies(3, 4), Generic{})
	require.NoError(t, err)

	rep, ok := top.FirstCPUOf(9) // FD 2: cpus 8,9,10,11
	require.True(t, ok)
	require.Equal(t, 8, rep)

	require.False(t, top.Exceptional(9))
}

func power9Policies() []Policy {
	// Representatives at 0, 16, 64 and 72 exercise the default (+16),
	// the 64->72 jump and the >=72 wrap-to-0 cases; 88-103 is a
	// secondary-socket quad that should be marked exceptional.
	reps := []int{0, 16, 64, 72, 88, 92, 96, 100}
	policies := make([]Policy, 0, len(reps))
	for _, cpu := range reps {
		policies = append(policies, Policy{CPUs: []int{cpu, cpu + 1, cpu + 2, cpu + 3}})
	}
	return policies
}

func TestBuild_Power9ExceptionalCPUsExcluded(t *testing.T) {
	top, err := Build(power9Policies(), Power9{})
	require.NoError(t, err)

	require.True(t, top.Exceptional(88))
	require.True(t, top.Exceptional(100))
	require.False(t, top.Exceptional(0))

	active := top.ActiveFDs()
	for _, id := range active {
		require.False(t, top.FD(id).Exceptional)
	}
	t.Logf("non-exceptional fds: %d of %d", len(active), top.NrFDs())
}

func TestBuild_Power9RingJumpsByCPU(t *testing.T) {
	top, err := Build(power9Policies(), Power9{})
	require.NoError(t, err)

	fdOf0, _ := top.FDOf(0)
	next, ok := top.NextInRing(fdOf0.ID)
	require.True(t, ok)
	require.Equal(t, 16, top.FD(next).Representative(), "default case: rep 0 jumps to rep+16")

	fdOf64, _ := top.FDOf(64)
	next, ok = top.NextInRing(fdOf64.ID)
	require.True(t, ok)
	require.Equal(t, 72, top.FD(next).Representative(), "rep 64 jumps to rep 72")

	fdOf72, _ := top.FDOf(72)
	next, ok = top.NextInRing(fdOf72.ID)
	require.True(t, ok)
	require.Equal(t, 0, top.FD(next).Representative(), "rep >=72 wraps to rep 0")
}
