package topology

// Power9 is the architecture-specific ring policy observed in the POWER9
// kernel sources: CPUs numbered 88 and above sit on a secondary socket and
// are pinned to max_freq, excluded from the ring; the remaining CPUs form
// 16-thread quads, and the ring jumps from CPU 64 to 72 and wraps from any
// CPU at or above 72 back to 0, rather than following a flat +1 index.
type Power9 struct{}

func (Power9) Name() string { return "power9" }

func (Power9) Exceptional(cpu int) bool { return cpu >= 88 }

// NextInRing reproduces next_policy_id from the arch header: the ring
// advances by representative CPU number, not by enumeration index, because
// the quad layout is not contiguous in FD-id order the way the generic
// ring is.
func (Power9) NextInRing(fdIdx int, reps []int) int {
	cpu := reps[fdIdx]

	var target int
	switch {
	case cpu >= 72:
		target = 0
	case cpu == 64:
		target = 72
	default:
		target = cpu + 16
	}

	for i, rep := range reps {
		if rep == target {
			return i
		}
	}
	// No FD represents target (e.g. it was marked exceptional or never
	// built); fall back to the flat successor rather than panic.
	return (fdIdx + 1) % len(reps)
}
