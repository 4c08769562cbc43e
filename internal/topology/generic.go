package topology

// Generic is the default ring policy: no CPU is exceptional and the FDs
// form a single ring in enumeration order.
type Generic struct{}

func (Generic) Name() string { return "generic" }

func (Generic) Exceptional(cpu int) bool { return false }

func (Generic) NextInRing(fdIdx int, reps []int) int {
	return (fdIdx + 1) % len(reps)
}
