// Package topology builds and exposes the CPU-to-frequency-domain mapping
// and ring order TokenSmart transacts tokens over. It is built once at
// daemon startup from the host's frequency-policy list and is read-only
// for the remainder of the process's life.
package topology

import "errors"

// ErrEmpty is returned by Build when the host reports no frequency
// policies at all.
var ErrEmpty = errors.New("topology: empty policy list")

// Policy is one frequency-policy entry as reported by the host governor
// plumbing: a set of hardware threads that the host groups together,
// with CPUs[0] acting as the representative that runs tick logic.
type Policy struct {
	CPUs []int
}

// RingPolicy is the architecture-specific capability set §4.1 asks
// implementers to keep pluggable: which CPUs are pinned outside the ring,
// and in what order non-exceptional FDs hand the turn to one another.
// Generic provides the default ring; Power9 overrides both methods to
// match the quad/jump layout observed in the kernel sources.
type RingPolicy interface {
	// Name identifies the capability set.
	Name() string
	// Exceptional reports whether cpu is pinned to max frequency and
	// excluded from the ring.
	Exceptional(cpu int) bool
	// NextInRing returns the index, into reps, of the FD that follows
	// the FD represented by reps[fdIdx]. reps holds every non-exceptional
	// FD's representative CPU, in enumeration order.
	NextInRing(fdIdx int, reps []int) int
}

// FD is one built frequency domain.
type FD struct {
	ID          int
	CPUs        []int
	Exceptional bool
}

// Representative returns the CPU that runs this FD's tick logic.
func (f FD) Representative() int { return f.CPUs[0] }

// Topology is the process-wide, read-only-after-build mapping from CPUs
// to frequency domains and the ring order over the non-exceptional ones.
type Topology struct {
	policy   RingPolicy
	fds      []FD
	cpuToFD  map[int]int
	ringNext map[int]int // fd id -> next fd id, only for non-exceptional fds
}

// Build enumerates FDs from the host's policy list in the order given,
// assigning fd_id by enumeration order, and constructs ring_next by
// skipping exceptional FDs. It fails with ErrEmpty if policies is empty.
// Build is idempotent: calling it again on a fresh Topology value produces
// the same result for the same input.
func Build(policies []Policy, rp RingPolicy) (*Topology, error) {
	if len(policies) == 0 {
		return nil, ErrEmpty
	}

	t := &Topology{
		policy:   rp,
		fds:      make([]FD, 0, len(policies)),
		cpuToFD:  make(map[int]int),
		ringNext: make(map[int]int),
	}

	reps := make([]int, 0, len(policies))
	repToFD := make(map[int]int, len(policies))

	for i, p := range policies {
		rep := p.CPUs[0]
		exceptional := rp.Exceptional(rep)
		fd := FD{ID: i, CPUs: append([]int(nil), p.CPUs...), Exceptional: exceptional}
		t.fds = append(t.fds, fd)
		for _, cpu := range p.CPUs {
			t.cpuToFD[cpu] = i
		}
		if !exceptional {
			repToFD[rep] = i
			reps = append(reps, rep)
		}
	}

	for idx, rep := range reps {
		nextIdx := rp.NextInRing(idx, reps)
		fromFD := repToFD[rep]
		toFD := repToFD[reps[nextIdx]]
		t.ringNext[fromFD] = toFD
	}

	return t, nil
}

// Destroy releases the topology's internal state. It exists to mirror the
// host contract's explicit exit() call; a garbage-collected Go process has
// nothing else to free.
func (t *Topology) Destroy() {
	t.fds = nil
	t.cpuToFD = nil
	t.ringNext = nil
}

// NrFDs returns the number of built frequency domains, including
// exceptional ones.
func (t *Topology) NrFDs() int { return len(t.fds) }

// FDOf returns the frequency domain containing cpu.
func (t *Topology) FDOf(cpu int) (FD, bool) {
	id, ok := t.cpuToFD[cpu]
	if !ok {
		return FD{}, false
	}
	return t.fds[id], true
}

// FirstCPUOf returns the representative CPU for the FD containing cpu.
func (t *Topology) FirstCPUOf(cpu int) (int, bool) {
	fd, ok := t.FDOf(cpu)
	if !ok {
		return 0, false
	}
	return fd.Representative(), true
}

// Exceptional reports whether cpu is pinned to max_freq and excluded from
// the ring.
func (t *Topology) Exceptional(cpu int) bool {
	fd, ok := t.FDOf(cpu)
	return ok && fd.Exceptional
}

// NextInRing returns the FD that receives turn after fd.
func (t *Topology) NextInRing(fd int) (int, bool) {
	next, ok := t.ringNext[fd]
	return next, ok
}

// FD returns the built FD by id.
func (t *Topology) FD(id int) FD { return t.fds[id] }

// ActiveFDs returns the ids of every non-exceptional FD, in enumeration
// order.
func (t *Topology) ActiveFDs() []int {
	out := make([]int, 0, len(t.fds))
	for _, fd := range t.fds {
		if !fd.Exceptional {
			out = append(out, fd.ID)
		}
	}
	return out
}
