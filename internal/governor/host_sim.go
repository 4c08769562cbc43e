package governor

import (
	"fmt"
	"sync"
	"time"

	"github.com/tokensmart/governor/internal/topology"
	"github.com/tokensmart/governor/pkg/types"
)

// SimHost is an in-memory Host for tests and the `simulate` CLI
// subcommand: load and instruction readings are programmed by the
// caller instead of coming from /proc and perf_event_open, and its
// clock advances only when Advance is called, so a test controls time
// deterministically the way §8's harness requires.
type SimHost struct {
	mu sync.Mutex

	policies []topology.Policy
	load     map[int]int
	instr    map[int]uint64
	freq     map[int]types.Hertz
	now      time.Time
}

// NewSimHost builds a simulated host over policies, every CPU starting
// idle (load 0, instructions 0) at the given start time.
func NewSimHost(policies []topology.Policy, start time.Time) *SimHost {
	return &SimHost{
		policies: policies,
		load:     make(map[int]int),
		instr:    make(map[int]uint64),
		freq:     make(map[int]types.Hertz),
		now:      start,
	}
}

func (h *SimHost) Policies() ([]topology.Policy, error) {
	if len(h.policies) == 0 {
		return nil, fmt.Errorf("simhost: no policies configured")
	}
	return h.policies, nil
}

// SetLoad programs the load a future SampleLoad(cpu) call returns.
func (h *SimHost) SetLoad(cpu, load int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.load[cpu] = load
}

// SetInstructions programs the free-running instruction counter value
// a future ReadInstructions(cpu) call returns.
func (h *SimHost) SetInstructions(cpu int, v uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.instr[cpu] = v
}

// AddInstructions is a convenience for tests that want to grow the
// counter by a delta rather than set an absolute value.
func (h *SimHost) AddInstructions(cpu int, delta uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.instr[cpu] += delta
}

// Advance moves the simulated clock forward by d.
func (h *SimHost) Advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *SimHost) SampleLoad(cpu int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load[cpu], nil
}

func (h *SimHost) ReadInstructions(cpu int) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.instr[cpu], nil
}

func (h *SimHost) Actuate(cpu int, freq types.Hertz) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.freq[cpu] = freq
	return nil
}

// ActuatedFreq returns the last frequency this host was asked to set for
// cpu, for test assertions.
func (h *SimHost) ActuatedFreq(cpu int) types.Hertz {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.freq[cpu]
}

func (h *SimHost) Now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}
