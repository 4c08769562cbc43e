// Package governor wires topology, the IPS meter, the load view, the
// token pool and the FD controllers into a running daemon: one goroutine
// per frequency domain, each on its own ticker, dispatching against the
// external collaborators the host operating system provides.
package governor

import (
	"time"

	"github.com/tokensmart/governor/internal/topology"
	"github.com/tokensmart/governor/pkg/types"
)

// LoadSampler reads the host's latest load sample for a CPU, in [0,100].
type LoadSampler interface {
	SampleLoad(cpu int) (int, error)
}

// InstructionCounter reads a CPU's free-running retired-instruction
// count, the performance-counter contract of §6.
type InstructionCounter interface {
	ReadInstructions(cpu int) (uint64, error)
}

// FrequencyActuator drives a CPU's representative to a target frequency.
type FrequencyActuator interface {
	Actuate(cpu int, freq types.Hertz) error
}

// Clock is the monotonic time source §6 names (mftb-equivalent).
type Clock interface {
	Now() time.Time
}

// Host bundles every external collaborator §6 treats as out of scope,
// plus the policy enumeration the topology is built from.
type Host interface {
	LoadSampler
	InstructionCounter
	FrequencyActuator
	Clock

	// Policies enumerates the host's frequency-policy list, as start()
	// would on CPU 0.
	Policies() ([]topology.Policy, error)
}
