// Package fdcontrol implements the decision core of one frequency
// domain's tick: the admission gate, the frequency-sensitivity regret
// heuristic, collapse detection, the donate/accept transaction against
// the shared token pool, the fairness cap and the ring advance. It
// assumes the caller has already filtered out exceptional CPUs and
// non-representative CPUs — a Controller only ever runs for an FD's
// representative.
package fdcontrol

import (
	"math"
	"sync/atomic"

	"github.com/tokensmart/governor/internal/tokenpool"
)

// Constants are the tunables §8 fixes for the reference scenarios.
type Constants struct {
	StarvationThreshold int
	DropThreshold       int
	RampUpLimit         int
	MIPSDropMarginPct   int // e.g. 110: a ratio below 1.0 signals a >=10% MIPS collapse
}

// DefaultConstants matches §8's end-to-end scenario fixture.
func DefaultConstants() Constants {
	return Constants{
		StarvationThreshold: 32,
		DropThreshold:       5,
		RampUpLimit:         32,
		MIPSDropMarginPct:   110,
	}
}

// IPCThreshold is the one tunable §4.6's mips_threshold attribute can
// change at runtime. It is process-wide, shared by every Controller, so
// it lives behind an atomic rather than copied into each FD's Constants.
type IPCThreshold struct {
	bits atomic.Uint64
}

// NewIPCThreshold returns a shared threshold initialised to initial; §8
// fixes the default at 8500 (17000/2, the expected per-token instruction
// gain).
func NewIPCThreshold(initial float64) *IPCThreshold {
	t := &IPCThreshold{}
	t.Store(initial)
	return t
}

// Load returns the current threshold.
func (t *IPCThreshold) Load() float64 {
	return math.Float64frombits(t.bits.Load())
}

// Store replaces the threshold, as the admin surface's mips_threshold
// write does.
func (t *IPCThreshold) Store(v float64) {
	t.bits.Store(math.Float64bits(v))
}

// State is one FD's controller state, persisted across ticks for the
// life of the daemon.
type State struct {
	MyTokens        int
	LastRampUp      int
	Starvation      int
	SetFairMode     bool
	MipsWhenBoosted float64
	LastPolicyMIPS  float64
	DropThreshold   int
	TakingToken     bool
}

// NewState returns a freshly-initialised FD state: no tokens held, drop
// counter primed to the configured threshold.
func NewState(c Constants) *State {
	return &State{DropThreshold: c.DropThreshold}
}

// Controller runs the Phase A(continued)-D decision logic for one FD.
// Phase A steps 1-2 (exceptional / non-representative short-circuit) are
// the governor's job, since they depend on which CPU is ticking, not on
// FD-level state; Controller.Tick implements steps 3 onward given that
// the caller already knows it is the representative of a non-exceptional
// FD.
type Controller struct {
	id     int
	nextFD func(fd int) (int, bool)
	pool   *tokenpool.Pool
	consts Constants
	ipc    *IPCThreshold
	state  *State
}

// New constructs a controller for FD id. nextFD resolves the ring
// successor (typically topology.Topology.NextInRing). ipc is shared
// across every FD's controller so an admin write to mips_threshold takes
// effect everywhere at once.
func New(id int, pool *tokenpool.Pool, nextFD func(fd int) (int, bool), consts Constants, ipc *IPCThreshold) *Controller {
	return &Controller{
		id:     id,
		nextFD: nextFD,
		pool:   pool,
		consts: consts,
		ipc:    ipc,
		state:  NewState(consts),
	}
}

// State exposes the controller's persisted state, mainly for tests and
// the admin surface's diagnostics.
func (c *Controller) State() State { return *c.state }

// Result is what the tick handler needs to actuate frequency and to
// decide whether this tick changed anything worth logging.
type Result struct {
	// Actuated is false when Phase A or the admission gate suppressed
	// action this tick; the previous frequency remains in effect and the
	// caller should not re-issue an actuation.
	Actuated   bool
	MyTokens   int
	Transacted bool
	Donated    int
	Accepted   int
}

// Tick runs steps 3 onward of §4.4 Phase A, then B, C and D, given that
// the IPS meter has already been sampled for this FD this tick.
//
//   - loadAggregate is the FD's load_view.Aggregate() result, in [0,100].
//   - policyMIPS is the freshly computed policy_mips for this FD.
//   - mipsUpdated reports whether the IPS meter's 100ms gate admitted a
//     fresh reading this tick.
func (c *Controller) Tick(loadAggregate int, policyMIPS float64, mipsUpdated bool) Result {
	s := c.state
	requiredTokens := loadAggregate

	// Step 4: do not raise frequency speculatively without a fresh MIPS
	// reading.
	if !mipsUpdated && requiredTokens >= s.MyTokens {
		return Result{Actuated: false, MyTokens: s.MyTokens}
	}

	// Step 5: not our slot.
	if c.pool.Turn() != c.id {
		return Result{Actuated: false, MyTokens: s.MyTokens}
	}

	// Phase B, step 6: frequency-sensitivity regret test.
	if s.TakingToken {
		expected := s.MipsWhenBoosted + c.ipc.Load()*float64(s.LastRampUp)*0.95
		if policyMIPS <= expected {
			requiredTokens = s.MyTokens - 1
			if requiredTokens < 0 {
				requiredTokens = 0
			}
		}
		s.TakingToken = false
	}

	// Phase B, step 7-8: collapse detection.
	if policyMIPS*float64(c.consts.MIPSDropMarginPct)/100 < s.LastPolicyMIPS {
		s.DropThreshold--
		if s.DropThreshold <= 0 {
			requiredTokens = 0
		}
	} else {
		s.DropThreshold = c.consts.DropThreshold
	}
	s.LastPolicyMIPS = policyMIPS

	result := Result{Actuated: true, Transacted: true}

	// Phase C.
	if requiredTokens <= s.MyTokens {
		// Donate. Equality belongs here per §4.4's tie-break.
		donated := s.MyTokens - requiredTokens
		if donated > 0 {
			c.pool.Donate(donated)
		}
		s.MyTokens = requiredTokens
		s.LastRampUp = 0
		s.TakingToken = false
		result.Donated = donated
	} else {
		need := s.LastRampUp * 2
		if need == 0 {
			need = 1
		}
		if need > c.consts.RampUpLimit {
			need = c.consts.RampUpLimit
		}
		if want := requiredTokens - s.MyTokens; need > want {
			need = want
		}

		if c.pool.Peek() == 0 {
			// Starved: jump straight to the fairness step for this tick.
			// A SetFairMode just set here must survive into the next
			// tick's transfer branch, not be undone below before any
			// other FD has had a chance to donate back.
			s.Starvation++
			if s.Starvation >= c.consts.StarvationThreshold {
				c.pool.SetMode(tokenpool.Fair)
				s.SetFairMode = true
			}
		} else {
			s.LastRampUp = need
			taken := c.pool.TryTake(need)
			if taken < need {
				// Pool exhausted mid-transaction: add the tokens actually
				// taken on top of the attempted ramp, so the next tick's
				// doubling starts from the larger figure.
				s.LastRampUp += taken
			}
			s.MyTokens += taken
			s.TakingToken = true
			s.MipsWhenBoosted = policyMIPS
			s.Starvation = 0
			result.Accepted = taken

			if s.SetFairMode && (s.MyTokens >= c.pool.FairTokens() || s.MyTokens >= requiredTokens) {
				c.pool.SetMode(tokenpool.Greedy)
				s.SetFairMode = false
			}
		}
	}

	// Step 11: fairness cap.
	if c.pool.Mode() == tokenpool.Fair && s.MyTokens > c.pool.FairTokens() {
		excess := s.MyTokens - c.pool.FairTokens()
		c.pool.Donate(excess)
		s.MyTokens -= excess
		result.Donated += excess
	}

	// Phase D.
	if next, ok := c.nextFD(c.id); ok {
		c.pool.SetTurn(next)
	}
	result.MyTokens = s.MyTokens

	return result
}
