// Package tokenpool implements the process-wide shared token budget: the
// undistributed pool, the ring cursor ("turn"), the GREEDY/FAIR mode flag
// and the fixed-at-startup fair quota. It is the one piece of state every
// FD's tick touches, so its mutation surface is kept to the minimum the
// ring protocol needs, with short, uncontended critical sections.
package tokenpool

import (
	"sync"
	"sync/atomic"
)

// Mode is the pool's distribution policy.
type Mode int32

const (
	// Greedy lets the transacting FD take as many tokens as it needs,
	// bounded only by ramp-up.
	Greedy Mode = iota
	// Fair caps every FD at FairTokens to recover from starvation.
	Fair
)

func (m Mode) String() string {
	if m == Fair {
		return "FAIR"
	}
	return "GREEDY"
}

// Pool is the shared singleton. turn is an atomic.Int32 so every non-
// owning FD can read it with a single lock-free word load, per §5; pool,
// mode and tokensInSystem share one mutex because the admin surface and
// the transacting FD can race to mutate them and the transaction itself
// is a read-modify-write.
type Pool struct {
	mu             sync.Mutex
	pool           int
	mode           Mode
	tokensInSystem int

	turn atomic.Int32

	// fairTokens is the quota passed to New at startup and is never
	// recomputed, including when the admin surface injects tokens — see
	// DESIGN.md's Open Question decision. The pool does not derive it from
	// the initial budget or the FD count; the caller supplies the value.
	fairTokens int
}

// New constructs a pool with the given initial budget, fair quota and
// starting turn. initial becomes both Pool() and TokensInSystem().
func New(initial, fairTokens, turn0 int) *Pool {
	p := &Pool{
		pool:           initial,
		tokensInSystem: initial,
		fairTokens:     fairTokens,
		mode:           Greedy,
	}
	p.turn.Store(int32(turn0))
	return p
}

// Turn returns the FD currently authorised to transact. Lock-free.
func (p *Pool) Turn() int { return int(p.turn.Load()) }

// SetTurn advances the cursor. Only the FD that just transacted calls
// this, at the end of Phase D.
func (p *Pool) SetTurn(fd int) { p.turn.Store(int32(fd)) }

// FairTokens returns the fixed-at-startup fair quota.
func (p *Pool) FairTokens() int { return p.fairTokens }

// Snapshot returns a consistent read of the mutex-guarded fields, for the
// admin surface and for tests.
func (p *Pool) Snapshot() (pool, tokensInSystem int, mode Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool, p.tokensInSystem, p.mode
}

// Mode returns the current distribution policy.
func (p *Pool) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// SetMode transitions the pool's policy, e.g. FAIR->GREEDY once a
// starving FD has been satisfied.
func (p *Pool) SetMode(m Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = m
}

// Donate returns amount tokens to the pool. amount must be >= 0; the FD
// controller is responsible for computing how many tokens it no longer
// needs before calling this.
func (p *Pool) Donate(amount int) {
	if amount <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pool += amount
}

// Peek returns the current pool size under the mutex, for callers that
// must branch on "is the pool empty" before attempting a take (§4.4 step
// 10: a pool of exactly zero increments starvation instead of taking).
func (p *Pool) Peek() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool
}

// TryTake removes up to want tokens from the pool and returns how many
// were actually available; it never blocks and never takes more than the
// pool holds, per §4.4 step 10's "take all remaining pool; do not block".
func (p *Pool) TryTake(want int) (taken int) {
	if want <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if want > p.pool {
		want = p.pool
	}
	p.pool -= want
	return want
}

// AdminAdjust implements the central_pool write's non-zero branch: n is
// added to both the pool and tokens_in_system under the pool mutex.
// fair_tokens is deliberately left untouched.
func (p *Pool) AdminAdjust(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pool += n
	p.tokensInSystem += n
}
