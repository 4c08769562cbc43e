// Package loadview aggregates per-policy load samples the host delivers
// into a single per-FD view, with no smoothing beyond what the host
// already applies.
package loadview

import "github.com/tokensmart/governor/internal/numeric"

// View holds the latest load sample for each policy within one FD.
type View struct {
	samples []int
}

// NewView allocates a view sized for nrPolicies policies, all initially
// at zero load.
func NewView(nrPolicies int) *View {
	return &View{samples: make([]int, nrPolicies)}
}

// Set records the latest load, clamped to [0,100], for the policy at
// index within the FD.
func (v *View) Set(policyWithinFD int, load int) {
	v.samples[policyWithinFD] = numeric.ClampPercent(load)
}

// Aggregate returns max_of the FD's policy samples; this is the only
// consumer of the view and is only ever called from the representative
// CPU's tick.
func (v *View) Aggregate() int {
	return numeric.MaxInt(v.samples)
}
