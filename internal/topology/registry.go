package topology

import "fmt"

var registry = map[string]RingPolicy{
	"generic": Generic{},
	"power9":  Power9{},
}

// Register adds or replaces a named ring policy, letting callers (tests,
// future architectures) extend the set without touching this package.
func Register(name string, rp RingPolicy) {
	registry[name] = rp
}

// Lookup resolves a ring policy by name, as selected by the --ring-policy flag.
func Lookup(name string) (RingPolicy, error) {
	rp, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("topology: unknown arch %q", name)
	}
	return rp, nil
}
