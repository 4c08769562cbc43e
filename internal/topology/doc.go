// Architecture notes.
//
// The generic ring assumes one host policy per FD and advances the turn by
// enumeration index: FD i hands off to FD (i+1) mod nr_fds.
//
// POWER9 groups CPUs into 16-thread quads and does not follow enumeration
// order: the ring advances from a representative CPU to representative+16,
// except CPU 64 which jumps to 72, and any representative at or above 72
// which wraps to 0. CPUs numbered 88 and above belong to a secondary
// socket, are pinned to max_freq and excluded from the ring entirely.
package topology
