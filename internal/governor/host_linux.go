//go:build linux

package governor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tokensmart/governor/internal/numeric"
	"github.com/tokensmart/governor/internal/topology"
	"github.com/tokensmart/governor/pkg/types"
)

// LinuxHost is the real Host: per-CPU /proc/stat utilization for load,
// a perf_event hardware-instructions counter per CPU for the IPS meter,
// and cpufreq sysfs writes for actuation, matching §6's "host-provided"
// contract (load sampler, performance counter, frequency setter, clock).
type LinuxHost struct {
	mu      sync.Mutex
	prevCPU map[int]cpuJiffies
	perfFDs map[int]int
}

type cpuJiffies struct {
	active, total uint64
}

// NewLinuxHost opens a perf_event hardware-instructions counter for every
// CPU named in cpus, mirroring init_perf_event's one-counter-per-CPU setup.
func NewLinuxHost(cpus []int) (*LinuxHost, error) {
	h := &LinuxHost{
		prevCPU: make(map[int]cpuJiffies),
		perfFDs: make(map[int]int),
	}
	for _, cpu := range cpus {
		fd, err := openInstructionCounter(cpu)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("governor: open perf counter for cpu %d: %w", cpu, err)
		}
		h.perfFDs[cpu] = fd
	}
	return h, nil
}

// Close releases every perf_event file descriptor, the free_perf_event
// counterpart to NewLinuxHost's setup.
func (h *LinuxHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var first error
	for cpu, fd := range h.perfFDs {
		if err := unix.Close(fd); err != nil && first == nil {
			first = err
		}
		delete(h.perfFDs, cpu)
	}
	return first
}

func openInstructionCounter(cpu int) (int, error) {
	attr := unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_HARDWARE,
		Config: unix.PERF_COUNT_HW_INSTRUCTIONS,
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Bits:   unix.PerfBitDisabled | unix.PerfBitInherit | unix.PerfBitExcludeGuest,
	}
	fd, err := unix.PerfEventOpen(&attr, -1, cpu, -1, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// ReadInstructions reads the free-running retired-instruction count for
// cpu, the read_perf_event counterpart.
func (h *LinuxHost) ReadInstructions(cpu int) (uint64, error) {
	h.mu.Lock()
	fd, ok := h.perfFDs[cpu]
	h.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("governor: no perf counter open for cpu %d", cpu)
	}
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, fmt.Errorf("governor: short perf read for cpu %d: %d bytes", cpu, n)
	}
	return uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
		uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56, nil
}

// SampleLoad parses /proc/stat's per-CPU "cpuN ..." line and returns the
// utilization percentage since the previous sample, generalizing the
// aggregate-line parsing the teacher uses for the whole system to a
// single CPU.
func (h *LinuxHost) SampleLoad(cpu int) (int, error) {
	active, total, err := readCPULine(cpu)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	prev, had := h.prevCPU[cpu]
	h.prevCPU[cpu] = cpuJiffies{active: active, total: total}
	h.mu.Unlock()

	if !had {
		return 0, nil
	}
	dActive := numeric.DeltaU64(active, prev.active)
	dTotal := numeric.DeltaU64(total, prev.total)
	if dTotal == 0 {
		return 0, nil
	}
	pct := int(numeric.SafeDiv(float64(dActive)*100, float64(dTotal)) + 0.5)
	return numeric.ClampPercent(pct), nil
}

func readCPULine(cpu int) (active, total uint64, err error) {
	f, e := os.Open("/proc/stat")
	if e != nil {
		return 0, 0, e
	}
	defer f.Close()

	want := fmt.Sprintf("cpu%d", cpu)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fs := strings.Fields(sc.Text())
		if len(fs) == 0 || fs[0] != want {
			continue
		}
		if len(fs) < 8 {
			return 0, 0, fmt.Errorf("governor: malformed /proc/stat line for %s", want)
		}
		vals := make([]uint64, 0, len(fs)-1)
		for _, s := range fs[1:] {
			v, _ := strconv.ParseUint(s, 10, 64)
			vals = append(vals, v)
		}
		active = vals[0] + vals[1] + vals[2] + vals[5] + vals[6] + vals[7]
		total = active + vals[3] + vals[4]
		return active, total, nil
	}
	return 0, 0, fmt.Errorf("governor: no /proc/stat line for %s", want)
}

// Actuate writes the target frequency, in kHz, to the representative
// CPU's cpufreq scaling_setspeed attribute.
func (h *LinuxHost) Actuate(cpu int, freq types.Hertz) error {
	path := fmt.Sprintf("/sys/devices/system/cpu/cpu%d/cpufreq/scaling_setspeed", cpu)
	khz := strconv.FormatUint(uint64(freq)/1000, 10)
	return os.WriteFile(path, []byte(khz), 0644)
}

// Now reads CLOCK_MONOTONIC, the mftb-equivalent time source §6 names.
func (h *LinuxHost) Now() time.Time {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Now()
	}
	sec, nsec := ts.Unix()
	return time.Unix(sec, nsec)
}

// EnumerateCPUs lists every CPU id present under /sys/devices/system/cpu,
// the same glob Policies groups by sibling list. Callers that need to size
// a per-CPU resource (NewLinuxHost's perf counters) before a topology has
// been built call this directly rather than hardcoding a CPU count.
func EnumerateCPUs() ([]int, error) {
	matches, err := filepath.Glob("/sys/devices/system/cpu/cpu[0-9]*")
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("governor: no CPUs found under /sys/devices/system/cpu")
	}

	cpus := make([]int, 0, len(matches))
	for _, m := range matches {
		cpuStr := strings.TrimPrefix(filepath.Base(m), "cpu")
		cpu, err := strconv.Atoi(cpuStr)
		if err != nil {
			continue
		}
		cpus = append(cpus, cpu)
	}
	sort.Ints(cpus)
	return cpus, nil
}

// Policies enumerates /sys/devices/system/cpu/cpu*/topology/core_siblings_list
// groupings into frequency-domain policies, the userspace counterpart of
// start()'s cpufreq_policy enumeration on CPU 0.
func (h *LinuxHost) Policies() ([]topology.Policy, error) {
	cpus, err := EnumerateCPUs()
	if err != nil {
		return nil, err
	}

	seen := make(map[string][]int)
	var order []string
	for _, cpu := range cpus {
		siblings, err := readSiblingList(cpu)
		if err != nil {
			siblings = strconv.Itoa(cpu)
		}
		if _, ok := seen[siblings]; !ok {
			order = append(order, siblings)
		}
		seen[siblings] = append(seen[siblings], cpu)
	}

	policies := make([]topology.Policy, 0, len(order))
	for _, key := range order {
		group := seen[key]
		sort.Ints(group)
		policies = append(policies, topology.Policy{CPUs: group})
	}
	return policies, nil
}

func readSiblingList(cpu int) (string, error) {
	path := fmt.Sprintf("/sys/devices/system/cpu/cpu%d/topology/core_siblings_list", cpu)
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
