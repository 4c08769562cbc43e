package governor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tokensmart/governor/internal/fdcontrol"
	"github.com/tokensmart/governor/internal/ips"
	"github.com/tokensmart/governor/internal/loadview"
	"github.com/tokensmart/governor/internal/power"
	"github.com/tokensmart/governor/internal/tokenpool"
	"github.com/tokensmart/governor/internal/topology"
	"github.com/tokensmart/governor/pkg/types"
)

// Config collects everything the daemon needs beyond topology::Build's
// inputs: the §8 fixture constants plus min/max frequency and the tick
// interval governing how often every FD is sampled and actuated.
type Config struct {
	TickInterval time.Duration
	MinFreq      types.Hertz
	MaxFreq      types.Hertz

	PoolInitial int
	FairTokens  int
	IPCThresh   float64

	Consts fdcontrol.Constants
	Power  power.Config
}

// DefaultConfig matches §8's end-to-end scenario fixture.
func DefaultConfig() Config {
	return Config{
		TickInterval: 8 * time.Millisecond,
		MinFreq:      2166000 * 1000,
		MaxFreq:      3800000 * 1000,
		PoolInitial:  500,
		FairTokens:   166,
		IPCThresh:    8500,
		Consts:       fdcontrol.DefaultConstants(),
		Power:        power.DefaultConfig(),
	}
}

// fdState bundles one frequency domain's per-tick working set: its
// controller, its load view over the policy's own CPUs, and a power
// accumulator. The IPS meter is shared by the whole daemon and keyed by CPU.
type fdState struct {
	fd      topology.FD
	ctrl    *fdcontrol.Controller
	load    *loadview.View
	power   *power.Accumulator
	lastRes fdcontrol.Result
}

// Daemon runs one goroutine per frequency domain, each ticking
// independently, dispatching Phase A-D against a Host. It is the
// userspace analogue of start() registering one timer per cpufreq
// policy.
type Daemon struct {
	cfg   Config
	host  Host
	topo  *topology.Topology
	pool  *tokenpool.Pool
	meter *ips.Meter
	ipc   *fdcontrol.IPCThreshold

	mu  sync.RWMutex
	fds map[int]*fdState

	ready chan struct{}
	once  sync.Once
}

// New builds a Daemon from the host's enumerated policies: exceptional
// CPUs and ring topology are derived the same way start() derives them
// on CPU 0, using policyName to pick the ring policy ("generic" or
// "power9").
func New(host Host, policyName string, cfg Config) (*Daemon, error) {
	policies, err := host.Policies()
	if err != nil {
		return nil, fmt.Errorf("governor: enumerate policies: %w", err)
	}
	rp, err := topology.Lookup(policyName)
	if err != nil {
		return nil, err
	}
	topo, err := topology.Build(policies, rp)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:   cfg,
		host:  host,
		topo:  topo,
		pool:  tokenpool.New(cfg.PoolInitial, cfg.FairTokens, 0),
		meter: ips.NewMeter(),
		ipc:   fdcontrol.NewIPCThreshold(cfg.IPCThresh),
		fds:   make(map[int]*fdState),
		ready: make(chan struct{}),
	}

	for _, id := range topo.ActiveFDs() {
		fd := topo.FD(id)
		ctrl := fdcontrol.New(fd.ID, d.pool, d.nextInRing, cfg.Consts, d.ipc)
		d.fds[fd.ID] = &fdState{
			fd:    fd,
			ctrl:  ctrl,
			load:  loadview.NewView(len(fd.CPUs)),
			power: power.New(cfg.Power),
		}
	}

	return d, nil
}

func (d *Daemon) nextInRing(fd int) (int, bool) {
	return d.topo.NextInRing(fd)
}

// Pool exposes the shared token pool, mainly for the admin surface.
func (d *Daemon) Pool() *tokenpool.Pool { return d.pool }

// IPCThreshold exposes the shared threshold, mainly for the admin surface.
func (d *Daemon) IPCThreshold() *fdcontrol.IPCThreshold { return d.ipc }

// Topology exposes the built topology, mainly for diagnostics.
func (d *Daemon) Topology() *topology.Topology { return d.topo }

// FDState is a read-only snapshot of one FD's last decision, exposed for
// the admin surface and tests.
type FDState struct {
	ID       int
	MyTokens int
	State    fdcontrol.State
}

// Snapshot returns every active FD's latest state.
func (d *Daemon) Snapshot() []FDState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]FDState, 0, len(d.fds))
	for _, fs := range d.fds {
		out = append(out, FDState{ID: fs.fd.ID, MyTokens: fs.lastRes.MyTokens, State: fs.ctrl.State()})
	}
	return out
}

// Run actuates every exceptional and non-representative CPU once to its
// fixed frequency, then starts one ticking goroutine per active FD and
// blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.actuateFixedCPUs(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	d.once.Do(func() { close(d.ready) })

	for _, id := range d.topo.ActiveFDs() {
		wg.Add(1)
		go d.runFD(ctx, &wg, id)
	}
	wg.Wait()
	return nil
}

// Ready is closed once startup's fixed-CPU actuation pass has completed
// and the per-FD goroutines are about to start their first tick.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// actuateFixedCPUs pins exceptional CPUs to max frequency and every
// representative's non-representative siblings to min frequency, a
// one-time pass mirroring start()'s initial policy write before the
// first timer fires.
func (d *Daemon) actuateFixedCPUs() error {
	for fdID := 0; fdID < d.topo.NrFDs(); fdID++ {
		fd := d.topo.FD(fdID)
		for _, cpu := range fd.CPUs {
			freq := d.cfg.MinFreq
			if fd.Exceptional {
				freq = d.cfg.MaxFreq
			} else if cpu != fd.Representative() {
				freq = d.cfg.MinFreq
			} else {
				continue // the representative is actuated every tick
			}
			if err := d.host.Actuate(cpu, freq); err != nil {
				return fmt.Errorf("governor: actuate fixed cpu %d: %w", cpu, err)
			}
		}
	}
	return nil
}

func (d *Daemon) runFD(ctx context.Context, wg *sync.WaitGroup, fdID int) {
	defer wg.Done()

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.tick(fdID); err != nil {
				slog.Warn("tick failed", "fd", fdID, "err", err)
			}
		}
	}
}

// tick runs one Phase A-D cycle for fdID: sample load and instructions
// across the FD's own CPUs, feed the IPS meter, run the controller, and
// actuate the representative CPU whenever the controller reports
// Actuated (every tick on which it transacted).
func (d *Daemon) tick(fdID int) error {
	d.mu.RLock()
	fs, ok := d.fds[fdID]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("governor: unknown fd %d", fdID)
	}

	now := d.host.Now()
	instr := make(map[int]uint64, len(fs.fd.CPUs))
	for i, cpu := range fs.fd.CPUs {
		load, err := d.host.SampleLoad(cpu)
		if err != nil {
			// Degrade safely per §7: keep the previous sample for this
			// CPU rather than aborting the whole FD's tick, so one bad
			// counter can never stall the ring by blocking donation.
			slog.Warn("sample load failed, keeping previous sample", "cpu", cpu, "err", err)
		} else {
			fs.load.Set(i, load)
		}

		ins, err := d.host.ReadInstructions(cpu)
		if err != nil {
			slog.Warn("read instructions failed, counter treated as unavailable this tick", "cpu", cpu, "err", err)
			continue
		}
		instr[cpu] = ins
	}

	policyMIPS, updated := d.meter.UpdateFD(fs.fd.CPUs, instr, now)
	loadAgg := fs.load.Aggregate()

	res := fs.ctrl.Tick(loadAgg, policyMIPS, updated)

	d.mu.Lock()
	fs.lastRes = res
	d.mu.Unlock()

	if !res.Actuated {
		return nil
	}

	freq := types.FromTokens(res.MyTokens, d.cfg.MinFreq, d.cfg.MaxFreq)
	if err := d.host.Actuate(fs.fd.Representative(), freq); err != nil {
		return fmt.Errorf("actuate cpu %d: %w", fs.fd.Representative(), err)
	}
	fs.power.Sample(res.MyTokens, d.cfg.TickInterval)
	return nil
}
