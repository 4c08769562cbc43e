// Command tokensmartd runs the TokenSmart governor: either against the
// real Linux host (run) or against an in-memory simulated host driven by
// a synthetic load pattern, for demonstrating the ring protocol without
// root or real cpufreq hardware (simulate).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokensmart/governor/internal/admin"
	"github.com/tokensmart/governor/internal/governor"
	"github.com/tokensmart/governor/internal/topology"
)

func main() {
	root := &cobra.Command{
		Use:   "tokensmartd",
		Short: "TokenSmart dynamic CPU frequency governor",
		Long: `tokensmartd runs the token-passing-ring frequency governor described by
the cpufreq_tokengov driver: a fleet-wide token budget is passed among
frequency-domain representatives, each converting its held share into a
target frequency every tick.`,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newSimulateCmd())

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		policyName string
		adminAddr  string
		tick       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the governor against the real Linux host",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := governor.DefaultConfig()
			cfg.TickInterval = tick

			probe, err := governor.EnumerateCPUs()
			if err != nil {
				return fmt.Errorf("enumerate cpus: %w", err)
			}
			host, err := governor.NewLinuxHost(probe)
			if err != nil {
				return fmt.Errorf("open host: %w", err)
			}
			defer host.Close()

			d, err := governor.New(host, policyName, cfg)
			if err != nil {
				return fmt.Errorf("build governor: %w", err)
			}

			srv := admin.NewServer(d)
			go func() {
				if err := srv.ListenAndServe(ctx, adminAddr, time.Second); err != nil {
					slog.Error("admin server stopped", "err", err)
				}
			}()

			slog.Info("tokensmartd starting", "policy", policyName, "admin_addr", adminAddr, "tick", tick)
			return d.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&policyName, "ring-policy", "generic", "ring topology policy: generic or power9")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", ":9400", "address the admin HTTP surface listens on")
	cmd.Flags().DurationVar(&tick, "tick", 8*time.Millisecond, "governor tick interval")

	return cmd
}

func newSimulateCmd() *cobra.Command {
	var (
		nrFDs      int
		cpusPerFD  int
		ticks      int
		tick       time.Duration
		loadTarget int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive the governor against an in-memory host with synthetic load",
		RunE: func(cmd *cobra.Command, args []string) error {
			policies := make([]topology.Policy, nrFDs)
			for i := 0; i < nrFDs; i++ {
				cpus := make([]int, cpusPerFD)
				for j := 0; j < cpusPerFD; j++ {
					cpus[j] = i*cpusPerFD + j
				}
				policies[i] = topology.Policy{CPUs: cpus}
			}

			host := governor.NewSimHost(policies, time.Unix(0, 0))
			for _, p := range policies {
				host.SetLoad(p.CPUs[0], loadTarget)
			}

			cfg := governor.DefaultConfig()
			cfg.TickInterval = time.Millisecond

			d, err := governor.New(host, "generic", cfg)
			if err != nil {
				return fmt.Errorf("build governor: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			done := make(chan error, 1)
			go func() { done <- d.Run(ctx) }()
			<-d.Ready()

			for i := 0; i < ticks; i++ {
				host.Advance(tick)
				time.Sleep(time.Millisecond)
			}
			cancel()
			if err := <-done; err != nil {
				return err
			}

			printReport(d, host, policies)
			return nil
		},
	}

	cmd.Flags().IntVar(&nrFDs, "nr-fds", 12, "number of frequency domains")
	cmd.Flags().IntVar(&cpusPerFD, "cpus-per-fd", 4, "CPUs per frequency domain")
	cmd.Flags().IntVar(&ticks, "ticks", 200, "number of simulated clock advances, each --period long, to drive")
	cmd.Flags().DurationVar(&tick, "period", 150*time.Millisecond, "simulated clock advance per tick")
	cmd.Flags().IntVar(&loadTarget, "load", 100, "load percentage presented by every FD's representative")

	return cmd
}

func printReport(d *governor.Daemon, host *governor.SimHost, policies []topology.Policy) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FD\tTOKENS\tSTARVATION\tACTUATED FREQ")
	fmt.Fprintln(tw, "--\t------\t----------\t-------------")
	for _, fd := range d.Snapshot() {
		rep := policies[fd.ID].CPUs[0]
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\n", fd.ID, fd.MyTokens, fd.State.Starvation, host.ActuatedFreq(rep).Humanized())
	}
	tw.Flush()

	pool, tokensInSystem, mode := d.Pool().Snapshot()
	fmt.Printf("\ncentral pool: %d / %d tokens (%s)\n", pool, tokensInSystem, mode)
}
