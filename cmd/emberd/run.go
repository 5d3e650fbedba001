package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ember/emberos/config"
	"ember/emberos/interrupt"
	"ember/emberos/kalloc"
	"ember/emberos/kernel"
	"ember/emberos/monitor"
	"ember/emberos/timer"
	"ember/hal"
	"ember/internal/buildinfo"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "boot the kernel and open the console",
		RunE:  runKernel,
	}
	cmd.Flags().IntVar(&flagTickHz, "tick-hz", 0, "timer frequency override")
	return cmd
}

// runKernel stays on the calling goroutine for the whole kernel lifetime:
// that goroutine becomes the bootstrap thread, and every kernel call after
// boot happens from it. The only other goroutine touching the system is the
// tick pump, which raises interrupts and nothing else.
func runKernel(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagTickHz != 0 {
		cfg.TickHz = flagTickHz
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := cfg.NewLogger(os.Stderr)
	log.Info().
		Str("version", buildinfo.Short()).
		Int("tick_hz", cfg.TickHz).
		Int("stack_blocks", cfg.StackBlocks).
		Log("emberd booting")

	// A kernel panic unwinds the bootstrap goroutine to here.
	defer func() {
		if r := recover(); r != nil {
			p, ok := r.(*kernel.Panic)
			if !ok {
				panic(r)
			}
			fmt.Fprintf(os.Stderr, "%s\n%s", p.Error(), p.Stack)
			os.Exit(2)
		}
	}()

	irq := interrupt.New()
	k := kernel.New(kernel.Config{
		Intr: irq,
		Pool: kalloc.NewPool(cfg.StackBlocks),
		Log:  log,
	})
	tm := timer.New(k, cfg.TickHz)
	k.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := hal.NewHostTime(time.Second / time.Duration(cfg.TickHz))
	defer clock.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pumpTicks(gctx, clock, irq) })

	mon := monitor.New(monitor.Config{
		Kernel: k,
		Timer:  tm,
		Log:    log,
	})
	runErr := mon.Run(ctx)
	stop()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}

	k.Halt()

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// pumpTicks forwards ticks from the platform clock to the interrupt
// controller until ctx ends. It never touches kernel state directly.
func pumpTicks(ctx context.Context, clock hal.Time, irq *interrupt.Controller) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-clock.Ticks():
			irq.Raise()
		}
	}
}
