// Package monitor is the kernel console: a line-oriented command surface
// over the scheduler and timebase for poking at a live kernel. It runs on
// the bootstrap thread, so a command that sleeps parks the console and the
// rest of the system keeps running.
package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"ember/emberos/kernel"
	"ember/emberos/timer"

	"github.com/dustin/go-humanize"
	"github.com/google/shlex"
	"github.com/joeycumines/logiface"
)

// errHalt is returned by the halt command to end the console loop.
var errHalt = errors.New("halt")

type cmdFunc func(m *Monitor, args []string) error

type command struct {
	name  string
	usage string
	desc  string
	run   cmdFunc
}

// Config wires a console to a kernel. In and Out default to the process
// stdin and stdout; a nil Log stays silent.
type Config struct {
	Kernel *kernel.Kernel
	Timer  *timer.Timer
	In     io.Reader
	Out    io.Writer
	Log    *logiface.Logger[logiface.Event]
}

// Monitor is a kernel console instance.
type Monitor struct {
	k   *kernel.Kernel
	t   *timer.Timer
	in  io.Reader
	out io.Writer
	log *logiface.Logger[logiface.Event]

	cmds    map[string]command
	spawned int
}

// New builds a console over the given kernel and timer.
func New(cfg Config) *Monitor {
	if cfg.Kernel == nil || cfg.Timer == nil {
		panic("monitor: nil kernel or timer")
	}
	m := &Monitor{
		k:   cfg.Kernel,
		t:   cfg.Timer,
		in:  cfg.In,
		out: cfg.Out,
		log: cfg.Log,
	}
	if m.in == nil {
		m.in = os.Stdin
	}
	if m.out == nil {
		m.out = os.Stdout
	}
	m.cmds = commandTable()
	return m
}

func commandTable() map[string]command {
	table := map[string]command{}
	for _, c := range []command{
		{name: "help", usage: "help", desc: "list commands", run: cmdHelp},
		{name: "ps", usage: "ps", desc: "show the thread table", run: cmdPS},
		{name: "ticks", usage: "ticks", desc: "show the tick counter", run: cmdTicks},
		{name: "uptime", usage: "uptime", desc: "show time since boot", run: cmdUptime},
		{name: "stats", usage: "stats", desc: "show scheduling statistics", run: cmdStats},
		{name: "spawn", usage: "spawn [n]", desc: "spawn n demo threads", run: cmdSpawn},
		{name: "sleep", usage: "sleep <ticks>", desc: "sleep the console thread", run: cmdSleep},
		{name: "halt", usage: "halt", desc: "halt the kernel and exit", run: cmdHalt},
	} {
		table[c.name] = c
	}
	return table
}

// Run reads and executes commands until the halt command, end of input, or
// context cancellation. The console thread still holds the CPU while it sits
// at the prompt, so Run polls for latched ticks on the tick cadence to keep
// sleepers and spawned threads running between commands.
func (m *Monitor) Run(ctx context.Context) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(m.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	pump := time.NewTicker(time.Second / time.Duration(m.t.Hz()))
	defer pump.Stop()

	m.prompt()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pump.C:
			m.k.Intr().Poll()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			m.k.Intr().Poll()
			if err := m.exec(line); err != nil {
				if errors.Is(err, errHalt) {
					return nil
				}
				fmt.Fprintf(m.out, "error: %v\n", err)
			}
			m.prompt()
		}
	}
}

func (m *Monitor) prompt() {
	fmt.Fprint(m.out, "ember> ")
}

func (m *Monitor) exec(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(args) == 0 {
		return nil
	}
	c, ok := m.cmds[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q, try help", args[0])
	}
	return c.run(m, args[1:])
}

func cmdHelp(m *Monitor, _ []string) error {
	names := make([]string, 0, len(m.cmds))
	for name := range m.cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := m.cmds[name]
		fmt.Fprintf(m.out, "  %-14s %s\n", c.usage, c.desc)
	}
	return nil
}

func cmdPS(m *Monitor, _ []string) error {
	fmt.Fprintf(m.out, "%5s  %-16s %-8s %3s\n", "TID", "NAME", "STAT", "PRI")
	for _, ti := range m.k.Threads() {
		fmt.Fprintf(m.out, "%5d  %-16s %-8s %3d\n", ti.ID, ti.Name, ti.Status, ti.Priority)
	}
	return nil
}

func cmdTicks(m *Monitor, _ []string) error {
	fmt.Fprintf(m.out, "%s ticks at %d Hz\n", humanize.Comma(int64(m.t.Ticks())), m.t.Hz())
	return nil
}

func cmdUptime(m *Monitor, _ []string) error {
	ticks := m.t.Ticks()
	up := time.Duration(ticks) * time.Second / time.Duration(m.t.Hz())
	fmt.Fprintf(m.out, "up %s (%s ticks)\n", up.Truncate(time.Millisecond), humanize.Comma(int64(ticks)))
	return nil
}

func cmdStats(m *Monitor, _ []string) error {
	s := m.k.Stats()
	fmt.Fprintf(m.out, "idle ticks   %12s\n", humanize.Comma(int64(s.IdleTicks)))
	fmt.Fprintf(m.out, "kernel ticks %12s\n", humanize.Comma(int64(s.KernelTicks)))
	fmt.Fprintf(m.out, "user ticks   %12s\n", humanize.Comma(int64(s.UserTicks)))
	fmt.Fprintf(m.out, "threads      %12d\n", s.Threads)
	return nil
}

func cmdSpawn(m *Monitor, args []string) error {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return fmt.Errorf("spawn: bad count %q", args[0])
		}
		n = v
	}
	for i := 0; i < n; i++ {
		m.spawned++
		name := fmt.Sprintf("spin-%d", m.spawned)
		id, err := m.k.Spawn(name, kernel.PriDefault, m.spin, 100)
		if err != nil {
			return err
		}
		fmt.Fprintf(m.out, "spawned %s as tid %d\n", name, id)
	}
	// One slice apiece so they show up doing something.
	m.k.Yield()
	return nil
}

// spin is the demo workload: a thread that yields a fixed number of times
// and exits.
func (m *Monitor) spin(arg any) {
	rounds := arg.(int)
	for i := 0; i < rounds; i++ {
		m.k.Yield()
	}
}

func cmdSleep(m *Monitor, args []string) error {
	if len(args) != 1 {
		return errors.New("sleep: want a tick count")
	}
	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("sleep: bad tick count %q", args[0])
	}
	start := m.t.Ticks()
	m.t.Sleep(n)
	fmt.Fprintf(m.out, "slept %d ticks (elapsed %d)\n", n, m.t.Elapsed(start))
	return nil
}

func cmdHalt(m *Monitor, _ []string) error {
	m.log.Info().Log("halt requested from console")
	return errHalt
}
