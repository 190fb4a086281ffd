// Package console provides an interactive prompt for poking at a running
// bridge: list devices, inject commands and watch events as they are
// emitted.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chzyer/readline"

	"github.com/nerrad567/gray-logic-iobridge/internal/bridge"
	"github.com/nerrad567/gray-logic-iobridge/internal/iopoint"
)

// Target is the part of *bridge.Bridge the console drives.
type Target interface {
	Inject(adapter string, cmd iopoint.Command) error
	Adapters() []bridge.Adapter
}

// Console is a readline prompt bound to a bridge. It is also an
// iopoint.EventSink: while watching, emitted events are printed above the
// prompt.
type Console struct {
	target Target
	rl     *readline.Instance

	mu  sync.Mutex
	out io.Writer

	watching atomic.Bool
}

// New creates a console on the terminal.
func New(target Target) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "iobridge> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := newConsole(target, rl.Stdout())
	c.rl = rl
	return c, nil
}

func newConsole(target Target, out io.Writer) *Console {
	return &Console{target: target, out: out}
}

// Stdout returns a writer that does not corrupt the prompt. Point the
// logger at it while the console runs.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Emit implements iopoint.EventSink.
func (c *Console) Emit(e iopoint.Event) {
	if !c.watching.Load() {
		return
	}
	line := fmt.Sprintf("event %s/%s/%s = %s", e.Adapter, e.DeviceID, e.Point, strconv.FormatFloat(e.Value, 'f', -1, 64))
	if e.Mode != "" {
		line += " (" + string(e.Mode) + ")"
	}
	c.println(line)
}

// Run reads commands until quit, EOF or ctx is done. cancel is called when
// the user quits so the process shuts down with the console.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()
	go func() {
		<-ctx.Done()
		_ = c.rl.Close()
	}()

	c.help()
	for {
		if ctx.Err() != nil {
			return
		}
		line, err := c.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				c.println("Exiting...")
				cancel()
			}
			return
		}
		if c.Exec(line) {
			c.println("Exiting...")
			cancel()
			return
		}
	}
}

// Exec runs one command line and reports whether it asked to quit.
func (c *Console) Exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	args := fields[1:]

	switch strings.ToLower(fields[0]) {
	case "help", "?":
		c.help()
	case "devices", "ls":
		c.devices(args)
	case "set", "s":
		c.set(args)
	case "watch", "w":
		c.watch(args)
	case "quit", "exit", "q":
		return true
	default:
		c.printf("Unknown command: %s (type 'help' for commands)\n", fields[0])
	}
	return false
}

func (c *Console) help() {
	c.println(`Commands:
  devices [adapter]                              - list devices and last values
  set <adapter> <device> <point> <value> [mode]  - send a command (mode: absolute|increase|decrease|discrete)
  watch [on|off]                                 - print events as they are emitted
  help                                           - show this help
  quit                                           - stop the bridge`)
}

func (c *Console) devices(args []string) {
	for _, a := range c.target.Adapters() {
		if len(args) > 0 && a.Name() != args[0] {
			continue
		}
		reg := a.Registry()
		for _, id := range reg.IDs() {
			view, ok := reg.Get(id)
			if !ok {
				continue
			}
			state := "offline"
			if view.Connected {
				state = "online"
			}
			var vals []string
			for _, p := range view.Points() {
				v, ok := view.Value(p.Name)
				if !ok {
					vals = append(vals, p.Name+"=?")
					continue
				}
				vals = append(vals, p.Name+"="+strconv.FormatFloat(v, 'f', -1, 64))
			}
			c.printf("%s/%s [%s] %s\n", a.Name(), id, state, strings.Join(vals, " "))
		}
	}
}

func (c *Console) set(args []string) {
	if len(args) < 4 || len(args) > 5 {
		c.println("Usage: set <adapter> <device> <point> <value> [mode]")
		return
	}
	value, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		c.printf("Invalid value %q: %v\n", args[3], err)
		return
	}
	mode := iopoint.ModeAbsolute
	if len(args) == 5 {
		if mode, err = iopoint.ParseMode(args[4]); err != nil {
			c.printf("Error: %v\n", err)
			return
		}
	}

	cmd := iopoint.Command{DeviceID: args[1], Point: args[2], Value: value, Mode: mode}
	if err := c.target.Inject(args[0], cmd); err != nil {
		c.printf("Dropped: %v\n", err)
		return
	}
	c.println("OK")
}

func (c *Console) watch(args []string) {
	on := !c.watching.Load()
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "on":
			on = true
		case "off":
			on = false
		default:
			c.println("Usage: watch [on|off]")
			return
		}
	}
	c.watching.Store(on)
	if on {
		c.println("Watching events")
	} else {
		c.println("Not watching events")
	}
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
