// Command zk-console is an interactive operator console for a clock
// terminal.
//
// The console drives a terminal link directly, independent of the daemon.
// It is the manual escape hatch: verify a terminal, read or set its clock,
// and restore the authentic time when the daemon is down.
//
// Usage:
//
//	zk-console [flags]
//
// Flags:
//
//	-addr string      Terminal UDP address (host:port)
//	-password uint    Terminal comm key password
//	-timeout duration Command timeout (default 5s)
//
// Commands:
//
//	connect            Establish the terminal session
//	status             Show link state
//	get-time           Read the terminal clock
//	set-time <value>   Set the terminal clock (RFC 3339 or "HH:MM:SS")
//	restore            Push the authentic current time
//	probe              Check terminal liveness
//	version            Read the terminal firmware version
//	disconnect         Close the session
//	seal <file>        Write a sealed credentials file for the daemon
//	quit               Exit
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/izzi01/zk-communist/pkg/config"
	"github.com/izzi01/zk-communist/pkg/schedule"
	"github.com/izzi01/zk-communist/pkg/terminal"
)

var (
	addr     = flag.String("addr", "192.168.1.201:4370", "Terminal UDP address (host:port)")
	password = flag.Uint("password", 0, "Terminal comm key password")
	timeout  = flag.Duration("timeout", 5*time.Second, "Command timeout")
)

// console holds the REPL state.
type console struct {
	rl   *readline.Instance
	link *terminal.Link
}

func main() {
	flag.Parse()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "zk> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	c := &console{rl: rl}
	c.printf("zk-console, terminal %s (type 'help' for commands)\n", *addr)
	c.run()
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.rl.Stdout(), format, args...)
}

func (c *console) run() {
	for {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			c.cmdDisconnect()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "connect", "c":
			c.cmdConnect()

		case "status", "s":
			c.cmdStatus()

		case "get-time", "gt":
			c.cmdGetTime()

		case "set-time", "st":
			c.cmdSetTime(args)

		case "restore", "r":
			c.cmdRestore()

		case "probe", "p":
			c.cmdProbe()

		case "version", "v":
			c.cmdVersion()

		case "disconnect", "d":
			c.cmdDisconnect()

		case "seal":
			c.cmdSeal(args)

		case "quit", "exit", "q":
			c.cmdDisconnect()
			return

		default:
			c.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *console) printHelp() {
	c.printf(`
Terminal Commands:
  connect            - Establish the terminal session
  status             - Show link state
  get-time           - Read the terminal clock
  set-time <value>   - Set the terminal clock (RFC 3339 or "HH:MM:SS")
  restore            - Push the authentic current time
  probe              - Check terminal liveness
  version            - Read the terminal firmware version
  disconnect         - Close the session

Utilities:
  seal <file>        - Write a sealed credentials file (asks for passphrase)
  quit               - Exit

`)
}

func (c *console) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), *timeout)
}

func (c *console) cmdConnect() {
	if c.link != nil && c.link.State() != terminal.StateDisconnected {
		c.printf("Already connected (%s)\n", c.link.State())
		return
	}

	link, err := terminal.NewLink(terminal.Config{
		Address:        *addr,
		Credentials:    terminal.Credentials{Password: uint32(*password)},
		CommandTimeout: *timeout,
		Heartbeat:      terminal.HeartbeatConfig{Interval: -1},
	})
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}

	ctx, cancel := c.ctx()
	defer cancel()
	if err := link.Open(ctx); err != nil {
		c.printf("Connect failed: %v\n", err)
		return
	}
	c.link = link
	c.printf("Connected to %s (session %s)\n", *addr, link.ConnID())
}

func (c *console) connected() bool {
	if c.link == nil || c.link.State() == terminal.StateDisconnected {
		c.printf("Not connected (use 'connect')\n")
		return false
	}
	return true
}

func (c *console) cmdStatus() {
	if c.link == nil {
		c.printf("State: %s\n", terminal.StateDisconnected)
		return
	}
	c.printf("State: %s\n", c.link.State())
	if id := c.link.ConnID(); id != "" {
		c.printf("Session: %s\n", id)
	}
}

func (c *console) cmdGetTime() {
	if !c.connected() {
		return
	}
	ctx, cancel := c.ctx()
	defer cancel()

	t, err := c.link.Clock(ctx)
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	c.printf("Terminal clock: %s (drift %s)\n", t.Format(time.RFC3339), time.Since(t).Round(time.Second))
}

func (c *console) cmdSetTime(args []string) {
	if !c.connected() {
		return
	}
	if len(args) != 1 {
		c.printf("Usage: set-time <RFC3339 | HH:MM:SS>\n")
		return
	}

	target, err := parseTimeArg(args[0])
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}

	ctx, cancel := c.ctx()
	defer cancel()
	if err := c.link.SetClock(ctx, target); err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	c.printf("Terminal clock set to %s\n", target.Format(time.RFC3339))
}

func (c *console) cmdRestore() {
	if !c.connected() {
		return
	}
	ctx, cancel := c.ctx()
	defer cancel()

	now := time.Now()
	if err := c.link.SetClock(ctx, now); err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	c.printf("Authentic time restored (%s)\n", now.Format(time.RFC3339))
}

func (c *console) cmdProbe() {
	if !c.connected() {
		return
	}
	ctx, cancel := c.ctx()
	defer cancel()

	start := time.Now()
	if c.link.Probe(ctx) {
		c.printf("Terminal alive (%s)\n", time.Since(start).Round(time.Millisecond))
	} else {
		c.printf("Terminal not responding\n")
	}
}

func (c *console) cmdVersion() {
	if !c.connected() {
		return
	}
	ctx, cancel := c.ctx()
	defer cancel()

	v, err := c.link.FirmwareVersion(ctx)
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	c.printf("Firmware: %s\n", v)
}

func (c *console) cmdDisconnect() {
	if c.link == nil {
		return
	}
	ctx, cancel := c.ctx()
	defer cancel()
	c.link.Close(ctx)
	c.link = nil
	c.printf("Disconnected\n")
}

func (c *console) cmdSeal(args []string) {
	if len(args) != 1 {
		c.printf("Usage: seal <file>\n")
		return
	}

	pass, err := c.rl.ReadPassword("Passphrase: ")
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	confirm, err := c.rl.ReadPassword("Confirm: ")
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	if string(pass) != string(confirm) {
		c.printf("Passphrases do not match\n")
		return
	}

	creds := config.Credentials{Password: uint32(*password)}
	if err := config.SealCredentials(args[0], string(pass), creds); err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	c.printf("Sealed credentials written to %s\n", args[0])
}

// parseTimeArg accepts a full RFC 3339 timestamp or a bare clock value
// applied to today's date.
func parseTimeArg(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	clk, err := schedule.ParseClock(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("not RFC 3339 or HH:MM:SS: %q", s)
	}
	return clk.At(time.Now()), nil
}
