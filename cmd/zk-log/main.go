// Command zk-log views and analyzes operational event log files.
//
// Event logs are written by zk-timesyncd when a log file is configured.
// They are CBOR streams; this tool turns them into something an operator
// can read.
//
// Usage:
//
//	zk-log <command> [flags] <file.zlog>
//
// Commands:
//
//	view     View a log file in human-readable format
//	export   Export a log file as JSON lines
//	filter   Filter a log file and write a new one
//	stats    Show statistics about a log file
//
// Examples:
//
//	# View all events
//	zk-log view daemon.zlog
//
//	# View only sync attempts
//	zk-log view -category attempt daemon.zlog
//
//	# Export to JSONL
//	zk-log export daemon.zlog
//
//	# Keep a single session and save it to a new file
//	zk-log filter -conn-id 6e3f... -o session.zlog daemon.zlog
//
//	# Show statistics
//	zk-log stats daemon.zlog
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/izzi01/zk-communist/pkg/log"
)

const usage = `zk-log - Operational Event Log Analyzer

Usage:
  zk-log <command> [flags] <file.zlog>

Commands:
  view     View a log file in human-readable format
  export   Export a log file as JSON lines
  filter   Filter a log file and write a new one
  stats    Show statistics about a log file

Use "zk-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// filterFlags holds the shared filtering flags.
type filterFlags struct {
	connID   string
	category string
	since    string
	until    string
}

func (f *filterFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.connID, "conn-id", "", "Filter by session ID")
	fs.StringVar(&f.category, "category", "", "Filter by category (state, attempt, heartbeat, emergency, error)")
	fs.StringVar(&f.since, "since", "", "Only events at or after this RFC 3339 time")
	fs.StringVar(&f.until, "until", "", "Only events before this RFC 3339 time")
}

func (f *filterFlags) build() (log.Filter, error) {
	out := log.Filter{ConnID: f.connID}

	if f.category != "" {
		cat, err := parseCategory(f.category)
		if err != nil {
			return log.Filter{}, err
		}
		out.Category = &cat
	}
	if f.since != "" {
		t, err := time.Parse(time.RFC3339, f.since)
		if err != nil {
			return log.Filter{}, fmt.Errorf("bad -since: %w", err)
		}
		out.TimeStart = &t
	}
	if f.until != "" {
		t, err := time.Parse(time.RFC3339, f.until)
		if err != nil {
			return log.Filter{}, fmt.Errorf("bad -until: %w", err)
		}
		out.TimeEnd = &t
	}
	return out, nil
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "state":
		return log.CategoryState, nil
	case "attempt":
		return log.CategoryAttempt, nil
	case "heartbeat":
		return log.CategoryHeartbeat, nil
	case "emergency":
		return log.CategoryEmergency, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("unknown category %q", s)
	}
}

func openReader(fs *flag.FlagSet, ff *filterFlags) *log.Reader {
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	filter, err := ff.build()
	if err != nil {
		fatalf("%v", err)
	}
	r, err := log.NewFilteredReader(fs.Arg(0), filter)
	if err != nil {
		fatalf("open log: %v", err)
	}
	return r
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	var ff filterFlags
	ff.register(fs)
	fs.Parse(args)

	r := openReader(fs, &ff)
	defer r.Close()

	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			fatalf("read log: %v", err)
		}
		fmt.Println(formatEvent(ev))
	}
}

// formatEvent renders one event as a single line.
func formatEvent(ev log.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-9s", ev.Timestamp.Format("2006-01-02 15:04:05.000"), ev.Category)
	if ev.ConnID != "" {
		fmt.Fprintf(&b, " [%s]", shortID(ev.ConnID))
	}

	switch {
	case ev.StateChange != nil:
		sc := ev.StateChange
		fmt.Fprintf(&b, " %s %s -> %s", sc.Entity, sc.OldState, sc.NewState)
		if sc.Reason != "" {
			fmt.Fprintf(&b, " (%s)", sc.Reason)
		}
	case ev.Attempt != nil:
		a := ev.Attempt
		fmt.Fprintf(&b, " %s latency=%s", a.Outcome, a.Latency)
		if a.Retries > 0 {
			fmt.Fprintf(&b, " retries=%d", a.Retries)
		}
	case ev.Heartbeat != nil:
		h := ev.Heartbeat
		if h.OK {
			fmt.Fprintf(&b, " ok latency=%s", h.Latency)
		} else {
			fmt.Fprintf(&b, " MISSED missed=%d", h.Missed)
		}
	case ev.Emergency != nil:
		e := ev.Emergency
		fmt.Fprintf(&b, " %s event=%s reason=%q", e.RestoreOutcome, shortID(e.EventID), e.Reason)
	case ev.Error != nil:
		fmt.Fprintf(&b, " %s: %s", ev.Error.Context, ev.Error.Message)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	var ff filterFlags
	ff.register(fs)
	fs.Parse(args)

	r := openReader(fs, &ff)
	defer r.Close()

	enc := json.NewEncoder(os.Stdout)
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			fatalf("read log: %v", err)
		}
		if err := enc.Encode(ev); err != nil {
			fatalf("encode: %v", err)
		}
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	var ff filterFlags
	ff.register(fs)
	out := fs.String("o", "", "Output file (required)")
	fs.Parse(args)

	if *out == "" {
		fatalf("filter: -o is required")
	}

	r := openReader(fs, &ff)
	defer r.Close()

	w, err := log.NewFileLogger(*out)
	if err != nil {
		fatalf("create output: %v", err)
	}
	defer w.Close()

	count := 0
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fatalf("read log: %v", err)
		}
		w.Log(ev)
		count++
	}
	fmt.Printf("Wrote %d events to %s\n", count, *out)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	var ff filterFlags
	ff.register(fs)
	fs.Parse(args)

	r := openReader(fs, &ff)
	defer r.Close()

	var (
		total      int
		byCategory = map[log.Category]int{}
		byOutcome  = map[string]int{}
		sessions   = map[string]bool{}
		first      time.Time
		last       time.Time
	)

	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fatalf("read log: %v", err)
		}

		total++
		byCategory[ev.Category]++
		if ev.ConnID != "" {
			sessions[ev.ConnID] = true
		}
		if ev.Attempt != nil {
			byOutcome[ev.Attempt.Outcome]++
		}
		if first.IsZero() || ev.Timestamp.Before(first) {
			first = ev.Timestamp
		}
		if ev.Timestamp.After(last) {
			last = ev.Timestamp
		}
	}

	fmt.Printf("Events:   %d\n", total)
	fmt.Printf("Sessions: %d\n", len(sessions))
	if total > 0 {
		fmt.Printf("Span:     %s .. %s\n", first.Format(time.RFC3339), last.Format(time.RFC3339))
	}

	fmt.Println("\nBy category:")
	for cat := log.CategoryState; cat <= log.CategoryError; cat++ {
		if n := byCategory[cat]; n > 0 {
			fmt.Printf("  %-10s %d\n", cat, n)
		}
	}

	if len(byOutcome) > 0 {
		fmt.Println("\nAttempt outcomes:")
		for outcome, n := range byOutcome {
			fmt.Printf("  %-15s %d\n", outcome, n)
		}
	}
}
