package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/taskmgr/internal/engine"
	"github.com/breeze-rmm/taskmgr/internal/logging"
	"github.com/breeze-rmm/taskmgr/internal/metrics"
	"github.com/breeze-rmm/taskmgr/internal/output"
	"github.com/breeze-rmm/taskmgr/internal/snapshot"
	"github.com/breeze-rmm/taskmgr/internal/telemetry"
)

var (
	watchApps  bool
	watchStats bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the monitor and accept commands on stdin",
	Long: `Start the snapshot and stats loops. Commands are read line by line from stdin:

  kill <pid>       terminate a process (graceful, then forced)
  launch <command> start a command through the shell
  refresh          rebuild the snapshot now
  apps | ps        print the latest applications or processes
  stats            print the latest system stats
  health           print loop health
  quit             stop the monitor`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&watchApps, "watch-apps", false, "print the application table after every snapshot")
	runCmd.Flags().BoolVar(&watchStats, "watch-stats", false, "print the stats line after every sample")
}

func runMonitor(parent context.Context) error {
	cfg, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := telemetry.New()
	eng := newEngine(cfg, m)

	// stdout is shared by subscribers and the command loop.
	out := &lockedWriter{w: os.Stdout}

	eng.OnSnapshot(func(s snapshot.Snapshot) {
		if err := m.WriteTextfile(cfg.MetricsTextfile); err != nil {
			log.Warn("metrics textfile", logging.KeyError, err)
		}
		if watchApps {
			out.do(func(w io.Writer) { output.WriteApplications(w, s.Applications, output.FormatTable) })
		}
	})
	eng.OnStats(func(s metrics.SystemStats) {
		if watchStats {
			out.do(func(w io.Writer) { fmt.Fprintln(w, output.StatsLine(s)) })
		}
	})
	eng.OnOutcome(func(r engine.Result) {
		out.do(func(w io.Writer) { fmt.Fprintf(w, "[%s] %s\n", r.RequestID[:8], r.Status()) })
	})

	if err := eng.Start(ctx); err != nil {
		return err
	}
	log.Info("monitor running", "version", version)

	lines := make(chan string)
	go readLines(os.Stdin, lines)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				// stdin closed: keep monitoring until signalled.
				lines = nil
				continue
			}
			if quit := handleLine(ctx, eng, line, out); quit {
				break loop
			}
		}
	}

	log.Info("shutting down monitor")
	stopEngine(eng)
	return nil
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

// handleLine runs one stdin command and reports whether the monitor should stop.
func handleLine(ctx context.Context, eng *engine.Engine, line string, out *lockedWriter) bool {
	c, err := parseCommand(line)
	if err != nil {
		out.do(func(w io.Writer) { fmt.Fprintln(w, err) })
		return false
	}

	switch c.name {
	case "":
		return false
	case "quit", "exit":
		return true
	case "kill":
		if id, err := eng.SubmitTerminate(c.pid); err != nil {
			out.do(func(w io.Writer) { fmt.Fprintln(w, err) })
		} else {
			log.Debug("terminate submitted", logging.KeyRequestID, id, logging.KeyPID, c.pid)
		}
	case "launch":
		if id, err := eng.SubmitLaunch(c.arg); err != nil {
			out.do(func(w io.Writer) { fmt.Fprintln(w, err) })
		} else {
			log.Debug("launch submitted", logging.KeyRequestID, id)
		}
	case "refresh":
		snap, stats := eng.Refresh(ctx)
		out.do(func(w io.Writer) {
			output.WriteApplications(w, snap.Applications, output.FormatTable)
			fmt.Fprintln(w, output.StatsLine(stats))
		})
	case "apps":
		out.do(func(w io.Writer) { output.WriteApplications(w, eng.Snapshot().Applications, output.FormatTable) })
	case "ps":
		out.do(func(w io.Writer) { output.WriteProcesses(w, eng.Snapshot().Processes, output.FormatTable) })
	case "stats":
		out.do(func(w io.Writer) { fmt.Fprintln(w, output.StatsLine(eng.Stats())) })
	case "health":
		out.do(func(w io.Writer) {
			for _, c := range eng.Health().All() {
				fmt.Fprintf(w, "%-10s %-10s %s\n", c.Name, c.Status, c.Message)
			}
		})
	}
	return false
}

// command is one parsed stdin line.
type command struct {
	name string
	pid  int32
	arg  string
}

var errNoProcessSelected = errors.New("no process selected")

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, nil
	}
	name, rest, _ := strings.Cut(line, " ")
	name = strings.ToLower(name)
	rest = strings.TrimSpace(rest)

	switch name {
	case "kill", "terminate":
		pid, err := parsePID(rest)
		if err != nil {
			return command{}, err
		}
		return command{name: "kill", pid: pid}, nil
	case "launch", "run":
		return command{name: "launch", arg: rest}, nil
	case "refresh", "apps", "ps", "stats", "health", "quit", "exit":
		return command{name: name}, nil
	}
	return command{}, fmt.Errorf("unknown command %q", name)
}

// parsePID accepts a positive decimal pid.
func parsePID(s string) (int32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errNoProcessSelected
	}
	pid, err := strconv.ParseInt(s, 10, 32)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q: %w", s, errNoProcessSelected)
	}
	return int32(pid), nil
}

// lockedWriter serializes writes from subscribers and the command loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) do(fn func(w io.Writer)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.w)
}
