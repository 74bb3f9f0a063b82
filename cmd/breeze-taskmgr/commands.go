package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/taskmgr/internal/config"
	"github.com/breeze-rmm/taskmgr/internal/engine"
	"github.com/breeze-rmm/taskmgr/internal/launcher"
	"github.com/breeze-rmm/taskmgr/internal/lifecycle"
	"github.com/breeze-rmm/taskmgr/internal/metrics"
	"github.com/breeze-rmm/taskmgr/internal/output"
	"github.com/breeze-rmm/taskmgr/internal/snapshot"
)

var (
	outputFormat string
	sortKey      string
	showApps     bool
	sampleWindow time.Duration
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List running processes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		key, err := output.ParseSortKey(sortKey)
		if err != nil {
			return err
		}

		snap, _, err := sampleOnce(cmd.Context())
		if err != nil {
			return err
		}
		if showApps {
			return output.WriteApplications(os.Stdout, snap.Applications, format)
		}
		return output.WriteProcesses(os.Stdout, output.SortProcesses(snap.Processes, key), format)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show system CPU and memory usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		_, stats, err := sampleOnce(cmd.Context())
		if err != nil {
			return err
		}
		return output.WriteStats(os.Stdout, stats, format)
	},
}

var killCmd = &cobra.Command{
	Use:   "kill <pid>",
	Short: "Terminate a process, escalating to a forced kill after the timeout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		pid, err := parsePID(args[0])
		if err != nil {
			return err
		}

		o, err := withEngine(func(eng *engine.Engine) lifecycle.Outcome {
			return eng.RequestTerminate(commandContext(cmd), pid)
		})
		if err != nil {
			return err
		}
		if err := output.WriteOutcome(os.Stdout, o, format); err != nil {
			return err
		}
		if o.Kind == lifecycle.PermissionDenied || o.Kind == lifecycle.Failed {
			return fmt.Errorf("terminate %d: %s", pid, o.Kind)
		}
		return nil
	},
}

var launchCmd = &cobra.Command{
	Use:   "launch <command...>",
	Short: "Start a command through the host shell",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		line := strings.Join(args, " ")

		o, err := withEngine(func(eng *engine.Engine) launcher.Outcome {
			return eng.RequestLaunch(commandContext(cmd), line)
		})
		if err != nil {
			return err
		}
		if err := output.WriteOutcome(os.Stdout, o, format); err != nil {
			return err
		}
		if o.Kind != launcher.Started {
			return fmt.Errorf("launch: %s", o.Kind)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{psCmd, statsCmd, killCmd, launchCmd} {
		c.Flags().StringVarP(&outputFormat, "format", "o", "table", "output format (table, json, yaml)")
	}
	psCmd.Flags().StringVar(&sortKey, "sort", "", "sort processes by pid, name, cpu or mem")
	psCmd.Flags().BoolVar(&showApps, "apps", false, "list applications only")
	for _, c := range []*cobra.Command{psCmd, statsCmd} {
		c.Flags().DurationVar(&sampleWindow, "sample", 500*time.Millisecond, "CPU sampling window")
	}
}

// sampleOnce takes two samples sampleWindow apart so CPU figures are deltas
// rather than zeros.
func sampleOnce(ctx context.Context) (snapshot.Snapshot, metrics.SystemStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		snap  snapshot.Snapshot
		stats metrics.SystemStats
	)
	_, err := withEngine(func(eng *engine.Engine) struct{} {
		eng.Refresh(ctx)
		if sampleWindow > 0 {
			select {
			case <-time.After(sampleWindow):
			case <-ctx.Done():
			}
		}
		snap, stats = eng.Refresh(ctx)
		return struct{}{}
	})
	return snap, stats, err
}

// withEngine runs fn against an engine whose loops are not started.
func withEngine[T any](fn func(eng *engine.Engine) T) (T, error) {
	cfg, cleanup, err := setup()
	if err != nil {
		var zero T
		return zero, err
	}
	defer cleanup()

	eng := newEngine(cfg, nil)
	defer stopEngine(eng)
	return fn(eng), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
