package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/taskmgr/internal/metrics"
	"github.com/breeze-rmm/taskmgr/internal/snapshot"
)

// Format selects how results are written.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts table, json or yaml, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	}
	return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
}

// SortKey orders the process table.
type SortKey string

const (
	SortNone   SortKey = ""
	SortPID    SortKey = "pid"
	SortName   SortKey = "name"
	SortCPU    SortKey = "cpu"
	SortMemory SortKey = "mem"
)

// ParseSortKey accepts pid, name, cpu or mem. An empty key keeps enumeration order.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case SortNone, SortPID, SortName, SortCPU, SortMemory:
		return k, nil
	case "memory":
		return SortMemory, nil
	}
	return "", fmt.Errorf("unknown sort key %q (want pid, name, cpu or mem)", s)
}

// SortProcesses returns a sorted copy of procs. CPU and memory sort
// descending, pid and name ascending. Ties keep enumeration order.
func SortProcesses(procs []metrics.ProcessRecord, key SortKey) []metrics.ProcessRecord {
	out := make([]metrics.ProcessRecord, len(procs))
	copy(out, procs)

	var less func(a, b metrics.ProcessRecord) bool
	switch key {
	case SortPID:
		less = func(a, b metrics.ProcessRecord) bool { return a.PID < b.PID }
	case SortName:
		less = func(a, b metrics.ProcessRecord) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	case SortCPU:
		less = func(a, b metrics.ProcessRecord) bool { return a.CPUPercent > b.CPUPercent }
	case SortMemory:
		less = func(a, b metrics.ProcessRecord) bool { return a.MemoryPercent > b.MemoryPercent }
	default:
		return out
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// WriteProcesses writes the process table.
func WriteProcesses(w io.Writer, procs []metrics.ProcessRecord, f Format) error {
	if f != FormatTable {
		return encode(w, procs, f)
	}
	t := newTable(w, "Process Name", "PID", "User", "CPU %", "Memory %", "Status")
	for _, p := range procs {
		t.Append([]string{
			p.Name,
			strconv.Itoa(int(p.PID)),
			p.User,
			percent(p.CPUPercent),
			percent(p.MemoryPercent),
			string(p.Status),
		})
	}
	t.Render()
	return nil
}

// WriteApplications writes the application table.
func WriteApplications(w io.Writer, apps []snapshot.AppRecord, f Format) error {
	if f != FormatTable {
		return encode(w, apps, f)
	}
	t := newTable(w, "Application", "PID", "Status", "CPU %")
	for _, a := range apps {
		t.Append([]string{
			a.Name,
			strconv.Itoa(int(a.PID)),
			string(a.Status),
			percent(a.CPUPercent),
		})
	}
	t.Render()
	return nil
}

// StatsLine renders the one-line performance summary.
func StatsLine(s metrics.SystemStats) string {
	return fmt.Sprintf("Processes: %d  |  CPU Usage: %.1f%%  |  Physical Memory: %dMB / %dMB",
		s.ProcessCount, s.CPUPercent, s.MemoryUsedBytes/1024/1024, s.MemoryTotalBytes/1024/1024)
}

// WriteStats writes a system stats sample.
func WriteStats(w io.Writer, s metrics.SystemStats, f Format) error {
	if f != FormatTable {
		return encode(w, s, f)
	}
	_, err := fmt.Fprintln(w, StatsLine(s))
	return err
}

// Statuser is any request outcome with a one-line status text.
type Statuser interface {
	Status() string
}

// WriteOutcome writes a request outcome: the status line for tables, the
// full value otherwise.
func WriteOutcome(w io.Writer, o Statuser, f Format) error {
	if f != FormatTable {
		return encode(w, o, f)
	}
	_, err := fmt.Fprintln(w, o.Status())
	return err
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoFormatHeaders(false)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetAutoWrapText(false)
	t.SetBorder(false)
	t.SetColumnSeparator("")
	t.SetCenterSeparator("")
	t.SetRowSeparator("")
	t.SetHeaderLine(false)
	t.SetTablePadding("  ")
	t.SetNoWhiteSpace(true)
	return t
}

func percent(v float64) string {
	return strconv.FormatFloat(metrics.Round1(v), 'f', 1, 64)
}

func encode(w io.Writer, v any, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", f)
}
