package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/breeze-rmm/taskmgr/internal/logging"
	"github.com/breeze-rmm/taskmgr/internal/metrics"
)

var log = logging.L("snapshot")

// AppRecord is the application-table projection of a process.
type AppRecord struct {
	Name       string         `json:"name" yaml:"name"`
	PID        int32          `json:"pid" yaml:"pid"`
	Status     metrics.Status `json:"status" yaml:"status"`
	CPUPercent float64        `json:"cpuPercent" yaml:"cpu_percent"`
}

// Snapshot is the immutable result of one build. Callers must treat the
// slices as read-only.
type Snapshot struct {
	Seq          uint64                  `json:"seq" yaml:"seq"`
	TakenAt      time.Time               `json:"takenAt" yaml:"taken_at"`
	Processes    []metrics.ProcessRecord `json:"processes" yaml:"processes"`
	Applications []AppRecord             `json:"applications" yaml:"applications"`
}

// Pids returns the set of pids in the process table.
func (s Snapshot) Pids() map[int32]struct{} {
	out := make(map[int32]struct{}, len(s.Processes))
	for _, p := range s.Processes {
		out[p.PID] = struct{}{}
	}
	return out
}

// Builder assembles snapshots from a metrics source.
type Builder struct {
	source  metrics.Source
	matcher *Matcher
	now     func() time.Time
}

// NewBuilder creates a Builder classifying applications with matcher.
func NewBuilder(source metrics.Source, matcher *Matcher) *Builder {
	if matcher == nil {
		matcher = NewMatcher(nil)
	}
	return &Builder{
		source:  source,
		matcher: matcher,
		now:     time.Now,
	}
}

// Build enumerates and samples every process. It never fails as a whole:
// processes that vanish or cannot be read are dropped, and a listing failure
// yields an empty snapshot.
func (b *Builder) Build(ctx context.Context) Snapshot {
	snap := Snapshot{TakenAt: b.now()}

	pids, err := b.source.ListPids(ctx)
	if err != nil {
		log.Warn("process listing failed", logging.KeyError, err)
		snap.Processes = []metrics.ProcessRecord{}
		snap.Applications = []AppRecord{}
		return snap
	}

	snap.Processes = make([]metrics.ProcessRecord, 0, len(pids))
	snap.Applications = []AppRecord{}

	dropped := 0
	for _, pid := range pids {
		if ctx.Err() != nil {
			break
		}

		rec, err := b.query(ctx, pid)
		if err != nil {
			dropped++
			if !errors.Is(err, metrics.ErrNotFound) && !errors.Is(err, metrics.ErrAccessDenied) {
				log.Debug("dropping unreadable process", logging.KeyPID, pid, logging.KeyError, err)
			}
			continue
		}

		snap.Processes = append(snap.Processes, rec)
		if b.matcher.Match(rec.Name) {
			snap.Applications = append(snap.Applications, AppRecord{
				Name:       rec.Name,
				PID:        rec.PID,
				Status:     rec.Status,
				CPUPercent: rec.CPUPercent,
			})
		}
	}

	log.Debug("snapshot built",
		"processes", len(snap.Processes),
		"applications", len(snap.Applications),
		"dropped", dropped,
	)
	return snap
}

// query isolates a single misbehaving process from the rest of the tick.
func (b *Builder) query(ctx context.Context, pid int32) (rec metrics.ProcessRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("process query panicked", logging.KeyPID, pid, "panic", r)
			err = errors.New("query panicked")
		}
	}()
	return b.source.Query(ctx, pid)
}
