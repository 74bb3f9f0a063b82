package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Rotation is the size policy of a log file: the active file is moved aside
// once it would grow past MaxSizeMB, and at most MaxFiles moved-aside files
// are kept as <path>.1 (newest) through <path>.N.
type Rotation struct {
	MaxSizeMB int
	MaxFiles  int
}

const (
	defaultMaxSizeMB = 10
	defaultMaxFiles  = 3
)

func (r Rotation) normalized() Rotation {
	if r.MaxSizeMB <= 0 {
		r.MaxSizeMB = defaultMaxSizeMB
	}
	if r.MaxFiles <= 0 {
		r.MaxFiles = defaultMaxFiles
	}
	return r
}

func (r Rotation) limit() int64 {
	return int64(r.MaxSizeMB) << 20
}

// RotatingWriter appends to a log file and rotates it per its Rotation.
// Safe for concurrent use.
type RotatingWriter struct {
	mu     sync.Mutex
	path   string
	policy Rotation
	f      *os.File
	size   int64
}

// NewRotatingWriter opens path for appending, creating its directory. Zero
// policy fields fall back to 10 MB and 3 files. Backups beyond MaxFiles left
// by an earlier, larger policy are removed.
func NewRotatingWriter(path string, policy Rotation) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	w := &RotatingWriter{path: path, policy: policy.normalized()}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return 0, os.ErrClosed
	}
	// A single oversized record still lands in a fresh file.
	if w.size > 0 && w.size+int64(len(p)) > w.policy.limit() {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate %s: %w", w.path, err)
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.f, w.size = f, info.Size()
	return nil
}

func (w *RotatingWriter) rotate() error {
	if err := w.f.Close(); err != nil {
		return err
	}
	w.f = nil

	// Highest index first so no rename overwrites a newer backup.
	for _, idx := range w.backups() {
		if idx >= w.policy.MaxFiles {
			os.Remove(w.backup(idx))
			continue
		}
		if err := os.Rename(w.backup(idx), w.backup(idx+1)); err != nil {
			return err
		}
	}
	if err := os.Rename(w.path, w.backup(1)); err != nil {
		return err
	}
	return w.open()
}

// prune removes backups numbered above MaxFiles.
func (w *RotatingWriter) prune() {
	for _, idx := range w.backups() {
		if idx > w.policy.MaxFiles {
			os.Remove(w.backup(idx))
		}
	}
}

// backups returns the indexes of existing <path>.N files, highest first.
func (w *RotatingWriter) backups() []int {
	matches, _ := filepath.Glob(w.path + ".*")
	var idxs []int
	for _, m := range matches {
		n, err := strconv.Atoi(strings.TrimPrefix(m, w.path+"."))
		if err == nil && n > 0 {
			idxs = append(idxs, n)
		}
	}
	slices.Sort(idxs)
	slices.Reverse(idxs)
	return idxs
}

func (w *RotatingWriter) backup(idx int) string {
	return w.path + "." + strconv.Itoa(idx)
}
