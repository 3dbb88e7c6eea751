package processing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/your-org/vds/internal/config"
	"github.com/your-org/vds/internal/observability"
)

// Sweeper evicts stale artifacts from the upload dir. Files are stale after
// maxAge. In-flight workspaces are only removed after workGrace, which must
// exceed the longest request.
type Sweeper struct {
	dir       string
	maxAge    time.Duration
	workGrace time.Duration
	now       func() time.Time

	mu sync.Mutex
}

func NewSweeper(dir string, cfg config.CleanupConfig) *Sweeper {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	grace := cfg.WorkGrace
	if grace <= 0 {
		grace = 6 * time.Hour
	}
	return &Sweeper{dir: dir, maxAge: maxAge, workGrace: grace, now: time.Now}
}

// SweepOnce removes stale files and abandoned workspaces and reports how many
// entries it removed.
func (s *Sweeper) SweepOnce() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read upload dir: %w", err)
	}

	now := s.now()
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if now.Sub(info.ModTime()) <= s.maxAge {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("sweep file", "path", path, "error", err)
			continue
		}
		slog.Info("swept stale file", "path", path, "age", now.Sub(info.ModTime()).Round(time.Second))
		removed++
	}

	removed += s.sweepWorkspaces(now)
	observability.SweepRemovals.Add(float64(removed))
	return removed, nil
}

func (s *Sweeper) sweepWorkspaces(now time.Time) int {
	workDir := filepath.Join(s.dir, WorkDirName)
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) <= s.workGrace {
			continue
		}
		path := filepath.Join(workDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("sweep workspace", "path", path, "error", err)
			continue
		}
		slog.Warn("swept abandoned workspace", "path", path)
		removed++
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(); err != nil {
				slog.Error("cleanup sweep", "error", err)
			}
		}
	}
}
