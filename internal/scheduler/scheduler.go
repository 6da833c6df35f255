// Package scheduler runs cron-driven housekeeping jobs alongside a Pipeline.
// It is independent of the dataflow graph: the Dasher's own segment-boundary
// GC (internal/dasher's deleteOldSegments) already trims its in-memory
// timeshift accounting on every new segment, but that path only runs while
// segments keep arriving. This package adds a periodic sweep over the
// on-disk segment tree so a representation that has gone idle (the encoder
// stalled, a VOD archival run finished) doesn't leave timeshift-expired
// files stranded past their retention window.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/streamforge/internal/storage"
)

// Config holds the sweep's tunables.
type Config struct {
	// CronExpr is a 6-field (seconds-resolution) cron expression, e.g.
	// "0 */5 * * * *" for every 5 minutes.
	CronExpr string

	// RetentionAge is the maximum on-disk age a segment file may reach
	// before the sweep removes it. Mirrors the Dasher's
	// TimeShiftBufferDepthInMs at the filesystem level, so it should
	// normally be set a little larger than the in-memory window to avoid
	// racing a segment that is still being referenced by a not-yet-
	// refreshed manifest.
	RetentionAge time.Duration

	// Extensions restricts the sweep to files with these suffixes (e.g.
	// ".m4s", ".ts"); an empty slice matches every file.
	Extensions []string
}

// Scheduler drives one or more cron-scheduled sweep jobs over a Sandbox
// using robfig/cron as the timing engine, with an explicit field-mask
// parser and a Recover chain so a panicking sweep cannot take the
// process down.
type Scheduler struct {
	mu sync.RWMutex

	sandbox *storage.Sandbox
	logger  *slog.Logger

	parser cron.Parser
	cron   *cron.Cron

	entryMap map[string]cron.EntryID

	lastSweep   time.Time
	lastRemoved int
}

// New creates a Scheduler that sweeps the given Sandbox's tree.
func New(sandbox *storage.Sandbox, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		sandbox:  sandbox,
		logger:   logger,
		parser:   parser,
		cron:     cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		entryMap: make(map[string]cron.EntryID),
	}
}

// AddSweep registers a named timeshift-sweep job under the given cron
// expression. Re-adding the same name replaces the previous entry.
func (s *Scheduler) AddSweep(name string, cfg Config) error {
	if cfg.CronExpr == "" {
		return fmt.Errorf("scheduler: empty cron expression for sweep %q", name)
	}
	if _, err := s.parser.Parse(cfg.CronExpr); err != nil {
		return fmt.Errorf("scheduler: invalid cron expression %q: %w", cfg.CronExpr, err)
	}

	s.mu.Lock()
	if existing, ok := s.entryMap[name]; ok {
		s.cron.Remove(existing)
		delete(s.entryMap, name)
	}
	s.mu.Unlock()

	entryID, err := s.cron.AddFunc(cfg.CronExpr, func() { s.runSweep(name, cfg) })
	if err != nil {
		return fmt.Errorf("scheduler: registering sweep %q: %w", name, err)
	}

	s.mu.Lock()
	s.entryMap[name] = entryID
	s.mu.Unlock()

	s.logger.Info("registered timeshift sweep",
		slog.String("name", name),
		slog.String("cron", cfg.CronExpr),
		slog.Duration("retention", cfg.RetentionAge))
	return nil
}

// Start begins firing registered jobs. Call after every sweep has been
// added; jobs registered after Start still take effect immediately.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for any in-flight sweep to finish and stops the timer.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// RunNow runs the named sweep immediately, outside its cron schedule —
// useful for an operator-triggered GC or a test.
func (s *Scheduler) RunNow(name string, cfg Config) (removed int, err error) {
	return s.sweep(cfg)
}

// runSweep is the cron callback; it logs failures rather than propagating
// them, matching the taxonomy's "persistent failure surfaces via log only"
// rule for this class of background housekeeping.
func (s *Scheduler) runSweep(name string, cfg Config) {
	removed, err := s.sweep(cfg)
	if err != nil {
		s.logger.Warn("timeshift sweep failed", slog.String("name", name), slog.Any("error", err))
		return
	}
	s.mu.Lock()
	s.lastSweep = time.Now()
	s.lastRemoved = removed
	s.mu.Unlock()
	if removed > 0 {
		s.logger.Info("timeshift sweep removed stale segments",
			slog.String("name", name), slog.Int("removed", removed))
	}
}

// sweep walks the sandbox tree and removes files older than cfg.RetentionAge
// whose extension (if cfg.Extensions is non-empty) matches.
func (s *Scheduler) sweep(cfg Config) (int, error) {
	if cfg.RetentionAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-cfg.RetentionAge)
	removed := 0

	err := s.sandbox.Walk(".", func(relPath string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if info == nil || info.IsDir() {
			return nil
		}
		if !matchesExtension(relPath, cfg.Extensions) {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := s.sandbox.Remove(relPath); err != nil {
			s.logger.Warn("timeshift sweep: remove failed",
				slog.String("path", relPath), slog.Any("error", err))
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("scheduler: walking sandbox: %w", err)
	}
	return removed, nil
}

func matchesExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// LastSweep reports the time and removed-file count of the most recently
// completed sweep, for the introspection API.
func (s *Scheduler) LastSweep() (at time.Time, removed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSweep, s.lastRemoved
}

// EntryCount returns the number of registered sweep jobs.
func (s *Scheduler) EntryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entryMap)
}
