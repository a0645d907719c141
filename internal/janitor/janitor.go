// Package janitor runs periodic maintenance: history retention and removal of
// staged uploads left behind by interrupted requests.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "bulksender/pkg/logx"
)

const (
	DefaultSchedule       = "@every 1h"
	DefaultStaleUploadAge = 6 * time.Hour
	sweepTimeout          = time.Minute
)

type Config struct {
	// Schedule is a cron spec; seconds are optional.
	Schedule string
	Timezone string
	// Retention drops history older than this. Zero keeps everything.
	Retention      time.Duration
	StaleUploadAge time.Duration
	UploadDir      string
}

// Pruner is the slice of the history store the janitor needs.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Report describes one sweep.
type Report struct {
	Pruned  int
	Removed int
}

type Service struct {
	cfg    Config
	pruner Pruner
	log    logx.Logger
	parser cron.Parser

	// sweepMu keeps a manual Sweep from overlapping a scheduled one.
	sweepMu sync.Mutex
	now     func() time.Time
}

func New(cfg Config, pruner Pruner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.StaleUploadAge <= 0 {
		cfg.StaleUploadAge = DefaultStaleUploadAge
	}
	return &Service{
		cfg:    cfg,
		pruner: pruner,
		log:    log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
	}
}

// Run schedules sweeps until ctx is done, then waits for a running sweep.
func (s *Service) Run(ctx context.Context) error {
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("janitor timezone: %w", err)
		}
		loc = l
	}

	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.scheduled(ctx) }); err != nil {
		return fmt.Errorf("janitor schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.log.Info("janitor started", logx.String("schedule", s.cfg.Schedule), logx.String("tz", loc.String()))

	<-ctx.Done()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(sweepTimeout):
		s.log.Warn("janitor sweep still running at shutdown")
	}
	s.log.Info("janitor stopped")
	return nil
}

func (s *Service) scheduled(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, sweepTimeout)
	defer cancel()
	if _, err := s.Sweep(ctx); err != nil {
		s.log.Warn("janitor sweep failed", logx.Err(err))
	}
}

// Sweep runs one maintenance pass. Both steps run even if the first fails.
func (s *Service) Sweep(ctx context.Context) (Report, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := s.now()
	var (
		rep  Report
		errs []error
	)
	if s.pruner != nil && s.cfg.Retention > 0 {
		n, err := s.pruner.Prune(ctx, start.Add(-s.cfg.Retention))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune history: %w", err))
		}
		rep.Pruned = n
	}
	if dir := strings.TrimSpace(s.cfg.UploadDir); dir != "" {
		n, err := s.removeStale(ctx, dir, start.Add(-s.cfg.StaleUploadAge))
		if err != nil {
			errs = append(errs, fmt.Errorf("stale uploads: %w", err))
		}
		rep.Removed = n
	}

	if rep.Pruned > 0 || rep.Removed > 0 {
		s.log.Info("janitor sweep done", logx.Int("pruned", rep.Pruned), logx.Int("removed", rep.Removed), logx.Duration("dur", time.Since(start)))
	} else {
		s.log.Debug("janitor sweep done; nothing to do")
	}
	return rep, errors.Join(errs...)
}

func (s *Service) removeStale(ctx context.Context, dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("stale upload not removed", logx.String("path", p), logx.Err(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// cronLogger routes robfig/cron's own messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kv(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kv(keysAndValues), logx.Err(err))...)
}

func kv(pairs []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		k, ok := pairs[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, pairs[i+1]))
	}
	return out
}
