// Package scheduler runs the background tasks of the gateway: the daily
// login log pruning and the periodic usage report.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/urd-project/urd/internal/config"
	"github.com/urd-project/urd/internal/util"
)

// Pruner deletes login log entries older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SessionCounter reports the number of active sessions.
type SessionCounter interface {
	Count() int
}

// StatsInterval is the period of the usage report.
const StatsInterval = time.Hour

// Scheduler manages periodic background tasks. Pruner and Sessions may
// be nil, which disables the corresponding task.
type Scheduler struct {
	cfg      config.DatabaseConfig
	pruner   Pruner
	sessions SessionCounter
	now      func() time.Time
}

// NewScheduler creates a task scheduler.
func NewScheduler(cfg config.DatabaseConfig, pruner Pruner, sessions SessionCounter) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		pruner:   pruner,
		sessions: sessions,
		now:      time.Now,
	}
}

// Start runs the tasks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	if s.pruner != nil && s.cfg.LoginLogRetentionDays > 0 {
		go s.runPruneLoop(ctx)
	}
	if s.sessions != nil {
		go s.runStatsLoop(ctx)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runPruneLoop(ctx context.Context) {
	for {
		nextRun := nextRunAt(s.cfg.PruneTime, s.now())
		sleepDuration := nextRun.Sub(s.now())
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		log.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("login log pruning scheduled")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepDuration):
			if _, err := s.PruneLoginLog(ctx); err != nil {
				log.Warn().Err(err).Msg("login log pruning failed")
			}
		}
	}
}

// PruneLoginLog deletes entries older than the retention period.
func (s *Scheduler) PruneLoginLog(ctx context.Context) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -s.cfg.LoginLogRetentionDays)

	deleted, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune login log: %w", err)
	}

	log.Info().
		Int64("deleted", deleted).
		Int("retention_days", s.cfg.LoginLogRetentionDays).
		Time("cutoff", cutoff).
		Msg("login log pruned")
	return deleted, nil
}

func (s *Scheduler) runStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reportStats()
		}
	}
}

func (s *Scheduler) reportStats() {
	event := log.Info().Int("sessions", s.sessions.Count())
	if usage, err := util.GetProcessUsage(); err == nil {
		event = event.
			Float64("cpu_percent", usage.CPUPercent).
			Uint64("rss_mb", usage.RSSMB).
			Int("goroutines", usage.Goroutines)
	}
	event.Msg("usage report")
}

// nextRunAt returns the next occurrence of the "HH:MM" clock time after
// now. An unparsable value means 04:00.
func nextRunAt(clock string, now time.Time) time.Time {
	hour, minute := 4, 0
	parts := strings.Split(clock, ":")
	if len(parts) >= 2 {
		var h, m int
		if _, err := fmt.Sscanf(parts[0]+" "+parts[1], "%d %d", &h, &m); err == nil &&
			h >= 0 && h < 24 && m >= 0 && m < 60 {
			hour, minute = h, m
		}
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
