package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/urd-project/urd/internal/config"
)

func TestNextRunAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		clock string
		want  time.Time
	}{
		{"13:00", time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)},
		{"04:00", time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC)},
		{"12:30", time.Date(2026, 3, 11, 12, 30, 0, 0, time.UTC)},
		{"", time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC)},
		{"25:00", time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC)},
		{"garbage", time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.clock, func(t *testing.T) {
			if got := nextRunAt(tt.clock, now); !got.Equal(tt.want) {
				t.Errorf("nextRunAt(%q) = %v, want %v", tt.clock, got, tt.want)
			}
		})
	}
}

type stubPruner struct {
	before time.Time
	n      int64
	err    error
}

func (p *stubPruner) Prune(ctx context.Context, before time.Time) (int64, error) {
	p.before = before
	return p.n, p.err
}

func TestPruneLoginLog(t *testing.T) {
	now := time.Date(2026, 3, 31, 4, 0, 0, 0, time.UTC)
	pruner := &stubPruner{n: 7}

	s := NewScheduler(config.DatabaseConfig{LoginLogRetentionDays: 30}, pruner, nil)
	s.now = func() time.Time { return now }

	deleted, err := s.PruneLoginLog(context.Background())
	if err != nil {
		t.Fatalf("PruneLoginLog: %v", err)
	}
	if deleted != 7 {
		t.Errorf("deleted = %d, want 7", deleted)
	}
	if want := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC); !pruner.before.Equal(want) {
		t.Errorf("cutoff = %v, want %v", pruner.before, want)
	}

	pruner.err = errors.New("disk full")
	if _, err := s.PruneLoginLog(context.Background()); !errors.Is(err, pruner.err) {
		t.Errorf("err = %v, want wrapped disk full", err)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	s := NewScheduler(config.DatabaseConfig{LoginLogRetentionDays: 30, PruneTime: "04:00"}, &stubPruner{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
