// Package sweep runs the scheduled idle-conversation cleanup.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/morgana/internal/conversation"
)

// Sweeper tears down conversations with no activity, driven by a cron
// expression. The default schedule checks every minute.
type Sweeper struct {
	mgr      *conversation.Manager
	schedule string
	maxIdle  time.Duration
}

func New(mgr *conversation.Manager, schedule string, maxIdle time.Duration) (*Sweeper, error) {
	if schedule == "" {
		schedule = "* * * * *"
	}
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid sweep schedule %q", schedule)
	}
	return &Sweeper{mgr: mgr, schedule: schedule, maxIdle: maxIdle}, nil
}

// Run blocks until ctx is cancelled, firing the sweep whenever the schedule
// is due.
func (s *Sweeper) Run(ctx context.Context) {
	gron := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	slog.Info("sweep.started", "schedule", s.schedule, "max_idle", s.maxIdle)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := gron.IsDue(s.schedule, now)
			if err != nil {
				slog.Warn("sweep.schedule_error", "error", err)
				continue
			}
			if due {
				s.mgr.SweepIdle(s.maxIdle)
			}
		}
	}
}
