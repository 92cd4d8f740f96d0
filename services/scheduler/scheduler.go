// Package scheduler runs the periodic poll sweeps: status transitions and closing reminders.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/bosvoting/core"
	"github.com/trezcool/bosvoting/core/poll"
	"github.com/trezcool/bosvoting/services/lock"
)

const (
	leaderKeyStatus   = "scheduler:status"
	leaderKeyDeadline = "scheduler:deadline"

	// reminders are sent at most once per (poll, window)
	reminderTTL = 25 * time.Hour
)

// ReminderWindows are the "closes within" windows, checked shortest first.
var ReminderWindows = []time.Duration{time.Hour, 24 * time.Hour}

type (
	// Ticker abstracts time.Ticker.
	Ticker interface {
		C() <-chan time.Time
		Stop()
	}

	Options struct {
		Sweeper          poll.Sweeper
		Notifier         poll.Notifier
		Locker           locksvc.Locker
		Logger           core.Logger
		StatusInterval   time.Duration
		DeadlineInterval time.Duration
		NowFunc          func() time.Time             // mockable
		NewTicker        func(d time.Duration) Ticker // mockable
	}

	Scheduler struct {
		sweeper          poll.Sweeper
		notifier         poll.Notifier
		locker           locksvc.Locker
		logger           core.Logger
		statusInterval   time.Duration
		deadlineInterval time.Duration
		nowFunc          func() time.Time
		newTicker        func(d time.Duration) Ticker
	}
)

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.Ticker.C }

func NewScheduler(opts Options) *Scheduler {
	s := &Scheduler{
		sweeper:          opts.Sweeper,
		notifier:         opts.Notifier,
		locker:           opts.Locker,
		logger:           opts.Logger,
		statusInterval:   opts.StatusInterval,
		deadlineInterval: opts.DeadlineInterval,
		nowFunc:          opts.NowFunc,
		newTicker:        opts.NewTicker,
	}
	if s.nowFunc == nil {
		s.nowFunc = time.Now
	}
	if s.newTicker == nil {
		s.newTicker = func(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }
	}
	if s.locker == nil {
		s.locker = locksvc.NewMemoryLocker(s.nowFunc)
	}
	if s.statusInterval <= 0 {
		s.statusInterval = 5 * time.Minute
	}
	if s.deadlineInterval <= 0 {
		s.deadlineInterval = time.Hour
	}
	return s
}

func (s *Scheduler) now() time.Time {
	return s.nowFunc().UTC()
}

// lead claims the leadership of one sweep run; the claim expires before the next tick.
func (s *Scheduler) lead(ctx context.Context, key string, interval time.Duration) bool {
	ok, err := s.locker.TryLock(ctx, key, interval*9/10)
	if err != nil {
		s.logger.Error("scheduler: claiming "+key, err)
		return false
	}
	return ok
}

// SweepStatuses activates started drafts, then completes ended auto-closing polls.
func (s *Scheduler) SweepStatuses(ctx context.Context) (activated, completed int64, err error) {
	now := s.now()
	if activated, err = s.sweeper.ActivateDue(ctx, now); err != nil {
		return 0, 0, err
	}
	if completed, err = s.sweeper.CompleteDue(ctx, now); err != nil {
		return activated, 0, err
	}
	return activated, completed, nil
}

// SweepDeadlines sends a closing reminder for every active poll ending within a reminder window.
// It returns the number of reminders dispatched.
func (s *Scheduler) SweepDeadlines(ctx context.Context) (int, error) {
	now := s.now()
	var (
		sent int
		from = now
	)
	for i, window := range ReminderWindows {
		to := now.Add(window)
		polls, err := s.sweeper.PollsEndingBetween(ctx, from, to)
		if err != nil {
			return sent, err
		}
		for _, p := range polls {
			// windows after the first one exclude their lower bound
			if i > 0 && !p.EndDate.After(from) {
				continue
			}
			key := fmt.Sprintf("reminder:%s:%s", p.PollID, window)
			ok, err := s.locker.TryLock(ctx, key, reminderTTL)
			if err != nil {
				return sent, err
			}
			if !ok {
				continue
			}
			if !s.notifier.PollClosing(p, window) {
				// let a later sweep retry
				if err = s.locker.Release(ctx, key); err != nil {
					s.logger.Error("scheduler: releasing "+key, err)
				}
				continue
			}
			sent++
		}
		from = to
	}
	return sent, nil
}

func (s *Scheduler) runStatusSweep(ctx context.Context) {
	if !s.lead(ctx, leaderKeyStatus, s.statusInterval) {
		return
	}
	activated, completed, err := s.SweepStatuses(ctx)
	if err != nil {
		s.logger.Error("scheduler: status sweep", err)
		return
	}
	if activated > 0 || completed > 0 {
		s.logger.Info(fmt.Sprintf("scheduler: %d poll(s) activated, %d poll(s) completed", activated, completed))
	}
}

func (s *Scheduler) runDeadlineSweep(ctx context.Context) {
	if !s.lead(ctx, leaderKeyDeadline, s.deadlineInterval) {
		return
	}
	sent, err := s.SweepDeadlines(ctx)
	if err != nil {
		s.logger.Error("scheduler: deadline sweep", err)
	}
	if sent > 0 {
		s.logger.Info(fmt.Sprintf("scheduler: %d closing reminder(s) queued", sent))
	}
}

// Run sweeps once, then on every tick, until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	statusTicker := s.newTicker(s.statusInterval)
	defer statusTicker.Stop()
	deadlineTicker := s.newTicker(s.deadlineInterval)
	defer deadlineTicker.Stop()

	s.runStatusSweep(ctx)
	s.runDeadlineSweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-statusTicker.C():
			s.runStatusSweep(ctx)
		case <-deadlineTicker.C():
			s.runDeadlineSweep(ctx)
		}
	}
}
