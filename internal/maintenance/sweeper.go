// Package maintenance runs periodic housekeeping. Nothing here grants or
// revokes access; expiry is always evaluated at read time.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one housekeeping step. It returns how many rows it touched.
type Task struct {
	Name string
	Run  func(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper runs its tasks on a fixed interval.
type Sweeper struct {
	mu       sync.RWMutex
	tasks    []Task
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

type Option func(*Sweeper)

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

func NewSweeper(interval time.Duration, tasks []Task, opts ...Option) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	s := &Sweeper{
		tasks:    tasks,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// RunOnce runs every task once. A failing task does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) {
	now := s.now()
	for _, t := range s.tasks {
		n, err := t.Run(ctx, now)
		if err != nil {
			s.logger.Error("maintenance task failed", "task", t.Name, "error", err)
			continue
		}
		if n > 0 {
			s.logger.Info("maintenance task", "task", t.Name, "count", n)
		}
	}
}
