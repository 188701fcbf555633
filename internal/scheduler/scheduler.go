// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/user/toolchat/internal/state"
	"github.com/user/toolchat/internal/types"
)

// Handler is the callback invoked when a watch fires. ctx is cancelled
// when the scheduler stops.
type Handler func(ctx context.Context, watch *types.Watch)

// Scheduler fires the enabled watches of a WatchStore on their schedules.
// A watch whose previous check is still running skips the tick.
type Scheduler struct {
	store   *state.WatchStore
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors such as
// "@every 10s".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether spec parses.
func ValidateSchedule(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// New creates a new Scheduler backed by the given watch store. The handler
// is called each time a watch fires.
func New(store *state.WatchStore, handler Handler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   store,
		handler: handler,
		logger:  logger.With("component", "scheduler"),
	}
}

func (s *Scheduler) newCron() *cron.Cron {
	cl := cronLogger{s.logger}
	return cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}

// Start loads watches from the store, registers the enabled ones as cron
// entries, and starts the cron ticker. It returns the number of watches
// scheduled.
func (s *Scheduler) Start(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start(ctx)
}

func (s *Scheduler) start(ctx context.Context) (int, error) {
	watches, err := s.store.List()
	if err != nil {
		return 0, err
	}

	s.parent = ctx
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = s.newCron()

	scheduled := 0
	for _, w := range watches {
		if w.Schedule == "" || !w.Enabled {
			continue
		}
		watch := w
		_, err := s.cron.AddFunc(watch.Schedule, func() {
			s.logger.Debug("watch firing", "name", watch.Name, "asset", watch.Asset)
			s.handler(s.ctx, watch)
		})
		if err != nil {
			s.logger.Error("invalid watch schedule", "name", watch.Name, "schedule", watch.Schedule, "error", err)
			continue
		}
		scheduled++
		s.logger.Info("scheduled watch", "name", watch.Name, "schedule", watch.Schedule)
	}

	s.cron.Start()
	return scheduled, nil
}

// Reload stops the existing cron, waits for running checks, and starts
// again from the store.
func (s *Scheduler) Reload() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := s.parent
	if parent == nil {
		parent = context.Background()
	}
	s.stop()
	return s.start(parent)
}

// Stop cancels running checks and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop()
}

func (s *Scheduler) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
