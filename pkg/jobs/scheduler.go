package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobSpec describes one periodic job kind. Exactly one of Every or At is
// set: Every gives a fixed cadence, At a daily fire time "HH:MM" (with
// MonthlyDay restricting it to that day of month).
type JobSpec struct {
	Kind       string
	Every      time.Duration
	At         string
	MonthlyDay int
	Budget     time.Duration
	Run        func(context.Context) error
}

// Observer receives run telemetry. Satisfied by the metrics service.
type Observer interface {
	ObserveJob(kind string, duration time.Duration, err error)
}

// Scheduler drives periodic jobs. Runs of the same kind are serialized by
// the kind's single loop goroutine; an on-demand trigger arriving while a
// run is in flight is coalesced into one follow-up run.
type Scheduler struct {
	specs    map[string]JobSpec
	triggers map[string]chan struct{}
	loc      *time.Location
	budget   time.Duration
	observer Observer
	logger   *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewScheduler builds a Scheduler over the given job specs. defaultBudget
// caps a run's wall time for jobs that leave Budget zero.
func NewScheduler(specs []JobSpec, loc *time.Location, defaultBudget time.Duration, observer Observer, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if defaultBudget <= 0 {
		defaultBudget = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byKind := make(map[string]JobSpec, len(specs))
	triggers := make(map[string]chan struct{}, len(specs))
	for _, spec := range specs {
		byKind[spec.Kind] = spec
		triggers[spec.Kind] = make(chan struct{}, 1)
	}
	return &Scheduler{
		specs:    byKind,
		triggers: triggers,
		loc:      loc,
		budget:   defaultBudget,
		observer: observer,
		logger:   logger,
	}
}

// Register adds a spec. Must be called before Start.
func (s *Scheduler) Register(spec JobSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.specs[spec.Kind] = spec
	s.triggers[spec.Kind] = make(chan struct{}, 1)
}

// Start launches one loop goroutine per job kind. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	for kind := range s.specs {
		s.wg.Add(1)
		go s.loop(s.specs[kind])
	}
	s.started = true
	s.logger.Sugar().Infow("scheduler started", "jobs", len(s.specs))
}

// Stop cancels all loops and waits for in-flight runs to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Sugar().Infow("scheduler stopped")
}

// Trigger requests an immediate run of the kind. A request landing while a
// run is already pending is absorbed.
func (s *Scheduler) Trigger(kind string) error {
	ch, ok := s.triggers[kind]
	if !ok {
		return fmt.Errorf("unknown job kind %q", kind)
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}

// Kinds lists the registered job kinds.
func (s *Scheduler) Kinds() []string {
	kinds := make([]string, 0, len(s.specs))
	for kind := range s.specs {
		kinds = append(kinds, kind)
	}
	return kinds
}

func (s *Scheduler) loop(spec JobSpec) {
	defer s.wg.Done()
	trigger := s.triggers[spec.Kind]

	timer := time.NewTimer(s.wait(spec, time.Now().In(s.loc)))
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-trigger:
		case <-timer.C:
		}

		s.runOnce(spec)

		// Missed ticks coalesce: the next wait is computed from now, not
		// from the tick that should have fired.
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.wait(spec, time.Now().In(s.loc)))
	}
}

// wait returns the delay until the job's next scheduled fire after now.
func (s *Scheduler) wait(spec JobSpec, now time.Time) time.Duration {
	if spec.Every > 0 {
		return spec.Every
	}
	var hour, minute int
	if _, err := fmt.Sscanf(spec.At, "%d:%d", &hour, &minute); err != nil {
		s.logger.Sugar().Errorw("bad fire time, defaulting to midnight", "kind", spec.Kind, "at", spec.At)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, s.loc)
	if spec.MonthlyDay > 0 {
		next = time.Date(now.Year(), now.Month(), spec.MonthlyDay, hour, minute, 0, 0, s.loc)
		for !next.After(now) {
			next = next.AddDate(0, 1, 0)
		}
		return next.Sub(now)
	}
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

func (s *Scheduler) runOnce(spec JobSpec) {
	budget := spec.Budget
	if budget <= 0 {
		budget = s.budget
	}
	ctx, cancel := context.WithTimeout(s.ctx, budget)
	defer cancel()

	start := time.Now()
	err := s.safeRun(ctx, spec)
	elapsed := time.Since(start)

	if s.observer != nil {
		s.observer.ObserveJob(spec.Kind, elapsed, err)
	}
	if err != nil {
		s.logger.Sugar().Errorw("job run failed", "kind", spec.Kind, "elapsed", elapsed, "error", err)
		return
	}
	s.logger.Sugar().Debugw("job run done", "kind", spec.Kind, "elapsed", elapsed)
}

func (s *Scheduler) safeRun(ctx context.Context, spec JobSpec) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v\n%s", spec.Kind, r, debug.Stack())
		}
	}()
	return spec.Run(ctx)
}
