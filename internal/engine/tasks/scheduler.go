// Package tasks runs background work on a fixed pool of workers, driven by a
// two-phase poll from the owning goroutine.
//
// Schedule only enqueues. ProcessScheduledTasks dispatches pending work in
// priority order while fewer than MaxInFlight tasks are in flight, and
// ProcessCompletedTasks runs completion callbacks on the calling goroutine.
// A typical frame calls both once:
//
//	sched.ProcessScheduledTasks()
//	sched.ProcessCompletedTasks()
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-terrain/internal/logger"
)

// MaxInFlight is the upper bound on tasks dispatched but not yet reaped.
const MaxInFlight = 4

// Scheduler errors.
var (
	ErrDuplicateTask = errors.New("tasks: duplicate task id")
	ErrClosed        = errors.New("tasks: scheduler closed")
	ErrTaskPanicked  = errors.New("tasks: task panicked")
)

// Work is the body of a task. A returned error or a panic marks the task failed.
type Work func() error

// Hint is the execution priority recorded for a task.
type Hint int

const (
	HintHighest Hint = iota
	HintNormal
	HintBelowNormal
	HintLowest
)

func (h Hint) String() string {
	switch h {
	case HintHighest:
		return "highest"
	case HintNormal:
		return "normal"
	case HintBelowNormal:
		return "below-normal"
	default:
		return "lowest"
	}
}

// HintFor maps a scheduling priority to its hint bucket.
func HintFor(priority int) Hint {
	switch {
	case priority <= 0:
		return HintHighest
	case priority == 1:
		return HintNormal
	case priority == 2:
		return HintBelowNormal
	default:
		return HintLowest
	}
}

// Result is delivered to a task's completion callback.
type Result struct {
	ID       string
	Priority int
	Hint     Hint
	Err      error
	Elapsed  time.Duration
}

// Failed reports whether the task returned an error or panicked.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Pending   int
	InFlight  int
	Completed uint64
	Failed    uint64
}

type completion struct {
	task   *task
	result Result
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the pool size, clamped to [1, MaxInFlight].
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		s.workers = max(1, min(n, MaxInFlight))
	}
}

// WithCompletionsPerPoll sets how many completions one ProcessCompletedTasks
// call reaps. Values below 1 are treated as 1.
func WithCompletionsPerPoll(n int) Option {
	return func(s *Scheduler) {
		s.perPoll = max(1, n)
	}
}

// Scheduler owns the worker pool and the pending queue.
type Scheduler struct {
	workers int
	perPoll int
	log     *zap.Logger

	mu       sync.Mutex
	pending  pendingQueue
	live     map[string]struct{}
	seq      uint64
	inFlight int
	closed   bool
	stats    Stats

	dispatch chan *task
	results  chan completion
	wg       sync.WaitGroup
}

// New starts a scheduler with MaxInFlight workers unless overridden.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		workers: MaxInFlight,
		perPoll: 1,
		log:     logger.Named("scheduler"),
		live:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.dispatch = make(chan *task, s.workers)
	s.results = make(chan completion, s.workers)
	for range s.workers {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Schedule enqueues work under id. Nothing runs until the next
// ProcessScheduledTasks. Lower priority values run first.
//
// onComplete runs exactly once for every task that starts. A task still
// pending when Close is called never starts and its onComplete never runs.
func (s *Scheduler) Schedule(id string, work Work, onComplete func(Result), priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.live[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}

	s.seq++
	s.live[id] = struct{}{}
	s.pending.push(&task{
		id:         id,
		work:       work,
		onComplete: onComplete,
		priority:   priority,
		hint:       HintFor(priority),
		seq:        s.seq,
	})
	return nil
}

// ProcessScheduledTasks dispatches pending tasks until the in-flight limit is
// reached. It returns the number dispatched.
func (s *Scheduler) ProcessScheduledTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for !s.closed && s.inFlight < s.workers && s.pending.Len() > 0 {
		t := s.pending.pop()
		s.inFlight++
		s.dispatch <- t
		n++
		s.log.Debug("dispatched task",
			zap.String("id", t.id),
			zap.Int("priority", t.priority),
			zap.Stringer("hint", t.hint))
	}
	return n
}

// ProcessCompletedTasks reaps finished tasks, up to the configured number per
// poll, and runs their callbacks on the calling goroutine. It never blocks.
func (s *Scheduler) ProcessCompletedTasks() int {
	n := 0
	for n < s.perPoll {
		select {
		case c := <-s.results:
			s.complete(c)
			n++
		default:
			return n
		}
	}
	return n
}

// WaitCompleted blocks until one task finishes or ctx is done, then runs its
// callback on the calling goroutine.
func (s *Scheduler) WaitCompleted(ctx context.Context) error {
	select {
	case c := <-s.results:
		s.complete(c)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Pending = s.pending.Len()
	st.InFlight = s.inFlight
	return st
}

// Idle reports whether no task is pending or in flight.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len() == 0 && s.inFlight == 0
}

// Close drops pending tasks and waits for in-flight tasks to finish.
// Their results stay available to ProcessCompletedTasks.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dropped := s.pending.Len()
	for s.pending.Len() > 0 {
		delete(s.live, s.pending.pop().id)
	}
	close(s.dispatch)
	s.mu.Unlock()

	s.wg.Wait()
	if dropped > 0 {
		s.log.Debug("dropped pending tasks", zap.Int("count", dropped))
	}
}

func (s *Scheduler) complete(c completion) {
	s.mu.Lock()
	s.inFlight--
	delete(s.live, c.task.id)
	s.stats.Completed++
	if c.result.Err != nil {
		s.stats.Failed++
	}
	s.mu.Unlock()

	if c.result.Err != nil {
		s.log.Warn("task failed",
			zap.String("id", c.result.ID),
			zap.Duration("elapsed", c.result.Elapsed),
			zap.Error(c.result.Err))
	}
	if c.task.onComplete != nil {
		c.task.onComplete(c.result)
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for t := range s.dispatch {
		start := time.Now()
		err := run(t.work)
		s.results <- completion{
			task: t,
			result: Result{
				ID:       t.id,
				Priority: t.priority,
				Hint:     t.hint,
				Err:      err,
				Elapsed:  time.Since(start),
			},
		}
	}
}

func run(work Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return work()
}
