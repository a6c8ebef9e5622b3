package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of asynchronous work, typically a notification delivery.
// Key identifies the task for logging and dedup downstream.
type Task struct {
	Key        string
	Kind       string
	Payload    interface{}
	Attempt    int
	EnqueuedAt time.Time
}

// TaskHandler executes a task. A returned error requeues the task until the
// retry budget runs out.
type TaskHandler func(context.Context, Task) error

// QueueConfig tunes the worker pool.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Queue is an in-memory task dispatcher with a fixed worker pool and
// bounded retries. Delivery retries live here so the engines that enqueue
// never retry themselves.
type Queue struct {
	name    string
	handler TaskHandler

	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	tasks   chan Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewQueue builds a queue running handler for every task.
func NewQueue(name string, handler TaskHandler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Queue{
		name:       name,
		handler:    handler,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		tasks:      make(chan Task, cfg.BufferSize),
	}
}

// Start launches the worker pool. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
	q.started = true
	q.logger.Sugar().Infow("queue started", "queue", q.name, "workers", q.workers)
}

// Stop cancels the workers and waits for them to exit. Buffered tasks that
// never ran are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Sugar().Infow("queue stopped", "queue", q.name)
}

// Enqueue hands a task to the pool, blocking while the buffer is full.
func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	ctx := q.ctx
	started := q.started
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("queue %s stopped: %w", q.name, ctx.Err())
	case q.tasks <- task:
		return nil
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.tasks:
			if err := q.handler(q.ctx, task); err != nil {
				q.retry(task, err)
			}
		}
	}
}

// retry requeues the task after the delay until MaxRetries is spent.
func (q *Queue) retry(task Task, err error) {
	task.Attempt++
	if task.Attempt > q.maxRetries {
		q.logger.Sugar().Errorw("task dropped after retries",
			"queue", q.name, "key", task.Key, "kind", task.Kind, "error", err)
		return
	}
	q.logger.Sugar().Warnw("task failed, will retry",
		"queue", q.name, "key", task.Key, "kind", task.Kind, "attempt", task.Attempt, "error", err)

	go func(t Task) {
		timer := time.NewTimer(q.retryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
		case <-timer.C:
			if err := q.Enqueue(t); err != nil {
				q.logger.Sugar().Errorw("task requeue failed", "queue", q.name, "key", t.Key, "error", err)
			}
		}
	}(task)
}
