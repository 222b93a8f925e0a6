// Package queue provides a bounded FIFO task queue with key deduplication
// and backoff retries. It serializes work within one process: one task runs
// at a time, so redundant triggers for the same key (duplicate tabs, UI
// re-renders) collapse into a single execution.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adforge/adforge/internal/logger"
)

// Errors returned by Enqueue.
var (
	ErrQueueFull = errors.New("task queue full")
	ErrDuplicate = errors.New("task already queued")
)

// Task is a unit of queued work. Run is retried with exponential backoff up
// to the queue's attempt ceiling; OnExhausted, when set, is called once after
// the final failure.
type Task struct {
	Key         string
	Run         func(ctx context.Context) error
	OnExhausted func(err error)

	attempts int
	runAt    time.Time
}

// Queue is the bounded FIFO.
type Queue struct {
	log         *logger.Logger
	capacity    int
	maxAttempts int
	backoffBase time.Duration

	mu     sync.Mutex
	items  []*Task
	queued map[string]bool

	notifyCh chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a queue. capacity bounds the number of pending tasks,
// maxAttempts the retries per task.
func New(capacity, maxAttempts int, backoffBase time.Duration, log *logger.Logger) *Queue {
	return &Queue{
		log:         log,
		capacity:    capacity,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		queued:      make(map[string]bool),
		notifyCh:    make(chan struct{}, 1),
	}
}

// Enqueue adds a task. A task whose key is already pending is rejected with
// ErrDuplicate; a full queue rejects with ErrQueueFull.
func (q *Queue) Enqueue(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if task.Key != "" && q.queued[task.Key] {
		return ErrDuplicate
	}
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}

	task.runAt = time.Now()
	q.items = append(q.items, task)
	if task.Key != "" {
		q.queued[task.Key] = true
	}

	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Start begins the single worker goroutine.
func (q *Queue) Start(parentCtx context.Context) {
	q.ctx, q.cancel = context.WithCancel(parentCtx)
	q.wg.Add(1)
	go q.loop()
}

// Stop cancels the worker and waits for the in-flight task to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

func (q *Queue) loop() {
	defer q.wg.Done()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		task := q.dequeueReady()
		if task == nil {
			select {
			case <-q.ctx.Done():
				return
			case <-q.notifyCh:
			case <-ticker.C:
			}
			continue
		}
		q.run(task)
	}
}

// dequeueReady pops the first task whose runAt has passed, preserving FIFO
// order among ready tasks.
func (q *Queue) dequeueReady() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for i, task := range q.items {
		if task.runAt.After(now) {
			continue
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		return task
	}
	return nil
}

func (q *Queue) run(task *Task) {
	err := task.Run(q.ctx)
	if err == nil {
		q.finish(task)
		return
	}

	task.attempts++
	if task.attempts >= q.maxAttempts {
		q.log.Error("queued task exhausted retries", "key", task.Key, "attempts", task.attempts, "error", err)
		q.finish(task)
		if task.OnExhausted != nil {
			task.OnExhausted(err)
		}
		return
	}

	// Exponential backoff: base * 2^(attempt-1)
	delay := q.backoffBase << (task.attempts - 1)
	task.runAt = time.Now().Add(delay)
	q.log.Warn("queued task failed, retrying", "key", task.Key, "attempt", task.attempts, "delay", delay, "error", err)

	q.mu.Lock()
	q.items = append(q.items, task)
	q.mu.Unlock()
}

// finish drops the task's dedupe key so the same key can be queued again.
func (q *Queue) finish(task *Task) {
	if task.Key == "" {
		return
	}
	q.mu.Lock()
	delete(q.queued, task.Key)
	q.mu.Unlock()
}
