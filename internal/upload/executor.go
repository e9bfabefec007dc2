package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrBusy is returned when every worker is busy and the queue is full.
	ErrBusy = errors.New("decode queue is full")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("executor is shut down")
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

// ExecutorStats reports executor usage.
type ExecutorStats struct {
	Workers    int   `json:"workers"`
	QueueDepth int   `json:"queueDepth"`
	Queued     int64 `json:"queued"`
	Active     int64 `json:"active"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// Executor runs tasks on a fixed set of workers. Admission is bounded: a
// caller first reserves a Slot, which fails fast with ErrBusy instead of
// queueing without limit.
type Executor struct {
	workers    int
	queueDepth int

	sem   *semaphore.Weighted
	queue chan Task
	group *errgroup.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	queued    atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// NewExecutor starts workers goroutines that accept up to queueDepth waiting
// tasks on top of the ones being run.
func NewExecutor(workers, queueDepth int) *Executor {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	capacity := workers + queueDepth

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		workers:    workers,
		queueDepth: queueDepth,
		sem:        semaphore.NewWeighted(int64(capacity)),
		queue:      make(chan Task, capacity),
		group:      &errgroup.Group{},
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := 0; i < workers; i++ {
		e.group.Go(e.work)
	}
	return e
}

// Slot is a reserved place in the executor. Exactly one of Submit or Release
// must be called.
type Slot struct {
	e    *Executor
	once sync.Once
}

// Reserve claims capacity for one task without blocking.
func (e *Executor) Reserve() (*Slot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	if !e.sem.TryAcquire(1) {
		return nil, ErrBusy
	}
	return &Slot{e: e}, nil
}

// Submit hands the task to a worker. It never blocks because the slot
// already holds queue capacity.
func (s *Slot) Submit(task Task) error {
	err := ErrClosed
	s.once.Do(func() {
		e := s.e
		e.mu.RLock()
		defer e.mu.RUnlock()
		if e.closed {
			e.sem.Release(1)
			return
		}
		e.queued.Add(1)
		e.queue <- task
		err = nil
	})
	return err
}

// Release gives the slot back without running anything.
func (s *Slot) Release() {
	s.once.Do(func() {
		s.e.sem.Release(1)
	})
}

// Go reserves a slot and submits task in one step.
func (e *Executor) Go(task Task) error {
	slot, err := e.Reserve()
	if err != nil {
		return err
	}
	return slot.Submit(task)
}

func (e *Executor) work() error {
	for task := range e.queue {
		e.queued.Add(-1)
		e.active.Add(1)
		err := e.run(task)
		e.active.Add(-1)
		e.sem.Release(1)

		if err != nil {
			e.failed.Add(1)
			continue
		}
		e.completed.Add(1)
	}
	return nil
}

func (e *Executor) run(task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
			slog.Error("background task panicked", "panic", p)
		}
	}()
	return task(e.ctx)
}

// Stats returns a snapshot of the counters.
func (e *Executor) Stats() ExecutorStats {
	return ExecutorStats{
		Workers:    e.workers,
		QueueDepth: e.queueDepth,
		Queued:     e.queued.Load(),
		Active:     e.active.Load(),
		Completed:  e.completed.Load(),
		Failed:     e.failed.Load(),
	}
}

// Shutdown stops accepting work and waits for queued tasks to finish. If ctx
// expires first, running tasks see their context cancelled.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = e.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}
