// Package dispatch runs jobs on a fixed worker pool and hands their results
// back to a single owner goroutine in bounded batches.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
)

var (
	ErrClosed          = errors.New("dispatch: dispatcher closed")
	ErrShutdownTimeout = errors.New("dispatch: timed out waiting for workers")
)

// Job runs on a worker. ctx is cancelled when the dispatcher closes.
type Job[T any] func(ctx context.Context) (T, error)

// Ticket identifies one submitted job.
type Ticket struct {
	ID        uuid.UUID
	Submitted time.Time
}

type completion[T any] struct {
	ticket Ticket
	value  T
	err    error
	done   func(T, error)
}

// Dispatcher executes jobs concurrently and queues their completions until
// the owner calls Drain.
type Dispatcher[T any] struct {
	pool    pond.Pool
	workers int
	logger  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	results []completion[T]
	closed  bool

	inFlight atomic.Int64
}

// WorkerCount returns requested when positive, otherwise the number of CPUs
// minus headroom, never below one.
func WorkerCount(requested, headroom int) int {
	if requested > 0 {
		return requested
	}
	n := runtime.NumCPU() - headroom
	if n < 1 {
		n = 1
	}
	return n
}

func New[T any](workers int, logger *log.Logger) *Dispatcher[T] {
	if workers < 1 {
		workers = WorkerCount(0, 1)
	}
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher[T]{
		pool:    pond.NewPool(workers),
		workers: workers,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (d *Dispatcher[T]) Workers() int { return d.workers }

// Submit schedules job. done runs later on the goroutine calling Drain, with
// the job's result or the error it returned or panicked with.
func (d *Dispatcher[T]) Submit(job Job[T], done func(T, error)) (Ticket, error) {
	ticket := Ticket{ID: uuid.New(), Submitted: time.Now()}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ticket, ErrClosed
	}
	d.inFlight.Add(1)
	d.mu.Unlock()

	d.pool.Submit(func() {
		value, err := d.run(ticket, job)
		d.mu.Lock()
		d.results = append(d.results, completion[T]{ticket: ticket, value: value, err: err, done: done})
		d.inFlight.Add(-1)
		d.mu.Unlock()
	})
	return ticket, nil
}

func (d *Dispatcher[T]) run(ticket Ticket, job Job[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Printf("job %s panicked: %v", ticket.ID, r)
			var zero T
			value, err = zero, fmt.Errorf("dispatch: job %s panicked: %v", ticket.ID, r)
		}
	}()
	return job(d.ctx)
}

// Drain runs at most max completion callbacks on the calling goroutine in
// completion order. max <= 0 drains everything. It returns the number run.
func (d *Dispatcher[T]) Drain(max int) int {
	d.mu.Lock()
	if len(d.results) == 0 {
		d.mu.Unlock()
		return 0
	}
	var batch []completion[T]
	if max <= 0 || max >= len(d.results) {
		batch = d.results
		d.results = nil
	} else {
		batch = append([]completion[T](nil), d.results[:max]...)
		d.results = append(d.results[:0:0], d.results[max:]...)
	}
	d.mu.Unlock()

	for _, c := range batch {
		if c.done != nil {
			c.done(c.value, c.err)
		}
	}
	return len(batch)
}

// Pending reports jobs still running or queued on the pool.
func (d *Dispatcher[T]) Pending() int {
	return int(d.inFlight.Load())
}

// Completed reports results waiting for Drain.
func (d *Dispatcher[T]) Completed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.results)
}

// Close cancels running jobs and waits up to timeout for workers to exit.
// Undrained completions are dropped.
func (d *Dispatcher[T]) Close(timeout time.Duration) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	stopped := make(chan struct{})
	go func() {
		d.pool.StopAndWait()
		close(stopped)
	}()

	if timeout <= 0 {
		<-stopped
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-stopped:
		return nil
	case <-timer.C:
		d.logger.Printf("dispatcher shutdown timed out after %s with %d jobs in flight", timeout, d.Pending())
		return ErrShutdownTimeout
	}
}
