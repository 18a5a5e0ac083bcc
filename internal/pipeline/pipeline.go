// Package pipeline runs jobs on a worker pool and delivers their results on a
// single completion goroutine, in submission order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-pkgz/pool"

	appLog "devicecal/internal/log"
)

// ErrClosed is passed to Done for jobs that did not run before shutdown, and
// returned by Submit after Close.
var ErrClosed = errors.New("pipeline: closed")

const defaultQueueSize = 1024

// Job is a unit of work. Run executes on a worker; Done receives its outcome
// on the completion goroutine. Done must not block on Submit.
type Job struct {
	Run  func(ctx context.Context) (any, error)
	Done func(result any, err error)
}

type task struct {
	job Job

	mu       sync.Mutex
	finished bool
	result   any
	err      error
	ready    chan struct{}
}

// finish records the outcome once; later calls are ignored.
func (t *task) finish(result any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.finished = true
	t.result, t.err = result, err
	close(t.ready)
}

type worker struct{}

// Do implements pool.Worker.
func (worker) Do(ctx context.Context, t *task) error {
	defer func() {
		if r := recover(); r != nil {
			t.finish(nil, fmt.Errorf("pipeline: job panicked: %v", r))
		}
	}()
	result, err := t.job.Run(ctx)
	t.finish(result, err)
	return nil
}

type Pipeline struct {
	workers *pool.WorkerGroup[*task]

	mu     sync.Mutex
	closed bool
	order  chan *task
	abort  chan struct{}
	done   chan struct{}
}

// New starts size workers and the completion goroutine.
func New(ctx context.Context, size int) (*Pipeline, error) {
	if size <= 0 {
		size = 1
	}
	p := &Pipeline{
		order: make(chan *task, defaultQueueSize),
		abort: make(chan struct{}),
		done:  make(chan struct{}),
	}
	p.workers = pool.New[*task](size, worker{}).
		WithBatchSize(1).
		WithWorkerChanSize(1).
		WithContinueOnError()
	if err := p.workers.Go(ctx); err != nil {
		return nil, fmt.Errorf("pipeline: start workers: %w", err)
	}
	go p.complete()
	return p, nil
}

// Submit queues j. Every accepted job gets exactly one Done call.
func (p *Pipeline) Submit(j Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	t := &task{job: j, ready: make(chan struct{})}
	p.order <- t
	p.workers.Submit(t)
	return nil
}

func (p *Pipeline) complete() {
	defer close(p.done)
	for t := range p.order {
		select {
		case <-t.ready:
		case <-p.abort:
			t.finish(nil, ErrClosed)
		}
		p.deliver(t)
	}
}

func (p *Pipeline) deliver(t *task) {
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("pipeline: completion panicked", fmt.Errorf("%v", r))
		}
	}()
	if t.job.Done != nil {
		t.job.Done(t.result, t.err)
	}
}

// Close stops accepting jobs, waits for queued ones and their completions.
// Jobs still unfinished when ctx expires complete with ErrClosed.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.order)
	p.mu.Unlock()

	err := p.workers.Close(ctx)
	if err != nil {
		appLog.Warn("pipeline: workers did not stop cleanly", "err", err.Error())
		close(p.abort)
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
