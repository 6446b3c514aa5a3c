package gpu

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Command is one unit of device work.
type Command func() error

// Queue is a device command queue. Submitted batches run in submission order.
type Queue interface {
	// Submit enqueues a batch without waiting for it to run.
	Submit(cmds []Command)
	// Wait blocks until every submitted command has completed and returns the
	// first error raised by a command since the previous Wait.
	Wait() error
	// Pending returns the number of submitted commands not yet completed.
	Pending() int
	// Close stops the queue after draining submitted work.
	Close()
}

// HostQueue executes command batches in order on a single goroutine.
type HostQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	batches [][]Command
	pending int
	err     error
	closed  bool
	logger  *zap.Logger
}

// NewHostQueue starts a host queue worker.
func NewHostQueue(logger *zap.Logger) *HostQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &HostQueue{logger: logger.Named("host_queue")}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Submit enqueues a batch.
func (q *HostQueue) Submit(cmds []Command) {
	if len(cmds) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		if q.err == nil {
			q.err = fmt.Errorf("submit on closed queue")
		}
		return
	}
	q.batches = append(q.batches, cmds)
	q.pending += len(cmds)
	q.cond.Broadcast()
}

// Wait blocks until the queue drains.
func (q *HostQueue) Wait() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.pending > 0 {
		q.cond.Wait()
	}
	err := q.err
	q.err = nil
	return err
}

// Pending returns the number of commands not yet completed.
func (q *HostQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Close stops the worker once the submitted work has run.
func (q *HostQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *HostQueue) run() {
	for {
		q.mu.Lock()
		for len(q.batches) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.batches) == 0 {
			q.mu.Unlock()
			return
		}
		batch := q.batches[0]
		q.batches[0] = nil
		q.batches = q.batches[1:]
		q.mu.Unlock()

		for _, cmd := range batch {
			err := runCommand(cmd)

			q.mu.Lock()
			if err != nil {
				q.logger.Debug("Device command failed", zap.Error(err))
				if q.err == nil {
					q.err = err
				}
			}
			q.pending--
			if q.pending == 0 {
				q.cond.Broadcast()
			}
			q.mu.Unlock()
		}
	}
}

func runCommand(cmd Command) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if recErr, ok := rec.(error); ok {
				err = fmt.Errorf("device command panicked: %w", recErr)
				return
			}
			err = fmt.Errorf("device command panicked: %v", rec)
		}
	}()
	return cmd()
}
