package cleanup

import (
	"context"
	"sync"
	"time"

	"igmonitor/pkg/logger"
)

// waitPollInterval is how often Wait rechecks whether the queue drained.
const waitPollInterval = time.Second

// Op is a single maintenance operation the queue runs to completion before
// taking the next one.
type Op struct {
	Name    string
	Execute func(ctx context.Context) error
}

// Queue runs maintenance operations strictly one at a time, in enqueue
// order, with a pause between them so cleanup never bursts database load.
// Pollers check Active before starting a cycle so a cycle never interleaves
// with a rewrite of the data it reads.
type Queue struct {
	mu      sync.Mutex
	pending []Op
	running bool

	pause  time.Duration
	wake   chan struct{}
	stop   chan struct{}
	closed sync.Once
	log    logger.Logger
}

// NewQueue creates a stopped queue. pause is the idle gap inserted between
// consecutive operations.
func NewQueue(pause time.Duration, log logger.Logger) *Queue {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Queue{
		pause: pause,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		log:   log,
	}
}

// Start launches the worker goroutine. It returns when ctx is cancelled or
// Stop is called.
func (q *Queue) Start(ctx context.Context) {
	go q.run(ctx)
}

// Stop terminates the worker after the operation in flight finishes.
func (q *Queue) Stop() {
	q.closed.Do(func() { close(q.stop) })
}

// Enqueue appends an operation. Duplicate names already waiting are
// dropped so a storage-pressure check firing repeatedly queues one sweep,
// not a pileup.
func (q *Queue) Enqueue(op Op) {
	q.mu.Lock()
	for _, pending := range q.pending {
		if pending.Name == op.Name {
			q.mu.Unlock()
			q.log.WithField("operation", op.Name).Debug("cleanup already queued, skipping")
			return
		}
	}
	q.pending = append(q.pending, op)
	depth := len(q.pending)
	q.mu.Unlock()

	q.log.DebugWithFields("cleanup queued", map[string]interface{}{
		"operation": op.Name,
		"depth":     depth,
	})

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Active reports whether an operation is running or waiting.
func (q *Queue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running || len(q.pending) > 0
}

// Wait blocks until the queue is idle or ctx expires.
func (q *Queue) Wait(ctx context.Context) error {
	for q.Active() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitPollInterval):
		}
	}
	return nil
}

func (q *Queue) run(ctx context.Context) {
	for {
		op, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.stop:
				return
			case <-q.wake:
				continue
			}
		}

		start := time.Now()
		if err := op.Execute(ctx); err != nil {
			q.log.WithError(err).WithField("operation", op.Name).Error("cleanup operation failed")
		} else {
			q.log.DebugWithFields("cleanup operation done", map[string]interface{}{
				"operation": op.Name,
				"elapsed":   time.Since(start).String(),
			})
		}

		q.mu.Lock()
		q.running = false
		more := len(q.pending) > 0
		q.mu.Unlock()

		if more && q.pause > 0 {
			select {
			case <-ctx.Done():
				return
			case <-q.stop:
				return
			case <-time.After(q.pause):
			}
		}
	}
}

func (q *Queue) next() (Op, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Op{}, false
	}
	op := q.pending[0]
	q.pending = q.pending[1:]
	q.running = true
	return op, true
}
