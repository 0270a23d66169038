package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned when a bridged operation outlives its deadline.
	// The operation is not retried; it may still complete in the background.
	ErrTimeout = errors.New("bridged operation timed out")

	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("bridge closed")
)

// PanicError carries a panic recovered on a worker back to the caller.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("bridged operation panicked: %v", e.Value)
}

// Config sizes the worker pool.
type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Bridge is a bounded pool of workers running blocking operations.
type Bridge struct {
	jobs      chan job
	closed    chan struct{}
	drained   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	timeout   time.Duration
}

// New starts cfg.Workers workers. Non-positive sizes fall back to 4 workers
// and a queue of 64.
func New(cfg Config) *Bridge {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	b := &Bridge{
		jobs:    make(chan job, cfg.QueueSize),
		closed:  make(chan struct{}),
		drained: make(chan struct{}),
		timeout: cfg.Timeout,
	}
	for i := 0; i < cfg.Workers; i++ {
		b.wg.Add(1)
		go b.work()
	}
	log.Printf("[Bridge] New - started %d workers, queue %d, timeout %s", cfg.Workers, cfg.QueueSize, cfg.Timeout)
	return b
}

func (b *Bridge) work() {
	defer b.wg.Done()
	for {
		select {
		case <-b.closed:
			return
		case j := <-b.jobs:
			j.run()
		}
	}
}

// job is one queued operation. Exactly one of run and abandon is called.
type job struct {
	run     func()
	abandon func()
}

// Close stops the workers after their current job. Queued jobs that never
// started fail with ErrClosed.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
		b.wg.Wait()
		for {
			select {
			case j := <-b.jobs:
				j.abandon()
			default:
				close(b.drained)
				return
			}
		}
	})
	<-b.drained
}

type result[T any] struct {
	value T
	err   error
}

// Run executes op on a worker and returns its result. Called from a Loop
// task, the task releases the Loop while waiting and holds it again when Run
// returns.
func Run[T any](ctx context.Context, b *Bridge, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	select {
	case <-b.closed:
		return zero, ErrClosed
	default:
	}

	done := make(chan result[T], 1)
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result[T]{err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
		}()
		if err := ctx.Err(); err != nil {
			done <- result[T]{err: err}
			return
		}
		v, err := op(ctx)
		done <- result[T]{value: v, err: err}
	}
	abandon := func() {
		done <- result[T]{err: ErrClosed}
	}

	if l := loopFrom(ctx); l != nil {
		l.yield()
		defer l.resume()
	}

	select {
	case b.jobs <- job{run: run, abandon: abandon}:
	case <-b.closed:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, deadlineErr(ctx.Err())
	}

	select {
	case res := <-done:
		return res.value, resultErr(res.err)
	case <-ctx.Done():
		return zero, deadlineErr(ctx.Err())
	case <-b.closed:
		// Once drained, every job either ran to completion or was
		// abandoned; one that slipped in after the drain never runs.
		<-b.drained
		select {
		case res := <-done:
			return res.value, resultErr(res.err)
		default:
			return zero, ErrClosed
		}
	}
}

func resultErr(err error) error {
	if err != nil {
		return deadlineErr(err)
	}
	return nil
}

// deadlineErr tags deadline expiry with ErrTimeout so handlers can tell a
// slow backend from a broken one.
func deadlineErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// Do is Run for operations without a result value.
func Do(ctx context.Context, b *Bridge, op func(ctx context.Context) error) error {
	_, err := Run(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
