package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("returns value and error", func(t *testing.T) {
		b := New(Config{Workers: 1})
		defer b.Close()

		v, err := Run(ctx, b, func(ctx context.Context) (int, error) { return 42, nil })
		require.NoError(t, err)
		assert.Equal(t, 42, v)

		boom := errors.New("boom")
		_, err = Run(ctx, b, func(ctx context.Context) (int, error) { return 0, boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("panic becomes an error", func(t *testing.T) {
		b := New(Config{Workers: 1})
		defer b.Close()

		_, err := Run(ctx, b, func(ctx context.Context) (string, error) { panic("kaboom") })
		var pe *PanicError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "kaboom", pe.Value)
		assert.NotEmpty(t, pe.Stack)

		// The worker survives the panic.
		v, err := Run(ctx, b, func(ctx context.Context) (string, error) { return "ok", nil })
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
	})

	t.Run("timeout is reported and not retried", func(t *testing.T) {
		b := New(Config{Workers: 1, Timeout: 20 * time.Millisecond})
		defer b.Close()

		var calls int32
		release := make(chan struct{})
		_, err := Run(ctx, b, func(ctx context.Context) (int, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return 1, nil
		})
		close(release)

		assert.ErrorIs(t, err, ErrTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("operation seeing its deadline is a timeout", func(t *testing.T) {
		b := New(Config{Workers: 1})
		defer b.Close()

		_, err := Run(ctx, b, func(ctx context.Context) (int, error) {
			return 0, context.DeadlineExceeded
		})
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("operations run in parallel", func(t *testing.T) {
		b := New(Config{Workers: 3})
		defer b.Close()

		var (
			wg      sync.WaitGroup
			running int32
			peak    int32
		)
		gate := make(chan struct{})
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = Do(ctx, b, func(ctx context.Context) error {
					n := atomic.AddInt32(&running, 1)
					for {
						p := atomic.LoadInt32(&peak)
						if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
							break
						}
					}
					<-gate
					atomic.AddInt32(&running, -1)
					return nil
				})
			}()
		}

		require.Eventually(t, func() bool { return atomic.LoadInt32(&peak) == 3 }, time.Second, time.Millisecond)
		close(gate)
		wg.Wait()
	})

	t.Run("closed bridge refuses work", func(t *testing.T) {
		for _, timeout := range []time.Duration{0, 20 * time.Millisecond} {
			for i := 0; i < 200; i++ {
				b := New(Config{Workers: 1, Timeout: timeout})
				b.Close()

				errc := make(chan error, 1)
				go func() {
					_, err := Run(ctx, b, func(ctx context.Context) (int, error) { return 1, nil })
					errc <- err
				}()

				select {
				case err := <-errc:
					require.ErrorIs(t, err, ErrClosed, "timeout %s iteration %d", timeout, i)
				case <-time.After(time.Second):
					t.Fatalf("Run after Close did not return (timeout %s iteration %d)", timeout, i)
				}
			}
		}
	})

	t.Run("close fails queued work", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			b := New(Config{Workers: 1, QueueSize: 4})
			started := make(chan struct{})
			release := make(chan struct{})

			go Do(ctx, b, func(ctx context.Context) error {
				close(started)
				<-release
				return nil
			})
			<-started

			errc := make(chan error, 3)
			for j := 0; j < 3; j++ {
				go func() {
					_, err := Run(ctx, b, func(ctx context.Context) (int, error) { return 1, nil })
					errc <- err
				}()
			}

			closed := make(chan struct{})
			go func() {
				b.Close()
				close(closed)
			}()
			close(release)

			for j := 0; j < 3; j++ {
				select {
				case err := <-errc:
					if err != nil {
						assert.ErrorIs(t, err, ErrClosed)
					}
				case <-time.After(time.Second):
					t.Fatalf("queued Run did not return after Close (iteration %d)", i)
				}
			}
			select {
			case <-closed:
			case <-time.After(time.Second):
				t.Fatal("Close did not return")
			}
		}
	})

	t.Run("close is safe to repeat", func(t *testing.T) {
		b := New(Config{Workers: 2})
		b.Close()
		b.Close()

		err := Do(ctx, b, func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestLoop(t *testing.T) {
	ctx := context.Background()

	t.Run("tasks do not overlap outside Run", func(t *testing.T) {
		l := NewLoop()
		var (
			inside  int32
			overlap int32
		)
		for i := 0; i < 20; i++ {
			require.NoError(t, l.Go(ctx, func(ctx context.Context) {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}
				time.Sleep(100 * time.Microsecond)
				atomic.AddInt32(&inside, -1)
			}))
		}
		l.Wait()
		assert.Equal(t, int32(0), overlap)
	})

	t.Run("tasks start in submission order", func(t *testing.T) {
		l := NewLoop()
		var (
			mu    sync.Mutex
			order []int
		)
		for i := 0; i < 10; i++ {
			i := i
			require.NoError(t, l.Go(ctx, func(ctx context.Context) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			}))
		}
		l.Wait()
		assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
	})

	t.Run("a suspended task lets the next one run", func(t *testing.T) {
		l := NewLoop()
		b := New(Config{Workers: 2})
		defer b.Close()

		release := make(chan struct{})
		secondRan := make(chan struct{})
		var firstResumed int32

		require.NoError(t, l.Go(ctx, func(ctx context.Context) {
			_ = Do(ctx, b, func(ctx context.Context) error {
				<-release
				return nil
			})
			atomic.StoreInt32(&firstResumed, 1)
		}))
		require.NoError(t, l.Go(ctx, func(ctx context.Context) {
			// Runs while the first task is parked inside Run.
			assert.Equal(t, int32(0), atomic.LoadInt32(&firstResumed))
			close(secondRan)
		}))

		select {
		case <-secondRan:
		case <-time.After(time.Second):
			t.Fatal("second task blocked behind a suspended task")
		}
		close(release)
		l.Wait()
		assert.Equal(t, int32(1), atomic.LoadInt32(&firstResumed))
	})

	t.Run("panicking task releases the loop", func(t *testing.T) {
		l := NewLoop()
		require.NoError(t, l.Go(ctx, func(ctx context.Context) { panic("bad task") }))

		ran := make(chan struct{})
		require.NoError(t, l.Go(ctx, func(ctx context.Context) { close(ran) }))
		select {
		case <-ran:
		case <-time.After(time.Second):
			t.Fatal("loop stuck after panic")
		}
		l.Wait()
	})

	t.Run("Go honours context while busy", func(t *testing.T) {
		l := NewLoop()
		hold := make(chan struct{})
		require.NoError(t, l.Go(ctx, func(ctx context.Context) { <-hold }))

		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		err := l.Go(waitCtx, func(ctx context.Context) {})
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		close(hold)
		l.Wait()
	})
}
