// Package bridge moves blocking work off the cooperative command thread.
//
// A Loop lets exactly one task run at a time. A task gives the Loop up only
// inside Run, while its blocking operation executes on a worker of the
// Bridge pool, and takes it back before Run returns. Store and network calls
// made through Run therefore never hold up other commands, and code between
// Run calls never runs concurrently with another task.
package bridge

import (
	"context"
	"log"
	"runtime/debug"
	"sync"
)

type loopKey struct{}

// Loop is the cooperative single thread commands run on.
type Loop struct {
	baton chan struct{}
	wg    sync.WaitGroup
}

// NewLoop creates an idle Loop.
func NewLoop() *Loop {
	return &Loop{baton: make(chan struct{}, 1)}
}

// Go waits until no task holds the Loop, then starts task holding it. Tasks
// therefore start in the order Go is called. Go returns ctx.Err() without
// starting the task if ctx ends first.
func (l *Loop) Go(ctx context.Context, task func(ctx context.Context)) error {
	select {
	case l.baton <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.yield()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Loop] Go - task panicked: %v\n%s", r, debug.Stack())
			}
		}()
		task(context.WithValue(ctx, loopKey{}, l))
	}()
	return nil
}

// Wait blocks until every started task has finished.
func (l *Loop) Wait() {
	l.wg.Wait()
}

func (l *Loop) yield() {
	<-l.baton
}

func (l *Loop) resume() {
	l.baton <- struct{}{}
}

// loopFrom returns the Loop the calling task runs on, or nil outside a task.
func loopFrom(ctx context.Context) *Loop {
	l, _ := ctx.Value(loopKey{}).(*Loop)
	return l
}
