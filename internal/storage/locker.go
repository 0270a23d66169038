package storage

import (
	"context"
	"sync"
)

// SubjectLocker hands out mutual exclusion scoped to one subject.
type SubjectLocker interface {
	// Lock blocks until the subject's lock is held or ctx is done. The
	// returned function releases the lock and must be called exactly once.
	Lock(ctx context.Context, subjectID string) (unlock func(), err error)
}

type subjectLock struct {
	ch   chan struct{}
	refs int
}

// LocalLocker serializes subjects inside one process. Locks for idle
// subjects are dropped so the map does not grow with every subject ever seen.
type LocalLocker struct {
	mapMu sync.Mutex
	locks map[string]*subjectLock
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*subjectLock)}
}

func (l *LocalLocker) acquireRef(subjectID string) *subjectLock {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	lock, exists := l.locks[subjectID]
	if !exists {
		lock = &subjectLock{ch: make(chan struct{}, 1)}
		l.locks[subjectID] = lock
	}
	lock.refs++
	return lock
}

func (l *LocalLocker) releaseRef(subjectID string, lock *subjectLock) {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, subjectID)
	}
}

// Lock implements SubjectLocker.
func (l *LocalLocker) Lock(ctx context.Context, subjectID string) (func(), error) {
	lock := l.acquireRef(subjectID)

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.releaseRef(subjectID, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.ch
			l.releaseRef(subjectID, lock)
		})
	}, nil
}

// held reports how many subjects currently have a lock entry.
func (l *LocalLocker) held() int {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()
	return len(l.locks)
}

var _ SubjectLocker = (*LocalLocker)(nil)
