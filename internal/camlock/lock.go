// Package camlock serializes access to the camera, within one process and
// across processes on the same host.
package camlock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBusy means the lock was not acquired before the timeout. Callers drop
// the trigger rather than fail.
var ErrBusy = errors.New("camera busy")

const DefaultPoll = 50 * time.Millisecond

// Locker hands out exclusive Tokens. A zero timeout tries exactly once.
type Locker interface {
	Acquire(ctx context.Context, timeout time.Duration) (*Token, error)
}

// Token is proof of holding a lock. Release is idempotent and safe on a nil
// Token, so it can be deferred before checking the Acquire error.
type Token struct {
	once    sync.Once
	release func()
}

func newToken(release func()) *Token {
	return &Token{release: release}
}

func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}

// Mutex is the in-process lock.
type Mutex struct {
	sem chan struct{}
}

func NewMutex() *Mutex {
	return &Mutex{sem: make(chan struct{}, 1)}
}

func (m *Mutex) Acquire(ctx context.Context, timeout time.Duration) (*Token, error) {
	release := func() { <-m.sem }

	select {
	case m.sem <- struct{}{}:
		return newToken(release), nil
	default:
	}
	if timeout <= 0 {
		return nil, ErrBusy
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m.sem <- struct{}{}:
		return newToken(release), nil
	case <-timer.C:
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Multi acquires every locker in order and releases them in reverse. The
// timeout covers the whole sequence.
func Multi(lockers ...Locker) Locker {
	return multi(lockers)
}

type multi []Locker

func (m multi) Acquire(ctx context.Context, timeout time.Duration) (*Token, error) {
	deadline := time.Now().Add(timeout)
	held := make([]*Token, 0, len(m))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release()
		}
	}

	for _, l := range m {
		tok, err := l.Acquire(ctx, max(0, time.Until(deadline)))
		if err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, tok)
	}
	return newToken(releaseAll), nil
}

// poll calls try every interval until it succeeds, fails, or timeout passes.
func poll(ctx context.Context, timeout, interval time.Duration, try func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		left := time.Until(deadline)
		if left <= 0 {
			return ErrBusy
		}
		t := time.NewTimer(min(interval, left))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
