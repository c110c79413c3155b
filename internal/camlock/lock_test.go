package camlock

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockers(t *testing.T) map[string]func() Locker {
	path := filepath.Join(t.TempDir(), "capture.lock")
	mu := NewMutex()
	return map[string]func() Locker{
		"mutex": func() Locker { return mu },
		// separate FileLock values share only the file, like two processes
		"file": func() Locker { return NewFileLock(path, 5*time.Millisecond) },
	}
}

func TestSecondAcquireTimesOut(t *testing.T) {
	for name, newLocker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			tok, err := newLocker().Acquire(context.Background(), 0)
			require.NoError(t, err)
			defer tok.Release()

			start := time.Now()
			tok2, err := newLocker().Acquire(context.Background(), 40*time.Millisecond)
			assert.ErrorIs(t, err, ErrBusy)
			assert.Nil(t, tok2)
			assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

			_, err = newLocker().Acquire(context.Background(), 0)
			assert.ErrorIs(t, err, ErrBusy)
		})
	}
}

func TestAcquireAfterRelease(t *testing.T) {
	for name, newLocker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			tok, err := newLocker().Acquire(context.Background(), 0)
			require.NoError(t, err)

			go func() {
				time.Sleep(20 * time.Millisecond)
				tok.Release()
			}()

			tok2, err := newLocker().Acquire(context.Background(), time.Second)
			require.NoError(t, err)
			tok2.Release()
		})
	}
}

func TestMutualExclusion(t *testing.T) {
	for name, newLocker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			var holders, maxHolders, wins int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					tok, err := newLocker().Acquire(context.Background(), 2*time.Second)
					if err != nil {
						return
					}
					defer tok.Release()
					atomic.AddInt32(&wins, 1)
					n := atomic.AddInt32(&holders, 1)
					for {
						m := atomic.LoadInt32(&maxHolders)
						if n <= m || atomic.CompareAndSwapInt32(&maxHolders, m, n) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt32(&holders, -1)
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), maxHolders)
			assert.Equal(t, int32(8), wins)
		})
	}
}

func TestReleaseIdempotent(t *testing.T) {
	m := NewMutex()
	tok, err := m.Acquire(context.Background(), 0)
	require.NoError(t, err)
	tok.Release()
	tok.Release()

	var nilTok *Token
	assert.NotPanics(t, nilTok.Release)

	// a double release must not have freed a later holder's slot
	tok2, err := m.Acquire(context.Background(), 0)
	require.NoError(t, err)
	_, err = m.Acquire(context.Background(), 0)
	assert.ErrorIs(t, err, ErrBusy)
	tok2.Release()
}

func TestAcquireHonoursContext(t *testing.T) {
	for name, newLocker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			tok, err := newLocker().Acquire(context.Background(), 0)
			require.NoError(t, err)
			defer tok.Release()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err = newLocker().Acquire(ctx, time.Minute)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestFileLockWritesPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.lock")
	tok, err := NewFileLock(path, 0).Acquire(context.Background(), 0)
	require.NoError(t, err)
	defer tok.Release()

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(got))
}

func TestFileLockBadPath(t *testing.T) {
	_, err := NewFileLock(filepath.Join(t.TempDir(), "missing", "x.lock"), 0).Acquire(context.Background(), 0)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrBusy)
}

func TestMultiReleasesOnFailure(t *testing.T) {
	a, b := NewMutex(), NewMutex()
	held, err := b.Acquire(context.Background(), 0)
	require.NoError(t, err)

	_, err = Multi(a, b).Acquire(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrBusy)

	// a was released after b failed
	tokA, err := a.Acquire(context.Background(), 0)
	require.NoError(t, err)
	tokA.Release()
	held.Release()

	tok, err := Multi(a, b).Acquire(context.Background(), 0)
	require.NoError(t, err)
	_, err = b.Acquire(context.Background(), 0)
	assert.ErrorIs(t, err, ErrBusy)
	tok.Release()
	_, err = a.Acquire(context.Background(), 0)
	assert.NoError(t, err)
}
