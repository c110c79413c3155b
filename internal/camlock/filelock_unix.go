//go:build unix

package camlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// FileLock is an advisory flock on a well-known file, shared by every
// process on the host. The holder's PID is written into the file for
// diagnostics only.
type FileLock struct {
	path string
	poll time.Duration
}

func NewFileLock(path string, poll time.Duration) *FileLock {
	if poll <= 0 {
		poll = DefaultPoll
	}
	return &FileLock{path: path, poll: poll}
}

func (l *FileLock) Path() string { return l.path }

func (l *FileLock) Acquire(ctx context.Context, timeout time.Duration) (*Token, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	fd := int(f.Fd())

	err = poll(ctx, timeout, l.poll, func() (bool, error) {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
			return false, nil
		}
		return false, fmt.Errorf("flock %s: %w", l.path, err)
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	}

	return newToken(func() {
		_ = unix.Flock(fd, unix.LOCK_UN)
		f.Close()
	}), nil
}
