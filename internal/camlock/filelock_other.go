//go:build !unix

package camlock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type FileLock struct {
	path string
}

func NewFileLock(path string, _ time.Duration) *FileLock {
	return &FileLock{path: path}
}

func (l *FileLock) Path() string { return l.path }

func (l *FileLock) Acquire(context.Context, time.Duration) (*Token, error) {
	return nil, fmt.Errorf("lock %s: %w", l.path, errors.ErrUnsupported)
}
