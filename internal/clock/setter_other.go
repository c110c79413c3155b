//go:build !linux

package clock

import (
	"context"
	"errors"
	"time"
)

type SyscallSetter struct{}

func (SyscallSetter) Set(context.Context, time.Time) error {
	return errors.ErrUnsupported
}
