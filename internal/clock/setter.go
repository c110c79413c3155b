package clock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"firestige.xyz/bmcam/internal/config"
	"firestige.xyz/bmcam/internal/utils"
)

const defaultCommandTimeout = 10 * time.Second

// CommandSetter runs a privileged helper such as `sudo date -u -s {iso}`.
// Placeholders: {iso} (RFC 3339, UTC, seconds) and {epoch} (Unix seconds).
type CommandSetter struct {
	argv    []string
	timeout time.Duration
	run     func(ctx context.Context, argv []string) error
}

func NewCommandSetter(argv []string, timeout time.Duration) *CommandSetter {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &CommandSetter{argv: argv, timeout: timeout, run: utils.RunCommand}
}

func (s *CommandSetter) Set(ctx context.Context, t time.Time) error {
	if len(s.argv) == 0 {
		return fmt.Errorf("no clock command configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	t = t.UTC()
	return s.run(ctx, utils.ExpandArgv(s.argv, map[string]string{
		"iso":   t.Format("2006-01-02T15:04:05Z"),
		"epoch": strconv.FormatInt(t.Unix(), 10),
	}))
}

// NewSetter builds the Setter selected by cfg.Method.
func NewSetter(cfg config.ClockConfig) (Setter, error) {
	switch cfg.Method {
	case "", "command":
		return NewCommandSetter(cfg.Command, cfg.CommandTimeout), nil
	case "syscall":
		return SyscallSetter{}, nil
	}
	return nil, fmt.Errorf("unknown clock method %q", cfg.Method)
}
