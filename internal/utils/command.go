// Package utils holds small helpers shared by the capture and clock code.
package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const maxOutputTail = 200

// ExpandArgv replaces {name} placeholders in each template token. Tokens
// that end up empty are dropped, so an optional flag can expand to nothing.
func ExpandArgv(tmpl []string, vars map[string]string) []string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	argv := make([]string, 0, len(tmpl))
	for _, tok := range tmpl {
		if s := r.Replace(tok); s != "" {
			argv = append(argv, s)
		}
	}
	return argv
}

// RunCommand runs argv and folds the tail of its combined output into the
// returned error.
func RunCommand(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(output.String())
		if len(msg) > maxOutputTail {
			msg = msg[len(msg)-maxOutputTail:]
		}
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}
