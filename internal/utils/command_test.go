package utils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandArgv(t *testing.T) {
	argv := ExpandArgv(
		[]string{"rpicam-vid", "-t", "{duration_ms}", "{hflip}", "--size={width}x{height}", "-o", "{output}"},
		map[string]string{"duration_ms": "3000", "hflip": "", "width": "1280", "height": "720", "output": "/tmp/a.mp4"},
	)
	assert.Equal(t, []string{"rpicam-vid", "-t", "3000", "--size=1280x720", "-o", "/tmp/a.mp4"}, argv)
}

func TestExpandArgvLeavesUnknownPlaceholders(t *testing.T) {
	assert.Equal(t, []string{"date", "{iso}"}, ExpandArgv([]string{"date", "{iso}"}, nil))
}

func TestRunCommand(t *testing.T) {
	require.NoError(t, RunCommand(context.Background(), []string{"true"}))

	err := RunCommand(context.Background(), []string{"sh", "-c", "echo camera not detected >&2; exit 3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera not detected")

	assert.Error(t, RunCommand(context.Background(), nil))
	assert.Error(t, RunCommand(context.Background(), []string{"/nonexistent/bmcam-tool"}))
}
