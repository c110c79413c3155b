package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bmcam.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
bmcam:
  node:
    id: "0x1"
  link:
    device: /dev/ttyAMA0
    baud_rate: 230400
    idle_timeout: 250ms
  log:
    level: debug
  dedup:
    default_window: 200ms
    rules:
      - topic: Camera/Still
        mode: by_topic
        window: 2s
  clock:
    apply_if_drift: 300ms
    min_apply_interval: 5m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), cfg.Node.NodeID)
	assert.Equal(t, "/dev/ttyAMA0", cfg.Link.Device)
	assert.Equal(t, 230400, cfg.Link.BaudRate)
	assert.Equal(t, 250*time.Millisecond, cfg.Link.IdleTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 200*time.Millisecond, cfg.Dedup.DefaultWindow)
	require.Len(t, cfg.Dedup.Rules, 1)
	assert.Equal(t, "Camera/Still", cfg.Dedup.Rules[0].Topic)
	assert.Equal(t, "by_topic", cfg.Dedup.Rules[0].Mode)
	assert.Equal(t, 2*time.Second, cfg.Dedup.Rules[0].Window)
	assert.Equal(t, 300*time.Millisecond, cfg.Clock.ApplyIfDrift)
	assert.Equal(t, 5*time.Minute, cfg.Clock.MinApplyInterval)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, uint64(0xC0FFEEEEF0CACC1A), cfg.Node.NodeID)
	assert.Equal(t, uint8(1), cfg.Node.VersionMajor)
	assert.Equal(t, "/dev/serial0", cfg.Link.Device)
	assert.Equal(t, 115200, cfg.Link.BaudRate)
	assert.Equal(t, "cobs", cfg.Link.Framing)
	assert.True(t, cfg.Link.VerifyChecksum)
	assert.Equal(t, 100*time.Millisecond, cfg.Dedup.DefaultWindow)
	assert.Equal(t, 4096, cfg.Dedup.SoftMax)
	assert.Equal(t, 5*time.Second, cfg.Dedup.TriggerWindow)
	assert.Empty(t, cfg.Daemon.StatusLog)
	assert.Equal(t, 300, cfg.Transfer.ChunkSize)
	assert.Equal(t, 5*time.Second, cfg.Transfer.Delay)
	assert.Equal(t, "/tmp/bm_daemon.capture.lock", cfg.Camera.LockFile)
	assert.Equal(t, 8*time.Second, cfg.Camera.StillLockTimeout)
	assert.Equal(t, 3*time.Second, cfg.Camera.Defaults.Duration)
	assert.Equal(t, []string{"sudo", "date", "-u", "-s", "{iso}"}, cfg.Clock.Command)
	assert.Equal(t, "spotter/utc-time", cfg.Topics.RTC)
	assert.Equal(t, "camera/status", cfg.Topics.Status)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BMCAM_LINK_DEVICE", "/dev/ttyUSB3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3", cfg.Link.Device)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad node id", "bmcam:\n  node:\n    id: nope\n"},
		{"bad framing", "bmcam:\n  link:\n    framing: slip\n"},
		{"bad log level", "bmcam:\n  log:\n    level: loud\n"},
		{"bad rule mode", "bmcam:\n  dedup:\n    rules:\n      - topic: a\n        mode: sometimes\n"},
		{"negative trigger window", "bmcam:\n  dedup:\n    trigger_window: -1s\n"},
		{"rule without topic", "bmcam:\n  dedup:\n    rules:\n      - mode: by_topic\n"},
		{"zero chunk size", "bmcam:\n  transfer:\n    chunk_size: 0\n"},
		{"bad clock method", "bmcam:\n  clock:\n    method: ntp\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestRuleModeDefaultsToPayload(t *testing.T) {
	cfg, err := Load(writeConfig(t, "bmcam:\n  dedup:\n    rules:\n      - topic: a/b\n        window: 1s\n"))
	require.NoError(t, err)
	assert.Equal(t, "by_payload", cfg.Dedup.Rules[0].Mode)
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/bmcam/env.yml")
	assert.Equal(t, "/etc/bmcam/flag.yml", ResolvePath("/etc/bmcam/flag.yml"))
	assert.Equal(t, "/etc/bmcam/env.yml", ResolvePath(""))
}

func TestDump(t *testing.T) {
	out, err := Dump(writeConfig(t, "bmcam:\n  link:\n    device: /dev/ttyS9\n"))
	require.NoError(t, err)
	assert.Contains(t, string(out), "/dev/ttyS9")
	assert.Contains(t, string(out), "spotter/utc-time")
}
