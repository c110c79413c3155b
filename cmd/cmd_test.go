package cmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/bmcam/internal/link"
	"firestige.xyz/bmcam/internal/transfer"
)

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, payloadType uint8, payload []byte) error {
	return m.Called(topic, payloadType, payload).Error(0)
}

type MockFileSender struct{ mock.Mock }

func (m *MockFileSender) SendFile(ctx context.Context, path, kind string) error {
	return m.Called(path, kind).Error(0)
}

type memSink struct{ got []*transfer.Artifact }

func (s *memSink) Save(a *transfer.Artifact) (string, error) {
	s.got = append(s.got, a)
	return "mem", nil
}

func TestExitCode(t *testing.T) {
	busy := &link.OpenError{Device: "/dev/serial0", Kind: link.ErrDeviceBusy, Err: syscall.EBUSY}
	missing := &link.OpenError{Device: "/dev/serial0", Kind: link.ErrDeviceMissing, Err: syscall.ENOENT}

	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitBusy, ExitCode(fmt.Errorf("failed to start agent: %w", busy)))
	assert.Equal(t, ExitMissing, ExitCode(missing))
	assert.Equal(t, ExitConfig, ExitCode(fmt.Errorf("%w: %w", errConfig, errors.New("bad"))))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("read link: EOF")))
}

func TestRunPublish(t *testing.T) {
	p := new(MockPublisher)
	p.On("Publish", "camera/capture/image", uint8(0), []byte("res=1080p")).Return(nil)
	p.On("Publish", "spotter/transmit-data", uint8(1), []byte("Hello")).Return(nil)

	var buf bytes.Buffer
	require.NoError(t, runPublish(p, "camera/capture/image", "res=1080p", 0, false, &buf))
	require.NoError(t, runPublish(p, "spotter/transmit-data", "48 65 6c 6c 6f", 1, true, &buf))
	assert.Contains(t, buf.String(), "published 9 bytes on camera/capture/image")
	assert.Contains(t, buf.String(), "published 5 bytes on spotter/transmit-data")
	p.AssertExpectations(t)

	err := runPublish(p, "x", "zz", 0, true, &buf)
	assert.Equal(t, ExitConfig, ExitCode(err))
}

func TestRunPublishError(t *testing.T) {
	p := new(MockPublisher)
	p.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("link write: short write"))

	err := runPublish(p, "a", "b", 0, false, &bytes.Buffer{})
	assert.ErrorContains(t, err, "short write")
	assert.Equal(t, ExitFailure, ExitCode(err))
}

func TestRunSend(t *testing.T) {
	s := new(MockFileSender)
	s.On("SendFile", "clip.mp4", "VID").Return(nil)

	var buf bytes.Buffer
	require.NoError(t, runSend(context.Background(), s, "clip.mp4", " vid ", &buf))
	assert.Equal(t, "sent clip.mp4 as VID\n", buf.String())
	s.AssertExpectations(t)

	assert.Equal(t, ExitConfig, ExitCode(runSend(context.Background(), s, "clip.mp4", "", &buf)))
}

func TestRunReassemble(t *testing.T) {
	lines := []string{
		"<START IMG> filename: x.jpg, timestamp: 2025-06-01T12:00:00Z, length: 2",
		"<I1>bG8=",
		"<I0>aGVs",
	}
	var data []map[string]interface{}
	for i, l := range lines {
		data = append(data, map[string]interface{}{
			"timestamp":            fmt.Sprintf("2025-06-01T12:00:0%dZ", i),
			"latitude":             21.3,
			"longitude":            -157.8,
			"bristlemouth_node_id": "0xc0ffee",
			"value":                hex.EncodeToString([]byte(l)),
		})
	}
	doc, err := json.Marshal(map[string]interface{}{"data": data})
	require.NoError(t, err)

	sink := &memSink{}
	var buf bytes.Buffer
	require.NoError(t, runReassemble(bytes.NewReader(doc), transfer.ExportFilter{}, sink, &buf))

	require.Len(t, sink.got, 1)
	assert.Equal(t, []byte("hello"), sink.got[0].Data)
	assert.Equal(t, "0xc0ffee", sink.got[0].NodeID)
	assert.Equal(t, "3 records, 1 files saved\n", buf.String())

	sink = &memSink{}
	buf.Reset()
	require.NoError(t, runReassemble(bytes.NewReader(doc), transfer.ExportFilter{Nodes: []string{"0xbeef"}}, sink, &buf))
	assert.Empty(t, sink.got)
	assert.Equal(t, "0 records, 0 files saved\n", buf.String())

	assert.Error(t, runReassemble(bytes.NewReader([]byte("{")), transfer.ExportFilter{}, sink, &buf))
}

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yml")
	require.NoError(t, os.WriteFile(good, []byte("bmcam:\n  link:\n    device: /dev/ttyUSB1\n"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, runValidate(good, &buf))
	assert.Contains(t, buf.String(), "VALID: "+good)
	assert.Contains(t, buf.String(), "device: /dev/ttyUSB1")

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("bmcam:\n  link:\n    framing: hdlc\n"), 0o644))
	err := runValidate(bad, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, ExitConfig, ExitCode(err))

	assert.Equal(t, ExitConfig, ExitCode(runValidate(filepath.Join(dir, "missing.yml"), &bytes.Buffer{})))
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"agent", "stop", "send", "publish", "reassemble", "config"} {
		assert.Contains(t, names, want)
	}
}
