package handler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/bmcam/internal/camera"
	"firestige.xyz/bmcam/internal/camlock"
	"firestige.xyz/bmcam/internal/clock"
	"firestige.xyz/bmcam/internal/config"
	"firestige.xyz/bmcam/internal/dispatch"
	"firestige.xyz/bmcam/internal/protocol"
	"firestige.xyz/bmcam/internal/transfer"
)

type statusRecorder struct {
	mu     sync.Mutex
	topics []string
	lines  []string
}

func (r *statusRecorder) PublishText(topic, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.lines = append(r.lines, text)
	return nil
}

func (r *statusRecorder) Print(text string) error {
	return r.PublishText("print", text)
}

func (r *statusRecorder) FileLog(filename, text string) error {
	return r.PublishText("file:"+filename, text)
}

type mockCapturer struct{ mock.Mock }

func (m *mockCapturer) CaptureStill(ctx context.Context, req camera.StillRequest) (string, error) {
	args := m.Called(req)
	return args.String(0), args.Error(1)
}

func (m *mockCapturer) CaptureVideo(ctx context.Context, req camera.VideoRequest) (string, error) {
	args := m.Called(req)
	return args.String(0), args.Error(1)
}

type mockSender struct{ mock.Mock }

func (m *mockSender) SendFile(ctx context.Context, path, kind string) error {
	return m.Called(path, kind).Error(0)
}

func testCameraConfig() config.CameraConfig {
	return config.CameraConfig{
		StillLockTimeout: 30 * time.Millisecond,
		VideoLockMargin:  5 * time.Second,
		Defaults: config.CameraDefaults{
			Resolution: "720p",
			Burst:      1,
			Format:     "jpg",
			Quality:    90,
			Duration:   3 * time.Second,
			FPS:        30,
			Bitrate:    3000000,
		},
	}
}

func mediaFile(t *testing.T, name string, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func publish(payload string) *protocol.Message {
	return &protocol.Message{Type: protocol.TypePublish, NodeID: 0x42, Topic: "camera/capture/image", Payload: []byte(payload)}
}

func TestFormatStatus(t *testing.T) {
	assert.Equal(t, "OK op=video file=a.mp4 dur=5s", FormatStatus(OK, "video", "file", "a.mp4", "dur", 5*time.Second))
	assert.Equal(t, "BUSY op=image", FormatStatus(Busy, "image"))
	assert.Equal(t, "ERR", FormatStatus(Err, ""))
	// a dangling key is dropped
	assert.Equal(t, "ACK op=x a=1", FormatStatus(Ack, "x", "a", 1, "b"))
}

func TestStatusWithoutPublisher(t *testing.T) {
	var s *Status
	assert.NotPanics(t, func() { s.Report(OK, "image") })
	assert.NotPanics(t, func() { NewStatus(nil, "camera/status").Report(OK, "image") })
}

func TestStatusMirrorsToFileLog(t *testing.T) {
	rec := &statusRecorder{}
	NewStatus(rec, "camera/status").MirrorTo(rec, "camera.log").Report(OK, "image", "file", "a.jpg")

	assert.Equal(t, []string{"file:camera.log", "camera/status"}, rec.topics)
	assert.Equal(t, []string{"OK op=image file=a.jpg", "OK op=image file=a.jpg"}, rec.lines)
}

func TestTriggerText(t *testing.T) {
	assert.Equal(t, "res=1080p", TriggerText([]byte("\x00res=1080p")))
	assert.Equal(t, "res=1080p,burst=2", TriggerText([]byte(` "res=1080p,burst=2" `)))
	assert.Equal(t, "a", TriggerText([]byte("'a'")))
	assert.Equal(t, `"a'`, TriggerText([]byte(`"a'`)))
}

func TestParseTokens(t *testing.T) {
	assert.Empty(t, ParseTokens(""))
	assert.Empty(t, ParseTokens("go"))
	assert.Empty(t, ParseTokens("1"))
	assert.Equal(t, map[string]string{"res": "1080p"}, ParseTokens("1080p"))
	assert.Equal(t, map[string]string{"res": "vga", "burst": "3"}, ParseTokens("RES = vga, burst=3,junk"))
}

func TestParseStill(t *testing.T) {
	def := DefaultStillParams(testCameraConfig().Defaults)

	p, err := ParseStill([]byte("go"), def)
	require.NoError(t, err)
	assert.Equal(t, def, p)

	p, err = ParseStill([]byte("res=1080p,burst=3,int=0.5,q=80,fmt=png,send=yes"), def)
	require.NoError(t, err)
	assert.Equal(t, StillParams{Resolution: "1080p", Burst: 3, Interval: 500 * time.Millisecond, Format: "png", Quality: 80, Send: true}, p)

	p, err = ParseStill([]byte("burst=0"), def)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Burst)

	_, err = ParseStill([]byte("burst=many"), def)
	assert.Error(t, err)
	_, err = ParseStill([]byte("send=maybe"), def)
	assert.Error(t, err)
}

func TestParseVideo(t *testing.T) {
	def := DefaultVideoParams(testCameraConfig().Defaults)

	p, err := ParseVideo([]byte("dur=10,fps=25,br=2.5m,hflip=1"), def)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, p.Duration)
	assert.Equal(t, 25, p.FPS)
	assert.Equal(t, 2500000, p.Bitrate)
	assert.True(t, p.HFlip)
	assert.False(t, p.VFlip)
	assert.Equal(t, "720p", p.Resolution)

	p, err = ParseVideo([]byte("dur=1500ms,br=800k"), def)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, p.Duration)
	assert.Equal(t, 800000, p.Bitrate)

	_, err = ParseVideo([]byte("dur=forever"), def)
	assert.Error(t, err)
}

func TestStillCapturesBurstAndSends(t *testing.T) {
	a := mediaFile(t, "IMG_a.jpg", 10)
	b := mediaFile(t, "IMG_b.jpg", 20)

	cam := &mockCapturer{}
	cam.On("CaptureStill", camera.StillRequest{Resolution: camera.Resolution{Width: 1920, Height: 1080}, Quality: 90, Format: "jpg"}).
		Return(a, nil).Once()
	cam.On("CaptureStill", mock.Anything).Return(b, nil).Once()
	sender := &mockSender{}
	sender.On("SendFile", a, transfer.KindImage).Return(nil)
	sender.On("SendFile", b, transfer.KindImage).Return(nil)
	rec := &statusRecorder{}

	var slept []time.Duration
	h := NewStill(testCameraConfig(), camlock.NewMutex(), cam, sender, NewStatus(rec, "camera/status"))
	h.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, h.Handle(context.Background(), publish("res=1080p,burst=2,int=2,send=1")))

	cam.AssertExpectations(t)
	sender.AssertExpectations(t)
	assert.Equal(t, []time.Duration{2 * time.Second}, slept)
	assert.Equal(t, []string{
		"ACK op=image stage=recv res=1080p burst=2",
		"OK op=image file=IMG_a.jpg res=1080p idx=1 burst=2 bytes=10 tx=yes",
		"OK op=image file=IMG_b.jpg res=1080p idx=2 burst=2 bytes=20 tx=yes",
	}, rec.lines)
	assert.Equal(t, "camera/status", rec.topics[0])
}

func TestStillReleasesLockBeforeSending(t *testing.T) {
	path := mediaFile(t, "IMG_a.jpg", 1)
	lock := camlock.NewMutex()
	cam := &mockCapturer{}
	cam.On("CaptureStill", mock.Anything).Return(path, nil)
	sender := &mockSender{}
	sender.On("SendFile", path, transfer.KindImage).Run(func(mock.Arguments) {
		tok, err := lock.Acquire(context.Background(), 0)
		require.NoError(t, err, "camera lock still held during send")
		tok.Release()
	}).Return(nil)

	h := NewStill(testCameraConfig(), lock, cam, sender, NewStatus(&statusRecorder{}, "s"))
	require.NoError(t, h.Handle(context.Background(), publish("send=1")))
	sender.AssertExpectations(t)
}

func TestStillBusy(t *testing.T) {
	lock := camlock.NewMutex()
	held, err := lock.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer held.Release()

	cam := &mockCapturer{}
	rec := &statusRecorder{}
	h := NewStill(testCameraConfig(), lock, cam, nil, NewStatus(rec, "camera/status"))

	require.NoError(t, h.Handle(context.Background(), publish("")))
	cam.AssertNotCalled(t, "CaptureStill", mock.Anything)
	assert.Equal(t, []string{"ACK op=image stage=recv res=720p burst=1", "BUSY op=image"}, rec.lines)
}

func TestStillErrors(t *testing.T) {
	cam := &mockCapturer{}
	cam.On("CaptureStill", mock.Anything).Return("", errors.New("no camera"))
	rec := &statusRecorder{}
	h := NewStill(testCameraConfig(), camlock.NewMutex(), cam, nil, NewStatus(rec, "s"))

	assert.Error(t, h.Handle(context.Background(), publish("res=huge")))
	assert.Equal(t, "ERR op=image reason=bad_res res=huge", rec.lines[0])

	assert.Error(t, h.Handle(context.Background(), publish("")))
	assert.Equal(t, "ERR op=image reason=capture idx=1", rec.lines[len(rec.lines)-1])
}

func TestVideoRecordsWithoutSend(t *testing.T) {
	path := mediaFile(t, "VID_a.mp4", 64)
	cam := &mockCapturer{}
	cam.On("CaptureVideo", camera.VideoRequest{
		Resolution: camera.Resolution{Width: 1280, Height: 720},
		Duration:   5 * time.Second,
		FPS:        30,
		Bitrate:    3000000,
		VFlip:      true,
	}).Return(path, nil)
	sender := &mockSender{}
	rec := &statusRecorder{}

	h := NewVideo(testCameraConfig(), camlock.NewMutex(), cam, sender, NewStatus(rec, "camera/status"))
	require.NoError(t, h.Handle(context.Background(), publish("dur=5,vflip=1")))

	sender.AssertNotCalled(t, "SendFile", mock.Anything, mock.Anything)
	assert.Equal(t, []string{"OK op=video file=VID_a.mp4 res=720p dur=5s fps=30 br=3000000 bytes=64 tx=no"}, rec.lines)
}

func TestVideoLockTimeout(t *testing.T) {
	h := NewVideo(testCameraConfig(), camlock.NewMutex(), &mockCapturer{}, nil, nil)
	assert.Equal(t, 10*time.Second, h.LockTimeout(VideoParams{Duration: 3 * time.Second}))
	assert.Equal(t, 65*time.Second, h.LockTimeout(VideoParams{Duration: time.Minute}))
}

func TestVideoDedupWindowSuppressesRetransmitsDuringRecording(t *testing.T) {
	def := DefaultVideoParams(testCameraConfig().Defaults)
	extend := VideoDedupWindow(def, 5*time.Second)
	assert.Equal(t, 8*time.Second, extend([]byte("go"), 100*time.Millisecond))
	assert.Equal(t, 35*time.Second, extend([]byte("dur=30"), 100*time.Millisecond))
	assert.Equal(t, time.Minute, extend([]byte("dur=1"), time.Minute))
	assert.Equal(t, 8*time.Second, extend([]byte("dur=bogus"), 0))

	now := time.Unix(1700000000, 0)
	d := dispatch.NewDeduper(dispatch.WithNow(func() time.Time { return now }))
	d.SetRule("camera/capture/video", dispatch.Rule{Mode: dispatch.ByPayload, Window: 100 * time.Millisecond, Extend: extend})

	payload := []byte("dur=30")
	assert.False(t, d.Check(0x42, "camera/capture/video", payload).Duplicate)
	now = now.Add(20 * time.Second)
	v := d.Check(0x42, "camera/capture/video", payload)
	assert.True(t, v.Duplicate)
	assert.Equal(t, 35*time.Second, v.Window)
	now = now.Add(16 * time.Second)
	assert.False(t, d.Check(0x42, "camera/capture/video", payload).Duplicate)
}

func TestHello(t *testing.T) {
	rec := &statusRecorder{}
	h := NewHello(0xC0FFEE, NewStatus(rec, "camera/status"), rec)
	require.NoError(t, h.Handle(context.Background(), publish("hi")))
	assert.Equal(t, []string{"ACK op=hello node=0xc0ffee", "hello from 0xc0ffee\n"}, rec.lines)
	assert.Equal(t, []string{"camera/status", "print"}, rec.topics)
}

type memSink struct{ got []*transfer.Artifact }

func (s *memSink) Save(a *transfer.Artifact) (string, error) {
	s.got = append(s.got, a)
	return a.Filename, nil
}

func TestReceiveFeedsDemux(t *testing.T) {
	sink := &memSink{}
	demux := transfer.NewDemux(sink, nil)
	h := NewReceive(demux)
	h.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	lines := []string{
		"<START IMG> filename: a.jpg, timestamp: 2025-06-01T12:00:00Z, length: 2",
		"<I1>bG8=",
		"<I0>aGVs",
	}
	for _, l := range lines {
		require.NoError(t, h.Handle(context.Background(), &protocol.Message{NodeID: 0x7, Payload: []byte(l)}))
	}

	require.Len(t, sink.got, 1)
	assert.Equal(t, []byte("hello"), sink.got[0].Data)
	assert.Equal(t, "0x7", sink.got[0].NodeID)
	assert.Equal(t, "2025-06-01T12:00:00Z", sink.got[0].Timestamp)
}

func TestClockIgnoresImplausible(t *testing.T) {
	ctrl := clock.NewController(config.ClockConfig{Enabled: true}, clock.NewCommandSetter([]string{"true"}, time.Second))
	h := NewClock(ctrl)
	assert.NoError(t, h.Handle(context.Background(), &protocol.Message{Payload: []byte{1, 2, 3}}))
}
