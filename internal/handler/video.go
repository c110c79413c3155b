package handler

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"firestige.xyz/bmcam/internal/camera"
	"firestige.xyz/bmcam/internal/camlock"
	"firestige.xyz/bmcam/internal/config"
	"firestige.xyz/bmcam/internal/dispatch"
	"firestige.xyz/bmcam/internal/log"
	"firestige.xyz/bmcam/internal/metrics"
	"firestige.xyz/bmcam/internal/protocol"
	"firestige.xyz/bmcam/internal/transfer"
)

const (
	opVideo             = "video"
	minVideoLockTimeout = 10 * time.Second
)

// Video records one clip per trigger.
type Video struct {
	defaults   VideoParams
	lock       camlock.Locker
	lockMargin time.Duration
	cam        camera.Capturer
	sender     FileSender
	status     *Status
	log        log.Logger
}

func NewVideo(cfg config.CameraConfig, lock camlock.Locker, cam camera.Capturer, sender FileSender, status *Status) *Video {
	return &Video{
		defaults:   DefaultVideoParams(cfg.Defaults),
		lock:       lock,
		lockMargin: cfg.VideoLockMargin,
		cam:        cam,
		sender:     sender,
		status:     status,
		log:        log.Named("CAM"),
	}
}

// LockTimeout covers the whole recording plus a margin.
func (h *Video) LockTimeout(p VideoParams) time.Duration {
	return max(minVideoLockTimeout, p.Duration+h.lockMargin)
}

func (h *Video) Handle(ctx context.Context, msg *protocol.Message) error {
	p, err := ParseVideo(msg.Payload, h.defaults)
	if err != nil {
		h.status.Report(Err, opVideo, "reason", "bad_params")
		return err
	}
	res, err := camera.ParseResolution(p.Resolution)
	if err != nil {
		h.status.Report(Err, opVideo, "reason", "bad_res", "res", p.Resolution)
		return err
	}

	tok, err := h.lock.Acquire(ctx, h.LockTimeout(p))
	defer tok.Release()
	if errors.Is(err, camlock.ErrBusy) {
		metrics.CameraLockBusyTotal.WithLabelValues(opVideo).Inc()
		h.log.Warn("camera in use, trigger dropped")
		h.status.Report(Busy, opVideo)
		return nil
	}
	if err != nil {
		h.status.Report(Err, opVideo, "reason", "lock")
		return err
	}

	path, err := h.cam.CaptureVideo(ctx, camera.VideoRequest{
		Resolution: res,
		Duration:   p.Duration,
		FPS:        p.FPS,
		Bitrate:    p.Bitrate,
		HFlip:      p.HFlip,
		VFlip:      p.VFlip,
	})
	tok.Release()
	if err != nil {
		h.status.Report(Err, opVideo, "reason", "capture")
		return err
	}
	h.log.Infof("saved %s res=%s dur=%s fps=%d br=%d", path, p.Resolution, p.Duration, p.FPS, p.Bitrate)

	tx := "no"
	if p.Send && h.sender != nil {
		if err := h.sender.SendFile(ctx, path, transfer.KindVideo); err != nil {
			h.status.Report(Err, opVideo, "reason", "send", "file", filepath.Base(path))
			return err
		}
		tx = "yes"
	}
	h.status.Report(OK, opVideo, "file", filepath.Base(path), "res", p.Resolution, "dur", p.Duration,
		"fps", p.FPS, "br", p.Bitrate, "bytes", fileSize(path), "tx", tx)
	return nil
}

// VideoDedupWindow stretches a trigger's suppression window over the
// requested recording plus margin, so link retransmissions during a long
// clip do not start a second one.
func VideoDedupWindow(defaults VideoParams, margin time.Duration) dispatch.WindowFunc {
	return func(payload []byte, base time.Duration) time.Duration {
		p, err := ParseVideo(payload, defaults)
		if err != nil {
			p = defaults
		}
		return max(base, p.Duration+margin)
	}
}
