package handler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"firestige.xyz/bmcam/internal/camera"
	"firestige.xyz/bmcam/internal/camlock"
	"firestige.xyz/bmcam/internal/config"
	"firestige.xyz/bmcam/internal/log"
	"firestige.xyz/bmcam/internal/metrics"
	"firestige.xyz/bmcam/internal/protocol"
	"firestige.xyz/bmcam/internal/transfer"
)

const opImage = "image"

// Still captures one or more images per trigger and optionally streams them
// back over the link.
type Still struct {
	defaults    StillParams
	lock        camlock.Locker
	lockTimeout time.Duration
	cam         camera.Capturer
	sender      FileSender
	status      *Status

	sleep func(ctx context.Context, d time.Duration) error
	log   log.Logger
}

// NewStill creates the image handler. A nil sender disables send=1.
func NewStill(cfg config.CameraConfig, lock camlock.Locker, cam camera.Capturer, sender FileSender, status *Status) *Still {
	return &Still{
		defaults:    DefaultStillParams(cfg.Defaults),
		lock:        lock,
		lockTimeout: cfg.StillLockTimeout,
		cam:         cam,
		sender:      sender,
		status:      status,
		sleep:       sleepCtx,
		log:         log.Named("CAM"),
	}
}

func (h *Still) Handle(ctx context.Context, msg *protocol.Message) error {
	p, err := ParseStill(msg.Payload, h.defaults)
	if err != nil {
		h.status.Report(Err, opImage, "reason", "bad_params")
		return err
	}
	res, err := camera.ParseResolution(p.Resolution)
	if err != nil {
		h.status.Report(Err, opImage, "reason", "bad_res", "res", p.Resolution)
		return err
	}
	h.status.Report(Ack, opImage, "stage", "recv", "res", p.Resolution, "burst", p.Burst)

	tok, err := h.lock.Acquire(ctx, h.lockTimeout)
	defer tok.Release()
	if errors.Is(err, camlock.ErrBusy) {
		metrics.CameraLockBusyTotal.WithLabelValues(opImage).Inc()
		h.log.Warn("camera in use, trigger dropped")
		h.status.Report(Busy, opImage)
		return nil
	}
	if err != nil {
		h.status.Report(Err, opImage, "reason", "lock")
		return err
	}

	paths := make([]string, 0, p.Burst)
	for i := 0; i < p.Burst; i++ {
		path, err := h.cam.CaptureStill(ctx, camera.StillRequest{Resolution: res, Quality: p.Quality, Format: p.Format})
		if err != nil {
			h.status.Report(Err, opImage, "reason", "capture", "idx", i+1)
			return err
		}
		h.log.Infof("captured %s res=%s burst=%d/%d", path, p.Resolution, i+1, p.Burst)
		paths = append(paths, path)
		if i+1 < p.Burst && p.Interval > 0 {
			if err := h.sleep(ctx, p.Interval); err != nil {
				return err
			}
		}
	}
	// sending can take minutes; the camera is free again
	tok.Release()

	for i, path := range paths {
		tx := "no"
		if p.Send && h.sender != nil {
			if err := h.sender.SendFile(ctx, path, transfer.KindImage); err != nil {
				h.status.Report(Err, opImage, "reason", "send", "file", filepath.Base(path))
				return err
			}
			tx = "yes"
		}
		h.status.Report(OK, opImage, "file", filepath.Base(path), "res", p.Resolution,
			"idx", i+1, "burst", p.Burst, "bytes", fileSize(path), "tx", tx)
	}
	return nil
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return fi.Size()
}
