// Package camera runs still and video captures through configurable
// command-line tools.
package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"firestige.xyz/bmcam/internal/config"
	"firestige.xyz/bmcam/internal/log"
	"firestige.xyz/bmcam/internal/utils"
)

type StillRequest struct {
	Resolution Resolution
	Quality    int
	Format     string // file extension without the dot
}

type VideoRequest struct {
	Resolution Resolution
	Duration   time.Duration
	FPS        int
	Bitrate    int
	HFlip      bool
	VFlip      bool
}

// Capturer produces media files and returns their paths.
type Capturer interface {
	CaptureStill(ctx context.Context, req StillRequest) (string, error)
	CaptureVideo(ctx context.Context, req VideoRequest) (string, error)
}

// Runner executes one argv.
type Runner func(ctx context.Context, argv []string) error

// CommandCapturer fills argv templates such as
//
//	rpicam-still -n --width {width} --height {height} -o {output}
//
// and runs them. A template token that expands to nothing is dropped, which
// is how optional flags like {hflip} disappear.
type CommandCapturer struct {
	outputDir string
	still     []string
	video     []string
	run       Runner
	now       func() time.Time
	seq       atomic.Uint32
	log       log.Logger
}

type CapturerOption func(*CommandCapturer)

func WithRunner(r Runner) CapturerOption {
	return func(c *CommandCapturer) { c.run = r }
}

func WithCaptureClock(now func() time.Time) CapturerOption {
	return func(c *CommandCapturer) { c.now = now }
}

func NewCommandCapturer(cfg config.CameraConfig, opts ...CapturerOption) *CommandCapturer {
	c := &CommandCapturer{
		outputDir: cfg.OutputDir,
		still:     cfg.StillCommand,
		video:     cfg.VideoCommand,
		run:       utils.RunCommand,
		now:       time.Now,
		log:       log.Named("CAM"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CommandCapturer) CaptureStill(ctx context.Context, req StillRequest) (string, error) {
	format := strings.TrimPrefix(strings.ToLower(req.Format), ".")
	if format == "" {
		format = "jpg"
	}
	out, err := c.outputPath("IMG", format)
	if err != nil {
		return "", err
	}
	vars := map[string]string{
		"width":   strconv.Itoa(req.Resolution.Width),
		"height":  strconv.Itoa(req.Resolution.Height),
		"quality": strconv.Itoa(req.Quality),
		"format":  format,
		"output":  out,
	}
	if err := c.exec(ctx, "still", c.still, vars, out); err != nil {
		return "", err
	}
	return out, nil
}

func (c *CommandCapturer) CaptureVideo(ctx context.Context, req VideoRequest) (string, error) {
	out, err := c.outputPath("VID", "mp4")
	if err != nil {
		return "", err
	}
	vars := map[string]string{
		"width":       strconv.Itoa(req.Resolution.Width),
		"height":      strconv.Itoa(req.Resolution.Height),
		"duration_ms": strconv.FormatInt(req.Duration.Milliseconds(), 10),
		"fps":         strconv.Itoa(req.FPS),
		"bitrate":     strconv.Itoa(req.Bitrate),
		"hflip":       flag(req.HFlip, "--hflip"),
		"vflip":       flag(req.VFlip, "--vflip"),
		"output":      out,
	}
	if err := c.exec(ctx, "video", c.video, vars, out); err != nil {
		return "", err
	}
	return out, nil
}

func (c *CommandCapturer) exec(ctx context.Context, op string, tmpl []string, vars map[string]string, out string) error {
	if len(tmpl) == 0 {
		return fmt.Errorf("%s: no capture command configured", op)
	}
	argv := utils.ExpandArgv(tmpl, vars)
	c.log.Debugf("%s: %s", op, strings.Join(argv, " "))

	start := c.now()
	if err := c.run(ctx, argv); err != nil {
		return fmt.Errorf("%s capture: %w", op, err)
	}
	if _, err := os.Stat(out); err != nil {
		return fmt.Errorf("%s capture produced no file: %w", op, err)
	}
	c.log.Infof("%s saved %s in %s", op, out, c.now().Sub(start).Round(time.Millisecond))
	return nil
}

func (c *CommandCapturer) outputPath(prefix, ext string) (string, error) {
	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s_%03d.%s", prefix, c.now().UTC().Format("20060102T150405Z"), c.seq.Add(1)%1000, ext)
	return filepath.Join(c.outputDir, name), nil
}

func flag(on bool, name string) string {
	if on {
		return name
	}
	return ""
}
