package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"firestige.xyz/bmcam/internal/config"
	"firestige.xyz/bmcam/internal/log"
	"firestige.xyz/bmcam/internal/metrics"
)

// Transmitter hands one line to the uplink. *link.Node satisfies it.
type Transmitter interface {
	Transmit(data []byte) error
}

// Sender streams chunked files. There is no acknowledgement; the receiver
// tolerates loss.
type Sender struct {
	tx        Transmitter
	chunkSize int
	delay     time.Duration
	startGap  time.Duration
	mirrorDir string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	log   log.Logger
}

type SenderOption func(*Sender)

// WithSleep replaces the pacing sleep, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) SenderOption {
	return func(s *Sender) { s.sleep = fn }
}

func WithSenderClock(now func() time.Time) SenderOption {
	return func(s *Sender) { s.now = now }
}

func NewSender(tx Transmitter, cfg config.TransferConfig, opts ...SenderOption) *Sender {
	s := &Sender{
		tx:        tx,
		chunkSize: cfg.ChunkSize,
		delay:     cfg.Delay,
		startGap:  cfg.StartGap,
		mirrorDir: cfg.MirrorDir,
		now:       time.Now,
		sleep:     sleepCtx,
		log:       log.Named("TX"),
	}
	if s.chunkSize <= 0 {
		s.chunkSize = DefaultChunkSize
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendFile chunks path and sends it.
func (s *Sender) SendFile(ctx context.Context, path, kind string) error {
	label, chunks, rawLen, err := BuildChunks(path, s.chunkSize)
	if err != nil {
		return err
	}
	s.log.Infof("sending %s kind=%s bytes=%d chunks=%d", label, kind, rawLen, len(chunks))
	return s.Send(ctx, label, chunks, kind)
}

// Send emits the start line, every segment line and the end line, pacing
// each by the configured delay. The first segment waits at least the start
// gap so the peer sees the start line first.
func (s *Sender) Send(ctx context.Context, label string, chunks []string, kind string) error {
	if s.mirrorDir != "" {
		if err := mirror(s.mirrorDir, chunks); err != nil {
			s.log.WithError(err).Warn("chunk mirror failed")
		}
	}

	n := len(chunks)
	if err := s.emit("start", StartLine(kind, label, s.now(), n)); err != nil {
		return err
	}
	s.log.Infof("START %s chunks=%d", label, n)
	if err := s.sleep(ctx, max(s.startGap, s.delay)); err != nil {
		return err
	}

	for i, chunk := range chunks {
		if err := s.emit("segment", SegmentLine(i, chunk)); err != nil {
			return fmt.Errorf("segment %d/%d: %w", i, n, err)
		}
		s.log.Debugf("I%d/%d len=%d", i, n, len(chunk))
		if err := s.sleep(ctx, s.delay); err != nil {
			return err
		}
	}

	if err := s.emit("end", EndLine(kind)); err != nil {
		return err
	}
	s.log.Infof("END %s", label)
	return nil
}

func (s *Sender) emit(kind, line string) error {
	if err := s.tx.Transmit([]byte(line)); err != nil {
		return fmt.Errorf("transmit %s line: %w", kind, err)
	}
	metrics.TransferLinesTotal.WithLabelValues(kind).Inc()
	return nil
}

// mirror rewrites dir with one split_<i>.txt per chunk for troubleshooting.
func mirror(dir string, chunks []string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, c := range chunks {
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("split_%d.txt", i)), []byte(c), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
