package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"firestige.xyz/bmcam/internal/config"
	"firestige.xyz/bmcam/internal/log"
	"firestige.xyz/bmcam/internal/metrics"
)

const (
	defaultIdleTimeout  = 500 * time.Millisecond
	defaultPollInterval = 10 * time.Millisecond
	defaultMaxWindow    = 64 << 10
	readChunkSize       = 4096
)

// Transport serializes access to a Port. Every read chunk and every frame
// write holds the same mutex, so a write never interleaves with a read or
// another write on the device handle.
type Transport struct {
	port Port
	mu   sync.Mutex

	idle      time.Duration
	poll      time.Duration
	maxWindow int
	buf       []byte
	log       log.Logger
}

// Option configures a Transport.
type Option func(*Transport)

func WithIdleTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.idle = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.poll = d
		}
	}
}

// WithMaxWindow caps how many bytes one idle window may accumulate.
func WithMaxWindow(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.maxWindow = n
		}
	}
}

func WithLogger(l log.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// New wraps an already open port.
func New(port Port, opts ...Option) *Transport {
	t := &Transport{
		port:      port,
		idle:      defaultIdleTimeout,
		poll:      defaultPollInterval,
		maxWindow: defaultMaxWindow,
		buf:       make([]byte, readChunkSize),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = log.Or(t.log, "LINK")
	return t
}

// Open opens the configured serial device. Failures are *OpenError values
// matching ErrDeviceBusy or ErrDeviceMissing.
func Open(cfg config.LinkConfig, opts ...Option) (*Transport, error) {
	port, err := OpenSerial(cfg.Device, cfg.BaudRate)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithIdleTimeout(cfg.IdleTimeout), WithPollInterval(cfg.PollInterval)}, opts...)
	t := New(port, opts...)
	t.log.WithFields(map[string]interface{}{"device": cfg.Device, "baud": cfg.BaudRate}).Info("serial link open")
	return t, nil
}

// ReadIdleWindow accumulates bytes until none arrive for the idle timeout and
// returns them; an idle link yields an empty window. A window is also cut
// short at the size cap.
func (t *Transport) ReadIdleWindow(ctx context.Context) ([]byte, error) {
	var window []byte
	lastRx := time.Now()
	for {
		n, err := t.readChunk()
		if n > 0 {
			window = append(window, t.buf[:n]...)
			lastRx = time.Now()
			metrics.LinkBytesTotal.WithLabelValues("rx").Add(float64(n))
			if len(window) >= t.maxWindow {
				return window, nil
			}
			continue
		}
		if err != nil {
			return window, err
		}
		if time.Since(lastRx) >= t.idle {
			return window, nil
		}

		select {
		case <-ctx.Done():
			return window, ctx.Err()
		case <-time.After(t.poll):
		}
	}
}

func (t *Transport) readChunk() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.port.Read(t.buf)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		return n, fmt.Errorf("link read: %w", err)
	}
	return n, nil
}

// WriteFrame writes one wire-ready frame.
func (t *Transport) WriteFrame(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.port.Write(frame)
	metrics.LinkBytesTotal.WithLabelValues("tx").Add(float64(n))
	if err != nil {
		return fmt.Errorf("link write: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("link write: short write %d of %d bytes", n, len(frame))
	}
	if t.log.IsTraceEnabled() {
		t.log.Tracef("tx %d bytes: % x", len(frame), frame)
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port.Close()
}
