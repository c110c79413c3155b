// Package daemon implements the agent lifecycle: it opens the serial link,
// subscribes the handler topics and routes inbound publishes until stopped.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"firestige.xyz/bmcam/internal/camera"
	"firestige.xyz/bmcam/internal/camlock"
	"firestige.xyz/bmcam/internal/clock"
	"firestige.xyz/bmcam/internal/config"
	"firestige.xyz/bmcam/internal/dispatch"
	"firestige.xyz/bmcam/internal/handler"
	"firestige.xyz/bmcam/internal/link"
	"firestige.xyz/bmcam/internal/log"
	"firestige.xyz/bmcam/internal/metrics"
	"firestige.xyz/bmcam/internal/protocol"
	"firestige.xyz/bmcam/internal/transfer"
)

// Daemon manages the agent process lifecycle.
type Daemon struct {
	// Configuration
	config  *config.Config
	pidFile string

	// Injected collaborators; nil means build from config
	port     link.Port
	capturer camera.Capturer
	setter   clock.Setter
	locker   camlock.Locker
	sink     transfer.Sink

	// Core components
	transport     *link.Transport
	node          *link.Node
	router        *dispatch.Router
	demux         *transfer.Demux // nil when no receive topic
	metricsServer *metrics.Server // nil if metrics disabled
	pidWritten    bool

	splitter protocol.Splitter
	parser   *protocol.Parser

	// Lifecycle management
	stopping atomic.Bool
	stopOnce sync.Once
	sigChan  chan os.Signal
	lastBeat time.Time
	stats    stats
	log      log.Logger
}

type stats struct {
	windows uint64
	frames  uint64
	dropped uint64
}

type Option func(*Daemon)

// WithPort uses an already open port instead of the configured device.
func WithPort(p link.Port) Option {
	return func(d *Daemon) { d.port = p }
}

func WithCapturer(c camera.Capturer) Option {
	return func(d *Daemon) { d.capturer = c }
}

func WithClockSetter(s clock.Setter) Option {
	return func(d *Daemon) { d.setter = s }
}

func WithLocker(l camlock.Locker) Option {
	return func(d *Daemon) { d.locker = l }
}

// WithSink replaces the file sink used for received transfers.
func WithSink(s transfer.Sink) Option {
	return func(d *Daemon) { d.sink = s }
}

// New creates a Daemon for an already validated configuration.
func New(cfg *config.Config, opts ...Option) *Daemon {
	d := &Daemon{
		config:  cfg,
		pidFile: cfg.Daemon.PIDFile,
		parser:  protocol.NewParser(cfg.Link.VerifyChecksum),
		log:     log.Named("AGENT"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start initializes and starts all agent components.
func (d *Daemon) Start() error {
	d.log.WithFields(map[string]interface{}{
		"device": d.config.Link.Device,
		"node":   fmt.Sprintf("%#x", d.config.Node.NodeID),
	}).Info("starting agent")

	// 1. Open the serial link before touching the PID file
	if err := d.openLink(); err != nil {
		return err
	}

	// 2. Write PID file
	if err := writePIDFile(d.pidFile); err != nil {
		d.cleanup()
		return err
	}
	d.pidWritten = true

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	d.node = link.NewNode(d.transport, d.config.Node.NodeID,
		protocol.Version{Major: d.config.Node.VersionMajor, Minor: d.config.Node.VersionMinor},
		link.SpotterTopics{
			Transmit: d.config.Topics.Transmit,
			Print:    d.config.Topics.Print,
			FileLog:  d.config.Topics.FileLog,
		})

	// 4. Build handlers and the router
	router, err := d.buildRouter()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("failed to build router: %w", err)
	}
	d.router = router

	// 5. Subscribe every handled topic
	for _, topic := range router.Topics() {
		if err := d.node.Subscribe(topic); err != nil {
			d.cleanup()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	d.lastBeat = time.Now()
	d.log.Info("agent started")
	return nil
}

func (d *Daemon) openLink() error {
	if d.port != nil {
		d.transport = link.New(d.port,
			link.WithIdleTimeout(d.config.Link.IdleTimeout),
			link.WithPollInterval(d.config.Link.PollInterval))
		return nil
	}
	t, err := link.Open(d.config.Link)
	if err != nil {
		var oe *link.OpenError
		if errors.As(err, &oe) {
			d.log.Error(oe.Describe())
		}
		return err
	}
	d.transport = t
	return nil
}

func (d *Daemon) buildRouter() (*dispatch.Router, error) {
	cfg := d.config

	dedup := dispatch.NewDeduper(
		dispatch.WithDefaultRule(dispatch.Rule{Mode: dispatch.ByPayload, Window: cfg.Dedup.DefaultWindow}),
		dispatch.WithSoftMax(cfg.Dedup.SoftMax),
	)
	for _, rc := range cfg.Dedup.Rules {
		mode, err := dispatch.ParseMode(rc.Mode)
		if err != nil {
			return nil, err
		}
		dedup.SetRule(dispatch.NormalizeTopic(rc.Topic), dispatch.Rule{Mode: mode, Window: rc.Window})
	}
	// Triggers drop any repeat from the same node regardless of payload.
	for _, t := range []string{cfg.Topics.Still, cfg.Topics.Video} {
		t = dispatch.NormalizeTopic(t)
		if t != "" && !dedup.HasRule(t) {
			dedup.SetRule(t, dispatch.Rule{Mode: dispatch.ByTopic, Window: cfg.Dedup.TriggerWindow})
		}
	}

	router := dispatch.NewRouter(dedup, nil)
	status := handler.NewStatus(d.node, cfg.Topics.Status)
	if cfg.Daemon.StatusLog != "" {
		status.MirrorTo(d.node, cfg.Daemon.StatusLog)
	}

	locker := d.locker
	if locker == nil {
		locker = camlock.NewMutex()
		if cfg.Camera.LockFile != "" {
			locker = camlock.Multi(locker, camlock.NewFileLock(cfg.Camera.LockFile, cfg.Camera.LockPoll))
		}
	}
	capturer := d.capturer
	if capturer == nil {
		capturer = camera.NewCommandCapturer(cfg.Camera)
	}
	sender := transfer.NewSender(d.node, cfg.Transfer)

	if t := cfg.Topics.RTC; t != "" {
		setter := d.setter
		if setter == nil {
			s, err := clock.NewSetter(cfg.Clock)
			if err != nil {
				return nil, err
			}
			setter = s
		}
		if err := router.Register(t, handler.NewClock(clock.NewController(cfg.Clock, setter))); err != nil {
			return nil, err
		}
	}
	if t := cfg.Topics.Still; t != "" {
		if err := router.Register(t, handler.NewStill(cfg.Camera, locker, capturer, sender, status)); err != nil {
			return nil, err
		}
	}
	if t := cfg.Topics.Video; t != "" {
		if err := router.Register(t, handler.NewVideo(cfg.Camera, locker, capturer, sender, status)); err != nil {
			return nil, err
		}
		t = dispatch.NormalizeTopic(t)
		rule := dedup.Rule(t)
		rule.Extend = handler.VideoDedupWindow(handler.DefaultVideoParams(cfg.Camera.Defaults), cfg.Dedup.VideoMargin)
		dedup.SetRule(t, rule)
	}
	if t := cfg.Topics.Hello; t != "" {
		if err := router.Register(t, handler.NewHello(cfg.Node.NodeID, status, d.node)); err != nil {
			return nil, err
		}
	}
	if t := cfg.Topics.Receive; t != "" {
		sink := d.sink
		if sink == nil {
			sink = transfer.NewFileSink(cfg.Receiver)
		}
		d.demux = transfer.NewDemux(sink, nil)
		if err := router.Register(t, handler.NewReceive(d.demux)); err != nil {
			return nil, err
		}
	}
	return router, nil
}

// Run reads and routes frames until TriggerShutdown, a signal, or ctx ends.
// The stop flag is checked once per idle window.
func (d *Daemon) Run(ctx context.Context) error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for sig := range d.sigChan {
			d.log.Infof("received %s, stopping after the current window", sig)
			d.TriggerShutdown()
		}
	}()
	defer d.Stop()

	d.log.Info("agent running, waiting for frames")
	for !d.stopping.Load() {
		window, err := d.transport.ReadIdleWindow(ctx)
		if err != nil {
			if ctx.Err() != nil {
				d.log.Infof("context done: %v", ctx.Err())
				return nil
			}
			d.log.WithError(err).Error("serial read failed")
			return fmt.Errorf("read link: %w", err)
		}
		d.stats.windows++
		d.ProcessWindow(ctx, window)
		d.heartbeat()
	}
	return nil
}

// ProcessWindow splits one idle window into frames and routes every publish.
// Malformed frames are counted and dropped.
func (d *Daemon) ProcessWindow(ctx context.Context, window []byte) {
	var packets [][]byte
	if d.config.Link.Framing == "raw" {
		if len(window) > 0 {
			packets = [][]byte{window}
		}
	} else {
		var errs []error
		packets, errs = d.splitter.Feed(window)
		for _, err := range errs {
			d.stats.dropped++
			metrics.FramesTotal.WithLabelValues("cobs_error").Inc()
			d.log.WithError(err).Debug("frame dropped")
		}
	}

	for _, pkt := range packets {
		msg, err := d.parser.Parse(pkt)
		if err != nil {
			d.stats.dropped++
			result := "malformed"
			if errors.Is(err, protocol.ErrChecksum) {
				result = "checksum_error"
			}
			metrics.FramesTotal.WithLabelValues(result).Inc()
			d.log.WithError(err).Warnf("frame dropped (%d bytes)", len(pkt))
			continue
		}
		d.stats.frames++
		metrics.FramesTotal.WithLabelValues("ok").Inc()
		if msg.Type != protocol.TypePublish {
			d.log.Debugf("ignoring %s frame", msg.Type)
			continue
		}
		d.router.Route(ctx, msg)
	}
}

func (d *Daemon) heartbeat() {
	every := d.config.Daemon.Heartbeat
	if every <= 0 || time.Since(d.lastBeat) < every {
		return
	}
	d.lastBeat = time.Now()
	if d.log.IsDebugEnabled() {
		d.log.Debugf("alive windows=%d frames=%d dropped=%d pending=%d dedup=%d",
			d.stats.windows, d.stats.frames, d.stats.dropped, d.splitter.Pending(), d.router.Deduper().Len())
	}
}

// TriggerShutdown asks Run to return after the current window.
func (d *Daemon) TriggerShutdown() {
	d.stopping.Store(true)
}

// Node returns the bus identity, valid after Start.
func (d *Daemon) Node() *link.Node { return d.node }

// Router returns the topic router, valid after Start.
func (d *Daemon) Router() *dispatch.Router { return d.router }

// Stop performs graceful shutdown of all agent components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		d.log.Info("initiating graceful shutdown")
		d.stopping.Store(true)

		// 1. Flush partially received transfers
		if d.demux != nil {
			d.demux.Close()
		}

		// 2. Drop bus subscriptions while the link is still open
		if d.node != nil && d.router != nil && d.transport != nil {
			for _, topic := range d.router.Topics() {
				if err := d.node.Unsubscribe(topic); err != nil {
					d.log.WithError(err).Warnf("unsubscribe %s", topic)
				}
			}
		}

		// 3. Unregister signal handler to prevent goroutine leak
		if d.sigChan != nil {
			signal.Stop(d.sigChan)
			close(d.sigChan)
		}

		d.cleanup()
		d.log.Info("agent stopped")
	})
}

// cleanup releases the link, metrics server and PID file.
func (d *Daemon) cleanup() {
	if d.transport != nil {
		if err := d.transport.Close(); err != nil {
			d.log.WithError(err).Error("error closing serial link")
		}
		d.transport = nil
	}

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			d.log.WithError(err).Error("error stopping metrics server")
		}
		d.metricsServer = nil
	}

	if d.pidWritten {
		if err := removePIDFile(d.pidFile); err != nil {
			d.log.WithError(err).Error("error removing PID file")
		}
		d.pidWritten = false
	}
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		d.log.Debug("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	return d.metricsServer.Start(context.Background())
}
