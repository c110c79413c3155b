// Package clock steps the host clock toward a trusted reference received
// over the link, under hysteresis, rate limiting and anti-regression rules.
package clock

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"firestige.xyz/bmcam/internal/config"
	"firestige.xyz/bmcam/internal/log"
	"firestige.xyz/bmcam/internal/metrics"
)

var ErrImplausible = errors.New("implausible clock reference")

// Plausible reference range in microseconds since the epoch, 2000-01-01
// through 2100-01-01.
const (
	MinReferenceMicros = 946684800_000000
	MaxReferenceMicros = 4102444800_000000
)

// DecodeReference reads an 8-byte little-endian microsecond timestamp.
func DecodeReference(payload []byte) (time.Time, error) {
	if len(payload) != 8 {
		return time.Time{}, fmt.Errorf("%w: %d bytes, want 8", ErrImplausible, len(payload))
	}
	us := binary.LittleEndian.Uint64(payload)
	if us < MinReferenceMicros || us > MaxReferenceMicros {
		return time.Time{}, fmt.Errorf("%w: %d us out of range", ErrImplausible, us)
	}
	return time.UnixMicro(int64(us)).UTC(), nil
}

// EncodeReference is the inverse of DecodeReference.
func EncodeReference(t time.Time) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(t.UnixMicro()))
	return b
}

// Reason explains a decision.
type Reason string

const (
	Apply          Reason = "apply"
	BelowThreshold Reason = "below_threshold"
	RateLimited    Reason = "rate_limited"
	Backward       Reason = "backward"
	Disabled       Reason = "disabled"
)

// Setter steps the system clock.
type Setter interface {
	Set(ctx context.Context, t time.Time) error
}

// Decision is the outcome of one Evaluate.
type Decision struct {
	Reference time.Time
	Drift     time.Duration // reference minus local; positive means local is behind
	Applied   bool
	Reason    Reason
}

// Controller owns the last-apply watermark. Only a successful step moves it.
type Controller struct {
	enabled     bool
	threshold   time.Duration
	minInterval time.Duration
	maxBackward time.Duration
	setter      Setter

	mu        sync.Mutex
	lastApply time.Time
	applied   bool

	now func() time.Time
	log log.Logger
}

type Option func(*Controller)

// WithNow replaces the clock, mainly for tests.
func WithNow(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func NewController(cfg config.ClockConfig, setter Setter, opts ...Option) *Controller {
	c := &Controller{
		enabled:     cfg.Enabled,
		threshold:   cfg.ApplyIfDrift,
		minInterval: cfg.MinApplyInterval,
		maxBackward: cfg.MaxBackward,
		setter:      setter,
		now:         time.Now,
		log:         log.Named("CLOCK"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ShouldApply decides whether a drift warrants a step right now.
func (c *Controller) ShouldApply(drift time.Duration) (bool, Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldApplyLocked(drift)
}

func (c *Controller) shouldApplyLocked(drift time.Duration) (bool, Reason) {
	if !c.enabled {
		return false, Disabled
	}
	if drift.Abs() < c.threshold {
		return false, BelowThreshold
	}
	if c.applied && c.now().Sub(c.lastApply) < c.minInterval {
		return false, RateLimited
	}
	if drift < 0 && -drift > c.maxBackward {
		return false, Backward
	}
	return true, Apply
}

// Evaluate decodes a reference payload and steps the clock when the rules
// allow it. Refusals are normal outcomes, not errors.
func (c *Controller) Evaluate(ctx context.Context, payload []byte) (Decision, error) {
	ref, err := DecodeReference(payload)
	if err != nil {
		metrics.ClockEvaluationsTotal.WithLabelValues("implausible").Inc()
		c.log.Warnf("reference rejected: %v (payload %x)", err, payload)
		return Decision{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	d := Decision{Reference: ref, Drift: ref.Sub(c.now())}
	metrics.ClockDriftSeconds.Set(d.Drift.Seconds())

	var ok bool
	ok, d.Reason = c.shouldApplyLocked(d.Drift)
	logger := c.log.WithFields(map[string]interface{}{"drift": fmt.Sprintf("%+.3fs", d.Drift.Seconds()), "reason": string(d.Reason)})
	if !ok {
		logger.Infof("reference %s, not applied", ref.Format(time.RFC3339Nano))
		metrics.ClockEvaluationsTotal.WithLabelValues(string(d.Reason)).Inc()
		return d, nil
	}

	if err := c.setter.Set(ctx, ref); err != nil {
		logger.WithError(err).Error("clock step failed")
		metrics.ClockEvaluationsTotal.WithLabelValues("failed").Inc()
		return d, fmt.Errorf("set clock: %w", err)
	}
	c.lastApply = c.now()
	c.applied = true
	d.Applied = true
	logger.Infof("clock stepped to %s", ref.Format(time.RFC3339Nano))
	metrics.ClockEvaluationsTotal.WithLabelValues(string(Apply)).Inc()
	return d, nil
}
