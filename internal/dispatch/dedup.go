package dispatch

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"firestige.xyz/bmcam/internal/log"
	"firestige.xyz/bmcam/internal/metrics"
)

const (
	DefaultWindow  = 100 * time.Millisecond
	DefaultSoftMax = 4096
)

// Mode selects what makes two events identical.
type Mode string

const (
	// ByPayload keys on node, topic and a payload digest.
	ByPayload Mode = "by_payload"
	// ByTopic keys on node and topic only, so any repeat is suppressed.
	ByTopic Mode = "by_topic"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ByPayload:
		return ByPayload, nil
	case ByTopic:
		return ByTopic, nil
	}
	return "", fmt.Errorf("unknown dedup mode %q", s)
}

// WindowFunc derives the suppression window for one event from its payload.
type WindowFunc func(payload []byte, base time.Duration) time.Duration

// Rule is the suppression policy for one topic. A zero Window with no Extend
// disables suppression.
type Rule struct {
	Mode   Mode
	Window time.Duration
	Extend WindowFunc
}

func (r Rule) window(payload []byte) time.Duration {
	if r.Extend != nil {
		return r.Extend(payload, r.Window)
	}
	return r.Window
}

type dedupKey struct {
	mode   Mode
	node   uint64
	topic  string
	digest [8]byte
}

type dedupEntry struct {
	seen   time.Time
	window time.Duration
}

// Verdict describes one Check.
type Verdict struct {
	Duplicate bool
	// Delta is the time since the admitted event for a duplicate.
	Delta time.Duration
	// Window is the window in force for the key.
	Window time.Duration
}

// Deduper suppresses repeats of the same event within a per-topic window.
// The watermark only moves when an event is admitted, so a stream of
// retransmissions cannot keep extending its own suppression.
type Deduper struct {
	mu      sync.Mutex
	def     Rule
	rules   map[string]Rule
	entries map[dedupKey]dedupEntry
	softMax int
	now     func() time.Time
	log     log.Logger
}

type DedupOption func(*Deduper)

// WithDefaultRule sets the rule for topics without their own.
func WithDefaultRule(r Rule) DedupOption {
	return func(d *Deduper) { d.def = r }
}

// WithSoftMax sets the size past which expired entries are pruned.
func WithSoftMax(n int) DedupOption {
	return func(d *Deduper) {
		if n > 0 {
			d.softMax = n
		}
	}
}

// WithNow replaces the clock, mainly for tests.
func WithNow(now func() time.Time) DedupOption {
	return func(d *Deduper) { d.now = now }
}

func WithDedupLogger(l log.Logger) DedupOption {
	return func(d *Deduper) { d.log = l }
}

func NewDeduper(opts ...DedupOption) *Deduper {
	d := &Deduper{
		def:     Rule{Mode: ByPayload, Window: DefaultWindow},
		rules:   make(map[string]Rule),
		entries: make(map[dedupKey]dedupEntry),
		softMax: DefaultSoftMax,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = log.Or(d.log, "DEDUP")
	return d
}

// SetRule installs the rule for topic, replacing any earlier one.
func (d *Deduper) SetRule(topic string, r Rule) {
	if r.Mode == "" {
		r.Mode = ByPayload
	}
	d.mu.Lock()
	d.rules[topic] = r
	d.mu.Unlock()
}

// HasRule reports whether topic has its own rule.
func (d *Deduper) HasRule(topic string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.rules[topic]
	return ok
}

// Rule returns the rule in force for topic.
func (d *Deduper) Rule(topic string) Rule {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ruleLocked(topic)
}

func (d *Deduper) ruleLocked(topic string) Rule {
	if r, ok := d.rules[topic]; ok {
		return r
	}
	return d.def
}

// Check reports whether the event repeats one admitted within its window,
// and records it when it does not.
func (d *Deduper) Check(nodeID uint64, topic string, payload []byte) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	rule := d.ruleLocked(topic)
	window := rule.window(payload)
	if window <= 0 {
		return Verdict{}
	}

	k := dedupKey{mode: rule.Mode, node: nodeID, topic: topic}
	if rule.Mode != ByTopic {
		k.digest = digest(payload)
	}

	now := d.now()
	if e, ok := d.entries[k]; ok {
		delta := now.Sub(e.seen)
		if delta >= 0 && delta < e.window {
			return Verdict{Duplicate: true, Delta: delta, Window: e.window}
		}
	}

	d.entries[k] = dedupEntry{seen: now, window: window}
	if len(d.entries) > d.softMax {
		d.pruneLocked(now)
	}
	metrics.DedupEntries.Set(float64(len(d.entries)))
	return Verdict{Window: window}
}

// Len returns the number of cached entries.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *Deduper) pruneLocked(now time.Time) {
	before := len(d.entries)
	for k, e := range d.entries {
		if now.Sub(e.seen) >= e.window {
			delete(d.entries, k)
		}
	}
	d.log.Debugf("pruned %d expired entries, %d left", before-len(d.entries), len(d.entries))
}

func digest(payload []byte) (out [8]byte) {
	h, _ := blake2b.New(len(out), nil)
	h.Write(payload)
	copy(out[:], h.Sum(nil))
	return out
}
