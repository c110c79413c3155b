// Package dispatch routes decoded publishes to topic handlers after
// duplicate suppression.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/bmcam/internal/log"
	"firestige.xyz/bmcam/internal/metrics"
	"firestige.xyz/bmcam/internal/protocol"
)

var ErrAlreadyRegistered = errors.New("topic already registered")

// Handler acts on one publish. Returned errors are logged by the Router and
// never reach the read loop.
type Handler interface {
	Handle(ctx context.Context, msg *protocol.Message) error
}

type HandlerFunc func(ctx context.Context, msg *protocol.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *protocol.Message) error {
	return f(ctx, msg)
}

// Outcome is what Route did with a message.
type Outcome int

const (
	Dispatched Outcome = iota
	Suppressed
	Unhandled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Dispatched:
		return "dispatched"
	case Suppressed:
		return "suppressed"
	case Unhandled:
		return "unhandled"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Router maps topics to handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	dedup    *Deduper
	log      log.Logger
}

// NewRouter creates a Router; a nil dedup gets a Deduper with default rules.
func NewRouter(dedup *Deduper, l log.Logger) *Router {
	if dedup == nil {
		dedup = NewDeduper()
	}
	return &Router{
		handlers: make(map[string]Handler),
		dedup:    dedup,
		log:      log.Or(l, "BUS"),
	}
}

func (r *Router) Register(topic string, h Handler) error {
	topic = NormalizeTopic(topic)
	if topic == "" {
		return errors.New("register: empty topic")
	}
	if h == nil {
		return fmt.Errorf("register %s: nil handler", topic)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[topic]; exists {
		return fmt.Errorf("register %s: %w", topic, ErrAlreadyRegistered)
	}
	r.handlers[topic] = h
	return nil
}

// Topics returns the registered topics in sorted order.
func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (r *Router) Deduper() *Deduper { return r.dedup }

// Route suppresses duplicates, then invokes the handler for msg's topic.
// Handler errors and panics are logged with the topic and reported as Failed.
func (r *Router) Route(ctx context.Context, msg *protocol.Message) Outcome {
	m := *msg
	m.Topic = NormalizeTopic(msg.Topic)
	logger := r.log.WithFields(map[string]interface{}{"topic": m.Topic, "node": fmt.Sprintf("%#x", m.NodeID)})

	if v := r.dedup.Check(m.NodeID, m.Topic, m.Payload); v.Duplicate {
		logger.Infof("duplicate suppressed, delta=%s window=%s", v.Delta, v.Window)
		return r.done(m.Topic, Suppressed)
	}

	r.mu.RLock()
	h, ok := r.handlers[m.Topic]
	r.mu.RUnlock()
	if !ok {
		logger.Debug("no handler")
		return r.done("", Unhandled)
	}

	if err := invoke(ctx, h, &m); err != nil {
		logger.WithError(err).Error("handler failed")
		return r.done(m.Topic, Failed)
	}
	return r.done(m.Topic, Dispatched)
}

// done records the outcome. Unhandled topics share one label value.
func (r *Router) done(topic string, o Outcome) Outcome {
	if topic == "" {
		topic = "other"
	}
	metrics.DispatchTotal.WithLabelValues(topic, o.String()).Inc()
	return o
}

func invoke(ctx context.Context, h Handler, msg *protocol.Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h.Handle(ctx, msg)
}
