package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firestige.xyz/bmcam/internal/clock"
	"firestige.xyz/bmcam/internal/log"
	"firestige.xyz/bmcam/internal/protocol"
	"firestige.xyz/bmcam/internal/transfer"
)

// Clock feeds UTC references into a clock.Controller. Implausible
// references are logged by the controller and otherwise ignored.
type Clock struct {
	ctrl *clock.Controller
}

func NewClock(ctrl *clock.Controller) *Clock {
	return &Clock{ctrl: ctrl}
}

func (h *Clock) Handle(ctx context.Context, msg *protocol.Message) error {
	_, err := h.ctrl.Evaluate(ctx, msg.Payload)
	if errors.Is(err, clock.ErrImplausible) {
		return nil
	}
	return err
}

// Hello answers a liveness probe on the status topic and the peer console.
type Hello struct {
	nodeID  uint64
	status  *Status
	printer Printer
	log     log.Logger
}

func NewHello(nodeID uint64, status *Status, printer Printer) *Hello {
	return &Hello{nodeID: nodeID, status: status, printer: printer, log: log.Named("AGENT")}
}

func (h *Hello) Handle(_ context.Context, msg *protocol.Message) error {
	text := TriggerText(msg.Payload)
	h.log.Infof("hello from %s: %q", nodeLabel(msg.NodeID), text)
	h.status.Report(Ack, "hello", "node", nodeLabel(h.nodeID))
	if h.printer == nil {
		return nil
	}
	if err := h.printer.Print(fmt.Sprintf("hello from %s\n", nodeLabel(h.nodeID))); err != nil {
		h.log.WithError(err).Warn("hello echo failed")
	}
	return nil
}

// Receive feeds text published by other nodes into a live reassembler.
type Receive struct {
	demux *transfer.Demux
	now   func() time.Time
}

func NewReceive(demux *transfer.Demux) *Receive {
	return &Receive{demux: demux, now: time.Now}
}

func (h *Receive) Handle(_ context.Context, msg *protocol.Message) error {
	h.demux.Feed(transfer.Record{
		Timestamp: h.now().UTC().Format(time.RFC3339),
		NodeID:    nodeLabel(msg.NodeID),
		Text:      string(msg.Payload),
	})
	return nil
}
