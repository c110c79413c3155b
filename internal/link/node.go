package link

import (
	"encoding/binary"
	"errors"
	"fmt"

	"firestige.xyz/bmcam/internal/log"
	"firestige.xyz/bmcam/internal/protocol"
)

// PayloadType values used on outgoing publishes.
const (
	PayloadText   uint8 = 0x00
	PayloadBinary uint8 = 0x01
)

var ErrEmptyTopic = errors.New("empty topic")

// FrameWriter is the write side of a Transport.
type FrameWriter interface {
	WriteFrame(frame []byte) error
}

// SpotterTopics names the bridge's well-known inbound topics.
type SpotterTopics struct {
	Transmit string // relayed to the satellite/cellular uplink
	Print    string // printed on the Spotter console
	FileLog  string // appended to a file on the Spotter SD card
}

var DefaultSpotterTopics = SpotterTopics{
	Transmit: "spotter/transmit-data",
	Print:    "spotter/printf",
	FileLog:  "spotter/fprintf",
}

// Node publishes and subscribes as one bus identity.
type Node struct {
	w       FrameWriter
	id      uint64
	version protocol.Version
	topics  SpotterTopics
	log     log.Logger
}

// NewNode creates a Node; zero-valued topics fall back to DefaultSpotterTopics.
func NewNode(w FrameWriter, id uint64, version protocol.Version, topics SpotterTopics) *Node {
	if topics.Transmit == "" {
		topics.Transmit = DefaultSpotterTopics.Transmit
	}
	if topics.Print == "" {
		topics.Print = DefaultSpotterTopics.Print
	}
	if topics.FileLog == "" {
		topics.FileLog = DefaultSpotterTopics.FileLog
	}
	return &Node{w: w, id: id, version: version, topics: topics, log: log.Named("BUS")}
}

func (n *Node) ID() uint64 { return n.id }

// Publish sends payload on topic with the given payload type.
func (n *Node) Publish(topic string, payloadType uint8, payload []byte) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	frame, err := protocol.MarshalPublish(n.id, n.version, topic, payloadType, payload)
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	if err := n.w.WriteFrame(frame); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	n.log.WithFields(map[string]interface{}{"topic": topic, "len": len(payload)}).Debug("published")
	return nil
}

// PublishText sends a text payload.
func (n *Node) PublishText(topic, text string) error {
	return n.Publish(topic, PayloadText, []byte(text))
}

func (n *Node) Subscribe(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	frame, err := protocol.MarshalSubscribe(topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if err := n.w.WriteFrame(frame); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	n.log.WithField("topic", topic).Info("subscribed")
	return nil
}

func (n *Node) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	frame, err := protocol.MarshalUnsubscribe(topic)
	if err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	if err := n.w.WriteFrame(frame); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	n.log.WithField("topic", topic).Info("unsubscribed")
	return nil
}

// Transmit hands data to the Spotter for relay off-buoy.
func (n *Node) Transmit(data []byte) error {
	return n.Publish(n.topics.Transmit, PayloadBinary, data)
}

// Print writes a line on the Spotter console.
func (n *Node) Print(text string) error {
	return n.publishBody(n.topics.Print, consoleBody("", text))
}

// FileLog appends a line to filename on the Spotter SD card.
func (n *Node) FileLog(filename, text string) error {
	return n.publishBody(n.topics.FileLog, consoleBody(filename, text))
}

// publishBody sends a body whose first byte occupies the payload_type slot.
func (n *Node) publishBody(topic string, body []byte) error {
	return n.Publish(topic, body[0], body[1:])
}

// consoleBody is 8 zero bytes, filename length, data length including the
// trailing newline, filename, data, newline.
func consoleBody(filename, text string) []byte {
	body := make([]byte, 12, 12+len(filename)+len(text)+1)
	binary.LittleEndian.PutUint16(body[8:10], uint16(len(filename)))
	binary.LittleEndian.PutUint16(body[10:12], uint16(len(text)+1))
	body = append(body, filename...)
	body = append(body, text...)
	return append(body, '\n')
}
