package protocol

import (
	"bytes"
	"fmt"

	"github.com/google/gopacket"
)

// Parser decodes unencoded packets into Messages. It preallocates its layers
// and is not safe for concurrent use.
type Parser struct {
	verify bool

	frame     Frame
	publish   Publish
	subscribe Subscribe
	payload   gopacket.Payload

	dlp     *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewParser creates a parser; verify enables checksum verification.
func NewParser(verify bool) *Parser {
	p := &Parser{
		verify:  verify,
		decoded: make([]gopacket.LayerType, 0, 4),
	}
	p.dlp = gopacket.NewDecodingLayerParser(LayerTypeFrame, &p.frame, &p.publish, &p.subscribe, &p.payload)
	p.dlp.IgnoreUnsupported = true
	return p
}

// Parse decodes one packet. The returned Message owns its memory.
func (p *Parser) Parse(packet []byte) (*Message, error) {
	if p.verify {
		if err := VerifyChecksum(packet); err != nil {
			return nil, err
		}
	}

	if err := p.dlp.DecodeLayers(packet, &p.decoded); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	msg := &Message{Type: p.frame.Type}
	body := false
	for _, lt := range p.decoded {
		switch lt {
		case LayerTypePublish:
			body = true
			msg.NodeID = p.publish.NodeID
			msg.Version = p.publish.Version
			msg.Topic = p.publish.Topic
			msg.PayloadType = p.publish.PayloadType
			msg.Payload = bytes.Clone(p.publish.LayerPayload())
		case LayerTypeSubscribe:
			body = true
			msg.Topic = p.subscribe.Topic
		case gopacket.LayerTypePayload:
			if msg.Type != TypePublish {
				msg.Payload = bytes.Clone(p.payload)
			}
		}
	}

	switch msg.Type {
	case TypePublish, TypeSubscribe, TypeUnsubscribe:
		if !body {
			return nil, fmt.Errorf("%w: %s frame without body", ErrTruncated, msg.Type)
		}
	}
	return msg, nil
}

// Splitter cuts idle windows into delimiter-terminated frames and COBS-decodes
// them. Bytes after the last delimiter are held until the next window.
type Splitter struct {
	// MaxPending bounds the carried-over partial frame; 0 means 64 KiB.
	MaxPending int

	pending []byte
}

// Feed returns the decoded packets found in window, in order, and one error
// per frame that could not be decoded.
func (s *Splitter) Feed(window []byte) (packets [][]byte, errs []error) {
	buf := append(s.pending, window...)
	s.pending = nil

	for {
		i := bytes.IndexByte(buf, Delimiter)
		if i < 0 {
			break
		}
		seg := buf[:i]
		buf = buf[i+1:]
		if len(seg) == 0 {
			continue
		}
		packet, err := Decode(seg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		packets = append(packets, packet)
	}

	limit := s.MaxPending
	if limit <= 0 {
		limit = 64 << 10
	}
	if len(buf) > limit {
		errs = append(errs, fmt.Errorf("%w: %d bytes discarded", ErrPendingLimit, len(buf)))
		return packets, errs
	}
	if len(buf) > 0 {
		s.pending = bytes.Clone(buf)
	}
	return packets, errs
}

// Pending reports how many bytes are waiting for a delimiter.
func (s *Splitter) Pending() int { return len(s.pending) }
