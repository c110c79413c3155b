package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	LayerTypeFrame = gopacket.RegisterLayerType(1450, gopacket.LayerTypeMetadata{
		Name:    "BMFrame",
		Decoder: gopacket.DecodeFunc(decodeFrame),
	})
	LayerTypePublish = gopacket.RegisterLayerType(1451, gopacket.LayerTypeMetadata{
		Name:    "BMPublish",
		Decoder: gopacket.DecodeFunc(decodePublish),
	})
	LayerTypeSubscribe = gopacket.RegisterLayerType(1452, gopacket.LayerTypeMetadata{
		Name:    "BMSubscribe",
		Decoder: gopacket.DecodeFunc(decodeSubscribe),
	})
)

// Frame is the envelope shared by every message type.
type Frame struct {
	layers.BaseLayer
	Type     MessageType
	Reserved uint8
	Checksum uint16
}

func (f *Frame) LayerType() gopacket.LayerType  { return LayerTypeFrame }
func (f *Frame) CanDecode() gopacket.LayerClass { return LayerTypeFrame }

func (f *Frame) NextLayerType() gopacket.LayerType {
	switch f.Type {
	case TypePublish:
		return LayerTypePublish
	case TypeSubscribe, TypeUnsubscribe:
		return LayerTypeSubscribe
	default:
		return gopacket.LayerTypePayload
	}
}

func (f *Frame) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < FrameHeaderLen {
		df.SetTruncated()
		return fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncated, len(data), FrameHeaderLen)
	}
	f.Type = MessageType(data[0])
	f.Reserved = data[1]
	f.Checksum = binary.LittleEndian.Uint16(data[2:4])
	f.BaseLayer = layers.BaseLayer{Contents: data[:FrameHeaderLen], Payload: data[FrameHeaderLen:]}
	return nil
}

// SerializeTo must run last (outermost). With ComputeChecksums the checksum
// covers everything already in the buffer, computed with its own bytes at zero.
func (f *Frame) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	hdr, err := b.PrependBytes(FrameHeaderLen)
	if err != nil {
		return err
	}
	hdr[0] = byte(f.Type)
	hdr[1] = f.Reserved
	hdr[2], hdr[3] = 0, 0
	if opts.ComputeChecksums {
		sum, err := FrameChecksum(b.Bytes())
		if err != nil {
			return err
		}
		f.Checksum = sum
	}
	binary.LittleEndian.PutUint16(hdr[2:4], f.Checksum)
	return nil
}

func decodeFrame(data []byte, p gopacket.PacketBuilder) error {
	f := &Frame{}
	if err := f.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(f)
	return p.NextDecoder(f.NextLayerType())
}

// Publish is the body of a TypePublish frame. The application payload that
// follows payload_type is the layer payload.
type Publish struct {
	layers.BaseLayer
	NodeID      uint64
	Version     Version
	Topic       string
	PayloadType uint8
}

func (p *Publish) LayerType() gopacket.LayerType     { return LayerTypePublish }
func (p *Publish) CanDecode() gopacket.LayerClass    { return LayerTypePublish }
func (p *Publish) NextLayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

func (p *Publish) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < publishFixedLen {
		df.SetTruncated()
		return fmt.Errorf("%w: publish header needs %d bytes, have %d", ErrTruncated, publishFixedLen, len(data))
	}
	p.NodeID = binary.LittleEndian.Uint64(data[0:8])
	p.Version = Version{Major: data[8], Minor: data[9]}
	topicLen := int(binary.LittleEndian.Uint16(data[10:12]))
	end := publishFixedLen + topicLen
	if len(data) < end {
		df.SetTruncated()
		return fmt.Errorf("%w: topic length %d exceeds remaining %d bytes", ErrTruncated, topicLen, len(data)-publishFixedLen)
	}
	p.Topic = string(data[publishFixedLen:end])

	// A publish without payload_type is tolerated as an empty type-0 payload.
	p.PayloadType = 0
	var payload []byte
	if len(data) > end {
		p.PayloadType = data[end]
		end++
		payload = data[end:]
	}
	p.BaseLayer = layers.BaseLayer{Contents: data[:end], Payload: payload}
	return nil
}

func (p *Publish) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	if len(p.Topic) > MaxTopicLen {
		return fmt.Errorf("%w: %d bytes", ErrTopicTooLong, len(p.Topic))
	}
	hdr, err := b.PrependBytes(publishFixedLen + len(p.Topic) + 1)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(hdr[0:8], p.NodeID)
	hdr[8] = p.Version.Major
	hdr[9] = p.Version.Minor
	binary.LittleEndian.PutUint16(hdr[10:12], uint16(len(p.Topic)))
	copy(hdr[publishFixedLen:], p.Topic)
	hdr[len(hdr)-1] = p.PayloadType
	return nil
}

func decodePublish(data []byte, p gopacket.PacketBuilder) error {
	pub := &Publish{}
	if err := pub.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(pub)
	return p.NextDecoder(pub.NextLayerType())
}

// Subscribe is the body of a TypeSubscribe or TypeUnsubscribe frame.
type Subscribe struct {
	layers.BaseLayer
	Topic string
}

func (s *Subscribe) LayerType() gopacket.LayerType     { return LayerTypeSubscribe }
func (s *Subscribe) CanDecode() gopacket.LayerClass    { return LayerTypeSubscribe }
func (s *Subscribe) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

func (s *Subscribe) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < subscribeFixedLen {
		df.SetTruncated()
		return fmt.Errorf("%w: subscribe header needs %d bytes, have %d", ErrTruncated, subscribeFixedLen, len(data))
	}
	topicLen := int(binary.LittleEndian.Uint16(data[0:2]))
	end := subscribeFixedLen + topicLen
	if len(data) < end {
		df.SetTruncated()
		return fmt.Errorf("%w: topic length %d exceeds remaining %d bytes", ErrTruncated, topicLen, len(data)-subscribeFixedLen)
	}
	s.Topic = string(data[subscribeFixedLen:end])
	s.BaseLayer = layers.BaseLayer{Contents: data[:end], Payload: data[end:]}
	return nil
}

func (s *Subscribe) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	if len(s.Topic) > MaxTopicLen {
		return fmt.Errorf("%w: %d bytes", ErrTopicTooLong, len(s.Topic))
	}
	hdr, err := b.PrependBytes(subscribeFixedLen + len(s.Topic))
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(len(s.Topic)))
	copy(hdr[subscribeFixedLen:], s.Topic)
	return nil
}

func decodeSubscribe(data []byte, p gopacket.PacketBuilder) error {
	s := &Subscribe{}
	if err := s.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(s)
	return nil
}
