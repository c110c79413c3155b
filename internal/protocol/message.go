package protocol

import (
	"fmt"

	"github.com/google/gopacket"
)

var serializeOpts = gopacket.SerializeOptions{ComputeChecksums: true}

// BuildPublish returns the unencoded publish packet with its checksum filled in.
func BuildPublish(nodeID uint64, version Version, topic string, payloadType uint8, payload []byte) ([]byte, error) {
	return build(
		&Frame{Type: TypePublish},
		&Publish{NodeID: nodeID, Version: version, Topic: topic, PayloadType: payloadType},
		gopacket.Payload(payload),
	)
}

// BuildSubscribe returns the unencoded subscribe packet.
func BuildSubscribe(topic string) ([]byte, error) {
	return build(&Frame{Type: TypeSubscribe}, &Subscribe{Topic: topic})
}

// BuildUnsubscribe returns the unencoded unsubscribe packet.
func BuildUnsubscribe(topic string) ([]byte, error) {
	return build(&Frame{Type: TypeUnsubscribe}, &Subscribe{Topic: topic})
}

// MarshalPublish returns a wire-ready publish frame.
func MarshalPublish(nodeID uint64, version Version, topic string, payloadType uint8, payload []byte) ([]byte, error) {
	packet, err := BuildPublish(nodeID, version, topic, payloadType, payload)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(packet), nil
}

// MarshalSubscribe returns a wire-ready subscribe frame.
func MarshalSubscribe(topic string) ([]byte, error) {
	packet, err := BuildSubscribe(topic)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(packet), nil
}

// MarshalUnsubscribe returns a wire-ready unsubscribe frame.
func MarshalUnsubscribe(topic string) ([]byte, error) {
	packet, err := BuildUnsubscribe(topic)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(packet), nil
}

// EncodeFrame byte-stuffs a finished packet and appends the delimiter.
func EncodeFrame(packet []byte) []byte {
	return append(Encode(packet), Delimiter)
}

func build(ls ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ls...); err != nil {
		return nil, fmt.Errorf("serialize frame: %w", err)
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}
