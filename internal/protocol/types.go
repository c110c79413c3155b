// Package protocol implements the Bristlemouth serial frame format: COBS byte
// stuffing, the 16-bit frame checksum, and gopacket layers for the envelope,
// publish and subscribe bodies.
package protocol

import (
	"errors"
	"fmt"
)

// Delimiter terminates every byte-stuffed frame on the wire.
const Delimiter byte = 0x00

const (
	// FrameHeaderLen is [type][reserved][crc_lo][crc_hi].
	FrameHeaderLen = 4
	// publishFixedLen is node_id(8) + version(2) + topic_len(2).
	publishFixedLen = 12
	// subscribeFixedLen is topic_len(2).
	subscribeFixedLen = 2
	// MaxTopicLen is bounded by the u16 length prefix.
	MaxTopicLen = 0xFFFF
)

// DefaultNodeID is used by peers that have not been assigned an identity.
const DefaultNodeID uint64 = 0xC0FFEEEEF0CACC1A

var (
	ErrTruncated    = errors.New("truncated frame")
	ErrChecksum     = errors.New("checksum mismatch")
	ErrCOBS         = errors.New("invalid cobs encoding")
	ErrTopicTooLong = errors.New("topic too long")
	ErrPendingLimit = errors.New("partial frame exceeds buffer limit")
)

// MessageType is the first byte of every frame.
type MessageType uint8

const (
	TypeDebug             MessageType = 0x00
	TypeAck               MessageType = 0x01
	TypePublish           MessageType = 0x02
	TypeSubscribe         MessageType = 0x03
	TypeUnsubscribe       MessageType = 0x04
	TypeLog               MessageType = 0x05
	TypeNetMsg            MessageType = 0x06
	TypeRTCSet            MessageType = 0x07
	TypeSelfTest          MessageType = 0x08
	TypeNetworkInfo       MessageType = 0x09
	TypeRebootInfo        MessageType = 0x0A
	TypeDFUStart          MessageType = 0x30
	TypeDFUChunk          MessageType = 0x31
	TypeDFUResult         MessageType = 0x32
	TypeCfgGet            MessageType = 0x40
	TypeCfgSet            MessageType = 0x41
	TypeCfgValue          MessageType = 0x42
	TypeCfgCommit         MessageType = 0x43
	TypeCfgStatusRequest  MessageType = 0x44
	TypeCfgStatusResponse MessageType = 0x45
	TypeCfgDelRequest     MessageType = 0x46
	TypeCfgDelResponse    MessageType = 0x47
	TypeCfgKeyListRequest MessageType = 0x48
	TypeCfgKeyListResp    MessageType = 0x49
	TypeDeviceInfoRequest MessageType = 0x50
	TypeDeviceInfoReply   MessageType = 0x51
	TypeResourceRequest   MessageType = 0x52
	TypeResourceReply     MessageType = 0x53
	TypeNodeIDRequest     MessageType = 0x60
	TypeNodeIDReply       MessageType = 0x61
	TypeBaudRateRequest   MessageType = 0x70
	TypeBaudRateReply     MessageType = 0x71
)

var typeNames = map[MessageType]string{
	TypeDebug:             "debug",
	TypeAck:               "ack",
	TypePublish:           "publish",
	TypeSubscribe:         "subscribe",
	TypeUnsubscribe:       "unsubscribe",
	TypeLog:               "log",
	TypeNetMsg:            "net_msg",
	TypeRTCSet:            "rtc_set",
	TypeSelfTest:          "self_test",
	TypeNetworkInfo:       "network_info",
	TypeRebootInfo:        "reboot_info",
	TypeDFUStart:          "dfu_start",
	TypeDFUChunk:          "dfu_chunk",
	TypeDFUResult:         "dfu_result",
	TypeCfgGet:            "cfg_get",
	TypeCfgSet:            "cfg_set",
	TypeCfgValue:          "cfg_value",
	TypeCfgCommit:         "cfg_commit",
	TypeCfgStatusRequest:  "cfg_status_request",
	TypeCfgStatusResponse: "cfg_status_response",
	TypeCfgDelRequest:     "cfg_del_request",
	TypeCfgDelResponse:    "cfg_del_response",
	TypeCfgKeyListRequest: "cfg_key_list_request",
	TypeCfgKeyListResp:    "cfg_key_list_response",
	TypeDeviceInfoRequest: "device_info_request",
	TypeDeviceInfoReply:   "device_info_reply",
	TypeResourceRequest:   "resource_request",
	TypeResourceReply:     "resource_reply",
	TypeNodeIDRequest:     "node_id_request",
	TypeNodeIDReply:       "node_id_reply",
	TypeBaudRateRequest:   "baud_rate_request",
	TypeBaudRateReply:     "baud_rate_reply",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(0x%02x)", uint8(t))
}

// Version is the protocol version carried in publish headers.
type Version struct {
	Major uint8
	Minor uint8
}

// DefaultVersion is what this agent stamps on outgoing publishes.
var DefaultVersion = Version{Major: 1, Minor: 1}

// Message is a decoded inbound frame. Only Type is set for frames that are
// neither publish nor (un)subscribe.
type Message struct {
	Type        MessageType
	NodeID      uint64
	Version     Version
	Topic       string
	PayloadType uint8
	Payload     []byte
}
