// Package wire implements the on-the-wire packet format: a fixed 5-byte
// header (magic, sequence number, message type) followed by a per-type
// body, all big-endian, encoded with encoding/binary.
package wire

import (
	"encoding/binary"
	"fmt"
)

// MessageType identifies a packet's body layout.
type MessageType uint8

const (
	MessageSyncRequest MessageType = 1
	MessageSyncReply   MessageType = 2
	MessageInput       MessageType = 3
	MessageInputAck    MessageType = 4
	MessageQualityReport MessageType = 5
	MessageQualityReply  MessageType = 6
	MessageKeepAlive     MessageType = 7
)

func (t MessageType) String() string {
	switch t {
	case MessageSyncRequest:
		return "SyncRequest"
	case MessageSyncReply:
		return "SyncReply"
	case MessageInput:
		return "Input"
	case MessageInputAck:
		return "InputAck"
	case MessageQualityReport:
		return "QualityReport"
	case MessageQualityReply:
		return "QualityReply"
	case MessageKeepAlive:
		return "KeepAlive"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// HeaderSize is the fixed wire size of a Header.
const HeaderSize = 5

// Header is the fixed header every packet carries.
type Header struct {
	Magic    uint16
	Sequence uint16
	Type     MessageType
}

// Marshal appends the header's wire bytes to dst.
func (h Header) Marshal(dst []byte) []byte {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint16(buf[0:2], h.Magic)
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	buf[4] = byte(h.Type)
	return append(dst, buf[:]...)
}

// UnmarshalHeader reads a Header from the front of src, returning the header
// and the remaining bytes.
func UnmarshalHeader(src []byte) (Header, []byte, error) {
	if len(src) < HeaderSize {
		return Header{}, nil, fmt.Errorf("wire: short buffer for header: %d bytes", len(src))
	}
	h := Header{
		Magic:    binary.BigEndian.Uint16(src[0:2]),
		Sequence: binary.BigEndian.Uint16(src[2:4]),
		Type:     MessageType(src[4]),
	}
	return h, src[HeaderSize:], nil
}
