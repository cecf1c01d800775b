package wire

import (
	"encoding/binary"
	"fmt"
)

// SyncRequest is the handshake request body.
type SyncRequest struct {
	RandomRequest  uint32
	RemoteMagic    uint16
	RemoteEndpoint uint8
}

func (m SyncRequest) Marshal(dst []byte) []byte {
	var buf [7]byte
	binary.BigEndian.PutUint32(buf[0:4], m.RandomRequest)
	binary.BigEndian.PutUint16(buf[4:6], m.RemoteMagic)
	buf[6] = m.RemoteEndpoint
	return append(dst, buf[:]...)
}

func UnmarshalSyncRequest(src []byte) (SyncRequest, error) {
	if len(src) < 7 {
		return SyncRequest{}, fmt.Errorf("wire: short buffer for SyncRequest")
	}
	return SyncRequest{
		RandomRequest:  binary.BigEndian.Uint32(src[0:4]),
		RemoteMagic:    binary.BigEndian.Uint16(src[4:6]),
		RemoteEndpoint: src[6],
	}, nil
}

// SyncReply is the handshake reply body.
type SyncReply struct {
	RandomReply uint32
}

func (m SyncReply) Marshal(dst []byte) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[0:4], m.RandomReply)
	return append(dst, buf[:]...)
}

func UnmarshalSyncReply(src []byte) (SyncReply, error) {
	if len(src) < 4 {
		return SyncReply{}, fmt.Errorf("wire: short buffer for SyncReply")
	}
	return SyncReply{RandomReply: binary.BigEndian.Uint32(src[0:4])}, nil
}

// InputAck acknowledges receipt of inputs up to AckFrame.
type InputAck struct {
	AckFrame int32
}

func (m InputAck) Marshal(dst []byte) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(m.AckFrame))
	return append(dst, buf[:]...)
}

func UnmarshalInputAck(src []byte) (InputAck, error) {
	if len(src) < 4 {
		return InputAck{}, fmt.Errorf("wire: short buffer for InputAck")
	}
	return InputAck{AckFrame: int32(binary.BigEndian.Uint32(src[0:4]))}, nil
}

// QualityReport carries a timing ping and the sender's observed frame
// advantage.
type QualityReport struct {
	PingSendTimeMs uint64
	FrameAdvantage int8
}

func (m QualityReport) Marshal(dst []byte) []byte {
	var buf [9]byte
	binary.BigEndian.PutUint64(buf[0:8], m.PingSendTimeMs)
	buf[8] = byte(m.FrameAdvantage)
	return append(dst, buf[:]...)
}

func UnmarshalQualityReport(src []byte) (QualityReport, error) {
	if len(src) < 9 {
		return QualityReport{}, fmt.Errorf("wire: short buffer for QualityReport")
	}
	return QualityReport{
		PingSendTimeMs: binary.BigEndian.Uint64(src[0:8]),
		FrameAdvantage: int8(src[8]),
	}, nil
}

// QualityReply echoes back the ping's send time as a pong.
type QualityReply struct {
	PongSendTimeMs uint64
}

func (m QualityReply) Marshal(dst []byte) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[0:8], m.PongSendTimeMs)
	return append(dst, buf[:]...)
}

func UnmarshalQualityReply(src []byte) (QualityReply, error) {
	if len(src) < 8 {
		return QualityReply{}, fmt.Errorf("wire: short buffer for QualityReply")
	}
	return QualityReply{PongSendTimeMs: binary.BigEndian.Uint64(src[0:8])}, nil
}

// PeerConnectStatus is one entry of the per-peer connect-status array
// piggybacked on every Input packet.
type PeerConnectStatus struct {
	LastFrame    int32
	Disconnected bool
}

func (s PeerConnectStatus) marshal(dst []byte) []byte {
	var buf [5]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(s.LastFrame))
	if s.Disconnected {
		buf[4] = 1
	}
	return append(dst, buf[:]...)
}

func unmarshalPeerConnectStatus(src []byte) (PeerConnectStatus, error) {
	if len(src) < 5 {
		return PeerConnectStatus{}, fmt.Errorf("wire: short buffer for PeerConnectStatus")
	}
	return PeerConnectStatus{
		LastFrame:    int32(binary.BigEndian.Uint32(src[0:4])),
		Disconnected: src[4] != 0,
	}, nil
}

// Input is a batch of inputs for frames [StartFrame, StartFrame+Count), plus
// the sender's connect-status view and the run-length XOR-delta-encoded
// payload for the batch (see delta.go).
type Input struct {
	StartFrame     int32
	Count          uint16
	DisconnectMask uint16
	InputSize      uint8
	Statuses       []PeerConnectStatus
	Compressed     []byte
}

func (m Input) Marshal(dst []byte) []byte {
	var head [11]byte
	binary.BigEndian.PutUint32(head[0:4], uint32(m.StartFrame))
	binary.BigEndian.PutUint16(head[4:6], m.Count)
	binary.BigEndian.PutUint16(head[6:8], m.DisconnectMask)
	head[8] = m.InputSize
	binary.BigEndian.PutUint16(head[9:11], uint16(len(m.Statuses)))
	dst = append(dst, head[:]...)
	for _, s := range m.Statuses {
		dst = s.marshal(dst)
	}
	var clen [2]byte
	binary.BigEndian.PutUint16(clen[:], uint16(len(m.Compressed)))
	dst = append(dst, clen[:]...)
	dst = append(dst, m.Compressed...)
	return dst
}

func UnmarshalInput(src []byte) (Input, error) {
	if len(src) < 11 {
		return Input{}, fmt.Errorf("wire: short buffer for Input header")
	}
	m := Input{
		StartFrame:     int32(binary.BigEndian.Uint32(src[0:4])),
		Count:          binary.BigEndian.Uint16(src[4:6]),
		DisconnectMask: binary.BigEndian.Uint16(src[6:8]),
		InputSize:      src[8],
	}
	numStatuses := int(binary.BigEndian.Uint16(src[9:11]))
	rest := src[11:]

	m.Statuses = make([]PeerConnectStatus, numStatuses)
	for i := 0; i < numStatuses; i++ {
		status, err := unmarshalPeerConnectStatus(rest)
		if err != nil {
			return Input{}, err
		}
		m.Statuses[i] = status
		rest = rest[5:]
	}

	if len(rest) < 2 {
		return Input{}, fmt.Errorf("wire: short buffer for Input compressed length")
	}
	clen := int(binary.BigEndian.Uint16(rest[0:2]))
	rest = rest[2:]
	if len(rest) < clen {
		return Input{}, fmt.Errorf("wire: short buffer for Input compressed payload")
	}
	m.Compressed = rest[:clen]
	return m, nil
}
