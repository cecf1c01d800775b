package protocol

import (
	"time"

	"github.com/Getup98/Backdash/internal/wire"
)

// pendingInput is one not-yet-acked outgoing frame.
type pendingInput struct {
	frame   int32
	payload []byte
}

// InputBuffer accumulates a window of pending outgoing inputs starting at
// the last acked frame + 1, capped by maxPending, and retransmits the whole
// window every sendLatency until an InputAck advances the base.
type InputBuffer struct {
	inputSize  int
	maxPending int
	sendLatency time.Duration

	pending []pendingInput
	acked   int32 // last acked frame, -1 if none

	lastSendTime time.Time
}

// NewInputBuffer creates an outgoing input window for inputSize-byte
// payloads.
func NewInputBuffer(inputSize, maxPending int, sendLatency time.Duration) *InputBuffer {
	return &InputBuffer{
		inputSize:   inputSize,
		maxPending:  maxPending,
		sendLatency: sendLatency,
		acked:       -1,
	}
}

// Push appends a new local frame to the pending window. It returns false
// (input dropped) if the window is already full.
func (b *InputBuffer) Push(frame int32, payload []byte) bool {
	if len(b.pending) >= b.maxPending {
		return false
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	b.pending = append(b.pending, pendingInput{frame: frame, payload: cp})
	return true
}

// Ack drops every pending frame at or before ackFrame.
func (b *InputBuffer) Ack(ackFrame int32) {
	if ackFrame > b.acked {
		b.acked = ackFrame
	}
	i := 0
	for i < len(b.pending) && b.pending[i].frame <= ackFrame {
		i++
	}
	b.pending = b.pending[i:]
}

// Due reports whether the retransmit interval has elapsed.
func (b *InputBuffer) Due(now time.Time) bool {
	return b.lastSendTime.IsZero() || now.Sub(b.lastSendTime) >= b.sendLatency
}

// Empty reports whether there is nothing pending to (re)send.
func (b *InputBuffer) Empty() bool { return len(b.pending) == 0 }

// Build assembles a wire.Input covering the whole pending window and marks
// the window as just sent. Each batch is self-contained: the first frame is
// delta-encoded against a zero reference and every later frame against the
// previous frame in the same batch, so a receiver never needs cross-packet
// state to decode a batch it actually receives, whole windows being resent
// verbatim until acked. statuses and disconnectMask are supplied by the
// caller (PeerConnection owns the ConnectionsState view, InputBuffer does
// not).
func (b *InputBuffer) Build(now time.Time, statuses []wire.PeerConnectStatus, disconnectMask uint16) (wire.Input, bool) {
	if len(b.pending) == 0 {
		return wire.Input{}, false
	}

	payloads := make([][]byte, len(b.pending))
	for i, p := range b.pending {
		payloads[i] = p.payload
	}

	compressed := wire.EncodeInputDelta(make([]byte, b.inputSize), payloads)
	b.lastSendTime = now

	return wire.Input{
		StartFrame:     b.pending[0].frame,
		Count:          uint16(len(b.pending)),
		DisconnectMask: disconnectMask,
		InputSize:      uint8(b.inputSize),
		Statuses:       statuses,
		Compressed:     compressed,
	}, true
}
