package protocol

import (
	"time"

	"github.com/Getup98/Backdash/internal/wire"
)

// Inbox is the incoming-side of the protocol: it gates packets on magic and
// sequence number, decodes Input batches into per-frame arrivals, and
// tracks the sender's most recently reported connect-status view. It is
// driven exclusively from the I/O worker side and never touches the
// Synchronizer directly — it only publishes onto channels the host thread
// later drains.
type Inbox struct {
	haveRemoteMagic bool
	remoteMagic     uint16

	haveSeq bool
	lastSeq uint16

	lastReceivedInputFrame int32
	pendingAck             int32
	peerConnectStatus      []wire.PeerConnectStatus

	lastRecvTime time.Time

	arrivals chan InputArrival
}

// NewInbox creates an Inbox with a bounded arrivals channel.
func NewInbox(arrivalsBuffer int) *Inbox {
	return &Inbox{
		lastReceivedInputFrame: -1,
		pendingAck:             -1,
		arrivals:               make(chan InputArrival, arrivalsBuffer),
	}
}

// Arrivals is drained by the host thread once per BeginFrame.
func (in *Inbox) Arrivals() <-chan InputArrival { return in.arrivals }

// LockRemoteMagic pins the magic value every subsequent packet must carry;
// called once the handshake completes.
func (in *Inbox) LockRemoteMagic(magic uint16) {
	in.haveRemoteMagic = true
	in.remoteMagic = magic
}

// Admit reports whether a packet with header h should be processed: its
// magic must match the locked remote magic (if any) and its sequence number
// must be strictly newer than the last one seen. Accepted packets update the
// sequence gate and last-receive timestamp as a side effect.
func (in *Inbox) Admit(h wire.Header, now time.Time) bool {
	if in.haveRemoteMagic && h.Magic != in.remoteMagic {
		return false
	}
	if in.haveSeq && !seqNewer(h.Sequence, in.lastSeq) {
		return false
	}
	in.haveSeq = true
	in.lastSeq = h.Sequence
	in.lastRecvTime = now
	return true
}

// LastRecvTime returns the last time Admit accepted a packet.
func (in *Inbox) LastRecvTime() time.Time { return in.lastRecvTime }

// seqNewer reports whether seq is strictly newer than last, tolerating
// 16-bit wraparound the way a signed half-range comparison does.
func seqNewer(seq, last uint16) bool {
	return int16(seq-last) > 0
}

// LastReceivedInputFrame returns the highest frame number handled so far
// (-1 if none).
func (in *Inbox) LastReceivedInputFrame() int32 { return in.lastReceivedInputFrame }

// PeerConnectStatus returns the sender's most recently reported view.
func (in *Inbox) PeerConnectStatus() []wire.PeerConnectStatus { return in.peerConnectStatus }

// PendingAck returns the frame that should be acked and whether one is due.
func (in *Inbox) PendingAck() (int32, bool) {
	return in.pendingAck, in.pendingAck >= 0
}

// HandleInput decodes msg's batch, publishing one InputArrival per new
// frame (frames at or before LastReceivedInputFrame are duplicates and are
// dropped), and records the sender's connect-status snapshot.
func (in *Inbox) HandleInput(msg wire.Input) error {
	frames, err := wire.DecodeInputDelta(make([]byte, msg.InputSize), msg.Compressed, int(msg.Count))
	if err != nil {
		return err
	}

	for i, payload := range frames {
		frame := msg.StartFrame + int32(i)
		if frame <= in.lastReceivedInputFrame {
			continue
		}
		select {
		case in.arrivals <- InputArrival{Frame: frame, Payload: payload}:
			in.lastReceivedInputFrame = frame
		default:
			// Arrivals channel full: the host thread is falling behind
			// draining it. Leave lastReceivedInputFrame where it is so
			// this frame still looks new on the sender's next resend,
			// rather than being silently dropped as a duplicate.
		}
	}

	in.peerConnectStatus = msg.Statuses
	if in.lastReceivedInputFrame > in.pendingAck {
		in.pendingAck = in.lastReceivedInputFrame
	}
	return nil
}
