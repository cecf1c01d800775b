// Package peer implements PeerConnection, the per-remote state machine
// composing the protocol subcomponents (Outbox, Inbox, Handshake,
// InputBuffer). It is entirely byte-oriented: it never sees the host's
// input payload type T, only the wire-encoded bytes the caller hands it, so
// it can be driven identically for every instantiation of the generic
// Session.
package peer

import (
	"math/rand"
	"time"

	"github.com/go-logr/logr"

	"github.com/Getup98/Backdash/internal/protocol"
	"github.com/Getup98/Backdash/internal/transport"
	"github.com/Getup98/Backdash/internal/wire"
)

// Status is a PeerConnection's top-level state.
type Status int

const (
	StatusSyncing Status = iota
	StatusRunning
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusSyncing:
		return "Syncing"
	case StatusRunning:
		return "Running"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Config bundles the tunables a PeerConnection needs; Session slices these
// out of the shared Options value per peer.
type Config struct {
	LocalMagic       uint16
	InputSize        int
	MaxPending       int
	SendLatency      time.Duration
	SyncPackets      int
	HandshakeTimeout time.Duration
	FPS              int

	KeepAliveInterval     time.Duration
	QualityReportInterval time.Duration
	DisconnectNotifyStart time.Duration
	DisconnectTimeout     time.Duration
}

// Stats is the point-in-time network status exposed via GetNetworkStats.
type Stats struct {
	RoundTripTime          time.Duration
	LocalFrameAdvantage    int
	RemoteFrameAdvantage   int
	SendQueueLength        int
	LastReceivedInputFrame int32
}

// PeerConnection drives one remote endpoint's handshake, input exchange,
// quality/keep-alive traffic and disconnect detection. The host thread
// calls Update once per tick; the I/O worker calls HandlePacket as
// datagrams arrive. These are the only two call paths and they never share
// a lock: Update only ever touches fields written by Update, HandlePacket
// only ever touches fields written by HandlePacket, except through the
// channel-based Events()/Arrivals() handoff.
type PeerConnection struct {
	log  logr.Logger
	cfg  Config
	tr   transport.Transport
	addr string

	outbox      *protocol.Outbox
	inbox       *protocol.Inbox
	handshake   *protocol.Handshake
	inputBuffer *protocol.InputBuffer

	status      Status
	interrupted bool

	localFrame           int32
	roundTripTime        time.Duration
	localFrameAdvantage  int
	remoteFrameAdvantage int

	synchronizedEmitted bool

	events chan protocol.Event
}

// New creates a PeerConnection that will exchange packets with addr over
// tr, encoding local_magic into every outgoing header.
func New(log logr.Logger, cfg Config, tr transport.Transport, addr string) *PeerConnection {
	return &PeerConnection{
		log:         log,
		cfg:         cfg,
		tr:          tr,
		addr:        addr,
		outbox:      protocol.NewOutbox(cfg.LocalMagic),
		inbox:       protocol.NewInbox(256),
		handshake:   protocol.NewHandshake(cfg.SyncPackets, 200*time.Millisecond, cfg.HandshakeTimeout),
		inputBuffer: protocol.NewInputBuffer(cfg.InputSize, cfg.MaxPending, cfg.SendLatency),
		status:      StatusSyncing,
		events:      make(chan protocol.Event, 32),
	}
}

// Events is drained by Session once per BeginFrame.
func (p *PeerConnection) Events() <-chan protocol.Event { return p.events }

// Arrivals is drained by Session once per BeginFrame.
func (p *PeerConnection) Arrivals() <-chan protocol.InputArrival { return p.inbox.Arrivals() }

// Status reports the connection's current top-level state.
func (p *PeerConnection) Status() Status { return p.status }

func (p *PeerConnection) emit(ev protocol.Event) {
	select {
	case p.events <- ev:
	default:
		p.log.V(1).Info("peer event queue full, dropping event", "kind", ev.Kind.String())
	}
}

func (p *PeerConnection) send(msgType wire.MessageType, body []byte, now time.Time) {
	pkt := p.outbox.Encode(msgType, body)
	if err := p.tr.SendTo(p.addr, pkt); err != nil {
		p.log.V(1).Info("send failed", "type", msgType.String(), "err", err)
		return
	}
	p.outbox.MarkSent(now)
}

// SendInput queues payload for frame for transmission and reports whether
// it fit in the pending window; the caller (Session) maps a false return to
// the InputDropped ResultCode.
func (p *PeerConnection) SendInput(frame int32, payload []byte) bool {
	return p.inputBuffer.Push(frame, payload)
}

// Disconnect forces the connection to Disconnected immediately, matching
// Session's disconnect_player_queue call into PeerConnection.
func (p *PeerConnection) Disconnect() {
	if p.status == StatusDisconnected {
		return
	}
	p.status = StatusDisconnected
	p.emit(protocol.Event{Kind: protocol.EventDisconnected})
}

// SetLocalFrame publishes the host's current frame so outgoing
// QualityReports carry an up to date advantage figure.
func (p *PeerConnection) SetLocalFrame(frame int32) { p.localFrame = frame }

// estimatedRemoteFrame projects the remote's current frame from the last
// input frame it actually delivered plus the frames its round trip likely
// covers, the way a quality report's frame advantage is derived without
// waiting on the remote to report its own frame number.
func (p *PeerConnection) estimatedRemoteFrame() int32 {
	last := p.inbox.LastReceivedInputFrame()
	if last < 0 {
		return p.localFrame
	}
	fps := p.cfg.FPS
	if fps <= 0 {
		fps = 60
	}
	rttFrames := int32(p.roundTripTime.Milliseconds()) * int32(fps) / 1000
	return last + rttFrames
}

// NetworkStats reports the point-in-time status Session hands back from
// GetNetworkStats.
func (p *PeerConnection) NetworkStats() Stats {
	last, _ := p.inbox.PendingAck()
	return Stats{
		RoundTripTime:          p.roundTripTime,
		LocalFrameAdvantage:    p.localFrameAdvantage,
		RemoteFrameAdvantage:   p.remoteFrameAdvantage,
		SendQueueLength:        0,
		LastReceivedInputFrame: last,
	}
}

// ConnectStatus returns the sender's most recently reported peer_connect_status
// view, for the Session's N-player min_confirmed_frame computation.
func (p *PeerConnection) ConnectStatus() []wire.PeerConnectStatus { return p.inbox.PeerConnectStatus() }

// Update drives every host-thread-owned timer: handshake retransmit,
// pending input (re)send, quality-report/keep-alive cadence, and
// inactivity-based interrupt/timeout detection. It is the only method that
// may transition Syncing -> Running or raise NetworkInterrupted /
// NetworkResumed / Disconnected from inactivity.
func (p *PeerConnection) Update(now time.Time, statuses []wire.PeerConnectStatus, disconnectMask uint16) {
	if p.status == StatusDisconnected {
		return
	}

	if p.status == StatusSyncing {
		p.updateHandshake(now)
		return
	}

	p.checkInactivity(now)
	if p.status == StatusDisconnected {
		return
	}

	if ack, ok := p.inbox.PendingAck(); ok {
		p.send(wire.MessageInputAck, wire.InputAck{AckFrame: ack}.Marshal(nil), now)
	}

	if !p.inputBuffer.Empty() && p.inputBuffer.Due(now) {
		if in, ok := p.inputBuffer.Build(now, statuses, disconnectMask); ok {
			p.send(wire.MessageInput, in.Marshal(nil), now)
		}
	}

	if p.outbox.DueForQualityReport(now, p.cfg.QualityReportInterval) {
		p.localFrameAdvantage = int(p.localFrame - p.estimatedRemoteFrame())
		qr := wire.QualityReport{
			PingSendTimeMs: uint64(now.UnixMilli()),
			FrameAdvantage: clampInt8(p.localFrameAdvantage),
		}
		p.send(wire.MessageQualityReport, qr.Marshal(nil), now)
		p.outbox.MarkQualityReportSent(now)
	}

	if p.outbox.DueForKeepAlive(now, p.cfg.KeepAliveInterval) {
		p.send(wire.MessageKeepAlive, nil, now)
	}
}

func (p *PeerConnection) updateHandshake(now time.Time) {
	if p.handshake.Expired(now) {
		p.status = StatusDisconnected
		p.emit(protocol.Event{Kind: protocol.EventSyncFailure})
		return
	}
	if !p.handshake.Due(now) {
		return
	}
	req := p.handshake.NextRequest(now, func() uint32 { return rand.Uint32() })
	p.send(wire.MessageSyncRequest, wire.SyncRequest{
		RandomRequest: req.RandomRequest,
		RemoteMagic:   p.cfg.LocalMagic,
	}.Marshal(nil), now)
	step, total := p.handshake.Progress()
	p.emit(protocol.Event{Kind: protocol.EventSynchronizing, Step: step, Total: total})
}

func (p *PeerConnection) checkInactivity(now time.Time) {
	last := p.inbox.LastRecvTime()
	if last.IsZero() {
		return
	}
	idle := now.Sub(last)
	switch {
	case idle > p.cfg.DisconnectTimeout:
		p.status = StatusDisconnected
		p.emit(protocol.Event{Kind: protocol.EventDisconnected})
	case idle > p.cfg.DisconnectNotifyStart:
		if !p.interrupted {
			p.interrupted = true
			p.emit(protocol.Event{Kind: protocol.EventNetworkInterrupted, Timeout: idle})
		}
	default:
		if p.interrupted {
			p.interrupted = false
			p.emit(protocol.Event{Kind: protocol.EventNetworkResumed})
		}
	}
}

// HandlePacket is called from the I/O worker with one fully-read datagram.
// It never touches Synchronizer state directly; incoming inputs are staged
// on the Arrivals channel for the host thread to drain.
func (p *PeerConnection) HandlePacket(raw []byte, now time.Time) {
	h, body, err := wire.UnmarshalHeader(raw)
	if err != nil {
		return
	}
	if !p.inbox.Admit(h, now) {
		return
	}

	switch h.Type {
	case wire.MessageSyncRequest:
		req, err := wire.UnmarshalSyncRequest(body)
		if err != nil {
			return
		}
		p.send(wire.MessageSyncReply, wire.SyncReply{RandomReply: req.RandomRequest}.Marshal(nil), now)

	case wire.MessageSyncReply:
		reply, err := wire.UnmarshalSyncReply(body)
		if err != nil {
			return
		}
		if p.status != StatusSyncing {
			return
		}
		if p.handshake.HandleReply(reply) {
			step, total := p.handshake.Progress()
			p.emit(protocol.Event{Kind: protocol.EventSynchronizing, Step: step, Total: total})
			if p.handshake.Complete() {
				p.inbox.LockRemoteMagic(h.Magic)
				p.status = StatusRunning
				p.emit(protocol.Event{Kind: protocol.EventConnected})
			}
		}

	case wire.MessageInput:
		in, err := wire.UnmarshalInput(body)
		if err != nil {
			return
		}
		if err := p.inbox.HandleInput(in); err != nil {
			p.log.V(1).Info("dropping malformed input batch", "err", err)
		}

	case wire.MessageInputAck:
		ack, err := wire.UnmarshalInputAck(body)
		if err != nil {
			return
		}
		p.inputBuffer.Ack(ack.AckFrame)

	case wire.MessageQualityReport:
		qr, err := wire.UnmarshalQualityReport(body)
		if err != nil {
			return
		}
		p.remoteFrameAdvantage = int(qr.FrameAdvantage)
		p.send(wire.MessageQualityReply, wire.QualityReply{PongSendTimeMs: qr.PingSendTimeMs}.Marshal(nil), now)

	case wire.MessageQualityReply:
		reply, err := wire.UnmarshalQualityReply(body)
		if err != nil {
			return
		}
		sentAt := time.UnixMilli(int64(reply.PongSendTimeMs))
		p.roundTripTime = now.Sub(sentAt)
		if p.status == StatusRunning && !p.synchronizedEmitted {
			p.synchronizedEmitted = true
			p.emit(protocol.Event{Kind: protocol.EventSynchronized, Ping: p.roundTripTime})
		}

	case wire.MessageKeepAlive:
		// presence alone already advanced inbox.LastRecvTime via Admit.
	}
}

func clampInt8(v int) int8 {
	if v > 127 {
		return 127
	}
	if v < -128 {
		return -128
	}
	return int8(v)
}
