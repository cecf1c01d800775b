package protocol

import (
	"time"

	"github.com/Getup98/Backdash/internal/wire"
)

// Outbox assigns per-peer monotonic sequence numbers and tracks when the
// last packet of any kind and the last quality report were sent, so the
// caller knows when a keep-alive or a fresh quality report is due.
type Outbox struct {
	localMagic uint16
	nextSeq    uint16

	lastSendTime          time.Time
	lastQualityReportTime time.Time
}

// NewOutbox creates an Outbox that stamps every packet with localMagic.
func NewOutbox(localMagic uint16) *Outbox {
	return &Outbox{localMagic: localMagic}
}

// Encode assembles a header + body into one wire packet and advances the
// sequence counter. It does not send anything itself; callers hand the
// result to a Transport.
func (o *Outbox) Encode(msgType wire.MessageType, body []byte) []byte {
	h := wire.Header{Magic: o.localMagic, Sequence: o.nextSeq, Type: msgType}
	o.nextSeq++
	buf := make([]byte, 0, wire.HeaderSize+len(body))
	buf = h.Marshal(buf)
	return append(buf, body...)
}

// MarkSent records that a packet was just sent, resetting the keep-alive
// timer.
func (o *Outbox) MarkSent(now time.Time) { o.lastSendTime = now }

// DueForKeepAlive reports whether interval has elapsed since anything was
// last sent.
func (o *Outbox) DueForKeepAlive(now time.Time, interval time.Duration) bool {
	return o.lastSendTime.IsZero() || now.Sub(o.lastSendTime) >= interval
}

// MarkQualityReportSent records that a quality report was just sent.
func (o *Outbox) MarkQualityReportSent(now time.Time) { o.lastQualityReportTime = now }

// DueForQualityReport reports whether interval has elapsed since the last
// quality report.
func (o *Outbox) DueForQualityReport(now time.Time, interval time.Duration) bool {
	return o.lastQualityReportTime.IsZero() || now.Sub(o.lastQualityReportTime) >= interval
}
