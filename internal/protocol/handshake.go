package protocol

import (
	"time"

	"github.com/Getup98/Backdash/internal/wire"
)

// Handshake drives the Syncing-state handshake: send SyncRequest at a fixed
// interval until SyncPackets replies matching our outstanding random value
// have come back. Both peers run this simultaneously and independently; a
// peer transitions to Running once its own count of confirmed exchanges
// reaches the configured total.
type Handshake struct {
	required int
	acked    int

	currentRandom uint32
	firstSendTime time.Time
	lastSendTime  time.Time
	retryInterval time.Duration
	timeout       time.Duration
}

// NewHandshake creates a handshake requiring `required` confirmed
// request/reply exchanges, resent every retryInterval until complete, and
// giving up once timeout has elapsed since the first SyncRequest was sent.
func NewHandshake(required int, retryInterval, timeout time.Duration) *Handshake {
	if required <= 0 {
		required = 5
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handshake{required: required, retryInterval: retryInterval, timeout: timeout}
}

// Complete reports whether enough exchanges have been confirmed.
func (h *Handshake) Complete() bool { return h.acked >= h.required }

// Expired reports whether timeout has elapsed since the first SyncRequest
// without the handshake completing.
func (h *Handshake) Expired(now time.Time) bool {
	return !h.firstSendTime.IsZero() && !h.Complete() && now.Sub(h.firstSendTime) >= h.timeout
}

// Progress returns (confirmed, required) for a Synchronizing event.
func (h *Handshake) Progress() (step, total int) { return h.acked, h.required }

// Due reports whether it is time to (re)send a SyncRequest.
func (h *Handshake) Due(now time.Time) bool {
	return h.lastSendTime.IsZero() || now.Sub(h.lastSendTime) >= h.retryInterval
}

// NextRequest produces the next SyncRequest to send, using randomFunc to
// pick a fresh nonce, and marks the send as having just happened.
func (h *Handshake) NextRequest(now time.Time, randomFunc func() uint32) wire.SyncRequest {
	if h.firstSendTime.IsZero() {
		h.firstSendTime = now
	}
	h.currentRandom = randomFunc()
	h.lastSendTime = now
	return wire.SyncRequest{RandomRequest: h.currentRandom}
}

// HandleReply reports whether reply confirms our outstanding request; if so
// it advances the exchange count.
func (h *Handshake) HandleReply(reply wire.SyncReply) bool {
	if reply.RandomReply != h.currentRandom {
		return false
	}
	h.acked++
	return true
}
