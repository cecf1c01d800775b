package protocol

import (
	"testing"
	"time"

	"github.com/Getup98/Backdash/internal/wire"
)

func TestHandshakeCompletesAfterRequiredExchanges(t *testing.T) {
	h := NewHandshake(3, 200*time.Millisecond, 5*time.Second)
	now := time.Now()

	for i := 0; i < 3; i++ {
		req := h.NextRequest(now, func() uint32 { return 7 })
		if h.Complete() {
			t.Fatalf("Complete() should be false before exchange %d is acked", i)
		}
		ok := h.HandleReply(wire.SyncReply{RandomReply: req.RandomRequest})
		if !ok {
			t.Fatalf("HandleReply should accept a reply echoing the outstanding random value")
		}
	}

	if !h.Complete() {
		t.Fatal("expected Complete() to be true after 3 confirmed exchanges")
	}
	step, total := h.Progress()
	if step != 3 || total != 3 {
		t.Fatalf("Progress() = (%d, %d), want (3, 3)", step, total)
	}
}

func TestHandshakeRejectsStaleReply(t *testing.T) {
	h := NewHandshake(2, time.Second, 5*time.Second)
	now := time.Now()
	h.NextRequest(now, func() uint32 { return 1 })

	if h.HandleReply(wire.SyncReply{RandomReply: 999}) {
		t.Fatal("expected HandleReply to reject a reply not matching the outstanding random value")
	}
	if h.Complete() {
		t.Fatal("Complete() should still be false")
	}
}

func TestHandshakeDueRespectsRetryInterval(t *testing.T) {
	h := NewHandshake(1, time.Second, 5*time.Second)
	now := time.Now()

	if !h.Due(now) {
		t.Fatal("expected Due() to be true before the first request is sent")
	}
	h.NextRequest(now, func() uint32 { return 1 })
	if h.Due(now.Add(500 * time.Millisecond)) {
		t.Fatal("expected Due() to be false before the retry interval elapses")
	}
	if !h.Due(now.Add(2 * time.Second)) {
		t.Fatal("expected Due() to be true once the retry interval elapses")
	}
}

func TestHandshakeExpiresAfterTimeout(t *testing.T) {
	h := NewHandshake(5, 200*time.Millisecond, time.Second)
	now := time.Now()

	if h.Expired(now) {
		t.Fatal("expected Expired() to be false before any SyncRequest is sent")
	}
	h.NextRequest(now, func() uint32 { return 1 })
	if h.Expired(now.Add(500 * time.Millisecond)) {
		t.Fatal("expected Expired() to be false before the timeout elapses")
	}
	if !h.Expired(now.Add(2 * time.Second)) {
		t.Fatal("expected Expired() to be true once the timeout elapses")
	}

	h.HandleReply(wire.SyncReply{RandomReply: 1})
	for i := 1; i < 5; i++ {
		req := h.NextRequest(now, func() uint32 { return uint32(i + 1) })
		h.HandleReply(wire.SyncReply{RandomReply: req.RandomRequest})
	}
	if !h.Complete() {
		t.Fatal("expected Complete() to be true after 5 confirmed exchanges")
	}
	if h.Expired(now.Add(2 * time.Second)) {
		t.Fatal("expected Expired() to be false once the handshake has completed")
	}
}
