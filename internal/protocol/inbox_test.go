package protocol

import (
	"testing"
	"time"

	"github.com/Getup98/Backdash/internal/wire"
)

func TestInboxAdmitGatesOnMagicOnceLocked(t *testing.T) {
	in := NewInbox(4)
	now := time.Now()

	if !in.Admit(wire.Header{Magic: 0x1234, Sequence: 0}, now) {
		t.Fatal("expected Admit to accept the first packet before a remote magic is locked")
	}

	in.LockRemoteMagic(0x1234)
	if in.Admit(wire.Header{Magic: 0x9999, Sequence: 1}, now) {
		t.Fatal("expected Admit to reject a packet with the wrong magic once locked")
	}
	if !in.Admit(wire.Header{Magic: 0x1234, Sequence: 1}, now) {
		t.Fatal("expected Admit to accept a packet with the locked magic")
	}
}

func TestInboxAdmitGatesOnSequenceWithWraparound(t *testing.T) {
	in := NewInbox(4)
	now := time.Now()

	in.Admit(wire.Header{Sequence: 65534}, now)
	if in.Admit(wire.Header{Sequence: 65534}, now) {
		t.Fatal("expected a duplicate sequence number to be rejected")
	}
	if !in.Admit(wire.Header{Sequence: 65535}, now) {
		t.Fatal("expected the next sequence number to be admitted")
	}
	if !in.Admit(wire.Header{Sequence: 0}, now) {
		t.Fatal("expected sequence 0 to be admitted after wraparound past 65535")
	}
	if in.Admit(wire.Header{Sequence: 65535}, now) {
		t.Fatal("expected an old (pre-wraparound) sequence number to be rejected")
	}
}

func TestInboxHandleInputPublishesNewFramesOnly(t *testing.T) {
	in := NewInbox(4)
	reference := make([]byte, 2)
	payloads := [][]byte{{1, 1}, {2, 2}}
	compressed := wire.EncodeInputDelta(reference, payloads)

	msg := wire.Input{StartFrame: 0, Count: 2, InputSize: 2, Compressed: compressed}
	if err := in.HandleInput(msg); err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if got := in.LastReceivedInputFrame(); got != 1 {
		t.Fatalf("LastReceivedInputFrame() = %d, want 1", got)
	}
	<-in.Arrivals()
	<-in.Arrivals()

	// Redeliver the same batch (a resend): nothing new should be published,
	// but LastReceivedInputFrame must not regress.
	if err := in.HandleInput(msg); err != nil {
		t.Fatalf("HandleInput (resend): %v", err)
	}
	select {
	case a := <-in.Arrivals():
		t.Fatalf("expected no new arrival from a pure resend, got %+v", a)
	default:
	}

	frame, due := in.PendingAck()
	if !due || frame != 1 {
		t.Fatalf("PendingAck() = (%d, %v), want (1, true)", frame, due)
	}
}

func TestInboxHandleInputExtendsWindow(t *testing.T) {
	in := NewInbox(4)
	reference := make([]byte, 2)
	first := wire.Input{StartFrame: 0, Count: 1, InputSize: 2, Compressed: wire.EncodeInputDelta(reference, [][]byte{{9, 9}})}
	if err := in.HandleInput(first); err != nil {
		t.Fatalf("HandleInput(first): %v", err)
	}
	<-in.Arrivals() // drain frame 0 from the first batch

	second := wire.Input{StartFrame: 0, Count: 2, InputSize: 2, Compressed: wire.EncodeInputDelta(reference, [][]byte{{9, 9}, {8, 8}})}
	if err := in.HandleInput(second); err != nil {
		t.Fatalf("HandleInput(second): %v", err)
	}

	select {
	case a := <-in.Arrivals():
		if a.Frame != 1 {
			t.Fatalf("expected the only new arrival to be frame 1, got %d", a.Frame)
		}
	default:
		t.Fatal("expected exactly one new arrival for frame 1")
	}
}
