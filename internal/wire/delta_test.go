package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeInputDeltaRoundTrip(t *testing.T) {
	reference := []byte{0x00, 0x00}
	frames := [][]byte{
		{0x01, 0x00},
		{0x01, 0x02},
		{0x01, 0x02}, // repeated frame: zero diff run
		{0xFF, 0xFF},
	}

	encoded := EncodeInputDelta(reference, frames)
	decoded, err := DecodeInputDelta(reference, encoded, len(frames))
	if err != nil {
		t.Fatalf("DecodeInputDelta: %v", err)
	}
	if len(decoded) != len(frames) {
		t.Fatalf("decoded %d frames, want %d", len(decoded), len(frames))
	}
	for i, want := range frames {
		if !bytes.Equal(decoded[i], want) {
			t.Fatalf("frame %d = %v, want %v", i, decoded[i], want)
		}
	}
}

func TestEncodeDecodeInputDeltaSingleFrameNoChange(t *testing.T) {
	reference := []byte{0x42, 0x99, 0x00, 0x01}
	frames := [][]byte{{0x42, 0x99, 0x00, 0x01}}

	encoded := EncodeInputDelta(reference, frames)
	decoded, err := DecodeInputDelta(reference, encoded, 1)
	if err != nil {
		t.Fatalf("DecodeInputDelta: %v", err)
	}
	if !bytes.Equal(decoded[0], frames[0]) {
		t.Fatalf("decoded = %v, want %v", decoded[0], frames[0])
	}
}

func TestDecodeInputDeltaTruncatedData(t *testing.T) {
	if _, err := DecodeInputDelta([]byte{0, 0}, []byte{}, 3); err == nil {
		t.Fatal("expected an error decoding an empty buffer as 3 frames")
	}
}

func TestEncodeDecodeInputDeltaEveryByteChanges(t *testing.T) {
	reference := make([]byte, 8)
	frame := make([]byte, 8)
	for i := range frame {
		frame[i] = 0xFF
	}
	encoded := EncodeInputDelta(reference, [][]byte{frame})
	decoded, err := DecodeInputDelta(reference, encoded, 1)
	if err != nil {
		t.Fatalf("DecodeInputDelta: %v", err)
	}
	if !bytes.Equal(decoded[0], frame) {
		t.Fatalf("decoded = %v, want %v", decoded[0], frame)
	}
}
