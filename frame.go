package backdash

import "github.com/Getup98/Backdash/internal/rollback"

// Frame is an absolute simulation frame index. NullFrame marks "no frame".
type Frame = rollback.Frame

// FrameSpan is a signed count of frames, e.g. the distance between two Frame
// values.
type FrameSpan = rollback.FrameSpan

const (
	// NullFrame is the sentinel value for "no frame yet".
	NullFrame = rollback.NullFrame
	// ZeroFrame is the first frame of a session.
	ZeroFrame = rollback.ZeroFrame
)

// MinFrame returns the earlier of two frames, treating NullFrame as
// "unbounded" (ignored unless both are null).
func MinFrame(a, b Frame) Frame { return rollback.MinFrame(a, b) }
