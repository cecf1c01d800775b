package rollback

import "fmt"

// DesyncError is the non-recoverable failure raised when a rollback needs a
// StateStore snapshot that has already fallen out of the ring. Per the
// spec this cannot happen under normal prediction_frames-bounded operation
// and indicates a tuning or protocol bug; the session must be closed by the
// host on receipt of this error.
type DesyncError struct {
	Frame Frame
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("rollback: no saved state for frame %d, non-recoverable desync", e.Frame)
}

// RollbackOverrunError guards the invariant |rollback_frames| <= prediction
// frames; seeing it means CheckSimulation was asked to seek further back
// than the configured prediction horizon should ever allow.
type RollbackOverrunError struct {
	RollbackFrames  FrameSpan
	PredictionLimit int
}

func (e *RollbackOverrunError) Error() string {
	return fmt.Sprintf("rollback: rollback of %d frames exceeds prediction limit of %d",
		e.RollbackFrames, e.PredictionLimit)
}
