package backdash

import (
	"time"

	"github.com/go-logr/logr"
)

// Options captures every tunable a Session needs at construction. It is
// passed by value as a flat struct literal rather than a functional-options
// pattern.
type Options struct {
	MaxPlayers    int
	MaxSpectators int

	PredictionFrames int
	InputQueueLength int
	FrameDelay       int
	FPS              int

	SyncPackets            int
	HandshakeTimeout       time.Duration
	KeepAliveInterval      time.Duration
	QualityReportInterval  time.Duration
	DisconnectNotifyStart  time.Duration
	DisconnectTimeout      time.Duration
	MaxPendingInputs       int
	SendLatency            time.Duration

	RecommendationInterval int
	TimeSyncWindow         int
	MinFrameAdvantage      int
	MaxFrameAdvantage      int

	// Logger receives structured session/peer diagnostics. A Logger with no
	// sink (the zero value) is replaced with a zap production logger writing
	// JSON to stderr, or with logr.Discard() if that logger cannot be built.
	Logger logr.Logger

	// TelemetryEndpoint, if non-empty, receives JSON NetworkStats snapshots
	// via internal/telemetry every TelemetryReportInterval. An empty
	// endpoint or a non-positive interval disables telemetry entirely.
	TelemetryEndpoint      string
	TelemetryReportInterval time.Duration
}

// DefaultOptions returns reasonable defaults for a two-player session.
func DefaultOptions() Options {
	return Options{
		MaxPlayers:    4,
		MaxSpectators: 32,

		PredictionFrames: 8,
		InputQueueLength: 128,
		FrameDelay:       2,
		FPS:              60,

		SyncPackets:           5,
		HandshakeTimeout:      5000 * time.Millisecond,
		KeepAliveInterval:     200 * time.Millisecond,
		QualityReportInterval: 1000 * time.Millisecond,
		DisconnectNotifyStart: 750 * time.Millisecond,
		DisconnectTimeout:     5000 * time.Millisecond,
		MaxPendingInputs:      64,
		SendLatency:           1000 / 60 * time.Millisecond,

		RecommendationInterval: 240,
		TimeSyncWindow:         40,
		MinFrameAdvantage:      2,
		MaxFrameAdvantage:      9,

		Logger: logr.Discard(),
	}
}
