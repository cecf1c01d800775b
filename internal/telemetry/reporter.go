// Package telemetry posts periodic per-peer network snapshots to an
// operator-supplied HTTP endpoint as an optional off-session reporter.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
)

// Snapshot is one peer's reported network status at a point in time.
type Snapshot struct {
	PeerNumber           int           `json:"peer_number"`
	RoundTripTime        time.Duration `json:"round_trip_time_ns"`
	LocalFrameAdvantage  int           `json:"local_frame_advantage"`
	RemoteFrameAdvantage int           `json:"remote_frame_advantage"`
	LastReceivedFrame    int32         `json:"last_received_frame"`
}

// Reporter posts batches of Snapshots to Endpoint. Delivery failures are
// logged and never propagate, since telemetry is diagnostic only.
type Reporter struct {
	Endpoint string
	Log      logr.Logger

	client *retryablehttp.Client
}

// New creates a Reporter posting to endpoint. If endpoint is empty the
// returned Reporter's Report calls are no-ops.
func New(endpoint string, log logr.Logger) *Reporter {
	client := retryablehttp.NewClient()
	client.Logger = nil // structured logr.Logger replaces retryablehttp's default logger
	client.RetryMax = 2
	return &Reporter{Endpoint: endpoint, Log: log, client: client}
}

// Report posts snapshots as a JSON array. It never blocks the caller for
// longer than ctx allows and never returns an error the host is expected to
// act on.
func (r *Reporter) Report(ctx context.Context, snapshots []Snapshot) {
	if r.Endpoint == "" || len(snapshots) == 0 {
		return
	}
	body, err := json.Marshal(snapshots)
	if err != nil {
		r.Log.V(1).Info("telemetry: marshal failed", "err", err)
		return
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", r.Endpoint, bytes.NewReader(body))
	if err != nil {
		r.Log.V(1).Info("telemetry: request build failed", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.Log.V(1).Info("telemetry: delivery failed", "err", err)
		return
	}
	defer resp.Body.Close()
}
