// Package spectatorws fans out already-confirmed input frames to browser
// spectators over WebSocket, as an additional delivery mechanism alongside
// the UDP-based spectator PeerConnection path. Because spectators only ever
// see fully-confirmed frames, this package carries no rollback or
// prediction state of its own — it is a pure broadcast sink.
package spectatorws

import (
	"encoding/binary"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/net/websocket"
)

// Relay tracks a set of connected browser spectators and broadcasts each
// confirmed frame to every one of them.
type Relay struct {
	log logr.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// New creates an empty Relay.
func New(log logr.Logger) *Relay {
	return &Relay{log: log, conns: make(map[*websocket.Conn]struct{})}
}

// Handler is a net/http-compatible websocket.Handler that registers each
// incoming connection with the relay and keeps it registered until the
// connection closes.
func (r *Relay) Handler() websocket.Handler {
	return func(conn *websocket.Conn) {
		r.mu.Lock()
		r.conns[conn] = struct{}{}
		r.mu.Unlock()

		defer func() {
			r.mu.Lock()
			delete(r.conns, conn)
			r.mu.Unlock()
			conn.Close()
		}()

		// Spectators are receive-only; block until the browser disconnects.
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}
}

// Count returns the number of currently connected spectators.
func (r *Relay) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Publish broadcasts one confirmed frame (frame number followed by the raw
// concatenated per-player payload bytes Session already assembled for the
// UDP spectator path) to every connected browser, one write after another.
// A connection whose write fails is dropped; writes carry no deadline, so a
// slow connection delays the broadcast to the ones after it.
func (r *Relay) Publish(frame int32, payload []byte) {
	msg := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(msg[0:4], uint32(frame))
	copy(msg[4:], payload)

	r.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(r.conns))
	for c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		if _, err := c.Write(msg); err != nil {
			r.log.V(1).Info("spectator write failed, dropping", "err", err)
			r.mu.Lock()
			delete(r.conns, c)
			r.mu.Unlock()
			c.Close()
		}
	}
}
