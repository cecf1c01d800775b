// Package backdash implements the session core of a peer-to-peer rollback
// netcode engine for lockstep-deterministic simulations: a per-peer wire
// protocol state machine, an input-prediction/rollback synchronizer, a
// time-sync throttle, and the Session type that multiplexes peers and
// spectators around a fixed-rate host frame loop.
//
// The host application owns the simulation itself (save/load state, advance
// one frame) and the datagram socket; Session drives both through the
// Handler and Transport interfaces.
package backdash
