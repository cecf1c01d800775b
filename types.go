package backdash

import "github.com/Getup98/Backdash/internal/rollback"

// GameInput is one frame's worth of host-defined, fixed-size bit-copyable
// input payload.
type GameInput[T comparable] = rollback.GameInput[T]

// ConfirmedInputs is a fixed-capacity batch of confirmed inputs, one per
// player queue, emitted only once every player's input for Frame is known.
type ConfirmedInputs[T comparable] = rollback.ConfirmedInputs[T]

// MaxPlayers is the compile-time cap on players in a session.
const MaxPlayers = rollback.MaxPlayers

// MaxSpectators is the compile-time cap on spectators in a session.
const MaxSpectators = rollback.MaxSpectators
