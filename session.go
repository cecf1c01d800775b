package backdash

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/Getup98/Backdash/internal/backdashlog"
	"github.com/Getup98/Backdash/internal/backgroundjob"
	"github.com/Getup98/Backdash/internal/binarycodec"
	"github.com/Getup98/Backdash/internal/peer"
	"github.com/Getup98/Backdash/internal/protocol"
	"github.com/Getup98/Backdash/internal/rollback"
	"github.com/Getup98/Backdash/internal/spectatorws"
	"github.com/Getup98/Backdash/internal/telemetry"
	"github.com/Getup98/Backdash/internal/timesync"
	"github.com/Getup98/Backdash/internal/transport"
	"github.com/Getup98/Backdash/internal/wire"
)

// playerSlot is Session's bookkeeping for one added player or spectator.
type playerSlot struct {
	kind    PlayerKind
	number  int
	address string
	claimed bool
	peer    *peer.PeerConnection // nil for Local
}

// callbacksAdapter lets Synchronizer drive the host Handler without the
// rollback package importing the root package (which would cycle).
type callbacksAdapter[T comparable] struct {
	handler Handler
}

func (c callbacksAdapter[T]) SaveState(frame Frame) ([]byte, uint32) { return c.handler.SaveState(frame) }
func (c callbacksAdapter[T]) LoadState(frame Frame, data []byte)     { c.handler.LoadState(frame, data) }
func (c callbacksAdapter[T]) AdvanceFrame()                          { c.handler.AdvanceFrame() }

// Session is the top-level orchestrator: it multiplexes local, remote and
// spectator players around one Synchronizer, drives every PeerConnection's
// protocol timers, and feeds confirmed inputs to spectators and an optional
// local listener.
type Session[T comparable] struct {
	opts    Options
	log     logr.Logger
	tr      transport.Transport
	handler Handler

	sync  *rollback.Synchronizer[T]
	conns *rollback.ConnectionsState

	players    []playerSlot // dense queue index -> slot, for Local/Remote (len == opts.MaxPlayers)
	spectators []playerSlot // dense spectator index -> slot

	localMagic uint16

	background *backgroundjob.Manager
	bgCancel   context.CancelFunc

	isSynchronizing bool
	closed          bool

	currentFrame             Frame
	nextSpectatorFrame       Frame
	ticksSinceRecommendation int

	timeSync *timesync.TimeSync

	relays   []*spectatorws.Relay
	listener func(ConfirmedInputs[T])

	telemetryReporter *telemetry.Reporter
	lastTelemetry     time.Time
}

// defaultLogger returns log unchanged if the host supplied one, or a
// zap/zapr production logger otherwise; a broken zap build (should never
// happen with the default config) falls back to a no-op logger rather than
// failing session construction.
func defaultLogger(log logr.Logger) logr.Logger {
	if log.GetSink() != nil {
		return log
	}
	built, err := backdashlog.New()
	if err != nil {
		return logr.Discard()
	}
	return built
}

// NewSession creates a Session bound to tr, ready to accept AddPlayer calls.
// Every player/spectator queue slot up to opts.MaxPlayers/MaxSpectators is
// pre-allocated and starts disconnected until claimed, so SynchronizeInputs
// can be called safely (yielding the zero value of T) even before every
// seat is filled.
func NewSession[T comparable](opts Options, tr transport.Transport, handler Handler) *Session[T] {
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = rollback.MaxPlayers
	}
	if opts.MaxSpectators <= 0 {
		opts.MaxSpectators = rollback.MaxSpectators
	}
	log := defaultLogger(opts.Logger)

	conns := rollback.NewConnectionsState(opts.MaxPlayers)
	for i := 0; i < opts.MaxPlayers; i++ {
		conns.Disconnect(i, NullFrame)
	}

	sync := rollback.New[T](rollback.Config{
		NumPlayers:       opts.MaxPlayers,
		PredictionFrames: opts.PredictionFrames,
		InputQueueLength: opts.InputQueueLength,
	}, conns, callbacksAdapter[T]{handler: handler})

	var telem *telemetry.Reporter
	if opts.TelemetryEndpoint != "" {
		telem = telemetry.New(opts.TelemetryEndpoint, log)
	}

	s := &Session[T]{
		opts:               opts,
		log:                log,
		tr:                 tr,
		handler:            handler,
		sync:               sync,
		conns:              conns,
		players:            make([]playerSlot, opts.MaxPlayers),
		spectators:         make([]playerSlot, 0, opts.MaxSpectators),
		localMagic:         uint16(rand.Uint32()),
		background:         backgroundjob.New(),
		isSynchronizing:    true,
		currentFrame:       ZeroFrame,
		nextSpectatorFrame: ZeroFrame,
		timeSync:           timesync.New(opts.TimeSyncWindow, opts.MinFrameAdvantage, opts.MaxFrameAdvantage),
		telemetryReporter:  telem,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel
	s.background.Start(ctx, s.receiveLoop)

	return s
}

// SetInputListener registers a callback fed every ConfirmedInputs batch, in
// the same order and cadence spectators receive them.
func (s *Session[T]) SetInputListener(fn func(ConfirmedInputs[T])) { s.listener = fn }

// AddSpectatorRelay attaches a WebSocket spectator relay that will also
// receive every ConfirmedInputs batch, alongside any UDP spectator peers.
func (s *Session[T]) AddSpectatorRelay(r *spectatorws.Relay) { s.relays = append(s.relays, r) }

// AddPlayer registers a Local, Remote or Spectator participant.
func (s *Session[T]) AddPlayer(p Player) (PlayerHandle, ResultCode) {
	switch p.Kind {
	case PlayerLocal, PlayerRemote:
		for _, slot := range s.players {
			if slot.claimed && slot.kind == p.Kind && slot.number == p.Number {
				return PlayerHandle{}, DuplicatedPlayer
			}
		}
		idx := -1
		for i, slot := range s.players {
			if !slot.claimed {
				idx = i
				break
			}
		}
		if idx < 0 {
			return PlayerHandle{}, TooManyPlayers
		}

		slot := playerSlot{kind: p.Kind, number: p.Number, address: p.Address, claimed: true}
		if p.Kind == PlayerRemote {
			slot.peer = peer.New(s.log, s.peerConfig(), s.tr, p.Address)
		}
		s.players[idx] = slot
		s.conns.Reconnect(idx)
		if p.Kind == PlayerLocal && s.opts.FrameDelay > 0 {
			s.sync.SetFrameDelay(idx, s.opts.FrameDelay)
		}
		return PlayerHandle{Kind: p.Kind, Number: p.Number, queue: idx}, Ok

	case PlayerSpectator:
		if !s.isSynchronizing {
			return PlayerHandle{}, AlreadySynchronized
		}
		for _, slot := range s.spectators {
			if slot.claimed && slot.number == p.Number {
				return PlayerHandle{}, DuplicatedPlayer
			}
		}
		if len(s.spectators) >= s.opts.MaxSpectators {
			return PlayerHandle{}, TooManySpectators
		}
		idx := len(s.spectators)
		s.spectators = append(s.spectators, playerSlot{
			kind:    p.Kind,
			number:  p.Number,
			address: p.Address,
			claimed: true,
			peer:    peer.New(s.log, s.spectatorPeerConfig(), s.tr, p.Address),
		})
		return PlayerHandle{Kind: p.Kind, Number: p.Number, queue: idx}, Ok

	default:
		return PlayerHandle{}, NotSupported
	}
}

func (s *Session[T]) peerConfig() peer.Config {
	return peer.Config{
		LocalMagic:            s.localMagic,
		InputSize:             binarycodec.Size[T](),
		MaxPending:            s.opts.MaxPendingInputs,
		SendLatency:           s.opts.SendLatency,
		SyncPackets:           s.opts.SyncPackets,
		HandshakeTimeout:      s.opts.HandshakeTimeout,
		FPS:                   s.opts.FPS,
		KeepAliveInterval:     s.opts.KeepAliveInterval,
		QualityReportInterval: s.opts.QualityReportInterval,
		DisconnectNotifyStart: s.opts.DisconnectNotifyStart,
		DisconnectTimeout:     s.opts.DisconnectTimeout,
	}
}

// spectatorPeerConfig differs from peerConfig only in InputSize: spectators
// receive one already-confirmed batch covering every player per frame, not
// the single-player payloads mesh peers exchange, so their InputBuffer must
// size its delta-encoding reference accordingly.
func (s *Session[T]) spectatorPeerConfig() peer.Config {
	cfg := s.peerConfig()
	cfg.InputSize = binarycodec.Size[T]() * len(s.players)
	return cfg
}

// resolvePlayer validates handle against its claimed slot, returning the
// slot and true, or false if the handle is stale/out of range.
func (s *Session[T]) resolvePlayer(handle PlayerHandle) (*playerSlot, bool) {
	switch handle.Kind {
	case PlayerLocal, PlayerRemote:
		if handle.queue < 0 || handle.queue >= len(s.players) {
			return nil, false
		}
		slot := &s.players[handle.queue]
		if !slot.claimed || slot.kind != handle.Kind || slot.number != handle.Number {
			return nil, false
		}
		return slot, true
	case PlayerSpectator:
		if handle.queue < 0 || handle.queue >= len(s.spectators) {
			return nil, false
		}
		slot := &s.spectators[handle.queue]
		if !slot.claimed || slot.number != handle.Number {
			return nil, false
		}
		return slot, true
	default:
		return nil, false
	}
}

// AddLocalInput submits one frame of local input, transmitting it to every
// remote peer and spectator.
func (s *Session[T]) AddLocalInput(handle PlayerHandle, data T) ResultCode {
	if s.isSynchronizing {
		return NotSynchronized
	}
	if handle.Kind != PlayerLocal {
		return InvalidPlayerHandle
	}
	if _, ok := s.resolvePlayer(handle); !ok {
		return PlayerOutOfRange
	}
	if s.sync.InRollback() {
		return InRollback
	}

	adjusted, added := s.sync.AddLocalInput(handle.queue, data)
	if !added {
		return PredictionThreshold
	}
	s.conns.SetLastFrame(handle.queue, adjusted)

	payload := binarycodec.Encode(data)
	dropped := false
	for i := range s.players {
		p := s.players[i].peer
		if p == nil {
			continue
		}
		if !p.SendInput(int32(adjusted), payload) {
			dropped = true
		}
	}
	for i := range s.spectators {
		if p := s.spectators[i].peer; p != nil {
			p.SendInput(int32(adjusted), payload)
		}
	}
	if dropped {
		return InputDropped
	}
	return Ok
}

// SynchronizeInputs fills out with every queue's current-frame input, real
// or predicted.
func (s *Session[T]) SynchronizeInputs(out []T) ResultCode {
	if s.isSynchronizing {
		return NotSynchronized
	}
	s.sync.SynchronizeInputs(out)
	return Ok
}

// BeginFrame drains network events, advances peer state machines, runs
// rollback checks and confirmed-frame bookkeeping. It must be called once
// per host tick before add_local_input/synchronize_inputs.
func (s *Session[T]) BeginFrame() error {
	if err := s.background.ThrowIfError(); err != nil {
		return err
	}
	if s.closed {
		return nil
	}

	now := time.Now()
	s.currentFrame = s.sync.CurrentFrame()

	s.drainRemoteArrivals()
	s.drainEvents()
	s.updatePeers(now)

	if err := s.sync.CheckSimulation(); err != nil {
		return fmt.Errorf("backdash: %w", err)
	}

	for i := range s.players {
		if p := s.players[i].peer; p != nil {
			p.SetLocalFrame(int32(s.currentFrame))
		}
	}

	s.checkInitialSyncGate()
	if s.isSynchronizing {
		return nil
	}

	minConfirmed := s.computeMinConfirmedFrame()
	s.publishConfirmedInputs(minConfirmed)
	s.sync.SetLastConfirmedFrame(minConfirmed)

	s.sampleTimeSync()
	s.ticksSinceRecommendation++
	if s.ticksSinceRecommendation >= s.opts.RecommendationInterval {
		s.ticksSinceRecommendation = 0
		if sleep := s.timeSync.RecommendedSleep(); sleep > 0 {
			s.handler.TimeSync(sleep)
		}
	}

	s.reportTelemetry(now)
	return nil
}

// sampleTimeSync feeds the first Running remote peer's observed frame
// advantage into the rolling window. Simplification: with more than one
// remote, only the first is sampled, since the TimeSync recommendation is a
// single scalar the host uses to throttle its own loop uniformly.
func (s *Session[T]) sampleTimeSync() {
	for i := range s.players {
		slot := &s.players[i]
		if slot.peer == nil || slot.peer.Status() != peer.StatusRunning {
			continue
		}
		stats := slot.peer.NetworkStats()
		s.timeSync.Sample(stats.LocalFrameAdvantage, stats.RemoteFrameAdvantage)
		return
	}
}

// AdvanceFrame moves the synchronizer's frame counter forward one step,
// snapshotting the host's state at the new frame. Call after the host has
// run its own simulation step for the current frame.
func (s *Session[T]) AdvanceFrame() ResultCode {
	if s.isSynchronizing {
		return NotSynchronized
	}
	s.sync.IncrementFrame()
	return Ok
}

func (s *Session[T]) drainRemoteArrivals() {
	for i := range s.players {
		slot := &s.players[i]
		if slot.peer == nil || slot.kind != PlayerRemote {
			continue
		}
		for drained := false; !drained; {
			select {
			case arrival := <-slot.peer.Arrivals():
				data := binarycodec.Decode[T](arrival.Payload)
				s.sync.AddRemoteInput(i, GameInput[T]{Frame: Frame(arrival.Frame), Data: data})
				s.conns.SetLastFrame(i, Frame(arrival.Frame))
			default:
				drained = true
			}
		}
	}
}

func (s *Session[T]) drainEvents() {
	for i := range s.players {
		slot := &s.players[i]
		if slot.peer == nil {
			continue
		}
		s.drainPeerEvents(PlayerHandle{Kind: slot.kind, Number: slot.number, queue: i}, slot)
	}
	for i := range s.spectators {
		slot := &s.spectators[i]
		if !slot.claimed {
			continue
		}
		s.drainPeerEvents(PlayerHandle{Kind: slot.kind, Number: slot.number, queue: i}, slot)
	}
}

func (s *Session[T]) drainPeerEvents(handle PlayerHandle, slot *playerSlot) {
	for drained := false; !drained; {
		select {
		case ev := <-slot.peer.Events():
			s.handlePeerEvent(handle, slot, ev)
		default:
			drained = true
		}
	}
}

func (s *Session[T]) handlePeerEvent(handle PlayerHandle, slot *playerSlot, ev protocol.Event) {
	if ev.Kind == protocol.EventSyncFailure && handle.Kind == PlayerSpectator {
		slot.claimed = false
		return
	}
	if ev.Kind == protocol.EventDisconnected && handle.Kind != PlayerSpectator {
		s.conns.Disconnect(handle.queue, s.currentFrame)
	}

	s.handler.OnPeerEvent(handle, PeerEvent{
		Kind:    translateEventKind(ev.Kind),
		Step:    ev.Step,
		Total:   ev.Total,
		Ping:    int64(ev.Ping),
		Timeout: int64(ev.Timeout),
	})
}

func translateEventKind(k protocol.EventKind) PeerEventKind {
	switch k {
	case protocol.EventConnected:
		return PeerConnected
	case protocol.EventSynchronizing:
		return PeerSynchronizing
	case protocol.EventSynchronized:
		return PeerSynchronized
	case protocol.EventNetworkInterrupted:
		return PeerNetworkInterrupted
	case protocol.EventNetworkResumed:
		return PeerNetworkResumed
	case protocol.EventDisconnected:
		return PeerDisconnected
	default:
		return PeerSyncFailure
	}
}

func (s *Session[T]) updatePeers(now time.Time) {
	wireStatuses := make([]wire.PeerConnectStatus, len(s.players))
	var disconnectMask uint16
	for i := range s.players {
		slot := s.conns.Get(i)
		wireStatuses[i] = wire.PeerConnectStatus{LastFrame: int32(slot.LastFrame), Disconnected: slot.Disconnected}
		if slot.Disconnected {
			disconnectMask |= 1 << uint(i)
		}
	}

	for i := range s.players {
		if p := s.players[i].peer; p != nil {
			p.Update(now, wireStatuses, disconnectMask)
		}
	}
	for i := range s.spectators {
		if s.spectators[i].claimed {
			s.spectators[i].peer.Update(now, wireStatuses, disconnectMask)
		}
	}
}

func (s *Session[T]) checkInitialSyncGate() {
	if !s.isSynchronizing {
		return
	}
	allRunning := true
	for i := range s.players {
		slot := &s.players[i]
		if slot.peer == nil {
			continue
		}
		if slot.peer.Status() != peer.StatusRunning {
			allRunning = false
			break
		}
	}
	if allRunning {
		for i := range s.spectators {
			if s.spectators[i].claimed && s.spectators[i].peer.Status() != peer.StatusRunning {
				allRunning = false
				break
			}
		}
	}
	if allRunning {
		s.isSynchronizing = false
		s.handler.OnSessionStart()
	}
}

// computeMinConfirmedFrame handles the N-player case uniformly: a frame is
// confirmed only once every non-disconnected queue's local progress and
// every other peer's reported view of that queue agree it has been reached.
func (s *Session[T]) computeMinConfirmedFrame() Frame {
	min := s.currentFrame.Previous()
	for i := range s.players {
		slot := s.conns.Get(i)
		if slot.Disconnected {
			continue
		}
		if slot.LastFrame.IsNull() {
			return NullFrame
		}
		if slot.LastFrame < min {
			min = slot.LastFrame
		}
	}
	for i := range s.players {
		p := s.players[i].peer
		if p == nil {
			continue
		}
		for j, st := range p.ConnectStatus() {
			if j >= len(s.players) || st.Disconnected {
				continue
			}
			remoteView := Frame(st.LastFrame)
			if remoteView.IsNull() {
				return NullFrame
			}
			if remoteView < min {
				min = remoteView
			}
		}
	}
	return min
}

func (s *Session[T]) publishConfirmedInputs(upTo Frame) {
	if upTo.IsNull() {
		return
	}
	if len(s.spectators) == 0 && s.listener == nil && len(s.relays) == 0 {
		s.nextSpectatorFrame = upTo.Next()
		return
	}
	for f := s.nextSpectatorFrame; f <= upTo; f = f.Next() {
		buf := make([]T, len(s.players))
		s.sync.ConfirmedInputsAt(f, buf) // called before SetLastConfirmedFrame discards f
		confirmed := ConfirmedInputs[T]{Frame: f, Count: len(buf)}
		copy(confirmed.Inputs[:], buf)

		if s.listener != nil {
			s.listener(confirmed)
		}
		payload := make([]byte, 0, binarycodec.Size[T]()*len(buf))
		for _, v := range buf {
			payload = append(payload, binarycodec.Encode(v)...)
		}
		for i := range s.spectators {
			if p := s.spectators[i].peer; p != nil {
				p.SendInput(int32(f), payload)
			}
		}
		for _, r := range s.relays {
			r.Publish(int32(f), payload)
		}
	}
	s.nextSpectatorFrame = upTo.Next()
}

func (s *Session[T]) reportTelemetry(now time.Time) {
	if s.telemetryReporter == nil || s.opts.TelemetryReportInterval <= 0 {
		return
	}
	if !s.lastTelemetry.IsZero() && now.Sub(s.lastTelemetry) < s.opts.TelemetryReportInterval {
		return
	}
	s.lastTelemetry = now

	snapshots := make([]telemetry.Snapshot, 0, len(s.players))
	for i := range s.players {
		p := s.players[i].peer
		if p == nil {
			continue
		}
		stats := p.NetworkStats()
		snapshots = append(snapshots, telemetry.Snapshot{
			PeerNumber:           s.players[i].number,
			RoundTripTime:        stats.RoundTripTime,
			LocalFrameAdvantage:  stats.LocalFrameAdvantage,
			RemoteFrameAdvantage: stats.RemoteFrameAdvantage,
			LastReceivedFrame:    stats.LastReceivedInputFrame,
		})
	}
	go s.telemetryReporter.Report(context.Background(), snapshots)
}

// GetNetworkStats reports a remote peer's current quality metrics.
func (s *Session[T]) GetNetworkStats(handle PlayerHandle) (peer.Stats, ResultCode) {
	slot, ok := s.resolvePlayer(handle)
	if !ok || slot.peer == nil {
		return peer.Stats{}, InvalidPlayerHandle
	}
	return slot.peer.NetworkStats(), Ok
}

// DisconnectPlayer forces handle's queue disconnected as of the queue's last
// known frame and, if that frame precedes the current one, rolls the
// simulation back to it.
func (s *Session[T]) DisconnectPlayer(handle PlayerHandle) ResultCode {
	slot, ok := s.resolvePlayer(handle)
	if !ok {
		return InvalidPlayerHandle
	}
	if handle.Kind == PlayerSpectator {
		slot.claimed = false
		if slot.peer != nil {
			slot.peer.Disconnect()
		}
		return Ok
	}

	syncTo := s.conns.Get(handle.queue).LastFrame
	s.conns.Disconnect(handle.queue, syncTo)
	if slot.peer != nil {
		slot.peer.Disconnect()
	}
	if syncTo.Before(s.currentFrame) {
		if err := s.sync.AdjustSimulation(syncTo); err != nil {
			s.log.Error(err, "adjust_simulation failed on disconnect")
		}
	}
	return Ok
}

// SetFrameDelay sets the local input delay applied to handle's queue.
func (s *Session[T]) SetFrameDelay(handle PlayerHandle, delay int) ResultCode {
	if handle.Kind != PlayerLocal {
		return InvalidPlayerHandle
	}
	if _, ok := s.resolvePlayer(handle); !ok {
		return PlayerOutOfRange
	}
	s.sync.SetFrameDelay(handle.queue, delay)
	return Ok
}

// receiveLoop is the sole I/O worker goroutine: it reads datagrams off the
// transport and dispatches them to the originating peer's inbox. Grounded
// on the cooperative-cancellation receive loop shape in
// _examples/runningwild-pnf/core/communicator.go's connRoutine, adapted
// from a channel-fan-in of typed frame bundles to a single shared transport
// demultiplexed by sender address.
func (s *Session[T]) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := s.tr.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return err
		}
		raw, addr, err := s.tr.ReadFrom()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			continue
		}
		now := time.Now()
		if p := s.peerForAddr(addr); p != nil {
			p.HandlePacket(raw, now)
		}
	}
}

func (s *Session[T]) peerForAddr(addr string) *peer.PeerConnection {
	for i := range s.players {
		if s.players[i].peer != nil && s.players[i].address == addr {
			return s.players[i].peer
		}
	}
	for i := range s.spectators {
		if s.spectators[i].claimed && s.spectators[i].address == addr {
			return s.spectators[i].peer
		}
	}
	return nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

// Close stops the background I/O worker and the transport, combining any
// teardown errors.
func (s *Session[T]) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.bgCancel()
	s.background.Stop()
	err := s.tr.Close()
	s.handler.OnSessionClose()
	return multierr.Append(err, nil)
}
