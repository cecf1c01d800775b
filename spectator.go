package backdash

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/Getup98/Backdash/internal/backgroundjob"
	"github.com/Getup98/Backdash/internal/binarycodec"
	"github.com/Getup98/Backdash/internal/peer"
	"github.com/Getup98/Backdash/internal/protocol"
	"github.com/Getup98/Backdash/internal/transport"
	"github.com/Getup98/Backdash/internal/wire"
)

// SpectatorSession is the single-upstream-peer variant described in spec
// §4.7: it maps the same host-facing calls as Session but has no rollback
// (every batch it receives from its one upstream is already confirmed) and
// buffers arriving batches by frame number so it can serve them to the host
// strictly in order even if the upstream's own resend cadence delivers them
// out of order.
type SpectatorSession[T comparable] struct {
	log        logr.Logger
	tr         transport.Transport
	handler    Handler
	numPlayers int

	upstream *peer.PeerConnection

	background *backgroundjob.Manager
	bgCancel   context.CancelFunc

	isSynchronizing bool
	closed          bool

	nextFrame Frame
	pending   map[int32][]T
}

// NewSpectatorSession creates a SpectatorSession that dials upstreamAddr as
// its sole peer, expecting confirmed-input batches for numPlayers players.
func NewSpectatorSession[T comparable](opts Options, tr transport.Transport, upstreamAddr string, numPlayers int, handler Handler) *SpectatorSession[T] {
	log := defaultLogger(opts.Logger)

	cfg := peer.Config{
		LocalMagic:            uint16(rand.Uint32()),
		InputSize:             binarycodec.Size[T]() * numPlayers,
		MaxPending:            opts.MaxPendingInputs,
		SendLatency:           opts.SendLatency,
		SyncPackets:           opts.SyncPackets,
		HandshakeTimeout:      opts.HandshakeTimeout,
		FPS:                   opts.FPS,
		KeepAliveInterval:     opts.KeepAliveInterval,
		QualityReportInterval: opts.QualityReportInterval,
		DisconnectNotifyStart: opts.DisconnectNotifyStart,
		DisconnectTimeout:     opts.DisconnectTimeout,
	}

	s := &SpectatorSession[T]{
		log:             log,
		tr:              tr,
		handler:         handler,
		numPlayers:      numPlayers,
		upstream:        peer.New(log, cfg, tr, upstreamAddr),
		background:      backgroundjob.New(),
		isSynchronizing: true,
		nextFrame:       ZeroFrame,
		pending:         make(map[int32][]T),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel
	s.background.Start(ctx, s.receiveLoop)
	return s
}

func (s *SpectatorSession[T]) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := s.tr.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return err
		}
		raw, _, err := s.tr.ReadFrom()
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
		s.upstream.HandlePacket(raw, time.Now())
	}
}

// BeginFrame drains the upstream connection: newly arrived confirmed
// batches are decoded and staged by frame number, and Running is watched
// for the initial sync gate.
func (s *SpectatorSession[T]) BeginFrame() error {
	if err := s.background.ThrowIfError(); err != nil {
		return err
	}
	if s.closed {
		return nil
	}

	for drained := false; !drained; {
		select {
		case arrival := <-s.upstream.Arrivals():
			s.pending[arrival.Frame] = decodeConfirmedPayload[T](arrival.Payload, s.numPlayers)
		default:
			drained = true
		}
	}

	for drained := false; !drained; {
		select {
		case ev := <-s.upstream.Events():
			if ev.Kind == protocol.EventSyncFailure {
				s.handler.OnPeerEvent(PlayerHandle{Kind: PlayerRemote}, PeerEvent{Kind: PeerSyncFailure})
				continue
			}
			s.handler.OnPeerEvent(PlayerHandle{Kind: PlayerRemote}, PeerEvent{
				Kind: translateEventKind(ev.Kind), Step: ev.Step, Total: ev.Total,
				Ping: int64(ev.Ping), Timeout: int64(ev.Timeout),
			})
		default:
			drained = true
		}
	}

	s.upstream.Update(time.Now(), []wire.PeerConnectStatus{}, 0)

	if s.isSynchronizing && s.upstream.Status() == peer.StatusRunning {
		s.isSynchronizing = false
		s.handler.OnSessionStart()
	}
	return nil
}

func decodeConfirmedPayload[T comparable](payload []byte, numPlayers int) []T {
	size := binarycodec.Size[T]()
	out := make([]T, numPlayers)
	for i := 0; i < numPlayers && (i+1)*size <= len(payload); i++ {
		out[i] = binarycodec.Decode[T](payload[i*size : (i+1)*size])
	}
	return out
}

// SynchronizeInputs copies the next in-order confirmed batch into out, or
// returns NotSynchronized if it has not arrived yet.
func (s *SpectatorSession[T]) SynchronizeInputs(out []T) ResultCode {
	if s.isSynchronizing {
		return NotSynchronized
	}
	data, ok := s.pending[int32(s.nextFrame)]
	if !ok {
		return NotSynchronized
	}
	copy(out, data)
	return Ok
}

// AdvanceFrame moves to the next frame, discarding its buffered batch.
func (s *SpectatorSession[T]) AdvanceFrame() ResultCode {
	if s.isSynchronizing {
		return NotSynchronized
	}
	delete(s.pending, int32(s.nextFrame))
	s.nextFrame = s.nextFrame.Next()
	return Ok
}

// Close stops the background receive loop and the transport.
func (s *SpectatorSession[T]) Close() error {
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
