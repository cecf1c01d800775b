package rollback

import "testing"

// fakeCallbacks is a minimal Callbacks[int] recorder: state is just the
// frame number being saved/loaded, and AdvanceFrame is a no-op counter.
type fakeCallbacks struct {
	saves    []Frame
	loads    []Frame
	advances int
}

func (f *fakeCallbacks) SaveState(frame Frame) ([]byte, uint32) {
	f.saves = append(f.saves, frame)
	return []byte{byte(frame)}, uint32(frame)
}

func (f *fakeCallbacks) LoadState(frame Frame, data []byte) {
	f.loads = append(f.loads, frame)
}

func (f *fakeCallbacks) AdvanceFrame() { f.advances++ }

func newTestSynchronizer(predictionFrames int) (*Synchronizer[int], *fakeCallbacks) {
	cb := &fakeCallbacks{}
	conns := NewConnectionsState(2)
	sync := New[int](Config{NumPlayers: 2, PredictionFrames: predictionFrames, InputQueueLength: 32}, conns, cb)
	return sync, cb
}

func TestSynchronizerConfirmedRoundTrip(t *testing.T) {
	sync, cb := newTestSynchronizer(8)

	adjusted, ok := sync.AddLocalInput(0, 100)
	if !ok || adjusted != ZeroFrame {
		t.Fatalf("AddLocalInput = (%d, %v), want (0, true)", adjusted, ok)
	}
	sync.AddRemoteInput(1, GameInput[int]{Frame: ZeroFrame, Data: 200})

	out := make([]int, 2)
	sync.SynchronizeInputs(out)
	if out[0] != 100 || out[1] != 200 {
		t.Fatalf("SynchronizeInputs = %v, want [100 200]", out)
	}

	if len(cb.saves) != 1 || cb.saves[0] != ZeroFrame {
		t.Fatalf("expected exactly one SaveState(0) from bootstrapping frame zero, got %v", cb.saves)
	}

	sync.SetLastConfirmedFrame(ZeroFrame)
	sync.IncrementFrame()

	if sync.CurrentFrame() != Frame(1) {
		t.Fatalf("CurrentFrame() = %d, want 1", sync.CurrentFrame())
	}
	if len(cb.saves) != 2 || cb.saves[1] != Frame(1) {
		t.Fatalf("expected a second SaveState(1) from IncrementFrame, got %v", cb.saves)
	}
}

func TestSynchronizerAddLocalInputPredictionThreshold(t *testing.T) {
	sync, _ := newTestSynchronizer(2)

	sync.AddLocalInput(0, 1)
	sync.AddRemoteInput(1, GameInput[int]{Frame: ZeroFrame, Data: 1})
	sync.IncrementFrame() // currentFrame=1, still unconfirmed (SetLastConfirmedFrame never called)
	sync.IncrementFrame() // currentFrame=2

	_, ok := sync.AddLocalInput(0, 2)
	if ok {
		t.Fatal("expected AddLocalInput to refuse once framesBehind reaches PredictionFrames without confirmation")
	}
}

func TestSynchronizerCheckSimulationRollsBackOnMispredict(t *testing.T) {
	sync, cb := newTestSynchronizer(8)

	// Frame 0: confirmed for both queues.
	sync.AddLocalInput(0, 10)
	sync.AddRemoteInput(1, GameInput[int]{Frame: ZeroFrame, Data: 200})
	buf := make([]int, 2)
	sync.SynchronizeInputs(buf)
	sync.SetLastConfirmedFrame(ZeroFrame)
	sync.IncrementFrame() // currentFrame=1

	// Frame 1: local arrives, remote does not yet -> queue 1 predicts 200.
	sync.AddLocalInput(0, 11)
	sync.SynchronizeInputs(buf)
	sync.IncrementFrame() // currentFrame=2

	// Frame 2: local arrives, remote still missing -> queue 1 predicts 200 again.
	sync.AddLocalInput(0, 12)
	sync.SynchronizeInputs(buf)
	sync.IncrementFrame() // currentFrame=3

	loadsBefore := len(cb.loads)
	advancesBefore := cb.advances

	// The real frame-1 remote input finally arrives and disagrees with the
	// 200 that was predicted for it.
	sync.AddRemoteInput(1, GameInput[int]{Frame: Frame(1), Data: 999})

	if got := sync.Queue(1).FirstIncorrectFrame(); got != Frame(1) {
		t.Fatalf("FirstIncorrectFrame() = %d, want 1", got)
	}

	if err := sync.CheckSimulation(); err != nil {
		t.Fatalf("CheckSimulation() returned unexpected error: %v", err)
	}

	if got := sync.CurrentFrame(); got != Frame(3) {
		t.Fatalf("CurrentFrame() after rollback replay = %d, want back at 3", got)
	}
	if len(cb.loads)-loadsBefore != 1 {
		t.Fatalf("expected exactly one LoadState during the rollback, got %d", len(cb.loads)-loadsBefore)
	}
	if cb.loads[len(cb.loads)-1] != Frame(1) {
		t.Fatalf("LoadState target = %d, want 1 (the mispredicted frame)", cb.loads[len(cb.loads)-1])
	}
	if got := cb.advances - advancesBefore; got != 2 {
		t.Fatalf("expected AdvanceFrame called twice while replaying frames 1->3, got %d", got)
	}
	if sync.InRollback() {
		t.Fatal("InRollback() should be false again once CheckSimulation returns")
	}
}

func TestSynchronizerAdjustSimulationOverrunError(t *testing.T) {
	sync, _ := newTestSynchronizer(2) // prediction horizon of 2, store capacity 4

	sync.AddLocalInput(0, 1) // bootstraps a save at frame 0
	sync.IncrementFrame()    // 1
	sync.IncrementFrame()    // 2
	sync.IncrementFrame()    // 3

	err := sync.AdjustSimulation(ZeroFrame)
	if err == nil {
		t.Fatal("expected a RollbackOverrunError rolling back 3 frames with a 2-frame prediction horizon")
	}
	if _, ok := err.(*RollbackOverrunError); !ok {
		t.Fatalf("expected *RollbackOverrunError, got %T: %v", err, err)
	}
}

func TestConnectionsStateDisconnectAndReconnect(t *testing.T) {
	c := NewConnectionsState(2)
	c.Disconnect(0, Frame(5))
	if slot := c.Get(0); !slot.Disconnected || slot.LastFrame != Frame(5) {
		t.Fatalf("Get(0) after Disconnect = %+v, want Disconnected=true LastFrame=5", slot)
	}

	c.Reconnect(0)
	if slot := c.Get(0); slot.Disconnected || slot.LastFrame != NullFrame {
		t.Fatalf("Get(0) after Reconnect = %+v, want Disconnected=false LastFrame=Null", slot)
	}
}
