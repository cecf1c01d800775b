package backgroundjob

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManagerThrowIfErrorLatchesFirstError(t *testing.T) {
	m := New()
	done := make(chan struct{})

	m.Start(context.Background(), func(ctx context.Context) error {
		close(done)
		return errors.New("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}

	// Give the goroutine a moment to record the error before polling.
	var err error
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if err = m.ThrowIfError(); err != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err == nil || err.Error() != "boom" {
		t.Fatalf("ThrowIfError() = %v, want \"boom\"", err)
	}

	// Latched error is cleared once returned.
	if err := m.ThrowIfError(); err != nil {
		t.Fatalf("ThrowIfError() second call = %v, want nil", err)
	}
}

func TestManagerStopCancelsAndWaits(t *testing.T) {
	m := New()
	started := make(chan struct{})
	returned := make(chan struct{})

	m.Start(context.Background(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(returned)
		return nil
	})

	<-started
	m.Stop()

	select {
	case <-returned:
	default:
		t.Fatal("expected the job to have observed cancellation and returned by the time Stop() returns")
	}
}

func TestManagerNoErrorIsNilByDefault(t *testing.T) {
	m := New()
	if err := m.ThrowIfError(); err != nil {
		t.Fatalf("ThrowIfError() on an idle Manager = %v, want nil", err)
	}
}
