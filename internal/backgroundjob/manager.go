// Package backgroundjob drives long-running I/O tasks off the host frame
// thread: exactly one worker goroutine per registered transport, receiving
// datagrams and dispatching them to callers, with errors latched for the
// host thread to observe on its own schedule instead of surfacing
// asynchronously.
package backgroundjob

import (
	"context"
	"sync"
)

// Manager runs one dispatch function per Start call in its own goroutine
// and latches the first error it returns.
type Manager struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	err     error
	cancels []context.CancelFunc
}

// New creates an empty Manager.
func New() *Manager { return &Manager{} }

// Start launches fn in a new goroutine, deriving its context from parent so
// Stop can request cooperative cancellation. fn should return promptly
// after ctx is cancelled.
func (m *Manager) Start(parent context.Context, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(parent)
	m.mu.Lock()
	m.cancels = append(m.cancels, cancel)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := fn(ctx); err != nil {
			m.mu.Lock()
			if m.err == nil {
				m.err = err
			}
			m.mu.Unlock()
		}
	}()
}

// ThrowIfError returns and clears the first latched background error, if
// any, so it surfaces synchronously on the next host call rather than
// asynchronously from the worker goroutine.
func (m *Manager) ThrowIfError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.err
	m.err = nil
	return err
}

// Stop cancels every running job and blocks until all of them return.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancels := m.cancels
	m.cancels = nil
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.wg.Wait()
}
