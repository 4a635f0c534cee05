package orchestrator

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

var ErrShuttingDown = errors.New("supervisor is shutting down")

// Supervisor owns every pipeline goroutine. It bounds how many run at once,
// knows which sessions are still owned by a live task, and cancels and drains
// them on shutdown.
type Supervisor struct {
	slots  *semaphore.Weighted
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	live   map[string]struct{}
	closed bool
}

// NewSupervisor returns a supervisor running at most maxConcurrent tasks at a
// time. Zero or less means no limit.
func NewSupervisor(maxConcurrent int) *Supervisor {
	base, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		base:   base,
		cancel: cancel,
		live:   make(map[string]struct{}),
	}
	if maxConcurrent > 0 {
		s.slots = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return s
}

// Submit schedules task for session id. The task waits for a free slot and is
// handed an already cancelled context if shutdown starts before it gets one.
// Cancelled tasks still hold a slot while they run.
func (s *Supervisor) Submit(id string, task func(context.Context)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	s.live[id] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.release(id)
		if s.slots != nil {
			if err := s.slots.Acquire(s.base, 1); err != nil {
				// Shutdown started. The task still runs with the cancelled
				// context, but only once a slot frees up.
				_ = s.slots.Acquire(context.Background(), 1)
			}
			defer s.slots.Release(1)
		}
		task(s.base)
	}()
	return nil
}

func (s *Supervisor) release(id string) {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
}

// Owns reports whether a task for id is queued or running.
func (s *Supervisor) Owns(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[id]
	return ok
}

func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Shutdown refuses new work, cancels running tasks and waits for them to
// return or for ctx to end.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
