package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/povchingiz/google-meet-recording/internal/model"
)

type memoryEntry struct {
	mu      sync.Mutex
	seq     uint64
	sess    *model.Session
	removed bool
}

// MemoryStore keeps sessions in process. The registry lock only guards
// membership; each entry carries its own lock for updates.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	seq     uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Create(_ context.Context, sess *model.Session) (string, error) {
	rec := sess.Clone()
	rec.ID = uuid.NewString()
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.entries[rec.ID] = &memoryEntry{seq: s.seq, sess: rec}
	return rec.ID, nil
}

func (s *MemoryStore) lookup(id string) (*memoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, ErrNotFound
	}
	return e.sess.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn Mutator) (*model.Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, ErrNotFound
	}
	next, err := mutate(e.sess, fn)
	if err != nil {
		return nil, err
	}
	e.sess = next
	return next.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*model.Session, error) {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]*model.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.sess.Clone())
		}
		e.mu.Unlock()
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	// An update already holding the entry lock finishes first; later ones
	// observe removed and report ErrNotFound.
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	return nil
}
