package notes

import (
	"iter"
	"sync"
	"time"

	"github.com/astromechza/notesync/pkg/metrics"
)

// Store maps note identifiers to their current state. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	notes map[string]Note
	now   func() time.Time
}

type StoreOption func(*Store)

// WithClock replaces time.Now as the source of LastUpdated stamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore builds a store seeded from a previously loaded snapshot. Entries with invalid identifiers are dropped.
func NewStore(initial Snapshot, opts ...StoreOption) *Store {
	s := &Store{
		notes: make(map[string]Note, len(initial)),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for id, n := range initial {
		if ValidateID(id) != nil {
			continue
		}
		n.LastUpdated = Stamp(n.LastUpdated)
		s.notes[id] = n
	}
	metrics.Notes.Set(float64(len(s.notes)))
	return s
}

// Get returns the note for id, creating an empty one if it has never been seen.
func (s *Store) Get(id string) (Note, error) {
	if err := ValidateID(id); err != nil {
		return Note{}, err
	}

	s.mu.RLock()
	n, ok := s.notes[id]
	s.mu.RUnlock()
	if ok {
		return n, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.notes[id]; ok {
		return n, nil
	}
	n = Note{LastUpdated: Stamp(s.now())}
	s.notes[id] = n
	metrics.Notes.Inc()
	return n, nil
}

// Lookup returns the note for id without creating it.
func (s *Store) Lookup(id string) (Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	return n, ok
}

// Update replaces the content of id and stamps it with the current time. The stamp is always strictly later than
// the previous one for id. It is the only mutation path for a note.
func (s *Store) Update(id string, content string) (Note, error) {
	if err := ValidateID(id); err != nil {
		return Note{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := Stamp(s.now())
	prev, ok := s.notes[id]
	if !ok {
		metrics.Notes.Inc()
	} else if !stamp.After(prev.LastUpdated) {
		// same millisecond as the previous stamp, or the wall clock went backwards
		stamp = prev.LastUpdated.Add(time.Millisecond)
	}
	n := Note{Content: content, LastUpdated: stamp}
	s.notes[id] = n
	return n, nil
}

// Remove deletes id. Removing an absent note is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; ok {
		delete(s.notes, id)
		metrics.Notes.Dec()
	}
}

// RemoveIf deletes id only when evict returns true for its current state, evaluated under the store lock.
func (s *Store) RemoveIf(id string, evict func(Note) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notes[id]
	if !ok || !evict(n) {
		return false
	}
	delete(s.notes, id)
	metrics.Notes.Dec()
	return true
}

// Snapshot copies every note. The copy is detached from later mutations.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.notes))
	for id, n := range s.notes {
		out[id] = n
	}
	return out
}

// All iterates over a snapshot taken when iteration starts. Order is unspecified.
func (s *Store) All() iter.Seq2[string, Note] {
	return func(yield func(string, Note) bool) {
		for id, n := range s.Snapshot() {
			if !yield(id, n) {
				return
			}
		}
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes)
}
