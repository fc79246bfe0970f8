// Package registry tracks which live subscribers are attached to which note.
package registry

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/astromechza/notesync/pkg/metrics"
)

// ErrDelivery is wrapped by a Subscriber whose channel can no longer accept messages.
var ErrDelivery = errors.New("delivery failure")

// Subscriber is one live connection. Send must not block; it either queues msg or fails with ErrDelivery.
type Subscriber interface {
	SessionID() string
	Send(msg []byte) error
}

// Registry holds, per note id, the set of subscribers. A subscriber belongs to at most one note at a time.
type Registry struct {
	mu     sync.RWMutex
	notes  map[string]map[Subscriber]struct{}
	owners map[Subscriber]string
	logger *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		notes:  make(map[string]map[Subscriber]struct{}),
		owners: make(map[Subscriber]string),
		logger: logger,
	}
}

// Join adds s to the subscribers of noteID, moving it away from any note it was previously joined to.
func (r *Registry) Join(noteID string, s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.owners[s]; ok {
		if current == noteID {
			return
		}
		r.remove(current, s)
	}
	set, ok := r.notes[noteID]
	if !ok {
		set = make(map[Subscriber]struct{})
		r.notes[noteID] = set
	}
	set[s] = struct{}{}
	r.owners[s] = noteID
	metrics.Subscribers.Inc()
}

// Leave removes s from noteID. It is a no-op when s is not joined there.
func (r *Registry) Leave(noteID string, s Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.owners[s]; ok && current == noteID {
		r.remove(noteID, s)
	}
}

func (r *Registry) remove(noteID string, s Subscriber) {
	set := r.notes[noteID]
	delete(set, s)
	if len(set) == 0 {
		delete(r.notes, noteID)
	}
	delete(r.owners, s)
	metrics.Subscribers.Dec()
}

// Broadcast sends msg to every subscriber of noteID whose session is not excludeSession. Subscribers that
// fail to accept the message are skipped. It returns the number of successful deliveries.
func (r *Registry) Broadcast(noteID string, msg []byte, excludeSession string) int {
	r.mu.RLock()
	targets := make([]Subscriber, 0, len(r.notes[noteID]))
	for s := range r.notes[noteID] {
		if excludeSession != "" && s.SessionID() == excludeSession {
			continue
		}
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if err := s.Send(msg); err != nil {
			metrics.Deliveries.WithLabelValues("skipped").Inc()
			r.logger.Debug("skipped delivery", "note", noteID, "session", s.SessionID(), "err", err)
			continue
		}
		delivered++
		metrics.Deliveries.WithLabelValues("delivered").Inc()
	}
	return delivered
}

func (r *Registry) IsEmpty(noteID string) bool {
	return r.Count(noteID) == 0
}

func (r *Registry) Count(noteID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notes[noteID])
}

// Len is the number of subscribers across all notes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
