// Package syncproto applies fetch and update operations to the note store and fans updates out to subscribers.
package syncproto

import (
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/astromechza/notesync/pkg/notes"
	"github.com/astromechza/notesync/pkg/registry"
)

// laneCount is the number of update lanes. Updates for one note always share a lane.
const laneCount = 64

type Registry interface {
	Join(noteID string, s registry.Subscriber)
	Leave(noteID string, s registry.Subscriber)
	Broadcast(noteID string, msg []byte, excludeSession string) int
}

type SaveRequester interface {
	Request()
}

type Handler struct {
	store  *notes.Store
	subs   Registry
	saver  SaveRequester
	logger *slog.Logger

	lanes [laneCount]sync.Mutex
}

func NewHandler(store *notes.Store, subs Registry, saver SaveRequester, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, subs: subs, saver: saver, logger: logger}
}

func (h *Handler) lane(noteID string) *sync.Mutex {
	return &h.lanes[xxhash.Sum64String(noteID)%laneCount]
}

// Fetch returns the current note, creating it empty on first sight.
func (h *Handler) Fetch(noteID string) (notes.Note, error) {
	return h.store.Get(noteID)
}

// Update replaces the note content, schedules a save and broadcasts the change to every subscriber except
// the sender session. Updates to one note are accepted and broadcast in a single order.
func (h *Handler) Update(noteID string, content string, sender string) (notes.Note, error) {
	if err := notes.ValidateID(noteID); err != nil {
		return notes.Note{}, err
	}

	l := h.lane(noteID)
	l.Lock()
	defer l.Unlock()

	n, err := h.store.Update(noteID, content)
	if err != nil {
		return notes.Note{}, err
	}
	if h.saver != nil {
		h.saver.Request()
	}

	msg, err := contentMessage(TypeContentUpdate, n, sender)
	if err != nil {
		h.logger.Error("failed to encode broadcast", "note", noteID, "err", err)
		return n, nil
	}
	delivered := h.subs.Broadcast(noteID, msg, sender)
	h.logger.Debug("accepted update", "note", noteID, "sender", sender, "bytes", len(content), "delivered", delivered)
	return n, nil
}

// pushContent queues the current note as an initial_content message for s. It holds the note's lane so the
// message can not be ordered after a newer broadcast.
func (h *Handler) pushContent(noteID string, s registry.Subscriber, join bool) (notes.Note, error) {
	l := h.lane(noteID)
	l.Lock()
	defer l.Unlock()

	if join {
		// join before touching the store so the sweeper sees a subscriber for any note we hand out
		h.subs.Join(noteID, s)
	}
	n, err := h.store.Get(noteID)
	if err != nil {
		return notes.Note{}, err
	}
	msg, err := contentMessage(TypeInitialContent, n, s.SessionID())
	if err != nil {
		return n, err
	}
	return n, s.Send(msg)
}
