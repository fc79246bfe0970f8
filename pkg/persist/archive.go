package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/notesync/pkg/notes"
)

const (
	archiveContentKey     = "content"
	archiveLastUpdatedKey = "lastUpdated"
)

// ArchiveGateway stores the snapshot as an automerge document whose root map holds one
// {content, lastUpdated} map per note. Every save that changes something is one commit, so the
// file also carries the history of saves.
type ArchiveGateway struct {
	path   string
	logger *slog.Logger

	mu  sync.Mutex
	doc *automerge.Doc
}

func NewArchiveGateway(path string, logger *slog.Logger) *ArchiveGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveGateway{path: path, logger: logger}
}

// LoadArchive opens an archive file for offline inspection.
func LoadArchive(path string) (*automerge.Doc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive: %w", err)
	}
	return doc, nil
}

// ReadArchive extracts the notes held in the root map of an archive document.
func ReadArchive(doc *automerge.Doc) (notes.Snapshot, error) {
	root := doc.RootMap()
	keys, err := root.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	out := make(notes.Snapshot, len(keys))
	for _, id := range keys {
		v, err := root.Get(id)
		if err != nil {
			return nil, fmt.Errorf("failed to read note %s: %w", id, err)
		}
		if v.Kind() != automerge.KindMap {
			return nil, fmt.Errorf("note %s is a %v, not a map", id, v.Kind())
		}
		m := v.Map()
		content, err := automerge.As[string](m.Get(archiveContentKey))
		if err != nil {
			return nil, fmt.Errorf("failed to read content of %s: %w", id, err)
		}
		millis, err := automerge.As[int64](m.Get(archiveLastUpdatedKey))
		if err != nil {
			return nil, fmt.Errorf("failed to read lastUpdated of %s: %w", id, err)
		}
		out[id] = notes.Note{Content: content, LastUpdated: notes.Stamp(time.UnixMilli(millis))}
	}
	return out, nil
}

func (g *ArchiveGateway) Load(_ context.Context) (notes.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	doc, err := LoadArchive(g.path)
	if errors.Is(err, fs.ErrNotExist) {
		g.doc = automerge.New()
		return notes.Snapshot{}, nil
	} else if err != nil {
		g.doc = automerge.New()
		return nil, failure("load archive", err)
	}
	out, err := ReadArchive(doc)
	if err != nil {
		g.doc = automerge.New()
		return nil, failure("read archive", err)
	}
	g.doc = doc
	return keepValid(g.logger, out), nil
}

func (g *ArchiveGateway) Save(_ context.Context, snapshot notes.Snapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.doc == nil {
		if doc, err := LoadArchive(g.path); err == nil {
			g.doc = doc
		} else {
			g.doc = automerge.New()
		}
	}

	previous, err := ReadArchive(g.doc)
	if err != nil {
		// unreadable history is replaced rather than merged
		g.doc = automerge.New()
		previous = notes.Snapshot{}
	}

	root := g.doc.RootMap()
	changed := 0
	for id, n := range snapshot {
		if old, ok := previous[id]; ok && old.Content == n.Content && old.LastUpdated.Equal(n.LastUpdated) {
			continue
		}
		if err := root.Set(id, map[string]interface{}{
			archiveContentKey:     n.Content,
			archiveLastUpdatedKey: n.LastUpdated.UnixMilli(),
		}); err != nil {
			return failure("set note "+id, err)
		}
		changed++
	}
	for id := range previous {
		if _, ok := snapshot[id]; ok {
			continue
		}
		if err := root.Delete(id); err != nil {
			return failure("delete note "+id, err)
		}
		changed++
	}

	if changed == 0 {
		if _, err := os.Stat(g.path); err == nil {
			return nil
		}
	}
	if _, err := g.doc.Commit(fmt.Sprintf("save %d notes", len(snapshot)), automerge.CommitOptions{AllowEmpty: true}); err != nil {
		return failure("commit", err)
	}
	if err := writeFileAtomic(g.path, g.doc.Save(), 0o644); err != nil {
		return failure("write archive", err)
	}
	g.logger.Debug("saved archive", "changed", changed, "heads", g.doc.Heads())
	return nil
}

func (g *ArchiveGateway) Close() error {
	return nil
}
