package persist

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/astromechza/notesync/pkg/notes"
)

// FileGateway stores the snapshot as one JSON object mapping note id to {content, lastUpdated}.
type FileGateway struct {
	path   string
	logger *slog.Logger
}

type fileRecord struct {
	Content     string    `json:"content"`
	LastUpdated time.Time `json:"lastUpdated"`
}

func NewFileGateway(path string, logger *slog.Logger) *FileGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileGateway{path: path, logger: logger}
}

func (g *FileGateway) Load(_ context.Context) (notes.Snapshot, error) {
	raw, err := os.ReadFile(g.path)
	if errors.Is(err, fs.ErrNotExist) {
		return notes.Snapshot{}, nil
	} else if err != nil {
		return nil, failure("read snapshot file", err)
	}

	records := make(map[string]fileRecord)
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, failure("decode snapshot file", err)
	}
	out := make(notes.Snapshot, len(records))
	for id, r := range records {
		out[id] = notes.Note{Content: r.Content, LastUpdated: notes.Stamp(r.LastUpdated)}
	}
	return keepValid(g.logger, out), nil
}

func (g *FileGateway) Save(_ context.Context, snapshot notes.Snapshot) error {
	records := make(map[string]fileRecord, len(snapshot))
	for id, n := range snapshot {
		records[id] = fileRecord{Content: n.Content, LastUpdated: n.LastUpdated}
	}
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return failure("encode snapshot file", err)
	}
	if err := writeFileAtomic(g.path, raw, 0o644); err != nil {
		return failure("write snapshot file", err)
	}
	return nil
}

func (g *FileGateway) Close() error {
	return nil
}
