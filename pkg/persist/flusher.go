package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/astromechza/notesync/pkg/metrics"
	"github.com/astromechza/notesync/pkg/notes"
)

type SnapshotSource interface {
	Snapshot() notes.Snapshot
}

// Flusher writes snapshots of a source through a gateway: promptly after Request and on a fixed interval.
// Saves never overlap, so an older snapshot can not overwrite a newer one.
type Flusher struct {
	gateway  Gateway
	source   SnapshotSource
	interval time.Duration
	logger   *slog.Logger

	saveLock sync.Mutex
	kick     chan struct{}
}

func NewFlusher(gateway Gateway, source SnapshotSource, interval time.Duration, logger *slog.Logger) *Flusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		gateway:  gateway,
		source:   source,
		interval: interval,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

// Request schedules a save without blocking. Requests made while one is pending are coalesced.
func (f *Flusher) Request() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// Flush saves the current snapshot now. Failures are logged and counted as well as returned.
func (f *Flusher) Flush(ctx context.Context) error {
	f.saveLock.Lock()
	defer f.saveLock.Unlock()

	snapshot := f.source.Snapshot()
	start := time.Now()
	err := f.gateway.Save(ctx, snapshot)
	metrics.SaveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SaveFailures.Inc()
		f.logger.Error("failed to save snapshot", "notes", len(snapshot), "err", err)
		return err
	}
	f.logger.Debug("saved snapshot", "notes", len(snapshot), "duration", time.Since(start))
	return nil
}

// Run serves save requests and the periodic save until ctx is done. The final save at shutdown is left to the caller.
func (f *Flusher) Run(ctx context.Context) error {
	t := time.NewTicker(f.interval)
	defer t.Stop()
	for {
		select {
		case <-f.kick:
			_ = f.Flush(ctx)
		case <-t.C:
			_ = f.Flush(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}
