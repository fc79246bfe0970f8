// Package sweeper evicts notes that have been idle beyond the retention window and have nobody attached.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/astromechza/notesync/pkg/metrics"
	"github.com/astromechza/notesync/pkg/notes"
)

type Subscriptions interface {
	IsEmpty(noteID string) bool
}

type SaveRequester interface {
	Request()
}

type Options struct {
	Interval  time.Duration
	Retention time.Duration
	// Now defaults to time.Now.
	Now    func() time.Time
	Saver  SaveRequester
	Logger *slog.Logger
}

type Sweeper struct {
	store *notes.Store
	subs  Subscriptions
	opts  Options
}

func New(store *notes.Store, subs Subscriptions, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Retention <= 0 {
		opts.Retention = 7 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sweeper{store: store, subs: subs, opts: opts}
}

func (s *Sweeper) stale(n notes.Note, now time.Time) bool {
	return now.Sub(n.LastUpdated) > s.opts.Retention
}

// Sweep evicts every stale note without subscribers and returns the evicted ids. A note with a live
// subscriber is never evicted regardless of its age.
func (s *Sweeper) Sweep() []string {
	now := s.opts.Now()
	var evicted []string
	for id, n := range s.store.All() {
		if !s.stale(n, now) {
			continue
		}
		// re-check under the store lock so a concurrent update or join wins
		if s.store.RemoveIf(id, func(current notes.Note) bool {
			return s.stale(current, now) && s.subs.IsEmpty(id)
		}) {
			evicted = append(evicted, id)
			metrics.Evictions.Inc()
			s.opts.Logger.Info("evicted stale note", "note", id, "lastUpdated", n.LastUpdated)
		}
	}
	if len(evicted) > 0 && s.opts.Saver != nil {
		s.opts.Saver.Request()
	}
	return evicted
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()
	s.opts.Logger.Info("sweeper started", "interval", s.opts.Interval, "retention", s.opts.Retention)
	for {
		select {
		case <-t.C:
			evicted := s.Sweep()
			s.opts.Logger.Debug("sweep finished", "evicted", len(evicted), "remaining", s.store.Len())
		case <-ctx.Done():
			s.opts.Logger.Info("sweeper stopping")
			return nil
		}
	}
}
