package sweeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/notesync/pkg/notes"
	"github.com/astromechza/notesync/pkg/registry"
)

type noopSubscriber string

func (n noopSubscriber) SessionID() string  { return string(n) }
func (n noopSubscriber) Send([]byte) error { return nil }

type countingSaver struct{ n atomic.Int32 }

func (c *countingSaver) Request() { c.n.Add(1) }

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seeded() *notes.Store {
	return notes.NewStore(notes.Snapshot{
		"stale1": {Content: "old", LastUpdated: epoch},
		"stale2": {Content: "old", LastUpdated: epoch},
		"fresh1": {Content: "new", LastUpdated: epoch.Add(7 * 24 * time.Hour)},
	})
}

func TestSweep_EvictsStaleUnsubscribed(t *testing.T) {
	store := seeded()
	subs := registry.New(nil)
	saver := &countingSaver{}
	s := New(store, subs, Options{
		Retention: 7 * 24 * time.Hour,
		Now:       func() time.Time { return epoch.Add(8 * 24 * time.Hour) },
		Saver:     saver,
	})

	evicted := s.Sweep()
	assert.ElementsMatch(t, []string{"stale1", "stale2"}, evicted)
	assert.Equal(t, 1, store.Len())
	_, ok := store.Snapshot()["fresh1"]
	assert.True(t, ok)
	assert.Equal(t, int32(1), saver.n.Load())
}

func TestSweep_RetainsSubscribedStaleNote(t *testing.T) {
	store := seeded()
	subs := registry.New(nil)
	subs.Join("stale1", noopSubscriber("a"))
	s := New(store, subs, Options{
		Retention: 7 * 24 * time.Hour,
		Now:       func() time.Time { return epoch.Add(30 * 24 * time.Hour) },
	})

	evicted := s.Sweep()
	assert.ElementsMatch(t, []string{"fresh1", "stale2"}, evicted)
	n, ok := store.Snapshot()["stale1"]
	require.True(t, ok)
	assert.Equal(t, "old", n.Content)
}

func TestSweep_NothingStale(t *testing.T) {
	store := seeded()
	saver := &countingSaver{}
	s := New(store, registry.New(nil), Options{
		Retention: 7 * 24 * time.Hour,
		Now:       func() time.Time { return epoch.Add(time.Hour) },
		Saver:     saver,
	})

	assert.Empty(t, s.Sweep())
	assert.Equal(t, 3, store.Len())
	assert.Equal(t, int32(0), saver.n.Load())
}

func TestRun_SweepsOnInterval(t *testing.T) {
	store := seeded()
	s := New(store, registry.New(nil), Options{
		Interval:  10 * time.Millisecond,
		Retention: time.Hour,
		Now:       func() time.Time { return epoch.Add(365 * 24 * time.Hour) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
