package notes

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newClock() *stepClock {
	return &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestStore_GetCreatesEmptyNote(t *testing.T) {
	s := NewStore(nil, WithClock(newClock().Now))

	first, err := s.Get("ab12cd")
	require.NoError(t, err)
	assert.Equal(t, "", first.Content)
	assert.False(t, first.LastUpdated.IsZero())

	second, err := s.Get("ab12cd")
	require.NoError(t, err)
	assert.Equal(t, first, second, "repeated get must not touch the note")
	assert.Equal(t, 1, s.Len())
}

func TestStore_UpdateThenGet(t *testing.T) {
	s := NewStore(nil, WithClock(newClock().Now))

	before, err := s.Get("ab12cd")
	require.NoError(t, err)

	updated, err := s.Update("ab12cd", "hello")
	require.NoError(t, err)
	assert.True(t, updated.LastUpdated.After(before.LastUpdated))

	got, err := s.Get("ab12cd")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, updated.LastUpdated, got.LastUpdated)
}

func TestStore_UpdateNeverMovesBackwards(t *testing.T) {
	clock := newClock()
	s := NewStore(nil, WithClock(clock.Now))

	first, err := s.Update("ab12cd", "one")
	require.NoError(t, err)

	clock.Set(first.LastUpdated.Add(-time.Hour))
	second, err := s.Update("ab12cd", "two")
	require.NoError(t, err)
	assert.True(t, second.LastUpdated.After(first.LastUpdated))
	assert.Equal(t, "two", second.Content)
}

func TestStore_StampsStrictlyIncreaseWithinOneMillisecond(t *testing.T) {
	s := NewStore(nil)
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("n%05d", i)
		created, err := s.Get(id)
		require.NoError(t, err)
		hello, err := s.Update(id, "hello")
		require.NoError(t, err)
		world, err := s.Update(id, "world")
		require.NoError(t, err)

		require.True(t, hello.LastUpdated.After(created.LastUpdated), "update after get for %s", id)
		require.True(t, world.LastUpdated.After(hello.LastUpdated), "consecutive updates for %s", id)
	}
}

func TestStore_FrozenClockStillAdvances(t *testing.T) {
	frozen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(nil, WithClock(func() time.Time { return frozen }))

	created, err := s.Get("ab12cd")
	require.NoError(t, err)
	first, err := s.Update("ab12cd", "one")
	require.NoError(t, err)
	second, err := s.Update("ab12cd", "two")
	require.NoError(t, err)
	assert.Equal(t, created.LastUpdated.Add(time.Millisecond), first.LastUpdated)
	assert.Equal(t, first.LastUpdated.Add(time.Millisecond), second.LastUpdated)
}

func TestStore_InvalidIdentifier(t *testing.T) {
	s := NewStore(nil)

	_, err := s.Get("AB")
	assert.True(t, errors.Is(err, ErrInvalidIdentifier))

	_, err = s.Update("AB", "x")
	assert.True(t, errors.Is(err, ErrInvalidIdentifier))

	assert.Equal(t, 0, s.Len(), "no note may be created for an invalid id")
}

func TestStore_RemoveAndRemoveIf(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Update("aaaaaa", "a")
	require.NoError(t, err)
	_, err = s.Update("bbbbbb", "b")
	require.NoError(t, err)

	s.Remove("aaaaaa")
	s.Remove("aaaaaa")
	s.Remove("zzzzzz")
	assert.Equal(t, 1, s.Len())

	assert.False(t, s.RemoveIf("bbbbbb", func(Note) bool { return false }))
	assert.True(t, s.RemoveIf("bbbbbb", func(n Note) bool { return n.Content == "b" }))
	assert.False(t, s.RemoveIf("bbbbbb", func(Note) bool { return true }))
	assert.Equal(t, 0, s.Len())
}

func TestStore_SnapshotIsDetached(t *testing.T) {
	s := NewStore(Snapshot{
		"ab12cd": {Content: "seed", LastUpdated: time.Unix(100, 0)},
		"BAD":    {Content: "dropped"},
	})
	require.Equal(t, 1, s.Len())

	snap := s.Snapshot()
	_, err := s.Update("ab12cd", "changed")
	require.NoError(t, err)
	assert.Equal(t, "seed", snap["ab12cd"].Content)

	seen := map[string]string{}
	for id, n := range s.All() {
		seen[id] = n.Content
	}
	assert.Equal(t, map[string]string{"ab12cd": "changed"}, seen)
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	s := NewStore(nil)
	wg := new(sync.WaitGroup)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update("ab12cd", "x")
			_, _ = s.Get("ab12cd")
		}()
	}
	wg.Wait()
	n, err := s.Get("ab12cd")
	require.NoError(t, err)
	assert.Equal(t, "x", n.Content)
}
