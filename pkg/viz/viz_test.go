package viz

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/notesync/pkg/notes"
	"github.com/astromechza/notesync/pkg/persist"
)

func TestRenderHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.automerge")
	g := persist.NewArchiveGateway(path, nil)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, g.Save(context.Background(), notes.Snapshot{"ab12cd": {Content: "first", LastUpdated: ts}}))
	require.NoError(t, g.Save(context.Background(), notes.Snapshot{"ab12cd": {Content: "second", LastUpdated: ts.Add(time.Second)}}))

	doc, err := persist.LoadArchive(path)
	require.NoError(t, err)
	changes, err := doc.Changes()
	require.NoError(t, err)
	require.Len(t, changes, 2)

	content, present, err := ContentAt(doc, changes[0].Hash(), "ab12cd")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "first", content)

	_, present, err = ContentAt(doc, changes[0].Hash(), "zz99zz")
	require.NoError(t, err)
	assert.False(t, present)

	var buff bytes.Buffer
	require.NoError(t, RenderHistory(doc, "ab12cd", &buff))
	assert.Contains(t, buff.String(), "<svg")
	assert.Contains(t, buff.String(), "second")
}
