// Package viz renders the save history of a note archive as a graphviz change graph.
package viz

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
	"github.com/goccy/go-json"
)

const maxLabelContent = 32

// ContentAt returns the content of noteID as of the given change, or false when the note did not exist then.
func ContentAt(doc *automerge.Doc, hash automerge.ChangeHash, noteID string) (string, bool, error) {
	docAt, err := doc.Fork(hash)
	if err != nil {
		return "", false, fmt.Errorf("failed to checkout %s: %w", hash, err)
	}
	v, err := docAt.Path(noteID, "content").Get()
	if err != nil || v.Kind() != automerge.KindStr {
		return "", false, nil
	}
	return v.Str(), true, nil
}

func label(change *automerge.Change, content string, present bool) string {
	short := change.Hash().String()[:8]
	if !present {
		return fmt.Sprintf("%s #%d (absent)", short, change.ActorSeq())
	}
	runes := []rune(content)
	if len(runes) > maxLabelContent {
		content = string(runes[:maxLabelContent]) + "…"
	}
	encoded, _ := json.Marshal(content)
	return fmt.Sprintf("%s #%d %s", short, change.ActorSeq(), encoded)
}

// RenderHistory writes an SVG graph with one node per archive save, labelled with the content of noteID at that save.
func RenderHistory(doc *automerge.Doc, noteID string, w io.Writer) error {
	g := graphviz.New()
	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer func() {
		_ = graph.Close()
		_ = g.Close()
	}()

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}

	nodes := make(map[string]*cgraph.Node, len(changes))
	edges := 0
	for _, change := range changes {
		content, present, err := ContentAt(doc, change.Hash(), noteID)
		if err != nil {
			return err
		}
		n, err := graph.CreateNode(change.Hash().String())
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(label(change, content, present))
		nodes[change.Hash().String()] = n

		for _, dep := range change.Dependencies() {
			parent, ok := nodes[dep.String()]
			if !ok {
				continue
			}
			edges++
			if _, err := graph.CreateEdge(strconv.Itoa(edges), parent, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	if _, err := w.Write(buff.Bytes()); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

// RenderHistoryToFile renders the history of noteID into a new file at path.
func RenderHistoryToFile(doc *automerge.Doc, noteID string, path string) error {
	var buff bytes.Buffer
	if err := RenderHistory(doc, noteID, &buff); err != nil {
		return err
	}
	if err := os.WriteFile(path, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
