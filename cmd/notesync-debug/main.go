package main

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/pflag"

	"github.com/astromechza/notesync/pkg/persist"
	"github.com/astromechza/notesync/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	noteVar := pflag.String("note", "", "a note to trace through the archive history")
	svgVar := pflag.String("svg", "", "write the history of --note as an svg graph to this path")
	pflag.Parse()
	if pflag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the archive to read")
	}
	if *svgVar != "" && *noteVar == "" {
		return fmt.Errorf("--svg requires --note")
	}

	doc, err := persist.LoadArchive(pflag.Arg(0))
	if err != nil {
		return err
	}
	snapshot, err := persist.ReadArchive(doc)
	if err != nil {
		return err
	}
	slog.Info("loaded archive", "notes", len(snapshot), "heads", doc.Heads())

	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		n := snapshot[id]
		slog.Info("note", "id", id, "lastUpdated", n.LastUpdated, "bytes", len(n.Content))
	}

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	for i, change := range changes {
		attrs := []any{"i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "dep", change.Dependencies()}
		if *noteVar != "" {
			content, present, err := viz.ContentAt(doc, change.Hash(), *noteVar)
			if err != nil {
				return err
			}
			attrs = append(attrs, "present", present, "content", content)
		}
		slog.Info("change", attrs...)
	}

	if *svgVar != "" {
		if err := viz.RenderHistoryToFile(doc, *noteVar, *svgVar); err != nil {
			return err
		}
		slog.Info("rendered", "note", *noteVar, "path", "file://"+*svgVar)
	}
	return nil
}
