package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/notesync/pkg/notes"
)

// SQLiteGateway keeps the snapshot in a single notes table which is rewritten inside one transaction per save.
type SQLiteGateway struct {
	database *sql.DB
	logger   *slog.Logger
	schemaMu sync.Mutex
	schemaOk bool
}

func NewSQLiteGateway(path string, logger *slog.Logger) (*SQLiteGateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &SQLiteGateway{database: db, logger: logger}, nil
}

// DB exposes the handle for readiness checks.
func (g *SQLiteGateway) DB() *sql.DB {
	return g.database
}

func (g *SQLiteGateway) init(ctx context.Context) error {
	g.schemaMu.Lock()
	defer g.schemaMu.Unlock()
	if g.schemaOk {
		return nil
	}
	if _, err := g.database.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS notes (
		id text not null primary key,
		content text not null,
		last_updated integer not null
		)`,
	); err != nil {
		return err
	}
	g.schemaOk = true
	g.logger.Debug("Ensured notes table exists")
	return nil
}

func (g *SQLiteGateway) Load(ctx context.Context) (notes.Snapshot, error) {
	if err := g.init(ctx); err != nil {
		return nil, failure("create tables", err)
	}

	res, err := g.database.QueryContext(ctx, `SELECT id, content, last_updated FROM notes`)
	if err != nil {
		return nil, failure("query notes", err)
	}
	defer func(res *sql.Rows) {
		if err := res.Close(); err != nil {
			g.logger.Error("failed to close rows", "err", err)
		}
	}(res)

	out := make(notes.Snapshot)
	for res.Next() {
		var id, content string
		var lastUpdated int64
		if err := res.Scan(&id, &content, &lastUpdated); err != nil {
			return nil, failure("scan note", err)
		}
		out[id] = notes.Note{Content: content, LastUpdated: notes.Stamp(time.UnixMilli(lastUpdated))}
	}
	if err := res.Err(); err != nil {
		return nil, failure("iterate notes", err)
	}
	return keepValid(g.logger, out), nil
}

func (g *SQLiteGateway) Save(ctx context.Context, snapshot notes.Snapshot) error {
	if err := g.init(ctx); err != nil {
		return failure("create tables", err)
	}

	tx, err := g.database.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return failure("start tx", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			g.logger.Error("failed to rollback", "err", err)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notes`); err != nil {
		return failure("clear notes", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO notes(id, content, last_updated) VALUES (?, ?, ?)`)
	if err != nil {
		return failure("prepare insert", err)
	}
	defer stmt.Close()
	for id, n := range snapshot {
		if _, err := stmt.ExecContext(ctx, id, n.Content, n.LastUpdated.UnixMilli()); err != nil {
			return failure("insert note "+id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return failure("commit", err)
	}
	return nil
}

func (g *SQLiteGateway) Close() error {
	return g.database.Close()
}
