package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/astromechza/notesync/pkg/notes"
	"github.com/astromechza/notesync/pkg/syncproto"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := pflag.String("addr", "127.0.0.1:8080", "the address to connect to")
	noteVar := pflag.String("note", "", "the note to attach to, a fresh id is generated when empty")
	pflag.Parse()

	noteID := *noteVar
	if noteID == "" {
		id, err := notes.NewID()
		if err != nil {
			return err
		}
		noteID = id
	}
	if err := notes.ValidateID(noteID); err != nil {
		return err
	}
	baseUrl, err := url.Parse("ws://" + *addrVar)
	if err != nil {
		return err
	}
	slog.Info("attaching", "note", noteID, "addr", *addrVar)

	c := &client{url: baseUrl.JoinPath("note", noteID, "ws"), lines: make(chan string)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.connectContinuously(ctx)
	}()

	// the stdin reader is not joined: a blocked Scan can not be interrupted
	go c.readLines(ctx, os.Stdin)

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()

	wg.Wait()
	return nil
}

type client struct {
	url   *url.URL
	lines chan string
}

func (c *client) readLines(ctx context.Context, in *os.File) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case c.lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

func (c *client) connectContinuously(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		if err := c.connect(ctx); err != nil {
			slog.Error("stream failed", "err", err)
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			slog.Info("stopping")
			return
		}
	}
}

func (c *client) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()

	readErr := make(chan error, 1)
	go func() {
		readErr <- c.printMessages(conn)
	}()

	for {
		select {
		case line := <-c.lines:
			content, _ := json.Marshal(line)
			msg, err := json.Marshal(syncproto.Inbound{Type: syncproto.TypeContentUpdate, Content: content})
			if err != nil {
				return fmt.Errorf("failed to encode: %w", err)
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return fmt.Errorf("failed to send: %w", err)
			}
		case err := <-readErr:
			return err
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return nil
		}
	}
}

func (c *client) printMessages(conn *websocket.Conn) error {
	for {
		_, p, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return fmt.Errorf("closed by server: %d %s", ce.Code, ce.Text)
			}
			return fmt.Errorf("failed to read: %w", err)
		}
		var out syncproto.Outbound
		if err := json.Unmarshal(p, &out); err != nil || out.Type == "" {
			slog.Warn("unexpected message", "raw", string(p))
			continue
		}
		switch out.Type {
		case syncproto.TypeInitialContent, syncproto.TypeContentUpdate:
			slog.Info(out.Type, "lastUpdated", out.LastUpdated, "sender", out.Sender)
			fmt.Println(out.Content)
		default:
			slog.Warn("server message", "raw", string(p))
		}
	}
}
