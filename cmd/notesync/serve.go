package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/astromechza/notesync/pkg/config"
	"github.com/astromechza/notesync/pkg/notes"
	"github.com/astromechza/notesync/pkg/persist"
	"github.com/astromechza/notesync/pkg/registry"
	"github.com/astromechza/notesync/pkg/server"
	"github.com/astromechza/notesync/pkg/sweeper"
	"github.com/astromechza/notesync/pkg/syncproto"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve notes over HTTP and websockets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.BindFlags(v, cmd.Flags(), map[string]string{
				"addr":           config.KeyAddr,
				"store-driver":   config.KeyStoreDriver,
				"store-path":     config.KeyStorePath,
				"flush-interval": config.KeyFlushInterval,
				"sweep-interval": config.KeySweepInterval,
				"retention":      config.KeyRetention,
				"allowed-origin": config.KeyCORSOrigin,
			}); err != nil {
				return err
			}
			c, err := config.Load(v)
			if err != nil {
				return err
			}
			return serve(c)
		},
	}
	f := cmd.Flags()
	f.String("addr", "localhost:8080", "the address to listen on")
	f.String("store-driver", persist.DriverJSON, "snapshot store: json, sqlite or automerge")
	f.String("store-path", "notes.json", "location of the snapshot store")
	f.Duration("flush-interval", 5*time.Minute, "how often to save even without updates")
	f.Duration("sweep-interval", time.Hour, "how often to look for idle notes")
	f.Duration("retention", 7*24*time.Hour, "how long an unwatched note may stay idle before eviction")
	f.String("allowed-origin", "*", "browser origin allowed to call the API")
	return cmd
}

func serve(c config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, c, nil)
}

// run serves until ctx is done or a component fails, then saves once more. The bound listener address is sent on
// listening when it is not nil.
func run(ctx context.Context, c config.Config, listening chan<- net.Addr) error {
	logger := slog.Default()

	gateway, err := persist.Open(c.StoreDriver, c.StorePath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			logger.Error("failed to close store", "err", err)
		}
	}()

	slog.Info("Loading notes", "driver", c.StoreDriver, "path", c.StorePath)
	snapshot, err := gateway.Load(ctx)
	if err != nil {
		logger.Error("failed to load notes, starting empty", "err", err)
		snapshot = notes.Snapshot{}
	}
	store := notes.NewStore(snapshot)
	slog.Info("Loaded notes", "count", store.Len())

	subs := registry.New(logger)
	flusher := persist.NewFlusher(gateway, store, c.FlushInterval, logger)
	handler := syncproto.NewHandler(store, subs, flusher, logger)
	sw := sweeper.New(store, subs, sweeper.Options{
		Interval:  c.SweepInterval,
		Retention: c.Retention,
		Saver:     flusher,
		Logger:    logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := server.Options{
		AllowedOrigin: c.AllowedOrigin,
		Session: syncproto.SessionOptions{
			WriteTimeout: c.WSWriteTimeout,
			PingInterval: c.WSPingInterval,
			SendBuffer:   c.WSSendBuffer,
		},
		Logger: logger,
	}
	if withDB, ok := gateway.(interface{ DB() *sql.DB }); ok {
		opts.DB = withDB.DB()
	}
	srv := server.New(ctx, handler, store, subs, opts)
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.Addr, err)
	}
	slog.Info("Listening", "addr", listener.Addr())
	if listening != nil {
		listening <- listener.Addr()
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen failed: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		return flusher.Run(egCtx)
	})
	eg.Go(func() error {
		return sw.Run(egCtx)
	})

	<-egCtx.Done()
	slog.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down cleanly", "err", err)
	}
	if err := srv.WaitSessions(shutdownCtx); err != nil {
		logger.Error("failed to drain sessions", "err", err)
	}
	runErr := eg.Wait()

	if err := flusher.Flush(shutdownCtx); err != nil {
		logger.Error("final save failed", "err", err)
	} else {
		slog.Info("Saved notes", "count", store.Len())
	}
	return runErr
}
