package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"medinote/internal/bootstrap"
)

const (
	shutdownTimeout      = 15 * time.Second
	sessionPurgeInterval = time.Hour
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "medinoted: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := bootstrap.BuildServer(ctx)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			srv.Log.Warn("runtime close failed", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.Log.Info("http server listening", "addr", srv.HTTP.Addr)
		if err := srv.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(sessionPurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := srv.PurgeExpiredSessions(gctx)
				if err != nil {
					srv.Log.Warn("session purge failed", "error", err)
					continue
				}
				if n > 0 {
					srv.Log.Info("expired sessions purged", "count", n)
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		srv.Log.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.HTTP.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
