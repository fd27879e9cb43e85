// Package reportserver serves a run's trajectory, its summary and metrics
// over HTTP.
package reportserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"diaharness/internal/ledger"
)

// Source returns the current trajectory document.
type Source func() (ledger.Document, error)

// FileSource reads the trajectory at path on every call so a server started
// beside a running optimization sees new iterations.
func FileSource(path string) Source {
	return func() (ledger.Document, error) {
		doc, err := ledger.Load(path)
		if err != nil {
			return ledger.Document{}, err
		}
		if doc == nil {
			return ledger.Document{}, errors.New("reportserver: trajectory " + path + " does not exist")
		}
		return *doc, nil
	}
}

// LedgerSource serves the in-memory state of a live ledger.
func LedgerSource(l *ledger.Ledger) Source {
	return func() (ledger.Document, error) {
		return l.Document(), nil
	}
}

// Config captures the settings for serving a run report.
type Config struct {
	Addr    string
	Source  Source
	DBPath  string
	Metrics http.Handler
	Logger  *slog.Logger
}

// Serve starts an HTTP server that hosts the report and data endpoints until
// ctx is cancelled.
func Serve(ctx context.Context, cfg Config) error {
	if ctx == nil {
		return errors.New("reportserver: context is nil")
	}
	if cfg.Addr == "" {
		return errors.New("reportserver: addr is required")
	}
	handler, err := NewHandler(cfg)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("report server listening", slog.String("addr", cfg.Addr))
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) || err == nil {
			return nil
		}
		return err
	}
}
