package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quay/cvssd/auth"
	"github.com/quay/cvssd/datastore"
	"github.com/quay/cvssd/datastore/postgres"
	"github.com/quay/cvssd/datastore/sqlite"
	"github.com/quay/cvssd/extract"
	"github.com/quay/cvssd/httptransport"
	"github.com/quay/cvssd/pkg/poolstats"
	"github.com/quay/cvssd/toolkit/log"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.String("addr", "", "listen address")
	f.Bool("auth-required", false, "require a session for writes")
	a.bind("http.addr", f, "addr")
	a.bind("auth.required", f, "auth-required")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	ctx = log.With(ctx, "component", "cmd/cvssd/serve")
	a.watchConfig(ctx)

	if ep := cfg.Telemetry.OTLPEndpoint; ep != "" {
		t, err := setupTelemetry(ctx, ep)
		if err != nil {
			return err
		}
		defer func() {
			sctx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer done()
			if err := t.Shutdown(sctx); err != nil {
				slog.WarnContext(ctx, "telemetry shutdown", "error", err)
			}
		}()
		a.telemetry = t.Handler()
		a.installLogger()
		slog.InfoContext(ctx, "exporting telemetry", "endpoint", ep)
	}

	store, err := a.openStore(ctx, cfg.DB.Migrations)
	if err != nil {
		return err
	}
	defer closeLogged(ctx, "store", store)

	x, err := a.extractor()
	if err != nil {
		return err
	}
	svc := auth.New(store, &auth.Options{
		SessionTTL: cfg.Auth.SessionTTL,
		LoginRate:  cfg.Auth.LoginRate,
	})
	srv, err := httptransport.New(store, svc, &httptransport.Options{
		AuthRequired:  cfg.Auth.Required,
		SecureCookies: cfg.HTTP.SecureCookies,
		Extractor:     x,
		Version:       getVersion(),
	})
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	hs := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// In-flight requests get to finish during shutdown.
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	eg.Go(func() error {
		slog.InfoContext(ctx, "listening", "addr", hs.Addr, "auth_required", cfg.Auth.Required)
		if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		slog.InfoContext(ctx, "shutting down")
		sctx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer done()
		return hs.Shutdown(sctx)
	})
	eg.Go(func() error {
		err := svc.Run(ctx, cfg.Auth.CleanupInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return eg.Wait()
}

// OpenStore opens the configured store. Postgres pool statistics are
// registered with the default Prometheus registry.
func (a *app) openStore(ctx context.Context, migrate bool) (datastore.Store, error) {
	cfg := a.cfg.DB
	ctx = log.With(ctx, "driver", cfg.Driver)
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.DSN, migrate)
		if err != nil {
			return nil, err
		}
		slog.DebugContext(ctx, "opened store", "file", cfg.DSN)
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, cfg.DSN, migrate)
		if err != nil {
			return nil, err
		}
		c := poolstats.NewCollector(s, "cvssd")
		if err := prometheus.Register(c); err != nil {
			return nil, errors.Join(fmt.Errorf("poolstats: %w", err), s.Close())
		}
		return &pgStore{Store: s, collector: c}, nil
	}
	return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}

// PgStore unregisters the pool collector on Close.
type pgStore struct {
	*postgres.Store
	collector prometheus.Collector
}

func (s *pgStore) Close() error {
	prometheus.Unregister(s.collector)
	return s.Store.Close()
}

// Extractor builds the document extractor from the upload configuration.
func (a *app) extractor() (*extract.Extractor, error) {
	opts := extract.Options{MaxBytes: a.cfg.Upload.MaxBytes}
	if p := a.cfg.Upload.Patterns; p != "" {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		defer f.Close()
		opts.Patterns = f
	}
	return extract.New(&opts)
}
