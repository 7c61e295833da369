package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"devtoolkit/internal/catalog"
	"devtoolkit/internal/docstore"
	"devtoolkit/internal/identity"
	"devtoolkit/internal/localstore"
	"devtoolkit/internal/page"
	"devtoolkit/internal/session"
)

// app is one command's view of the profile: its local database, the
// identity client restored from it and the remote document store.
type app struct {
	local    *localstore.SQLite
	http     *http.Client
	identity *identity.Client
	remote   *docstore.Remote
	watcher  *session.Watcher
	catalog  *catalog.Catalog
}

func openApp() (*app, error) {
	local, err := localstore.OpenSQLite(cfg.StoragePath())
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	id, err := identity.New(cfg.ServerURL, local,
		identity.WithHTTPClient(httpClient),
		identity.WithLogger(logger.Named("identity")),
	)
	if err != nil {
		local.Close()
		return nil, err
	}

	remote, err := docstore.NewRemote(cfg.ServerURL, id,
		docstore.WithHTTPClient(httpClient),
		docstore.WithLogger(logger.Named("docstore")),
	)
	if err != nil {
		local.Close()
		return nil, err
	}

	logger.Debug("profile opened",
		zap.String("profile", cfg.Profile),
		zap.String("server", cfg.ServerURL),
	)

	return &app{
		local:    local,
		http:     httpClient,
		identity: id,
		remote:   remote,
		watcher:  session.NewWatcher(id, logger.Named("session")),
		catalog:  catalog.Empty(),
	}, nil
}

// loadCatalog fetches the tool table. Pages still work on an empty catalog
// when the server is unreachable.
func (a *app) loadCatalog(ctx context.Context) {
	c, err := catalog.Fetch(ctx, a.http, cfg.ServerURL+"/data/tools.json")
	if err != nil {
		logger.Warn("tool catalog unavailable", zap.Error(err))
		return
	}
	a.catalog = c
}

func (a *app) env() page.Env {
	return page.Env{
		Watcher:  a.watcher,
		Identity: a.identity,
		Local:    a.local,
		Remote:   a.remote,
		Catalog:  a.catalog,
		Logger:   logger,
	}
}

func (a *app) Close() {
	a.watcher.Close()
	if err := a.local.Close(); err != nil {
		logger.Warn("close local storage", zap.Error(err))
	}
}

// withApp opens the profile around a command and cancels the context on
// interrupt.
func withApp(run func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp()
		if err != nil {
			return fmt.Errorf("open profile %q: %w", cfg.Profile, err)
		}
		defer a.Close()

		return run(ctx, cmd, a, args)
	}
}
