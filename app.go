package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/wricardo/schoolbus-tracker/api"
	"github.com/wricardo/schoolbus-tracker/config"
	"github.com/wricardo/schoolbus-tracker/tracker/auth"
	"github.com/wricardo/schoolbus-tracker/tracker/directory"
	"github.com/wricardo/schoolbus-tracker/tracker/dispatch"
	"github.com/wricardo/schoolbus-tracker/tracker/presence"
	"github.com/wricardo/schoolbus-tracker/tracker/registry"
	"github.com/wricardo/schoolbus-tracker/tracker/router"
	"github.com/wricardo/schoolbus-tracker/tracker/service"
	"github.com/wricardo/schoolbus-tracker/tracker/store"
	"github.com/wricardo/schoolbus-tracker/transport/mcp"
	"github.com/wricardo/schoolbus-tracker/transport/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var errNoDirectory = errors.New("no user directory: set TRACKER_ROSTER or use a sqlite/postgres store")

// application is the wired tracker.
type application struct {
	cfg      config.Config
	logger   *zap.Logger
	store    store.Store
	registry *registry.Registry
	hub      *websocket.Hub
	service  service.TrackingService
	api      *api.Server
	presence *presence.Redis
}

// buildApp opens the store, directory and presence backend and wires the
// core.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*application, error) {
	fanout, err := router.ParseFanout(cfg.Fanout)
	if err != nil {
		return nil, err
	}

	events, err := store.Open(ctx, cfg.StoreDriver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreDriver, err)
	}
	app := &application{cfg: cfg, logger: logger, store: events, registry: registry.New()}

	dir, err := openDirectory(cfg, events, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	svcOpts := service.Options{StoreDriver: cfg.StoreDriver, Fanout: string(fanout)}
	var tracker presence.Tracker = presence.Nop{}
	if cfg.RedisAddr != "" {
		rp, err := presence.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.PresenceTTL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to connect presence backend: %w", err)
		}
		app.presence = rp
		tracker = rp
		svcOpts.Presence = rp
		logger.Info("presence enabled", zap.String("redis", cfg.RedisAddr))
	}

	authn := auth.New(dir, auth.WithTokenSecret(cfg.JWTSecret), auth.WithIssuer(cfg.JWTIssuer))
	rt := router.New(authn, app.registry, events,
		router.WithFanout(fanout),
		router.WithLogger(logger.Named("router")),
	)
	app.hub = websocket.NewHub(app.registry, rt,
		websocket.WithLogger(logger.Named("hub")),
		websocket.WithDispatcher(dispatch.New(logger.Named("dispatch"))),
		websocket.WithPresence(tracker),
		websocket.WithIdleTimeout(cfg.IdleTimeout, cfg.SweepInterval),
		websocket.WithAllowedOrigins(cfg.AllowedOrigins...),
	)

	app.service = service.NewTrackingService(app.registry, events, app.hub, svcOpts)
	app.api = api.NewServer(app.service, http.HandlerFunc(app.hub.ServeWS), logger.Named("api"))

	logger.Info("tracker ready",
		zap.String("store", cfg.StoreDriver),
		zap.String("fanout", string(fanout)),
		zap.Bool("tokens", authn.RequiresToken()),
	)
	return app, nil
}

// openDirectory prefers an explicit roster file and falls back to the
// users held by a SQL store.
func openDirectory(cfg config.Config, events store.Store, logger *zap.Logger) (directory.Directory, error) {
	if cfg.RosterFile != "" {
		f, err := directory.NewFile(cfg.RosterFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load roster: %w", err)
		}
		logger.Info("directory loaded from roster", zap.String("path", cfg.RosterFile), zap.Int("users", f.Len()))
		return f, nil
	}
	if sqlStore, ok := events.(store.SQLStore); ok {
		return sqlStore, nil
	}
	return nil, errNoDirectory
}

// Handler serves the REST API, the websocket endpoint and /mcp.
func (a *application) Handler(baseURL string) http.Handler {
	mcpClient := mcp.NewClient(baseURL, Version)

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", a.api)
	mainRouter.Handle("/mcp", mcpClient.HTTPHandler())
	return mainRouter
}

// Run starts background maintenance until ctx is done.
func (a *application) Run(ctx context.Context) {
	a.hub.Run(ctx)
}

// Close releases every resource and reports all failures.
func (a *application) Close() error {
	var err error
	if a.hub != nil {
		err = multierr.Append(err, a.hub.Close())
	}
	if a.presence != nil {
		err = multierr.Append(err, a.presence.Close())
	}
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
	}
	return err
}
