// Command schoolbus-tracker runs the real-time school bus tracker.
//
// It supports three commands:
//  1. "serve" (default) – runs the HTTP server exposing the websocket event
//     stream, the REST API and an /mcp HTTP endpoint
//  2. "mcp" – runs an MCP stdio server against a running tracker, or spins
//     up an internal one if none is reachable
//  3. "migrate" – creates the SQL schema and optionally imports a roster
//
// Settings come from the environment (and a .env file); flags override them.
// ngrok tunneling is available for external access during development.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/schoolbus-tracker/config"
	"github.com/wricardo/schoolbus-tracker/logging"
	"github.com/wricardo/schoolbus-tracker/tracker/directory"
	"github.com/wricardo/schoolbus-tracker/tracker/store"
	"github.com/wricardo/schoolbus-tracker/transport/mcp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "School Bus Tracker"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
}

// newApp builds the command tree.
func newApp() *cli.Command {
	// Flags are declared once on the root and inherited by every command.
	return &cli.Command{
		Name:    "schoolbus-tracker",
		Usage:   AppName,
		Version: Version,
		Flags:   globalFlags(),
		Action:  runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server with websocket, REST API and MCP endpoint (default)",
				Action: runServe,
			},
			{
				Name:   "mcp",
				Usage:  "Run an MCP stdio server",
				Action: runStdioMCP,
			},
			{
				Name:   "migrate",
				Usage:  "Create the SQL schema of --store and import --roster if given",
				Action: runMigrate,
			},
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Usage: "HTTP server host"},
		&cli.IntFlag{Name: "port", Usage: "HTTP server port"},
		&cli.StringFlag{Name: "store", Usage: "Event store: memory, sqlite or postgres"},
		&cli.StringFlag{Name: "dsn", Usage: "SQLite path or Postgres URL"},
		&cli.StringFlag{Name: "roster", Usage: "Roster JSON file used as the user directory"},
		&cli.StringFlag{Name: "fanout", Usage: "Recipient selection: scoped or broadcast"},
		&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
		&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel"},
		&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token (or use NGROK_AUTHTOKEN env var)"},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (optional)"},
	}
}

// loadConfig reads the environment and applies flags that were set.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.LoadFiles()
	if err != nil {
		return cfg, err
	}

	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("store") {
		cfg.StoreDriver = cmd.String("store")
	}
	if cmd.IsSet("dsn") {
		switch cfg.StoreDriver {
		case store.DriverPostgres:
			cfg.DatabaseURL = cmd.String("dsn")
		default:
			cfg.SQLiteDSN = cmd.String("dsn")
		}
	}
	if cmd.IsSet("roster") {
		cfg.RosterFile = cmd.String("roster")
	}
	if cmd.IsSet("fanout") {
		cfg.Fanout = cmd.String("fanout")
	}
	if cmd.IsSet("debug") && cmd.Bool("debug") {
		cfg.LogEnv = "development"
	}
	if cmd.IsSet("ngrok") {
		cfg.NgrokEnabled = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-auth") {
		cfg.NgrokAuthToken = cmd.String("ngrok-auth")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.NgrokDomain = cmd.String("ngrok-domain")
	}

	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(logging.Config{
		Environment: cfg.LogEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: "schoolbus-tracker",
	})
}

// runServe starts the HTTP server and, if enabled, an ngrok tunnel.
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting", zap.String("app", AppName), zap.String("version", Version))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	addr := cfg.Addr()
	handler := app.Handler("http://" + addr)
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		logger.Info("HTTP server listening",
			zap.String("addr", addr),
			zap.String("websocket", "ws://"+addr+"/ws"),
			zap.String("api", "http://"+addr+"/api"),
			zap.String("mcp", "http://"+addr+"/mcp"),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	if cfg.NgrokEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, cfg, handler, logger)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-serveErr:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = multierr.Combine(
		runErr,
		httpServer.Shutdown(shutdownCtx),
		app.Close(),
	)
	wg.Wait()
	logger.Info("server stopped")
	return err
}

// runNgrok serves handler through an ngrok tunnel until ctx is done.
func runNgrok(ctx context.Context, cfg config.Config, handler http.Handler, logger *zap.Logger) {
	if cfg.NgrokAuthToken == "" {
		logger.Warn("ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN env var)")
		return
	}

	var tunnel ngrokConfig.Tunnel
	if cfg.NgrokDomain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.NgrokDomain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.NgrokAuthToken))
	if err != nil {
		logger.Error("failed to start ngrok tunnel", zap.Error(err))
		return
	}

	ngrokURL := tun.URL()
	logger.Info("ngrok tunnel established",
		zap.String("url", ngrokURL),
		zap.String("websocket", strings.Replace(ngrokURL, "https://", "wss://", 1)+"/ws"),
	)

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			logger.Warn("failed to close ngrok tunnel", zap.Error(err))
		}
	}()

	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		logger.Error("ngrok server error", zap.Error(err))
	}
	logger.Info("ngrok tunnel closed")
}

// runStdioMCP runs an MCP stdio server.
// It reuses a tracker already listening on the configured address; if none
// is reachable it starts an internal tracker bound to a random loopback
// port and targets that.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	externalURL := "http://" + cfg.Addr()
	baseURL := externalURL

	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(externalURL + "/api/health")
	if err == nil && resp.StatusCode == http.StatusOK {
		resp.Body.Close()
		logger.Info("using external tracker for MCP", zap.String("url", externalURL))
	} else {
		if resp != nil {
			resp.Body.Close()
		}
		logger.Info("no external tracker found, starting internal server")

		app, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer app.Close()

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		baseURL = "http://" + listener.Addr().String()

		httpServer := &http.Server{Handler: app.Handler(baseURL)}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("internal HTTP server error", zap.Error(err))
			}
		}()
		defer httpServer.Close()

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go app.Run(runCtx)

		logger.Info("internal tracker listening", zap.String("url", baseURL))
	}

	mcpClient := mcp.NewClient(baseURL, Version)
	logger.Info("MCP stdio server ready")
	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

// runMigrate creates the schema of a SQL store and imports a roster.
func runMigrate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	return migrate(ctx, cfg, logger)
}

func migrate(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.StoreDriver != store.DriverSQLite && cfg.StoreDriver != store.DriverPostgres {
		return fmt.Errorf("migrate needs a sqlite or postgres store, got %q", cfg.StoreDriver)
	}

	opened, err := store.Open(ctx, cfg.StoreDriver, cfg.DSN())
	if err != nil {
		return err
	}
	sqlStore := opened.(store.SQLStore)
	logger.Info("schema ready", zap.String("store", cfg.StoreDriver))

	if cfg.RosterFile != "" {
		err = importRoster(ctx, sqlStore, cfg.RosterFile)
		if err == nil {
			logger.Info("roster imported", zap.String("path", cfg.RosterFile))
		}
	}
	return multierr.Append(err, sqlStore.Close())
}

func importRoster(ctx context.Context, imp store.RosterImporter, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read roster: %w", err)
	}
	roster, err := directory.ParseRoster(data)
	if err != nil {
		return err
	}
	return store.ImportRoster(ctx, imp, roster)
}
