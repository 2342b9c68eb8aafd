package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"designsync/internal/api"
	"designsync/pkg/bridge"
	"designsync/pkg/config"
	"designsync/pkg/db"
	"designsync/pkg/db/maintenance"
	"designsync/pkg/logging"
	"designsync/pkg/metrics"
	"designsync/pkg/params"
	"designsync/pkg/preview"
	"designsync/pkg/probe"
	"designsync/pkg/relay"
	"designsync/pkg/store"
	"designsync/pkg/version"
	"designsync/pkg/watcher"
)

const defaultConfigPath = "configs/designsync.yaml"

var (
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
)

func main() {
	flag.Parse()

	// Handle --init-config flag
	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", *configPath)
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("designsync started", "version", version.Version, "config", configPath)

	dbConn, st, err := initDB(appCfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if err := maintenance.Run(ctx, st, dbConn, appCfg.DB.PresetsSeed, appCfg.DB.StateRetention.Std(),
		preview.StateKeyQuery, config.KeyAllowedOrigins); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}

	prov := config.NewProvider(appCfg, st)

	app, err := initApp(ctx, appCfg, prov, st)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := probe.AnalyzeResults(probe.Run(ctx, startupProbes(dbConn, app, st))); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	rw, err := watcher.NewService(configPath, 0, app.reload(ctx, prov), slog.With("component", "watcher"))
	if err != nil {
		return err
	}

	return runServer(ctx, appCfg, prov, app, st, rw)
}

func initDB(appCfg *config.Config) (*db.DB, store.Store, error) {
	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, store.NewSQLiteStore(dbConn), nil
}

func startupProbes(dbConn *db.DB, app *App, st store.StateStore) []probe.Probe {
	return []probe.Probe{
		{
			Name:     "Database",
			Check:    dbConn.PingContext,
			Critical: true,
		},
		{
			Name: "Origin Policy",
			Check: func(context.Context) error {
				for _, o := range app.Policy.Origins() {
					if o == bridge.AnyOrigin {
						return fmt.Errorf("frames from any origin are accepted")
					}
				}
				return nil
			},
		},
		{
			Name: "Saved Parameters",
			Check: func(ctx context.Context) error {
				saved, ok := st.GetState(ctx, preview.StateKeyQuery)
				if !ok {
					return nil
				}
				if norm := params.Parse(saved).Encode(); norm != saved {
					return fmt.Errorf("saved query %q normalized to %q", saved, norm)
				}
				return nil
			},
		},
	}
}

// App holds the long-lived parent side of the preview.
type App struct {
	Registry *prometheus.Registry
	Metrics  *metrics.Bridge
	Policy   *bridge.OriginPolicy
	Endpoint *bridge.Endpoint
	Parent   *preview.Parent
	Hub      *relay.Hub
}

func initApp(ctx context.Context, cfg *config.Config, prov config.Provider, st store.Store) (*App, error) {
	policy, err := bridge.NewOriginPolicy(prov.AllowedOrigins(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to build origin policy: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bm, err := metrics.NewBridge(reg, "parent")
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	ep, err := bridge.NewEndpoint(bridge.Config{
		Origin:    cfg.Bridge.Origin,
		Policy:    policy,
		InboxSize: cfg.Bridge.InboxSize,
		Logger:    slog.With("component", "bridge"),
		Observer:  bm,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create endpoint: %w", err)
	}

	parent, err := preview.NewParent(ctx, preview.ParentConfig{
		Endpoint: ep,
		Tracked:  cfg.Tracked(),
		Query:    cfg.Sync.InitialQuery,
		State:    st,
		Logger:   slog.With("component", "preview"),
	})
	if err != nil {
		ep.Close()
		return nil, fmt.Errorf("failed to create parent: %w", err)
	}

	hub, err := relay.NewHub(relay.HubConfig{
		Endpoint:       ep,
		SendQueue:      cfg.Bridge.SendQueue,
		WriteTimeout:   cfg.Bridge.WriteTimeout.Std(),
		PingInterval:   cfg.Bridge.PingInterval.Std(),
		MaxMessageSize: cfg.Bridge.MaxMessageSize,
		OnJoin: func(id string, peer bridge.Peer) {
			bm.FrameJoined()
			parent.Attach(id, peer)
		},
		OnLeave: func(id string) {
			bm.FrameLeft()
			if err := parent.Detach(id); err != nil {
				slog.Debug("Frame left before attaching", "frame", id, "error", err)
			}
		},
		Logger: slog.With("component", "relay"),
	})
	if err != nil {
		parent.Close()
		ep.Close()
		return nil, fmt.Errorf("failed to create relay hub: %w", err)
	}

	return &App{
		Registry: reg,
		Metrics:  bm,
		Policy:   policy,
		Endpoint: ep,
		Parent:   parent,
		Hub:      hub,
	}, nil
}

// reload applies a changed config file. Only the origin allow-list takes
// effect without a restart; a runtime override still wins over the file.
func (a *App) reload(ctx context.Context, prov *config.UnifiedProvider) watcher.ReloadFunc {
	return func(cfg *config.Config) {
		prov.SetBase(cfg)
		if err := a.Policy.Replace(prov.AllowedOrigins(ctx)); err != nil {
			slog.Error("Config reload: origin list rejected", "error", err)
			return
		}
		slog.Info("Config reloaded", "allowed_origins", a.Policy.Origins())
	}
}

// Close disconnects frames and stops the endpoint.
func (a *App) Close() {
	a.Hub.Close()
	a.Parent.Close()
	a.Endpoint.Close()
}

func runServer(ctx context.Context, cfg *config.Config, prov config.Provider, app *App, st store.Store, rw *watcher.Service) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	shutdownFunc := func() { quit <- syscall.SIGTERM }

	srv := api.NewServer(cfg.Server.Address, api.Handlers{
		Params:  api.NewParamsHandler(app.Parent),
		Presets: api.NewPresetHandler(st, app.Parent),
		Zoom:    api.NewZoomHandler(app.Parent),
		Origins: api.NewOriginsHandler(prov, app.Policy),
		Stats:   api.NewStatsHandler(app.Endpoint, app.Parent),
		Frames:  app.Hub,
		Metrics: metrics.Handler(app.Registry),
	}, shutdownFunc)

	srv.Handler = loggingMiddleware(srv.Handler)
	return runServerLifecycle(ctx, srv, quit, cfg.Server.ShutdownTimeout.Std(), rw)
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal, timeout time.Duration, rw *watcher.Service) error {
	g, gctx := errgroup.WithContext(ctx)
	watchCtx, cancelWatch := context.WithCancel(gctx)
	defer cancelWatch()

	slog.Info("Starting server", "addr", srv.Addr)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return rw.Run(watchCtx)
	})

	g.Go(func() error {
		select {
		case <-quit:
			slog.Info("Shutting down server...")
		case <-gctx.Done():
			slog.Info("Context cancelled, shutting down...")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		cancelWatch()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.RequestLogger.Info("Request Processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
