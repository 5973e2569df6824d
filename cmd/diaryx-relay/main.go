package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/diaryx/syncd/internal/infra/confloader"
	"github.com/diaryx/syncd/internal/infra/shutdown"
	"github.com/diaryx/syncd/internal/infra/tlsroots"
	"github.com/diaryx/syncd/internal/relay"
	"github.com/diaryx/syncd/internal/relay/cluster"
	"github.com/diaryx/syncd/internal/server/config"
	"github.com/diaryx/syncd/internal/server/httpserver"
	"github.com/diaryx/syncd/internal/sync/identity"
	"github.com/diaryx/syncd/internal/telemetry/logger"
)

// Build information, set via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("diaryx-relay %s (commit: %s, built: %s)\n", version, commit, buildTime)
		return nil
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, slogLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	log.Info("starting diaryx-relay",
		"version", version,
		"commit", commit,
		"config", *configFile)

	// Metrics registry.
	var registry *prometheus.Registry
	if cfg.Server.HTTP.EnableMetrics {
		registry = prometheus.NewRegistry()
	}
	metrics := relay.NewMetrics(registry)

	// The hub provisions per-workspace storage and actors on demand.
	hub := relay.NewHub(relay.HubConfig{
		DataDir:        cfg.Storage.DataDir,
		ServerClientID: identity.NewClientID(),
	}, slogLogger, metrics)

	// Optional gossip discovery for multi-relay deployments.
	var discovery *cluster.Discovery
	if cfg.Cluster.GossipAddr != "" {
		host, port, err := splitGossipAddr(cfg.Cluster.GossipAddr)
		if err != nil {
			return fmt.Errorf("cluster gossip addr: %w", err)
		}
		discovery, err = cluster.NewDiscovery(cluster.DiscoveryConfig{
			NodeID:       cfg.Cluster.NodeID,
			BindAddr:     host,
			BindPort:     port,
			AdvertiseURL: cfg.Cluster.AdvertiseURL,
			SeedNodes:    cfg.Cluster.Seeds,
			Logger:       slogLogger,
		})
		if err != nil {
			return fmt.Errorf("start discovery: %w", err)
		}
	}

	// HTTP surface: /sync2, snapshots, health, metrics, admin.
	routerCfg := &httpserver.RouterConfig{
		Hub: hub,
		AdminRPC: &adminService{
			nodeID: cfg.Cluster.NodeID,
			hub:    hub,
		},
		Tokens:             httpserver.NewHashedTokens(cfg.Security.TokenHashes),
		Logger:             slogLogger,
		MetricsRegistry:    registry,
		AdminAllowList:     cfg.Server.HTTP.AdminAllowList,
		CORSAllowedOrigins: cfg.Server.HTTP.CORSAllowedOrigins,
		GlobalRateLimit:    cfg.Server.HTTP.RateLimit,
		EnableAudit:        cfg.Server.HTTP.EnableAudit,
	}
	var serverOpts []httpserver.Option
	if cfg.Security.TLSCAFile != "" {
		pool := tlsroots.NewEmptyPool()
		if err := pool.AddCertFile(cfg.Security.TLSCAFile); err != nil {
			return fmt.Errorf("load tls ca: %w", err)
		}
		tlsCfg := pool.TLSConfig()
		tlsCfg.ClientCAs = pool.Pool()
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
		serverOpts = append(serverOpts, httpserver.WithTLSConfig(tlsCfg))
	}
	httpServer := httpserver.New(cfg.Server.HTTP.Addr, httpserver.NewRouter(routerCfg), serverOpts...)

	// Graceful shutdown, reverse order of startup.
	shutdownHandler := shutdown.NewHandler(30 * time.Second)
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return httpServer.Shutdown(ctx)
	})
	if discovery != nil {
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("leaving relay cluster")
			discovery.Leave()
			return discovery.Shutdown()
		})
	}
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down workspace actors")
		return hub.Close()
	})

	// Hot-reload: a config file edit re-verifies and applies the log
	// level without a restart. Structural settings (addresses, storage
	// dirs) still require one.
	if *configFile != "" {
		watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(slogLogger))
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		if err := watcher.Watch(*configFile); err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		watcher.OnChange(func(path string) {
			reloaded, err := loadConfig(path)
			if err != nil {
				log.Error("config reload rejected", "error", err)
				return
			}
			logger.SetLevel(reloaded.Log.Level)
			log.Info("config reloaded", "log_level", reloaded.Log.Level)
		})
		watcher.StartAsync()
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			return watcher.Stop()
		})
	}

	go func() {
		log.Info("HTTP server listening", "addr", cfg.Server.HTTP.Addr)

		var err error
		if cfg.Server.HTTP.TLSCertFile != "" && cfg.Server.HTTP.TLSKeyFile != "" {
			err = httpServer.ListenAndServeTLS(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("relay started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("relay stopped gracefully")
	return nil
}

// loadConfig loads configuration from file and environment.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	loader := confloader.NewLoader(opts...)

	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger initializes the structured logger.
func initLogger(cfg *config.ServerConfig) (logger.Logger, *slog.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.SetDefault(log)
	return log, slog.Default(), nil
}

// adminService answers the relay-to-relay admin RPC.
type adminService struct {
	nodeID string
	hub    *relay.Hub
}

func (s *adminService) NodeID() string       { return s.nodeID }
func (s *adminService) Version() string      { return version }
func (s *adminService) Workspaces() []string { return s.hub.Workspaces() }

func splitGossipAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("bad port %q", portStr)
	}
	return host, port, nil
}
