// Package httpserver provides the HTTP/HTTPS surface for the relay.
package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/diaryx/syncd/internal/relay"
	"github.com/diaryx/syncd/internal/relay/adminrpc"
	"github.com/diaryx/syncd/internal/server/httpserver/handler"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Hub is the relay's workspace hub.
	Hub *relay.Hub

	// Tokens validates bearer credentials. An empty store disables
	// authentication (local development).
	Tokens HashedTokens

	// Logger for request logging.
	Logger *slog.Logger

	// MetricsRegistry serves /metrics when non-nil.
	MetricsRegistry *prometheus.Registry

	// AdminAllowList is the IP/CIDR allowlist for the admin API
	// (empty = no restriction).
	AdminAllowList []string

	// CORSAllowedOrigins is the allowed CORS origin list (empty = no
	// CORS middleware, so no CORS headers are sent).
	CORSAllowedOrigins []string

	// GlobalRateLimit is the per-IP request limit (requests/second).
	GlobalRateLimit int

	// EnableAudit enables audit logging for all requests.
	EnableAudit bool

	// AdminRPC, when non-nil, mounts the relay-to-relay admin service.
	AdminRPC adminrpc.Service
}

// NewRouter creates and configures the HTTP router with all routes and
// middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	h := handler.New(cfg.Hub, cfg.Logger)

	mux := http.NewServeMux()

	// Health endpoints - no authentication required.
	mux.Handle("GET /health", Chain(h.Health(), RequestID(), Recover(cfg.Logger)))
	mux.Handle("GET /ready", Chain(h.Ready(), RequestID(), Recover(cfg.Logger)))

	// Metrics endpoint.
	if cfg.MetricsRegistry != nil {
		mux.Handle("GET /metrics", Chain(
			promhttp.HandlerFor(cfg.MetricsRegistry, promhttp.HandlerOpts{}),
			RequestID(),
			Recover(cfg.Logger),
		))
	}

	authMiddleware := func() []Middleware {
		var out []Middleware
		out = append(out, RequestID(), Recover(cfg.Logger))
		if len(cfg.CORSAllowedOrigins) > 0 {
			out = append(out, CORS(cfg.CORSAllowedOrigins))
		}
		if cfg.GlobalRateLimit > 0 {
			out = append(out, RateLimit(cfg.GlobalRateLimit))
		}
		if cfg.EnableAudit {
			out = append(out, Audit(cfg.Logger))
		}
		if !cfg.Tokens.Empty() {
			out = append(out, BearerAuth(cfg.Tokens))
		}
		return out
	}

	// The sync endpoint. Rate limiting applies to the upgrade request
	// only; per-frame limits are the relay actor's job.
	mux.Handle("GET /sync2", Chain(h.Sync(), authMiddleware()...))

	// Snapshot transfer.
	mux.Handle("GET /api/workspaces/{id}/snapshot", Chain(h.SnapshotDownload(), authMiddleware()...))
	mux.Handle("POST /api/workspaces/{id}/snapshot", Chain(h.SnapshotUpload(), authMiddleware()...))

	// Admin API - bearer auth plus optional network ACL.
	adminMiddlewares := authMiddleware()
	if len(cfg.AdminAllowList) > 0 {
		adminMiddlewares = append(adminMiddlewares, NetworkACL(&NetworkACLConfig{
			AllowList: cfg.AdminAllowList,
			Logger:    cfg.Logger,
		}))
	}
	mux.Handle("GET /admin/v1/status/summary", Chain(h.AdminStatus(), adminMiddlewares...))
	mux.Handle("POST /admin/v1/gc/trigger", Chain(h.AdminGC(), adminMiddlewares...))
	mux.Handle("POST /admin/v1/backups/snapshots", Chain(h.AdminSnapshotTrigger(), adminMiddlewares...))

	// Relay-to-relay admin RPC (Connect), behind the same admin gate.
	if cfg.AdminRPC != nil {
		rpcPath, rpcHandler := adminrpc.NewHandler(cfg.AdminRPC)
		mux.Handle(rpcPath, Chain(rpcHandler, adminMiddlewares...))
	}

	return mux
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		GlobalRateLimit: 1000,
		EnableAudit:     true,
	}
}
