// Package config defines the relay server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for diaryx-relay.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Storage  StorageSection  `koanf:"storage"`
	Security SecuritySection `koanf:"security"`
	Cluster  ClusterSection  `koanf:"cluster"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`
}

// HTTPConfig configures the HTTP server, which also carries the
// /sync2 WebSocket endpoint.
type HTTPConfig struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`

	// RateLimit is the per-IP request limit (requests/second).
	RateLimit int `koanf:"rate_limit"`

	// CORSAllowedOrigins restricts cross-origin access. Empty sends
	// no CORS headers.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// AdminAllowList is the IP/CIDR allowlist for /admin endpoints.
	AdminAllowList []string `koanf:"admin_allow_list"`

	// EnableMetrics serves Prometheus metrics at /metrics.
	EnableMetrics bool `koanf:"enable_metrics"`

	// EnableAudit logs every request to the audit trail.
	EnableAudit bool `koanf:"enable_audit"`
}

// StorageSection configures storage behavior.
type StorageSection struct {
	DataDir          string        `koanf:"data_dir"`
	WALSyncInterval  time.Duration `koanf:"wal_sync_interval"`
	SnapshotKeep     int           `koanf:"snapshot_keep"`
	SnapshotInterval time.Duration `koanf:"snapshot_interval"`

	// GCGraceDays is checked by Verify (it must not be negative). The
	// relay does not read it: the admin GC trigger keeps tombstoned
	// records for a fixed 30 days.
	GCGraceDays int `koanf:"gc_grace_days"`
}

// SecuritySection configures security settings.
type SecuritySection struct {
	// TokenHashes is the hex SHA-256 allowlist of accepted bearer
	// tokens. Empty disables authentication (local development).
	TokenHashes []string `koanf:"token_hashes"`

	// EncryptionKey is masked by Sanitize. The relay does not pass it
	// to storage, so it has no effect on what is written to disk.
	EncryptionKey string `koanf:"encryption_key"`

	TLSCAFile string `koanf:"tls_ca_file"`
}

// ClusterSection configures multi-relay peer discovery. Gossip only:
// relays learn each other's addresses and workspace placements for
// client redirects, never consensus.
type ClusterSection struct {
	NodeID string `koanf:"node_id"`

	// GossipAddr is the memberlist bind address. Empty disables
	// clustering.
	GossipAddr string `koanf:"gossip_addr"`

	// Seeds are peer gossip addresses to join on startup.
	Seeds []string `koanf:"seeds"`

	// AdvertiseURL is this relay's client-facing base URL, shared via
	// gossip so peers can redirect clients.
	AdvertiseURL string `koanf:"advertise_url"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
