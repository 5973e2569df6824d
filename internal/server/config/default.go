// Package config defines the relay server configuration structure.
package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr = "127.0.0.1:5080"

	DefaultDataDir          = "/var/lib/diaryx-relay/data"
	DefaultWALSyncInterval  = 100 * time.Millisecond
	DefaultSnapshotKeep     = 3
	DefaultSnapshotInterval = time.Hour
	DefaultGCGraceDays      = 30

	DefaultRateLimit = 1000

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:          DefaultHTTPAddr,
				RateLimit:     DefaultRateLimit,
				EnableMetrics: true,
				EnableAudit:   true,
			},
		},
		Storage: StorageSection{
			DataDir:          DefaultDataDir,
			WALSyncInterval:  DefaultWALSyncInterval,
			SnapshotKeep:     DefaultSnapshotKeep,
			SnapshotInterval: DefaultSnapshotInterval,
			GCGraceDays:      DefaultGCGraceDays,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
