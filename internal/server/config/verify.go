// Package config defines the relay server configuration structure.
package config

import (
	"encoding/hex"
	"errors"
	"os"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifySecurity(&cfg.Security); err != nil {
		return err
	}
	return nil
}

func verifyServer(cfg *ServerSection) error {
	if cfg.HTTP.Addr == "" {
		return errors.New("server.http.addr is required")
	}
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		return errors.New("server.http tls_cert_file and tls_key_file must be set together")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}

	// Check if the data directory exists or can be created.
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}

	if cfg.SnapshotKeep < 1 {
		return errors.New("storage.snapshot_keep must be at least 1")
	}
	if cfg.GCGraceDays < 0 {
		return errors.New("storage.gc_grace_days must not be negative")
	}

	return nil
}

func verifySecurity(cfg *SecuritySection) error {
	for _, h := range cfg.TokenHashes {
		if _, err := hex.DecodeString(h); err != nil || len(h) != 64 {
			return errors.New("security.token_hashes entries must be hex sha-256 digests")
		}
	}
	return nil
}
