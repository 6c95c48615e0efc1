// Package config defines the server configuration structure.
package config

import (
	"errors"
	"net"
	"os"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyReplication(&cfg.Replication); err != nil {
		return err
	}
	return verifyStorage(&cfg.Storage)
}

func verifyServer(cfg *ServerSection) error {
	if cfg.Addr == "" {
		return errors.New("server.addr is required")
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return errors.New("server.addr is not a valid host:port: " + err.Error())
	}
	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return errors.New("server.tls requires cert_file and key_file")
		}
		for _, f := range []string{cfg.TLS.CertFile, cfg.TLS.KeyFile} {
			if _, err := os.Stat(f); err != nil {
				return errors.New("server.tls file not readable: " + f)
			}
		}
	}
	return nil
}

func verifyReplication(cfg *ReplicationSection) error {
	if cfg.ReplicaOf == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.ReplicaOf); err != nil {
		return errors.New("replication.replicaof is not a valid host:port: " + err.Error())
	}
	if cfg.AckInterval <= 0 {
		return errors.New("replication.ack_interval must be positive")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.Dir == "" {
		return errors.New("storage.dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return errors.New("cannot create storage directory: " + err.Error())
	}
	if cfg.DBFilename == "" {
		return errors.New("storage.dbfilename is required")
	}
	if cfg.SweepInterval <= 0 {
		return errors.New("storage.sweep_interval must be positive")
	}
	return nil
}
