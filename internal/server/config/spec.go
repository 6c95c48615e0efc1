// Package config defines the server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for rivulet-server.
type ServerConfig struct {
	Server      ServerSection      `koanf:"server"`
	Replication ReplicationSection `koanf:"replication"`
	Storage     StorageSection     `koanf:"storage"`
	Metrics     MetricsSection     `koanf:"metrics"`
	Log         LogSection         `koanf:"log"`
}

// ServerSection configures the RESP listener.
type ServerSection struct {
	Addr string `koanf:"addr"`

	TLS TLSConfig `koanf:"tls"`

	// ReadTimeout bounds reading one command once started.
	ReadTimeout time.Duration `koanf:"read_timeout"`
	// WriteTimeout bounds writing one reply.
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// IdleTimeout bounds the quiet gap between commands.
	IdleTimeout time.Duration `koanf:"idle_timeout"`
	// RateLimit is the maximum commands per second per client IP.
	// Zero disables rate limiting.
	RateLimit int `koanf:"rate_limit"`
}

// TLSConfig configures the optional TLS listener.
type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

// ReplicationSection configures the replica role.
type ReplicationSection struct {
	// ReplicaOf is the master's "host:port". Empty runs this server as
	// a master.
	ReplicaOf string `koanf:"replicaof"`
	// AckInterval is how often a replica volunteers its applied offset.
	AckInterval time.Duration `koanf:"ack_interval"`
}

// StorageSection configures snapshot persistence and expiry.
type StorageSection struct {
	// Dir is the snapshot directory.
	Dir string `koanf:"dir"`
	// DBFilename is the snapshot file name under Dir.
	DBFilename string `koanf:"dbfilename"`
	// SweepInterval is how often expired keys are actively removed.
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
