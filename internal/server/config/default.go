// Package config defines the server configuration structure.
package config

import "time"

// Default configuration values.
const (
	DefaultAddr        = "127.0.0.1:6379"
	DefaultTLSAddr     = "127.0.0.1:6380"
	DefaultMetricsAddr = "127.0.0.1:9121"

	DefaultDir        = "/var/lib/rivulet-server/data"
	DefaultDBFilename = "dump.rvdb"

	DefaultReadTimeout   = 30 * time.Second
	DefaultWriteTimeout  = 30 * time.Second
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultSweepInterval = 100 * time.Millisecond
	DefaultAckInterval   = time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Addr: DefaultAddr,
			TLS: TLSConfig{
				Enabled: false,
				Addr:    DefaultTLSAddr,
			},
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			RateLimit:    0,
		},
		Replication: ReplicationSection{
			ReplicaOf:   "",
			AckInterval: DefaultAckInterval,
		},
		Storage: StorageSection{
			Dir:           DefaultDir,
			DBFilename:    DefaultDBFilename,
			SweepInterval: DefaultSweepInterval,
		},
		Metrics: MetricsSection{
			Enabled: false,
			Addr:    DefaultMetricsAddr,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
