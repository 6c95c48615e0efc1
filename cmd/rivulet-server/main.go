// Package main provides the entry point for rivulet-server.
//
// rivulet-server is an in-memory data store speaking the RESP wire
// protocol, with client transactions, blocking reads and asynchronous
// master/replica replication.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/rivulet-go/internal/engine"
	"github.com/yndnr/rivulet-go/internal/infra/buildinfo"
	"github.com/yndnr/rivulet-go/internal/infra/confloader"
	"github.com/yndnr/rivulet-go/internal/infra/shutdown"
	"github.com/yndnr/rivulet-go/internal/replication"
	"github.com/yndnr/rivulet-go/internal/server/config"
	"github.com/yndnr/rivulet-go/internal/server/respserver"
	"github.com/yndnr/rivulet-go/internal/store"
	"github.com/yndnr/rivulet-go/internal/telemetry/logger"
	"github.com/yndnr/rivulet-go/internal/telemetry/metric"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	return &cli.App{
		Name:  "rivulet-server",
		Usage: "RESP-compatible in-memory data store with replication",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)",
			buildinfo.Version, buildinfo.Commit, buildinfo.BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file (YAML)",
				EnvVars: []string{"RIVULET_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address (host:port)",
			},
			&cli.StringFlag{
				Name:  "replicaof",
				Usage: "Run as a replica of the given master (host:port)",
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Snapshot directory",
			},
			&cli.StringFlag{
				Name:  "dbfilename",
				Usage: "Snapshot file name",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: json, text",
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)

	role := "master"
	if cfg.Replication.ReplicaOf != "" {
		role = "replica"
	}
	log.Info("starting rivulet-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"role", role,
		"addr", cfg.Server.Addr)

	metrics := metric.NewRegistry()
	st := store.New()
	metrics.RegisterKeyspace(st)

	eng := engine.New(engine.Config{
		ReplicaOf:  cfg.Replication.ReplicaOf,
		Dir:        cfg.Storage.Dir,
		DBFilename: cfg.Storage.DBFilename,
	}, st, log, metrics)

	// A replica receives its keyspace from the master; only a master
	// restores the local snapshot.
	if cfg.Replication.ReplicaOf == "" {
		if err := eng.LoadSnapshotFile(); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srvCfg := &respserver.Config{
		Address:      cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		RateLimit:    cfg.Server.RateLimit,
	}
	if cfg.Server.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("load tls keypair: %w", err)
		}
		srvCfg.TLSEnabled = true
		srvCfg.TLSAddress = cfg.Server.TLS.Addr
		srvCfg.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	srv := respserver.New(srvCfg, eng, log, metrics)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	go eng.RunExpirySweeper(ctx, cfg.Storage.SweepInterval)

	if cfg.Replication.ReplicaOf != "" {
		if err := startReplicaLink(ctx, cfg, eng, log); err != nil {
			return err
		}
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			log.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	watcher := startConfigWatcher(c.String("config"), log)

	// Hooks run in reverse registration order: the snapshot save is
	// registered first so it executes last, after the RESP server has
	// stopped accepting writes.
	shutdownHandler := shutdown.NewHandler(30 * time.Second)
	if cfg.Replication.ReplicaOf == "" {
		shutdownHandler.OnShutdown(func(context.Context) error {
			log.Info("saving snapshot before exit")
			return eng.SaveSnapshot()
		})
	}
	shutdownHandler.OnShutdown(func(context.Context) error {
		cancel()
		return nil
	})
	if watcher != nil {
		shutdownHandler.OnShutdown(func(context.Context) error {
			return watcher.Stop()
		})
	}
	if metricsSrv != nil {
		shutdownHandler.OnShutdown(func(sctx context.Context) error {
			return metricsSrv.Shutdown(sctx)
		})
	}
	shutdownHandler.OnShutdown(func(sctx context.Context) error {
		log.Info("shutting down resp server")
		return srv.Shutdown(sctx)
	})

	log.Info("server started")
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

// loadConfig merges defaults, the optional config file, environment
// variables and command line flags, in increasing priority.
func loadConfig(c *cli.Context) (*config.ServerConfig, error) {
	cfg := config.Default()

	opts := []confloader.Option{}
	if path := c.String("config"); path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	loader := confloader.NewLoader(opts...)

	overrides := map[string]any{}
	for flag, key := range map[string]string{
		"addr":       "server.addr",
		"replicaof":  "replication.replicaof",
		"dir":        "storage.dir",
		"dbfilename": "storage.dbfilename",
		"log-level":  "log.level",
		"log-format": "log.format",
	} {
		if c.IsSet(flag) {
			overrides[key] = c.String(flag)
		}
	}

	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if err := loader.LoadMap(overrides); err != nil {
			return nil, err
		}
		if err := loader.Unmarshal(cfg); err != nil {
			return nil, err
		}
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// startReplicaLink connects to the master and keeps the link alive,
// redialing with a short backoff until the context ends.
func startReplicaLink(ctx context.Context, cfg *config.ServerConfig, eng *engine.Engine, log logger.Logger) error {
	_, portStr, err := net.SplitHostPort(cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("parse listen address: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("parse listen port: %w", err)
	}

	rep := replication.NewReplica(replication.Config{
		MasterAddr:    cfg.Replication.ReplicaOf,
		ListeningPort: port,
		AckInterval:   cfg.Replication.AckInterval,
	}, eng, log)
	eng.AttachReplica(rep)

	go func() {
		for {
			err := rep.Run(ctx)
			if ctx.Err() != nil {
				return
			}
			log.Warn("master link lost, reconnecting", "master", cfg.Replication.ReplicaOf, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()
	return nil
}

// startConfigWatcher reloads the log level when the config file
// changes. Other settings require a restart.
func startConfigWatcher(path string, log logger.Logger) *confloader.Watcher {
	if path == "" {
		return nil
	}
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		log.Warn("config watcher unavailable", "error", err)
		return nil
	}
	if err := w.Watch(path); err != nil {
		_ = w.Stop()
		return nil
	}
	w.OnChange(func(changed string) {
		cfg := config.Default()
		l := confloader.NewLoader(confloader.WithConfigFile(path))
		if err := l.Load(cfg); err != nil {
			log.Warn("config reload failed", "error", err)
			return
		}
		logger.SetLevel(cfg.Log.Level)
		log.Info("log level reloaded", "level", cfg.Log.Level)
	})
	w.StartAsync()
	return w
}
