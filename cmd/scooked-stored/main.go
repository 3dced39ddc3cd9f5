// Command scooked-stored runs the session store daemon.
//
// The daemon holds the shared session documents for one scope, serves
// Put/Clear/Get/Subscribe requests over plain TCP, pushes changes to
// subscribed clients, snapshots the document table to disk, and
// advertises itself over mDNS so clients on the LAN can find it.
//
// Usage:
//
//	scooked-stored [flags]
//
// Flags:
//
//	-config string      Configuration file path (YAML)
//	-listen string      Listen address (default ":8743")
//	-scope string       Scope this store serves (default "scooked")
//	-store-id string    Store identifier for mDNS (auto-generated if empty)
//	-data-dir string    Directory for the document snapshot (empty disables)
//	-mdns               Advertise the store over mDNS (default true)
//	-interface string   Network interface for mDNS (default all)
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-trace-file string  Write the full event trace to this file (CBOR)
//
// Examples:
//
//	# Start with defaults (port 8743, mDNS on)
//	scooked-stored
//
//	# Serve a named scope on another port, keep a trace
//	scooked-stored -scope kitchen -listen :9743 -trace-file store.slog
//
//	# Fixed-address only, no mDNS
//	scooked-stored -mdns=false -listen 192.168.1.20:8743
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/scooked-app/scooked-go/pkg/config"
	"github.com/scooked-app/scooked-go/pkg/service"

	tracelog "github.com/scooked-app/scooked-go/pkg/log"
)

var (
	configFile string
	listen     string
	scope      string
	storeID    string
	dataDir    string
	mdns       bool
	iface      string
	logLevel   string
	traceFile  string
)

func init() {
	defaults := config.DefaultStoreConfig()

	flag.StringVar(&configFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&listen, "listen", defaults.ListenAddress, "Listen address")
	flag.StringVar(&scope, "scope", defaults.Scope, "Scope this store serves")
	flag.StringVar(&storeID, "store-id", "", "Store identifier for mDNS (auto-generated if empty)")
	flag.StringVar(&dataDir, "data-dir", defaults.DataDir, "Directory for the document snapshot (empty disables)")
	flag.BoolVar(&mdns, "mdns", defaults.Discovery.Enabled, "Advertise the store over mDNS")
	flag.StringVar(&iface, "interface", "", "Network interface for mDNS (default all)")
	flag.StringVar(&logLevel, "log-level", defaults.Log.Level, "Log level: debug, info, warn, error")
	flag.StringVar(&traceFile, "trace-file", "", "Write the full event trace to this file (CBOR)")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	setupLogging(cfg.Log.Level)

	log.Println("Scooked Store Daemon")
	log.Println("====================")
	log.Printf("Scope: %s", cfg.Scope)
	log.Printf("Listen: %s", cfg.ListenAddress)
	if cfg.DataDir != "" {
		log.Printf("Data dir: %s", cfg.DataDir)
	} else {
		log.Println("Persistence disabled (no data dir)")
	}

	logger, cleanup, err := buildLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer cleanup()

	svcConfig := service.DefaultStoreServiceConfig()
	svcConfig.ListenAddress = cfg.ListenAddress
	svcConfig.Scope = cfg.Scope
	svcConfig.StoreID = cfg.StoreID
	svcConfig.Advertise = cfg.Discovery.Enabled
	svcConfig.Interface = cfg.Discovery.Interface
	svcConfig.TTL = cfg.Discovery.TTL.Std()
	svcConfig.Logger = logger
	if cfg.DataDir != "" {
		svcConfig.SnapshotPath = filepath.Join(cfg.DataDir, "store.json")
	}

	svc, err := service.NewStoreService(svcConfig)
	if err != nil {
		log.Fatalf("Failed to create store service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("Failed to start store daemon: %v", err)
	}
	log.Printf("Store daemon %s listening on %s", svc.StoreID(), svc.Addr())
	if cfg.Discovery.Enabled {
		log.Printf("Advertising over mDNS as scooked-%s", svc.StoreID())
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Printf("Received signal: %v", sig)
	log.Println("Shutting down...")

	if err := svc.Stop(); err != nil {
		log.Printf("Error stopping store daemon: %v", err)
	}

	log.Println("Goodbye!")
}

// loadConfig merges defaults, the optional config file, and explicit
// flags, in that order.
func loadConfig() (*config.StoreConfig, error) {
	var cfg *config.StoreConfig
	var err error

	if configFile != "" {
		cfg, err = config.LoadStoreConfig(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		defaults := config.DefaultStoreConfig()
		cfg = &defaults
	}

	// Explicitly set flags win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddress = listen
		case "scope":
			cfg.Scope = scope
		case "store-id":
			cfg.StoreID = storeID
		case "data-dir":
			cfg.DataDir = dataDir
		case "mdns":
			cfg.Discovery.Enabled = mdns
		case "interface":
			cfg.Discovery.Interface = iface
		case "log-level":
			cfg.Log.Level = logLevel
		case "trace-file":
			cfg.Log.File = traceFile
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(level string) {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	switch level {
	case "debug":
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	case "warn", "error":
		log.SetFlags(log.Ltime)
	}
}

// buildLogger assembles the trace logger: leveled console output, plus
// the full event stream to a trace file when one is configured.
func buildLogger(cfg config.LogConfig) (tracelog.Logger, func(), error) {
	severity, err := tracelog.ParseSeverity(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(severity),
	})
	console := tracelog.NewSlogAdapter(slog.New(handler))

	if cfg.File == "" {
		return console, func() {}, nil
	}

	fileLogger, err := tracelog.NewFileLogger(cfg.File)
	if err != nil {
		return nil, nil, fmt.Errorf("opening trace file: %w", err)
	}
	cleanup := func() { _ = fileLogger.Close() }
	return tracelog.NewMultiLogger(console, fileLogger), cleanup, nil
}

func slogLevel(severity tracelog.Severity) slog.Level {
	switch severity {
	case tracelog.SeverityDebug:
		return slog.LevelDebug
	case tracelog.SeverityWarn:
		return slog.LevelWarn
	case tracelog.SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
