// Command scooked-client runs the session client.
//
// The client resolves a stable identity token, finds a store daemon on
// the LAN (or uses a fixed address), and manages the shared session
// countdown: connect grants a session of the configured duration,
// disconnect ends it, and changes made by other clients under the same
// identity are mirrored as they happen. When no store is reachable the
// client keeps working local-only.
//
// Usage:
//
//	scooked-client [flags]
//
// Flags:
//
//	-config string      Configuration file path (YAML)
//	-scope string       Scope to participate in (default "scooked")
//	-identity string    Fixed identity token (default: derived from the state dir)
//	-store string       Fixed store address host:port (default: discover via mDNS)
//	-state-dir string   Directory for the device secret (default ~/.scooked)
//	-duration duration  Session length (default 10m)
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-trace-file string  Write the full event trace to this file (CBOR)
//	-interactive        Run the interactive prompt (default true)
//
// Examples:
//
//	# Interactive client, store discovered over mDNS
//	scooked-client
//
//	# Fixed store, shorter sessions
//	scooked-client -store 192.168.1.20:8743 -duration 5m
//
//	# Headless: mirror session state into a trace file
//	scooked-client -interactive=false -trace-file client.slog
//
// Interactive Commands:
//
//	connect     - Start a session (resets the countdown if one is active)
//	disconnect  - End the session immediately
//	status      - Show session and store status
//	identity    - Show the identity token
//	quit        - Exit the client
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scooked-app/scooked-go/cmd/scooked-client/interactive"
	"github.com/scooked-app/scooked-go/pkg/config"
	"github.com/scooked-app/scooked-go/pkg/identity"
	"github.com/scooked-app/scooked-go/pkg/retry"
	"github.com/scooked-app/scooked-go/pkg/service"
	"github.com/scooked-app/scooked-go/pkg/session"

	tracelog "github.com/scooked-app/scooked-go/pkg/log"
)

var (
	configFile    string
	scope         string
	identityToken string
	storeAddr     string
	stateDir      string
	duration      time.Duration
	logLevel      string
	traceFile     string
	interactiveUI bool
)

func init() {
	defaults := config.DefaultClientConfig()

	flag.StringVar(&configFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&scope, "scope", defaults.Scope, "Scope to participate in")
	flag.StringVar(&identityToken, "identity", "", "Fixed identity token (default: derived from the state dir)")
	flag.StringVar(&storeAddr, "store", "", "Fixed store address host:port (default: discover via mDNS)")
	flag.StringVar(&stateDir, "state-dir", defaults.StateDir, "Directory for the device secret")
	flag.DurationVar(&duration, "duration", defaults.Session.Duration.Std(), "Session length")
	flag.StringVar(&logLevel, "log-level", defaults.Log.Level, "Log level: debug, info, warn, error")
	flag.StringVar(&traceFile, "trace-file", "", "Write the full event trace to this file (CBOR)")
	flag.BoolVar(&interactiveUI, "interactive", true, "Run the interactive prompt")
}

// clientInfo adapts the loaded configuration to the interactive layer.
type clientInfo struct {
	cfg *config.ClientConfig
}

func (c *clientInfo) Scope() string {
	return c.cfg.Scope
}

func (c *clientInfo) SessionDuration() time.Duration {
	return c.cfg.Session.Duration.Std()
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	setupLogging(cfg.Log.Level)

	log.Println("Scooked Client")
	log.Println("==============")
	log.Printf("Scope: %s", cfg.Scope)
	log.Printf("Session duration: %s", cfg.Session.Duration)

	logger, cleanup, err := buildLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer cleanup()

	svcConfig := service.DefaultClientServiceConfig()
	svcConfig.Scope = cfg.Scope
	svcConfig.Identity = cfg.Identity
	svcConfig.StoreAddress = cfg.Store.Address
	svcConfig.DiscoveryTimeout = cfg.Store.DiscoveryTimeout.Std()
	svcConfig.Interface = cfg.Store.Interface
	svcConfig.RequestTimeout = cfg.Store.RequestTimeout.Std()
	svcConfig.SessionDuration = cfg.Session.Duration.Std()
	svcConfig.TickInterval = cfg.Session.TickInterval.Std()
	svcConfig.Retry = retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay.Std(),
		Multiplier:  cfg.Retry.Multiplier,
	}
	svcConfig.Logger = logger
	if cfg.Identity == "" {
		svcConfig.IdentityProvider = identity.NewFileProvider(cfg.StateDir, cfg.Scope)
	}

	svc, err := service.NewClientService(svcConfig)
	if err != nil {
		log.Fatalf("Failed to create client service: %v", err)
	}

	svc.OnStateChange(handleStateChange)
	svc.OnTick(handleTick)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("Failed to start client: %v", err)
	}

	log.Printf("Identity: %s", svc.Identity())
	if svc.LocalOnly() {
		log.Println("WARNING: no store available, running local-only (countdowns are not shared)")
	} else {
		log.Printf("Store: %s", svc.StoreAddress())
	}

	// Run interactive mode or wait for signal
	if interactiveUI {
		ic, err := interactive.New(svc, &clientInfo{cfg: cfg})
		if err != nil {
			log.Fatalf("Failed to create interactive client: %v", err)
		}
		// Redirect log output through readline to avoid interfering with input
		log.SetOutput(ic.Stdout())
		go ic.Run(ctx, cancel)
	}

	// Wait for shutdown signal or context cancellation
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
		// Context was cancelled (e.g., by the quit command)
	}

	log.Println("Shutting down...")

	if err := svc.Stop(); err != nil {
		log.Printf("Error stopping client: %v", err)
	}

	log.Println("Goodbye!")
}

// loadConfig merges defaults, the optional config file, and explicit
// flags, in that order.
func loadConfig() (*config.ClientConfig, error) {
	var cfg *config.ClientConfig
	var err error

	if configFile != "" {
		cfg, err = config.LoadClientConfig(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		defaults := config.DefaultClientConfig()
		cfg = &defaults
	}

	// Explicitly set flags win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "scope":
			cfg.Scope = scope
		case "identity":
			cfg.Identity = identityToken
		case "store":
			cfg.Store.Address = storeAddr
		case "state-dir":
			cfg.StateDir = stateDir
		case "duration":
			cfg.Session.Duration = config.Duration(duration)
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

// buildLogger assembles the trace logger: leveled console output on
// stderr, plus the full event stream to a trace file when configured.
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

func handleStateChange(oldState, newState session.State, reason session.Reason) {
	if reason != session.ReasonNone {
		log.Printf("[SESSION] %s -> %s (%s)", oldState, newState, reason)
		return
	}
	log.Printf("[SESSION] %s -> %s", oldState, newState)
}

// handleTick prints countdown milestones: every full minute and each
// of the last ten seconds.
func handleTick(remaining int64) {
	if remaining <= 0 {
		return
	}
	if remaining%60 == 0 || remaining <= 10 {
		log.Printf("[TIMER] %s remaining", formatRemaining(remaining))
	}
}

func formatRemaining(seconds int64) string {
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
