package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scooked-app/scooked-go/pkg/clock"
	"github.com/scooked-app/scooked-go/pkg/discovery"
	"github.com/scooked-app/scooked-go/pkg/identity"
	"github.com/scooked-app/scooked-go/pkg/log"
	"github.com/scooked-app/scooked-go/pkg/record"
	"github.com/scooked-app/scooked-go/pkg/retry"
	"github.com/scooked-app/scooked-go/pkg/session"
	"github.com/scooked-app/scooked-go/pkg/store"
	"github.com/scooked-app/scooked-go/pkg/transport"
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyStarted = errors.New("service already started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// ServiceState represents the service state.
type ServiceState uint8

const (
	// StateIdle - service created but not started.
	StateIdle ServiceState = iota

	// StateStarting - service is starting up.
	StateStarting

	// StateRunning - service is running normally.
	StateRunning

	// StateStopping - service is shutting down.
	StateStopping

	// StateStopped - service has stopped.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// StoreServiceConfig configures a StoreService.
type StoreServiceConfig struct {
	// ListenAddress is the address to listen on (e.g., ":8743").
	ListenAddress string

	// Scope is the namespace this store serves.
	Scope string

	// StoreID names this store in mDNS advertisements. Generated when
	// empty.
	StoreID string

	// SnapshotPath is the file for the document snapshot. Empty
	// disables persistence.
	SnapshotPath string

	// Advertise enables mDNS advertisement.
	Advertise bool

	// Interface restricts mDNS to one network interface.
	Interface string

	// TTL is the DNS record TTL for advertisements.
	TTL time.Duration

	// MaxMessageSize is the maximum frame size (default: 64KB).
	MaxMessageSize uint32

	// Logger receives protocol and lifecycle events (optional).
	Logger log.Logger
}

// DefaultStoreServiceConfig returns a StoreServiceConfig with sensible
// defaults.
func DefaultStoreServiceConfig() StoreServiceConfig {
	return StoreServiceConfig{
		ListenAddress: fmt.Sprintf(":%d", transport.DefaultPort),
		Scope:         record.DefaultScope,
		Advertise:     true,
		TTL:           discovery.DefaultTTL,
	}
}

// Validate checks if the store service config is valid.
func (c *StoreServiceConfig) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("%w: missing listen address", ErrInvalidConfig)
	}
	if c.Scope == "" || strings.Contains(c.Scope, "/") {
		return fmt.Errorf("%w: bad scope %q", ErrInvalidConfig, c.Scope)
	}
	if c.StoreID != "" {
		if err := discovery.ValidateInstanceName(discovery.InstanceName(c.StoreID)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// ClientServiceConfig configures a ClientService.
type ClientServiceConfig struct {
	// Scope is the namespace for the session document.
	Scope string

	// Identity is a fixed identity token. When empty the
	// IdentityProvider is consulted.
	Identity string

	// IdentityProvider resolves the identity token. A resolution
	// failure degrades the service to a local-only countdown.
	IdentityProvider identity.Provider

	// StoreAddress is a fixed store daemon address (host:port). Empty
	// means the store is located via mDNS.
	StoreAddress string

	// DiscoveryTimeout bounds the mDNS search for a store daemon.
	DiscoveryTimeout time.Duration

	// Interface restricts mDNS browsing to one network interface.
	Interface string

	// RequestTimeout bounds each request round trip to the store.
	RequestTimeout time.Duration

	// SessionDuration is the countdown length for new sessions.
	SessionDuration time.Duration

	// TickInterval is the countdown tick cadence.
	TickInterval time.Duration

	// Retry is the policy for durable store writes.
	Retry retry.Config

	// Clock abstracts time for tests.
	Clock clock.Clock

	// Connection configures the transport connection to the store.
	Connection transport.ConnectionConfig

	// Logger receives protocol and lifecycle events (optional).
	Logger log.Logger
}

// DefaultClientServiceConfig returns a ClientServiceConfig with
// sensible defaults. The identity provider must still be set (or a
// fixed Identity given); without either the service runs local-only.
func DefaultClientServiceConfig() ClientServiceConfig {
	return ClientServiceConfig{
		Scope:            record.DefaultScope,
		DiscoveryTimeout: discovery.BrowseTimeout,
		RequestTimeout:   store.DefaultRequestTimeout,
		SessionDuration:  session.DefaultDuration,
		TickInterval:     session.DefaultTickInterval,
		Retry:            retry.DefaultConfig(),
		Connection:       transport.DefaultConnectionConfig(),
	}
}

// Validate checks if the client service config is valid.
func (c *ClientServiceConfig) Validate() error {
	if c.Scope == "" || strings.Contains(c.Scope, "/") {
		return fmt.Errorf("%w: bad scope %q", ErrInvalidConfig, c.Scope)
	}
	if c.SessionDuration < 0 || c.TickInterval < 0 {
		return fmt.Errorf("%w: negative session timing", ErrInvalidConfig)
	}
	return nil
}
