package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scooked-app/scooked-go/pkg/discovery"
	"github.com/scooked-app/scooked-go/pkg/log"
	"github.com/scooked-app/scooked-go/pkg/session"
	"github.com/scooked-app/scooked-go/pkg/store"
)

// ClientService assembles the client side: it resolves the identity
// token, locates a store daemon, and attaches a session manager to it.
//
// Every remote step is optional. When the identity cannot be resolved,
// no store is found, or the connection fails, the service logs a
// warning and runs local-only: countdowns still work, they are just
// not shared.
type ClientService struct {
	mu sync.RWMutex

	config ClientServiceConfig
	state  ServiceState
	logger log.Logger

	manager *session.Manager
	gateway *store.RemoteGateway

	// Resolved during Start.
	identityToken string
	storeAddr     string
	local         bool

	// locator overrides mDNS store discovery (for testing/DI).
	locator func(ctx context.Context) (*discovery.StoreService, error)
}

// NewClientService creates a new client service. The session manager
// exists from this point on, so tick and state callbacks can be
// registered before Start.
func NewClientService(config ClientServiceConfig) (*ClientService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = log.NoopLogger{}
	}

	manager := session.NewManager(session.Config{
		Duration:     config.SessionDuration,
		TickInterval: config.TickInterval,
		Clock:        config.Clock,
		Retry:        config.Retry,
		Logger:       config.Logger,
	})

	return &ClientService{
		config:  config,
		state:   StateIdle,
		logger:  config.Logger,
		manager: manager,
	}, nil
}

// State returns the current service state.
func (c *ClientService) State() ServiceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SessionState returns the session lifecycle state.
func (c *ClientService) SessionState() session.State {
	return c.manager.State()
}

// Remaining returns the whole seconds left in the session, 0 when
// disconnected.
func (c *ClientService) Remaining() int64 {
	return c.manager.Remaining()
}

// EndTime returns the session end time, if a session is active.
func (c *ClientService) EndTime() (time.Time, bool) {
	return c.manager.EndTime()
}

// LocalOnly reports whether the service runs without a store.
func (c *ClientService) LocalOnly() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local
}

// Identity returns the resolved identity token, empty when running
// local-only without one.
func (c *ClientService) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identityToken
}

// StoreAddress returns the address of the connected store, empty when
// local-only.
func (c *ClientService) StoreAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.storeAddr
}

// OnTick registers fn for countdown ticks. Set before Start.
func (c *ClientService) OnTick(fn func(remaining int64)) {
	c.manager.OnTick(fn)
}

// OnStateChange registers fn for session state transitions. Set before
// Start.
func (c *ClientService) OnStateChange(fn func(oldState, newState session.State, reason session.Reason)) {
	c.manager.OnStateChange(fn)
}

// SetLocator overrides store discovery (for testing/DI).
func (c *ClientService) SetLocator(fn func(ctx context.Context) (*discovery.StoreService, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locator = fn
}

// Connect grants a session of the configured duration.
func (c *ClientService) Connect() error {
	return c.manager.Connect()
}

// Disconnect ends the session immediately.
func (c *ClientService) Disconnect() error {
	return c.manager.Disconnect()
}

// Start resolves the identity, locates and attaches the store, and
// begins accepting Connect/Disconnect calls. Remote failures downgrade
// to local-only instead of failing Start.
func (c *ClientService) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateStopped {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateStarting
	c.mu.Unlock()

	if err := c.manager.Start(); err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}

	token, err := c.resolveIdentity(ctx)
	if err != nil {
		return c.enterLocalOnly(fmt.Sprintf("identity unavailable: %v", err))
	}
	c.mu.Lock()
	c.identityToken = token
	c.mu.Unlock()

	endpoints, err := c.resolveEndpoints(ctx)
	if err != nil {
		return c.enterLocalOnly(fmt.Sprintf("no store found: %v", err))
	}

	gateway, err := store.NewRemoteGateway(store.RemoteGatewayConfig{
		Scope:          c.config.Scope,
		Identity:       token,
		RequestTimeout: c.config.RequestTimeout,
		Connection:     c.config.Connection,
		Logger:         c.logger,
	})
	if err != nil {
		return c.enterLocalOnly(fmt.Sprintf("store gateway: %v", err))
	}

	addr, err := c.connectAny(ctx, gateway, endpoints)
	if err != nil {
		gateway.Close()
		return c.enterLocalOnly(fmt.Sprintf("store unreachable: %v", err))
	}

	if err := c.manager.Attach(ctx, gateway); err != nil {
		gateway.Close()
		return c.enterLocalOnly(fmt.Sprintf("store attach failed: %v", err))
	}

	c.mu.Lock()
	c.gateway = gateway
	c.storeAddr = addr
	c.state = StateRunning
	c.mu.Unlock()

	c.logEvent(log.SeverityInfo, fmt.Sprintf("connected to store at %s", addr))
	return nil
}

// Stop ends any active session and releases the store connection.
func (c *ClientService) Stop() error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.state = StateStopping
	gateway := c.gateway
	c.mu.Unlock()

	err := c.manager.Stop()

	if gateway != nil {
		gateway.Close()
	}

	c.mu.Lock()
	c.gateway = nil
	c.storeAddr = ""
	c.local = false
	c.state = StateStopped
	c.mu.Unlock()

	c.logEvent(log.SeverityInfo, "client service stopped")
	return err
}

// enterLocalOnly finishes Start without a store. The session manager
// keeps running, so countdowns still work.
func (c *ClientService) enterLocalOnly(reason string) error {
	c.logEvent(log.SeverityWarn, fmt.Sprintf("%s; running local-only", reason))

	c.mu.Lock()
	c.local = true
	c.state = StateRunning
	c.mu.Unlock()
	return nil
}

func (c *ClientService) resolveIdentity(ctx context.Context) (string, error) {
	if c.config.Identity != "" {
		return c.config.Identity, nil
	}
	if c.config.IdentityProvider == nil {
		return "", fmt.Errorf("no identity configured")
	}
	return c.config.IdentityProvider.Identity(ctx)
}

// resolveEndpoints returns the candidate store addresses, either the
// configured fixed address or whatever mDNS finds first.
func (c *ClientService) resolveEndpoints(ctx context.Context) ([]string, error) {
	if c.config.StoreAddress != "" {
		return []string{c.config.StoreAddress}, nil
	}

	svc, err := c.locateStore(ctx)
	if err != nil {
		return nil, err
	}

	endpoints := svc.Endpoints()
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("store %q advertised no addresses", svc.InstanceName)
	}

	c.logEvent(log.SeverityInfo, fmt.Sprintf("discovered store %s (%s)", svc.StoreID, endpoints[0]))
	return endpoints, nil
}

func (c *ClientService) locateStore(ctx context.Context) (*discovery.StoreService, error) {
	c.mu.RLock()
	locator := c.locator
	c.mu.RUnlock()
	if locator != nil {
		return locator(ctx)
	}

	browser, err := discovery.NewBrowser(discovery.BrowserConfig{
		BrowseTimeout: c.config.DiscoveryTimeout,
		Interface:     c.config.Interface,
	})
	if err != nil {
		return nil, err
	}
	return browser.FindFirst(ctx, c.config.Scope)
}

// connectAny tries the endpoints in order and returns the first that
// accepts the connection.
func (c *ClientService) connectAny(ctx context.Context, gateway *store.RemoteGateway, endpoints []string) (string, error) {
	var lastErr error
	for _, endpoint := range endpoints {
		if err := gateway.Connect(ctx, endpoint); err != nil {
			lastErr = err
			continue
		}
		return endpoint, nil
	}
	return "", lastErr
}

func (c *ClientService) logEvent(severity log.Severity, message string) {
	c.logger.Log(log.Event{
		Timestamp: time.Now(),
		Severity:  severity,
		Component: log.ComponentService,
		Message:   message,
	})
}
