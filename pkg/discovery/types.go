package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type for session store daemons.
	ServiceType = "_scooked-store._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default store daemon port.
	DefaultPort = 8743

	// InstancePrefix prefixes every advertised instance name.
	InstancePrefix = "scooked-"
)

// TXT record keys.
const (
	TXTKeyVersion = "v"     // Protocol version ("major.minor")
	TXTKeyScope   = "scope" // App scope the store serves
	TXTKeyStoreID = "id"    // Store instance ID
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the default DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// Discovery errors.
var (
	ErrMissingRequired     = errors.New("missing required field")
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrIncompatibleVersion = errors.New("incompatible protocol version")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
)

// StoreInfo contains the information a store daemon advertises.
type StoreInfo struct {
	// StoreID is the store instance ID.
	StoreID string

	// Scope is the app scope the store serves.
	Scope string

	// Version is the advertised protocol version.
	// Empty means the current library version.
	Version string

	// Port is the service port. Zero means DefaultPort.
	Port uint16
}

// StoreService represents a store daemon found via mDNS.
type StoreService struct {
	// InstanceName is the mDNS instance name (e.g. "scooked-a1b2c3d4").
	InstanceName string

	// Host is the hostname (e.g. "livingroom-pi.local.").
	Host string

	// Port is the service port.
	Port uint16

	// Addresses contains resolved IP addresses.
	Addresses []string

	// StoreID is the store instance ID (from TXT "id").
	StoreID string

	// Scope is the app scope the store serves (from TXT "scope").
	Scope string

	// Version is the advertised protocol version (from TXT "v").
	Version string
}

// Endpoints returns the service's dialable "address:port" endpoints,
// one per resolved address.
func (s *StoreService) Endpoints() []string {
	port := strconv.Itoa(int(s.Port))
	out := make([]string, 0, len(s.Addresses))
	for _, addr := range s.Addresses {
		out = append(out, net.JoinHostPort(addr, port))
	}
	return out
}

// InstanceName builds the advertised instance name for a store ID.
func InstanceName(storeID string) string {
	return InstancePrefix + storeID
}
