package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/scooked-app/scooked-go/pkg/version"
)

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds FindFirst when its context carries no
	// deadline of its own. Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
	}
}

// Browser searches the local network for store daemons.
type Browser struct {
	config  BrowserConfig
	current version.Version
}

// NewBrowser creates a new mDNS browser.
func NewBrowser(config BrowserConfig) (*Browser, error) {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	current, err := version.Parse(version.Current)
	if err != nil {
		return nil, err
	}
	return &Browser{config: config, current: current}, nil
}

// Browse searches for store daemons serving the given scope; an empty
// scope matches all stores. Services are aggregated by instance name,
// so addresses seen on multiple interfaces merge into a single entry.
// A service is emitted on removed once all its addresses are gone.
// Both channels are closed when the context ends.
func (b *Browser) Browse(ctx context.Context, scope string) (added, removed <-chan *StoreService, err error) {
	addedCh := make(chan *StoreService)
	removedCh := make(chan *StoreService)

	entries := make(chan *zeroconf.ServiceEntry)
	removedEntries := make(chan *zeroconf.ServiceEntry)

	go b.aggregate(ctx, scope, entries, removedEntries, addedCh, removedCh)
	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removedEntries, b.clientOptions()...)
	}()

	return addedCh, removedCh, nil
}

// FindFirst returns the first compatible store daemon serving the
// given scope.
func (b *Browser) FindFirst(ctx context.Context, scope string) (*StoreService, error) {
	if _, ok := ctx.Deadline(); !ok && b.config.BrowseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.BrowseTimeout)
		defer cancel()
	}

	added, _, err := b.Browse(ctx, scope)
	if err != nil {
		return nil, err
	}

	select {
	case svc, ok := <-added:
		if !ok {
			return nil, ErrNotFound
		}
		return svc, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNotFound, ctx.Err())
	}
}

func (b *Browser) aggregate(ctx context.Context, scope string,
	entries, removedEntries <-chan *zeroconf.ServiceEntry,
	addedCh, removedCh chan<- *StoreService) {

	defer close(addedCh)
	defer close(removedCh)

	agg := newAggregator()
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			svc := b.toService(entry)
			if svc == nil {
				continue
			}
			if scope != "" && svc.Scope != scope {
				continue
			}
			if emit := agg.add(svc); emit != nil {
				select {
				case addedCh <- emit:
				case <-ctx.Done():
					return
				}
			}

		case entry, ok := <-removedEntries:
			if !ok {
				removedEntries = nil
				continue
			}
			if emit := agg.remove(entry.Instance, entryAddresses(entry)); emit != nil {
				select {
				case removedCh <- emit:
				case <-ctx.Done():
					return
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// toService converts a zeroconf entry to a StoreService. Entries with
// malformed TXT records or an incompatible protocol major version are
// dropped.
func (b *Browser) toService(entry *zeroconf.ServiceEntry) *StoreService {
	info, err := DecodeStoreTXT(StringsToTXTRecords(entry.Text))
	if err != nil {
		return nil
	}
	advertised, err := version.Parse(info.Version)
	if err != nil || !b.current.Compatible(advertised) {
		return nil
	}

	return &StoreService{
		InstanceName: entry.Instance,
		Host:         entry.HostName,
		Port:         uint16(entry.Port),
		Addresses:    entryAddresses(entry),
		StoreID:      info.StoreID,
		Scope:        info.Scope,
		Version:      info.Version,
	}
}

func (b *Browser) clientOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		if iface, err := net.InterfaceByName(b.config.Interface); err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

func entryAddresses(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

// aggregator tracks known services by instance name, merging addresses
// seen on different interfaces.
type aggregator struct {
	services map[string]*StoreService
}

func newAggregator() *aggregator {
	return &aggregator{services: make(map[string]*StoreService)}
}

// add merges svc into the known set. It returns the service to emit as
// added when the instance is new, or nil when only its address list
// grew.
func (a *aggregator) add(svc *StoreService) *StoreService {
	existing, found := a.services[svc.InstanceName]
	if found {
		existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
		return nil
	}
	a.services[svc.InstanceName] = svc
	return svc
}

// remove subtracts addrs from the named service; an empty addrs list
// drops the whole instance. It returns the service to emit as removed
// once no addresses remain, else nil.
func (a *aggregator) remove(instance string, addrs []string) *StoreService {
	existing, found := a.services[instance]
	if !found {
		return nil
	}
	if len(addrs) == 0 {
		delete(a.services, instance)
		return existing
	}
	existing.Addresses = subtractAddresses(existing.Addresses, addrs)
	if len(existing.Addresses) == 0 {
		delete(a.services, instance)
		return existing
	}
	return nil
}

// mergeAddresses adds new addresses to the existing list, skipping
// duplicates.
func mergeAddresses(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range incoming {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// subtractAddresses removes the given addresses from the list.
func subtractAddresses(addresses, toRemove []string) []string {
	drop := make(map[string]bool, len(toRemove))
	for _, addr := range toRemove {
		drop[addr] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !drop[addr] {
			result = append(result, addr)
		}
	}
	return result
}
