package discovery

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// BrowserConfig configures the mDNS browser.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface by name.
	// Empty uses all interfaces.
	Interface string
}

// Browser watches for station endpoints via mDNS.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates an mDNS browser.
func NewBrowser(config BrowserConfig) *Browser {
	return &Browser{config: config}
}

// Browse searches one service type and emits candidates until the
// context is cancelled. Addresses from multiple interfaces are
// aggregated into a single candidate per instance name; a candidate
// whose addresses all disappear is forgotten and re-emitted if it
// returns.
func (b *Browser) Browse(ctx context.Context, serviceType string) (<-chan *Candidate, error) {
	out := make(chan *Candidate)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	opts := b.browserOptions()

	go func() {
		defer close(out)

		candidates := make(map[string]*Candidate)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				cand := entryToCandidate(entry, serviceType)
				if cand == nil {
					continue
				}

				existing, found := candidates[cand.InstanceName]
				if found {
					existing.Addresses = mergeAddresses(existing.Addresses, cand.Addresses)
					continue
				}
				candidates[cand.InstanceName] = cand
				select {
				case out <- cand:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				if existing, found := candidates[entry.Instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, entryAddresses(entry))
					if len(existing.Addresses) == 0 {
						delete(candidates, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, serviceType, Domain, entries, removed, opts...)
	}()

	return out, nil
}

func (b *Browser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// entryToCandidate converts a zeroconf entry to a Candidate.
func entryToCandidate(entry *zeroconf.ServiceEntry, serviceType string) *Candidate {
	if entry == nil || entry.Instance == "" {
		return nil
	}
	return newCandidate(entry.Instance, protocolFor(serviceType),
		entry.HostName, entry.Port, entryAddresses(entry), entry.Text)
}

func newCandidate(instance, protocol, host string, port int, addrs, txt []string) *Candidate {
	return &Candidate{
		InstanceName: instance,
		Protocol:     protocol,
		Host:         host,
		Port:         port,
		Addresses:    addrs,
		TXT:          txt,
		FirstSeen:    time.Now(),
	}
}

// entryAddresses collects all IPv4 and IPv6 addresses of an entry.
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

func protocolFor(serviceType string) string {
	switch serviceType {
	case ServiceTypeModbus:
		return "modbus"
	case ServiceTypeOCPP:
		return "ocpp"
	default:
		return serviceType
	}
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
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

// removeAddresses drops the given addresses from the list.
func removeAddresses(addresses, gone []string) []string {
	toRemove := make(map[string]bool, len(gone))
	for _, addr := range gone {
		toRemove[addr] = true
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}
