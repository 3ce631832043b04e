// Package discover locates OCT engine daemons on the local network via
// mDNS. Engines advertise themselves as _octengine._tcp services.
package discover

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceName is the mDNS service type advertised by engine daemons.
const ServiceName = "_octengine._tcp"

// Engine is a discovered engine daemon.
type Engine struct {
	Instance  string // advertised name, e.g. "octengined on telesto"
	Hostname  string // DNS hostname, e.g. "telesto.local."
	Addresses []net.IP
	Port      int
	TXT       []string
}

// Addr returns a dialable host:port for the engine, preferring IPv4.
func (e Engine) Addr() string {
	for _, ip := range e.Addresses {
		if ip.To4() != nil {
			return net.JoinHostPort(ip.String(), fmt.Sprint(e.Port))
		}
	}
	if len(e.Addresses) > 0 {
		return net.JoinHostPort(e.Addresses[0].String(), fmt.Sprint(e.Port))
	}
	return net.JoinHostPort(strings.TrimSuffix(e.Hostname, "."), fmt.Sprint(e.Port))
}

// Engines performs a blocking mDNS browse and returns deduplicated engines,
// sorted by hostname.
func Engines(timeout time.Duration) ([]Engine, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	resultMap := make(map[string]Engine)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
				addrs = append(addrs, e.AddrIPv4...)
				addrs = append(addrs, e.AddrIPv6...)

				key := fmt.Sprintf("%s|%d", e.HostName, e.Port)
				resultMap[key] = Engine{
					Instance:  cleanInstance(e.Instance),
					Hostname:  e.HostName,
					Addresses: addrs,
					Port:      e.Port,
					TXT:       append([]string{}, e.Text...),
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceName, "local.", entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}

	<-done

	out := make([]Engine, 0, len(resultMap))
	for _, e := range resultMap {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out, nil
}

// cleanInstance removes zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
