// Package allowset holds the set of client IPs permitted to use the relay.
package allowset

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
)

// Store is the allow-set shared by the control endpoint and the relay.
// Entries are only ever added.
type Store interface {
	// Insert adds ip; inserting an existing ip is a successful no-op.
	Insert(ctx context.Context, ip string) error
	// Contains reports point-in-time membership. Backend failures answer false.
	Contains(ctx context.Context, ip string) bool
	// Snapshot returns a copy of the current members in no particular order.
	Snapshot(ctx context.Context) ([]string, error)
	Len(ctx context.Context) int
	Close() error
}

// Normalize returns the canonical text form of ip so that the same client
// matches whether it was seen on an IPv4 or a dual-stack socket.
func Normalize(ip string) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("invalid ip %q: %w", ip, err)
	}
	return addr.Unmap().WithZone("").String(), nil
}

// PeerIP extracts the normalized IP of a remote address, dropping the port.
func PeerIP(addr net.Addr) (string, error) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		if a, ok := netip.AddrFromSlice(tcp.IP); ok {
			return a.Unmap().String(), nil
		}
	}
	return PeerIPFromString(addr.String())
}

// PeerIPFromString is PeerIP for a "host:port" string such as http.Request.RemoteAddr.
func PeerIPFromString(hostport string) (string, error) {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", fmt.Errorf("split remote addr %q: %w", hostport, err)
	}
	return Normalize(host)
}

// Memory is the in-process Store. Reads share a lock; Insert holds it exclusively.
type Memory struct {
	mu  sync.RWMutex
	ips map[string]struct{}
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{ips: make(map[string]struct{})}
}

func (m *Memory) Insert(_ context.Context, ip string) error {
	m.mu.Lock()
	m.ips[ip] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Contains(_ context.Context, ip string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ips[ip]
	return ok
}

func (m *Memory) Snapshot(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.ips))
	for ip := range m.ips {
		out = append(out, ip)
	}
	return out, nil
}

func (m *Memory) Len(_ context.Context) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ips)
}

func (m *Memory) Close() error { return nil }
