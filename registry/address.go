package registry

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// unsetAddr is the sentinel an interface advertises while it has no
// assigned address.
const unsetAddr = "0.0.0.0"

// ValidIP reports whether an advertised address is usable at all.
func ValidIP(addr string) bool {
	return addr != "" && addr != unsetAddr
}

// PreferredAddress applies the dual-address resolution policy: prefer
// the AP address when set, else the station address, else fall back to
// whatever address the caller already has cached. Returns "" when no
// candidate exists.
func PreferredAddress(n Node, cached string) string {
	if ValidIP(n.APIP) {
		return n.APIP
	}
	if ValidIP(n.StationIP) {
		return n.StationIP
	}
	if ValidIP(cached) {
		return cached
	}
	return ""
}

// Prober validates that an advertised address actually answers from
// this host's vantage point. Advertised addresses can be stale or
// belong to an interface on an unreachable subnet, so preference order
// alone is not trusted for cross-subnet calls.
type Prober interface {
	Reachable(ctx context.Context, host string, port int) bool
}

// TCPProber probes reachability with a bounded TCP dial.
type TCPProber struct {
	Timeout time.Duration
}

// Reachable dials host:port and reports whether the connection opened
// within the timeout.
func (p TCPProber) Reachable(ctx context.Context, host string, port int) bool {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ResolveReachable walks the address candidates in preference order
// (AP, station, cached) and returns the first one the prober can reach
// on the given port. It fails when every candidate is unreachable.
func ResolveReachable(ctx context.Context, prober Prober, n Node, port int, cached string) (string, error) {
	var candidates []string
	for _, addr := range []string{n.APIP, n.StationIP, cached} {
		if ValidIP(addr) && !contains(candidates, addr) {
			candidates = append(candidates, addr)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("node %s has no usable address", n.ID)
	}

	for _, addr := range candidates {
		if prober.Reachable(ctx, addr, port) {
			return addr, nil
		}
	}
	return "", fmt.Errorf("node %s: no reachable address among %v", n.ID, candidates)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
