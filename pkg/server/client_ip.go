package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
)

// clientAddr resolves the client address of r. Forwarding headers are only
// read when the direct peer is a trusted proxy; the right-most untrusted hop
// wins.
func clientAddr(r *http.Request, trusted *proxyMatcher) string {
	remote := peerIP(r)
	if remote == nil {
		return ""
	}
	if !trusted.contains(remote) {
		return remote.String()
	}

	hops := forwardedFor(r.Header.Get("Forwarded"))
	if len(hops) == 0 {
		hops = xForwardedFor(r.Header.Get("X-Forwarded-For"))
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !trusted.contains(hops[i]) {
			return hops[i].String()
		}
	}
	if len(hops) > 0 {
		return hops[0].String()
	}
	return remote.String()
}

func peerIP(r *http.Request) net.IP {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return nil
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return parseHost(host)
}

// forwardedFor extracts the for= parameters of an RFC 7239 header.
func forwardedFor(header string) []net.IP {
	var out []net.IP
	for _, elem := range strings.Split(header, ",") {
		for _, pair := range strings.Split(elem, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(k), "for") {
				continue
			}
			if ip := parseHop(v); ip != nil {
				out = append(out, ip)
			}
		}
	}
	return out
}

func xForwardedFor(header string) []net.IP {
	var out []net.IP
	for _, part := range strings.Split(header, ",") {
		if ip := parseHop(part); ip != nil {
			out = append(out, ip)
		}
	}
	return out
}

func parseHop(value string) net.IP {
	value = strings.Trim(strings.TrimSpace(value), `"`)
	if value == "" || strings.EqualFold(value, "unknown") {
		return nil
	}
	host := value
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end != -1 {
			host = host[1:end]
		}
	} else if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return parseHost(host)
}

func parseHost(host string) net.IP {
	host = strings.Trim(host, "[]")
	if zone := strings.Index(host, "%"); zone != -1 {
		host = host[:zone]
	}
	return net.ParseIP(host)
}

// proxyMatcher matches trusted proxy addresses. A nil matcher trusts nothing.
type proxyMatcher struct {
	ips  map[string]struct{}
	nets []*net.IPNet
}

func newProxyMatcher(entries []string, logger *slog.Logger) *proxyMatcher {
	m := &proxyMatcher{ips: make(map[string]struct{})}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
		case strings.Contains(entry, "/"):
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn("invalid trusted proxy CIDR", "entry", entry, "error", err)
				continue
			}
			m.nets = append(m.nets, network)
		default:
			ip := net.ParseIP(entry)
			if ip == nil {
				logger.Warn("invalid trusted proxy IP", "entry", entry)
				continue
			}
			m.ips[ip.String()] = struct{}{}
		}
	}
	if len(m.ips) == 0 && len(m.nets) == 0 {
		return nil
	}
	return m
}

func (m *proxyMatcher) contains(ip net.IP) bool {
	if m == nil || ip == nil {
		return false
	}
	if _, ok := m.ips[ip.String()]; ok {
		return true
	}
	for _, network := range m.nets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// streamLimiter counts open streams per client address.
type streamLimiter struct {
	mu    sync.Mutex
	max   int
	byIP  map[string]int
	total int
}

func newStreamLimiter(max int) *streamLimiter {
	return &streamLimiter{max: max, byIP: make(map[string]int)}
}

// acquire reserves a slot for addr. It fails when addr is at the limit.
func (l *streamLimiter) acquire(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.max > 0 && addr != "" && l.byIP[addr] >= l.max {
		return false
	}
	l.byIP[addr]++
	l.total++
	return true
}

func (l *streamLimiter) release(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byIP[addr] <= 1 {
		delete(l.byIP, addr)
	} else {
		l.byIP[addr]--
	}
	l.total--
}

// open returns the number of open streams.
func (l *streamLimiter) open() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
