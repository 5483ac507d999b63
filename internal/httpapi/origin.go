package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"clientportal.io/internal/audit"
)

// ProxyTrust resolves the network origin of a request. X-Forwarded-For is only
// read when the direct peer is a trusted proxy, and the origin is then the
// right-most hop that is not itself trusted.
type ProxyTrust struct {
	prefixes []netip.Prefix
}

// ParseProxyTrust accepts CIDRs and bare addresses.
func ParseProxyTrust(entries []string) (ProxyTrust, error) {
	var pt ProxyTrust
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if p, err := netip.ParsePrefix(raw); err == nil {
			pt.prefixes = append(pt.prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return ProxyTrust{}, fmt.Errorf("httpapi: trusted proxy %q is not an IP address or CIDR", raw)
		}
		addr = addr.Unmap()
		pt.prefixes = append(pt.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return pt, nil
}

func (pt ProxyTrust) trusted(addr netip.Addr) bool {
	for _, p := range pt.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the origin address of r.
func (pt ProxyTrust) ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil {
		return host
	}
	origin := peer.Unmap()
	if !pt.trusted(origin) {
		return origin.String()
	}

	hops := forwardedHops(r)
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(hops[i])
		if err != nil {
			break
		}
		origin = addr.Unmap()
		if !pt.trusted(origin) {
			break
		}
	}
	return origin.String()
}

func forwardedHops(r *http.Request) []string {
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	return hops
}

// originIP returns the origin resolved by RequestID, or the direct peer when
// the request did not pass through it.
func originIP(r *http.Request) string {
	if ip := audit.RequestMetaFromContext(r.Context()).IPAddress; ip != "" {
		return ip
	}
	return ProxyTrust{}.ClientIP(r)
}
