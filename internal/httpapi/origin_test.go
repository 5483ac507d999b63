package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyTrustClientIP(t *testing.T) {
	proxies, err := ParseProxyTrust([]string{"10.0.0.0/8", " 192.0.2.50 ", ""})
	require.NoError(t, err)

	tests := []struct {
		name    string
		trust   ProxyTrust
		remote  string
		forward []string
		want    string
	}{
		{"no proxies configured ignores header", ProxyTrust{}, "203.0.113.9:4711", []string{"198.51.100.1"}, "203.0.113.9"},
		{"untrusted peer ignores header", proxies, "203.0.113.9:4711", []string{"198.51.100.1"}, "203.0.113.9"},
		{"trusted peer without header", proxies, "10.0.0.5:80", nil, "10.0.0.5"},
		{"right-most untrusted hop wins", proxies, "10.0.0.5:80", []string{"198.51.100.1, 203.0.113.9"}, "203.0.113.9"},
		{"trusted hops are skipped", proxies, "10.0.0.5:80", []string{"203.0.113.9, 192.0.2.50, 10.1.1.1"}, "203.0.113.9"},
		{"multiple header lines", proxies, "192.0.2.50:80", []string{"198.51.100.1", "203.0.113.9"}, "203.0.113.9"},
		{"all hops trusted", proxies, "10.0.0.5:80", []string{"10.2.2.2"}, "10.2.2.2"},
		{"garbage hop stops the walk", proxies, "10.0.0.5:80", []string{"198.51.100.1, unknown"}, "10.0.0.5"},
		{"mapped peer address", proxies, "[::ffff:10.0.0.5]:80", []string{"203.0.113.9"}, "203.0.113.9"},
		{"ipv6 peer", proxies, "[2001:db8::1]:443", []string{"203.0.113.9"}, "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.forward {
				req.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tt.want, tt.trust.ClientIP(req))
		})
	}
}

func TestParseProxyTrustRejectsHostnames(t *testing.T) {
	_, err := ParseProxyTrust([]string{"10.0.0.0/8", "proxy.internal"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proxy.internal")
}
