package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractRealClientAddr(t *testing.T) {
	tests := []struct {
		name         string
		remote       string
		xff          string
		hops         int
		want         string
		wantStripped bool
	}{
		{"public peer ignores xff", "203.0.113.9:4000", "198.51.100.1", 1, "203.0.113.9", true},
		{"private peer without hops", "10.0.0.5:4000", "198.51.100.1", 0, "10.0.0.5", true},
		{"single alb", "10.0.0.5:4000", "198.51.100.1", 1, "198.51.100.1", false},
		{"rightmost for one hop", "10.0.0.5:4000", "1.1.1.1, 198.51.100.1", 1, "198.51.100.1", false},
		{"two hops", "10.0.0.5:4000", "198.51.100.7, 172.16.0.2", 2, "198.51.100.7", false},
		{"too few entries fails closed", "10.0.0.5:4000", "198.51.100.1", 3, "10.0.0.5", true},
		{"garbage entry ignored", "10.0.0.5:4000", "not-an-ip", 1, "10.0.0.5", false},
		{"loopback trusted", "127.0.0.1:4000", "198.51.100.1", 1, "198.51.100.1", false},
		{"ipv6 peer", "[2001:db8::1]:443", "", 1, "2001:db8::1", true},
		{"no port", "10.0.0.5", "", 1, "10.0.0.5", false},
		{"unparsable ip", "nonsense:80", "", 1, "0.0.0.0", false},
		{"empty remote", "", "", 1, "0.0.0.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
				r.Header.Set("X-Forwarded-Proto", "https")
			}
			if got := extractRealClientAddr(r, tt.hops); got != tt.want {
				t.Fatalf("client = %q, want %q", got, tt.want)
			}
			if tt.wantStripped && (r.Header.Get("X-Forwarded-For") != "" || r.Header.Get("X-Forwarded-Proto") != "") {
				t.Fatal("forwarded headers should have been removed")
			}
		})
	}
}

func TestClientIP_StoresInContext(t *testing.T) {
	var got string
	h := ClientIPWithOptions(ClientIPOptions{TrustedHops: 1})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.20")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got != "198.51.100.20" {
		t.Fatalf("ClientIPFromContext = %q", got)
	}

	ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got != "192.0.2.1" {
		t.Fatalf("default options client = %q, want httptest peer", got)
	}
}
