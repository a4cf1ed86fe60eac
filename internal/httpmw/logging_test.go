package httpmw

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
)

type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestResponseWriter(t *testing.T) {
	t.Run("write defaults to 200 and counts bytes", func(t *testing.T) {
		rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), ctx: context.Background()}
		_, _ = rw.Write([]byte("abc"))
		_, _ = rw.Write([]byte("de"))
		if rw.status != http.StatusOK || rw.bytes != 5 {
			t.Fatalf("status=%d bytes=%d", rw.status, rw.bytes)
		}
	})

	t.Run("explicit status kept", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: rec, ctx: context.Background()}
		rw.WriteHeader(http.StatusServiceUnavailable)
		_, _ = rw.Write([]byte("x"))
		if rw.status != http.StatusServiceUnavailable || rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status=%d rec=%d", rw.status, rec.Code)
		}
	})

	t.Run("flush passthrough", func(t *testing.T) {
		rec := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: rec, ctx: context.Background()}
		rw.Flush()
		if !rec.Flushed {
			t.Fatal("flush not forwarded")
		}
	})

	t.Run("hijack", func(t *testing.T) {
		hr := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
		rw := &responseWriter{ResponseWriter: hr, ctx: context.Background()}
		if _, _, err := rw.Hijack(); err != nil || !hr.hijacked {
			t.Fatalf("hijack: %v", err)
		}
		plain := &responseWriter{ResponseWriter: httptest.NewRecorder(), ctx: context.Background()}
		if _, _, err := plain.Hijack(); err == nil {
			t.Fatal("expected error for non-hijacker")
		}
	})

	t.Run("no write span without recording parent", func(t *testing.T) {
		rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), ctx: context.Background()}
		rw.ensureWriteSpan()
		rw.ensureWriteSpan()
		if rw.writeSpan != nil {
			t.Fatal("write span started without a parent")
		}
		rw.finishWriteSpan()
	})
}

func TestResponseWriter_WriteSpan(t *testing.T) {
	sr, tracer := newRecordingTracer()
	ctx, parent := tracer.Start(context.Background(), "parent")

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), ctx: ctx}
	_, _ = rw.Write([]byte("hello"))
	rw.finishWriteSpan()
	parent.End()

	var found bool
	for _, s := range sr.Ended() {
		if s.Name() == "response.write" {
			found = true
			if s.Parent().SpanID() != parent.SpanContext().SpanID() {
				t.Fatal("response.write should be a child of the request span")
			}
		}
	}
	if !found {
		t.Fatal("response.write span not recorded")
	}
}

func TestSchemeFromRequest(t *testing.T) {
	tests := []struct {
		name string
		xfp  string
		tls  bool
		want string
	}{
		{"default", "", false, "http"},
		{"tls", "", true, "https"},
		{"forwarded https", "https", false, "https"},
		{"forwarded upper case", "HTTPS", false, "https"},
		{"forwarded chain", "https, http", false, "https"},
		{"forwarded garbage ignored", "javascript", true, "https"},
		{"forwarded beats tls", "http", true, "http"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.xfp != "" {
				r.Header.Set("X-Forwarded-Proto", tt.xfp)
			}
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			if got := schemeFromRequest(r); got != tt.want {
				t.Fatalf("scheme = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithLogger_AndAccessLog(t *testing.T) {
	rl := newRecordingLogger()

	r := chi.NewRouter()
	r.Use(AccessLog())
	r.With(Scope("nearest")).Get("/api/content/nearest/*", func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).Debug(r.Context(), "inside")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	})

	h := Chain(r, RequestID(""), ClientIP, WithLogger(rl))
	req := httptest.NewRequest(http.MethodGet, "/api/content/nearest/site/blog?x=secret", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	inside, ok := rl.last("debug")
	if !ok {
		t.Fatal("handler log line missing")
	}
	if v, _ := field(inside.kv, "handler"); v != "nearest" {
		t.Errorf("handler = %v", v)
	}
	if v, _ := field(inside.kv, "request_id"); v != "rid-1" {
		t.Errorf("request_id = %v", v)
	}
	if v, _ := field(inside.kv, "client.address"); v != "192.0.2.1" {
		t.Errorf("client.address = %v", v)
	}

	access, ok := rl.last("info")
	if !ok || access.msg != "http request" {
		t.Fatalf("access log missing: %+v", access)
	}
	checks := map[string]any{
		"http.response.status_code": http.StatusNotFound,
		"http.route":                "/api/content/nearest/*",
		"url.path":                  "/api/content/nearest/site/blog",
		"http.response.body.size":   int64(len(`{"error":"not found"}`)),
	}
	for k, want := range checks {
		if got, _ := field(access.kv, k); got != want {
			t.Errorf("%s = %v, want %v", k, got, want)
		}
	}
	for _, e := range rl.entries() {
		for i := 1; i < len(e.kv); i += 2 {
			if s, ok := e.kv[i].(string); ok && s == "x=secret" {
				t.Fatal("query string leaked into logs")
			}
		}
	}
}

func TestAccessLog_SkipsHealth(t *testing.T) {
	rl := newRecordingLogger()
	h := Chain(okHandler, WithLogger(rl), AccessLog())
	for _, p := range []string{"/-/healthy", "/-/ready"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	if n := len(rl.entries()); n != 0 {
		t.Fatalf("health requests logged %d lines", n)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	e, ok := rl.last("info")
	if !ok {
		t.Fatal("access log missing")
	}
	if v, _ := field(e.kv, "http.route"); v != "unmatched" {
		t.Fatalf("http.route = %v, want unmatched", v)
	}
}
