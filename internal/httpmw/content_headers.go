package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ContentInfo reports the identity of the active content snapshot.
// Implemented by *content.Manager.
type ContentInfo interface {
	ContentVersion() string
	ContentHash() string
}

// ContentHeaders adds X-Content-Version and X-Content-Hash so clients and
// caches can tell which content snapshot produced a menu.
func ContentHeaders(info ContentInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info != nil {
				v := info.ContentVersion()
				h := info.ContentHash()
				if v != "" {
					w.Header().Set("X-Content-Version", v)
				}
				if h != "" {
					headerHash := h
					if len(headerHash) > 12 {
						headerHash = headerHash[:12]
					}
					w.Header().Set("X-Content-Hash", headerHash)
				}
				if span := trace.SpanFromContext(r.Context()); span != nil && span.IsRecording() {
					if v != "" {
						span.SetAttributes(attribute.String("content.version", v))
					}
					if h != "" {
						span.SetAttributes(attribute.String("content.hash", h))
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
