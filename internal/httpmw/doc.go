// Package httpmw provides HTTP middleware for the public menu API server.
//
// httpserver.NewHandler composes them outermost first: security headers,
// panic recovery, request ID, client IP, rate limiting, OTel tracing,
// content version headers, trace headers, metrics, request logger and the
// chi router with route annotation and access log.
//
// Query strings, user agents and other free-form headers are kept out of
// log lines.
package httpmw
