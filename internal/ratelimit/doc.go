// Package ratelimit provides per-IP rate limiting for the public menu API
// with background eviction of idle entries.
//
// It is a single-instance, in-memory limiter for basic abuse prevention. It
// does not protect against distributed attacks or bandwidth exhaustion; use
// an upstream WAF or CDN for those. Once the visitor table is full, new
// clients share one overflow bucket instead of growing memory.
package ratelimit
