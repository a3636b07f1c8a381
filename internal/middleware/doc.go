// Package middleware provides HTTP middleware for the converter service.
//
// It includes:
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics keyed by route template
//   - gzip compression of JSON and plain-text API responses
//   - Per-client rate limiting of job submissions
//   - Client address resolution, trusting forwarding headers only from
//     configured proxies
package middleware
