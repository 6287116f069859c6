// Package api hosts the operator status server. Routes:
//   - GET /healthz and /readyz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the live checkpoint counters.
package api
