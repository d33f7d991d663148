// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/sourcing/status for the dashboard snapshot.
//   - POST /api/sourcing/run to trigger a run for one family or all of them.
//   - GET /api/sourcing/runs and /api/sourcing/products for run history and
//     the latest imports per family.
package api
