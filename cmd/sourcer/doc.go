// Package main hosts the product sourcing service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, readiness, metrics, and the /api/sourcing endpoints. A run
//     trigger claims the coordinator's scope (one family or all of them) and enqueues a RunRequest; a busy scope
//     answers 409 without queuing anything.
//   - Dispatcher & queue: runs flow through a bounded in-memory queue sized by sourcing.queue_depth and are
//     executed by a fixed worker pool sized by sourcing.workers. An optional scheduler fires global runs on
//     sourcing.schedule_interval_seconds.
//   - Fallback chain: each family tries its scrape adapter (Colly probe, promoted to chromedp when the heuristic
//     detector asks for it), then the paid API when a key is configured, then the synthetic generator.
//   - Catalog: candidates are priced with the per-family markup and upserted by (source, external id). Reruns
//     refresh price, cost, margin, stock, rating, and sync time; titles and descriptions stay as edited.
//   - Persistence & fanout: products and run history live in memory or Postgres, optionally fronted by a Redis
//     read-through cache. Raw search pages and API payloads may be archived to memory, local disk, or GCS.
//     Progress events go to the log, Prometheus, the run store, and Pub/Sub when a topic is set.
//
// Quick checklist:
//   - Configure env vars with the SOURCER_ prefix, e.g. SOURCER_SERVER_PORT, SOURCER_PAID_API_API_KEY,
//     SOURCER_STORAGE_DRIVER=postgres with SOURCER_STORAGE_DSN, SOURCER_CACHE_REDIS_ADDR.
//   - Run locally: go run ./cmd/sourcer -config config.yaml (or rely solely on env overrides).
package main
