// Package sourcing defines the core types shared across the product sourcing
// pipeline: source families, candidate and persisted products, run requests,
// and the collaborator interfaces implemented by adapters, stores, queues and
// publishers.
package sourcing
