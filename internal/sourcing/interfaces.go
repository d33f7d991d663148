package sourcing

import (
	"context"
	"time"
)

// Adapter turns one upstream into candidate products. Search never fails:
// upstream errors are logged and yield an empty slice.
type Adapter interface {
	Source() Source
	Search(ctx context.Context, query string, limit int) []CandidateProduct
}

// ProductStore persists products keyed by (source, externalId).
type ProductStore interface {
	FindByExternalID(ctx context.Context, source Source, externalID string) (Product, error)
	Create(ctx context.Context, product Product) error
	UpdateVolatile(ctx context.Context, id string, fields VolatileFields) error
	CountBySource(ctx context.Context) (map[Source]int, error)
}

// RunStore records the audit trail of sourcing runs.
type RunStore interface {
	CreateRun(ctx context.Context, run RunRecord) error
	FinishRun(ctx context.Context, run RunRecord) error
	ListRuns(ctx context.Context, limit, offset int) ([]RunRecord, error)
}

// Queue provides enqueue/dequeue semantics for accepted runs.
type Queue interface {
	Enqueue(ctx context.Context, req RunRequest) error
	Dequeue(ctx context.Context) (RunRequest, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Hasher computes digests for content addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces durable identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Rand is the single randomness source of a run. *rand.Rand from math/rand/v2
// satisfies it.
type Rand interface {
	IntN(n int) int
}
