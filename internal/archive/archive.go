// Package archive keeps raw upstream payloads (search HTML, API JSON) in blob
// storage, addressed by content hash, so extraction drift can be debugged
// after the fact.
package archive

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-product-sourcing/internal/hash/sha256"
	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// Archive writes payloads under prefix/<kind>/<shard>/<digest><ext>.
type Archive struct {
	blobs  sourcing.BlobStore
	hasher sourcing.Hasher
	prefix string
	logger *zap.Logger
}

// New builds an Archive. A nil blob store yields nil, which callers treat as
// archiving disabled.
func New(blobs sourcing.BlobStore, hasher sourcing.Hasher, prefix string, logger *zap.Logger) *Archive {
	if blobs == nil {
		return nil
	}
	if hasher == nil {
		hasher = sha256.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{
		blobs:  blobs,
		hasher: hasher,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// Store persists data and returns the blob URI. It is safe to call on a nil
// Archive.
func (a *Archive) Store(ctx context.Context, kind, ext, contentType string, data []byte) (string, error) {
	if a == nil || len(data) == 0 {
		return "", nil
	}
	digest, err := a.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	prefix := strings.ToLower(strings.Trim(kind, "/"))
	if a.prefix != "" {
		prefix = a.prefix + "/" + prefix
	}
	uri, err := a.blobs.PutObject(ctx, sha256.ObjectPath(prefix, digest, ext), contentType, data)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	a.logger.Debug("payload archived", zap.String("kind", kind), zap.String("uri", uri), zap.Int("bytes", len(data)))
	return uri, nil
}
