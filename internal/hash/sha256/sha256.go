// Package sha256 provides SHA-256 content addressing for archived pages.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
)

// Hasher implements sourcing.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ObjectPath builds a sharded blob path such as "pages/b9/b94d27...html".
func ObjectPath(prefix, digest, ext string) string {
	shard := digest
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return path.Join(prefix, shard, digest+ext)
}
