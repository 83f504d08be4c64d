package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint produces a deterministic cache key from request parameters.
// The parts are joined with a separator before hashing so ("ab","c") and
// ("a","bc") never collide. The short hex form keeps cache filenames
// readable while leaving collisions out of practical reach.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}
