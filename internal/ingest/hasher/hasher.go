// Package hasher computes content fingerprints for deduplication. The
// fingerprint is a sha256 digest over normalized content bytes, rendered as
// lowercase hex. Identical content always yields the same fingerprint; the
// value is a dedup key, never a display value.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint returns the hex sha256 digest of the normalized content.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(normalize(content)))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the fingerprint of content and compares it against a
// caller-supplied value. A mismatch is a hard validation failure for the
// caller; it is never silently corrected.
func Verify(content, supplied string) bool {
	return strings.EqualFold(Fingerprint(content), supplied)
}

// normalize collapses line-ending differences and surrounding whitespace so
// that byte-identical text hashes identically regardless of platform.
func normalize(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.TrimSpace(content)
}
