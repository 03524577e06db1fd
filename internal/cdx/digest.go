package cdx

import (
	"crypto/sha1"
	"encoding/base32"
)

// DigestOf returns the capture digest of body: base32-encoded SHA-1,
// the convention capture indexes publish in the digest column.
func DigestOf(body []byte) string {
	sum := sha1.Sum(body)
	return base32.StdEncoding.EncodeToString(sum[:])
}
