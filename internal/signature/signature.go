// Package signature verifies the HMAC signature GitHub attaches to webhook
// deliveries in the X-Hub-Signature-256 header.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HeaderName is the http header carrying the signature.
const HeaderName = "X-Hub-Signature-256"

const algorithm = "sha256"

// Verifier checks payload signatures with a shared secret.
// It is safe for concurrent use.
type Verifier struct {
	secret []byte
}

// New returns a Verifier using secret as HMAC key.
// A Verifier with an empty secret rejects every payload.
func New(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify returns true if header is a "sha256=<hex>" value matching the
// HMAC-SHA256 digest of body.
func (v *Verifier) Verify(body []byte, header string) bool {
	if v == nil || len(v.secret) == 0 || header == "" {
		return false
	}

	algo, hexDigest, found := strings.Cut(header, "=")
	if !found || algo != algorithm {
		return false
	}

	provided, err := hex.DecodeString(hexDigest)
	if err != nil || len(provided) != sha256.Size {
		return false
	}

	return hmac.Equal(digest(body, v.secret), provided)
}

// Sign returns the X-Hub-Signature-256 header value for body.
func Sign(body []byte, secret string) string {
	return algorithm + "=" + hex.EncodeToString(digest(body, []byte(secret)))
}

func digest(body, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
