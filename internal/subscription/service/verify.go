package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gosuraksha/entitlements/internal/subscription/domain"
)

var signatureHeaders = []string{"X-RevenueCat-Signature", "X-Signature"}

// VerifyRequest authenticates a webhook delivery. Two schemes are accepted:
// a bearer token equal to the shared secret, or an HMAC-SHA256 hex digest of
// the raw body keyed with the same secret. All comparisons are constant time.
func VerifyRequest(secret string, header http.Header, body []byte) error {
	if secret == "" {
		return domain.ErrInvalidSignature
	}

	if auth := strings.TrimSpace(header.Get("Authorization")); auth != "" {
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if ok && subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(secret)) == 1 {
			return nil
		}
	}

	for _, name := range signatureHeaders {
		provided := strings.TrimSpace(header.Get(name))
		if provided == "" {
			continue
		}
		if verifySignature(secret, body, provided) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

func verifySignature(secret string, body []byte, provided string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Tolerate "sha256=<hex>" prefixes some senders add.
	if trimmed, ok := strings.CutPrefix(provided, "sha256="); ok {
		provided = trimmed
	}
	return hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected))
}
