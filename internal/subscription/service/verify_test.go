package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/gosuraksha/entitlements/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyRequestBearer(t *testing.T) {
	body := []byte(`{"event":{}}`)

	header := http.Header{}
	header.Set("Authorization", "Bearer s3cret")
	assert.NoError(t, VerifyRequest("s3cret", header, body))

	header.Set("Authorization", "Bearer wrong")
	assert.ErrorIs(t, VerifyRequest("s3cret", header, body), domain.ErrInvalidSignature)
}

func TestVerifyRequestHMAC(t *testing.T) {
	body := []byte(`{"event":{"id":"evt_1"}}`)
	secret := "s3cret"

	header := http.Header{}
	header.Set("X-RevenueCat-Signature", sign(secret, body))
	assert.NoError(t, VerifyRequest(secret, header, body))

	header = http.Header{}
	header.Set("X-Signature", "sha256="+sign(secret, body))
	assert.NoError(t, VerifyRequest(secret, header, body))

	// Signature over a different body fails.
	header = http.Header{}
	header.Set("X-Signature", sign(secret, []byte("tampered")))
	assert.ErrorIs(t, VerifyRequest(secret, header, body), domain.ErrInvalidSignature)
}

func TestVerifyRequestRejectsWhenUnauthenticated(t *testing.T) {
	body := []byte(`{}`)

	assert.ErrorIs(t, VerifyRequest("s3cret", http.Header{}, body), domain.ErrInvalidSignature)

	// A missing server-side secret can never verify anything.
	header := http.Header{}
	header.Set("Authorization", "Bearer ")
	assert.ErrorIs(t, VerifyRequest("", header, body), domain.ErrInvalidSignature)
}
