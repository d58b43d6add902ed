// Package webhook handles signed push notifications from the email provider.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Signature headers carried on every provider push.
const (
	HeaderID        = "svix-id"
	HeaderTimestamp = "svix-timestamp"
	HeaderSignature = "svix-signature"
)

const signatureVersion = "v1"

var (
	ErrMissingSignature = errors.New("missing signature headers")
	ErrInvalidSignature = errors.New("signature mismatch")
	ErrInvalidTimestamp = errors.New("invalid signature timestamp")
	ErrTimestampTooOld  = errors.New("signature timestamp outside tolerance")
	ErrMissingSecret    = errors.New("webhook secret is not configured")
)

// VerifySignature checks an HMAC-SHA256 signature over "id.timestamp.body".
// The secret may carry the provider's "whsec_" prefix around a base64 key.
// The signature header holds space-separated "v1,<base64>" candidates; any
// constant-time match passes. Timestamps outside maxSkew of now are
// rejected to bound replay.
func VerifySignature(secret, msgID, timestamp, signatureHeader string, body []byte, now time.Time, maxSkew time.Duration) error {
	if strings.TrimSpace(secret) == "" {
		return ErrMissingSecret
	}
	msgID = strings.TrimSpace(msgID)
	timestamp = strings.TrimSpace(timestamp)
	signatureHeader = strings.TrimSpace(signatureHeader)
	if msgID == "" || timestamp == "" || signatureHeader == "" {
		return ErrMissingSignature
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	if maxSkew > 0 {
		delta := now.Sub(time.Unix(unix, 0))
		if delta < 0 {
			delta = -delta
		}
		if delta > maxSkew {
			return ErrTimestampTooOld
		}
	}

	key, err := decodeSecret(secret)
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(msgID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	for _, candidate := range strings.Fields(signatureHeader) {
		version, encoded, found := strings.Cut(candidate, ",")
		if !found || version != signatureVersion {
			continue
		}
		provided, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			continue
		}
		if hmac.Equal(provided, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func decodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	trimmed := strings.TrimPrefix(secret, "whsec_")
	if key, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return key, nil
	}
	// Secrets issued outside the provider's console may be raw strings.
	return []byte(trimmed), nil
}

// Sign produces the signature header value for a payload. Used by tests and
// by local tooling that replays captured events.
func Sign(secret, msgID, timestamp string, body []byte) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(msgID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return signatureVersion + "," + base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
