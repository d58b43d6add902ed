package webhook

import (
	"encoding/base64"
	"errors"
	"strconv"
	"testing"
	"time"
)

const testSecret = "whsec_dGVzdC1zaWduaW5nLWtleQ=="

func TestVerifySignatureRoundTrip(t *testing.T) {
	body := []byte(`{"type":"email.sent"}`)
	now := time.Unix(1710000000, 0)
	timestamp := strconv.FormatInt(now.Unix(), 10)

	signature, err := Sign(testSecret, "msg_1", timestamp, body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := VerifySignature(testSecret, "msg_1", timestamp, signature, body, now, 5*time.Minute); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifySignatureAcceptsMultipleCandidates(t *testing.T) {
	body := []byte(`{}`)
	now := time.Unix(1710000000, 0)
	timestamp := strconv.FormatInt(now.Unix(), 10)

	valid, err := Sign(testSecret, "msg_1", timestamp, body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	bogus := "v1," + base64.StdEncoding.EncodeToString([]byte("not the mac")) + " " + valid
	if err := VerifySignature(testSecret, "msg_1", timestamp, bogus, body, now, 5*time.Minute); err != nil {
		t.Fatalf("any matching candidate should pass: %v", err)
	}
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	now := time.Unix(1710000000, 0)
	timestamp := strconv.FormatInt(now.Unix(), 10)

	signature, err := Sign(testSecret, "msg_1", timestamp, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	err = VerifySignature(testSecret, "msg_1", timestamp, signature, []byte(`{"a":2}`), now, 5*time.Minute)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	body := []byte(`{}`)
	now := time.Unix(1710000000, 0)
	timestamp := strconv.FormatInt(now.Unix(), 10)

	signature, err := Sign("whsec_b3RoZXIta2V5", "msg_1", timestamp, body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	err = VerifySignature(testSecret, "msg_1", timestamp, signature, body, now, 5*time.Minute)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifySignatureMissingHeaders(t *testing.T) {
	now := time.Unix(1710000000, 0)
	cases := []struct {
		name      string
		msgID     string
		timestamp string
		signature string
	}{
		{"no id", "", "1710000000", "v1,abc"},
		{"no timestamp", "msg_1", "", "v1,abc"},
		{"no signature", "msg_1", "1710000000", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifySignature(testSecret, tc.msgID, tc.timestamp, tc.signature, nil, now, 5*time.Minute)
			if !errors.Is(err, ErrMissingSignature) {
				t.Fatalf("expected ErrMissingSignature, got %v", err)
			}
		})
	}
}

func TestVerifySignatureTimestampSkew(t *testing.T) {
	body := []byte(`{}`)
	now := time.Unix(1710000000, 0)
	stale := now.Add(-10 * time.Minute)
	timestamp := strconv.FormatInt(stale.Unix(), 10)

	signature, err := Sign(testSecret, "msg_1", timestamp, body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	err = VerifySignature(testSecret, "msg_1", timestamp, signature, body, now, 5*time.Minute)
	if !errors.Is(err, ErrTimestampTooOld) {
		t.Fatalf("expected ErrTimestampTooOld, got %v", err)
	}

	// Zero skew disables the tolerance check entirely.
	if err := VerifySignature(testSecret, "msg_1", timestamp, signature, body, now, 0); err != nil {
		t.Fatalf("skew check should be disabled: %v", err)
	}
}

func TestVerifySignatureMalformedTimestamp(t *testing.T) {
	err := VerifySignature(testSecret, "msg_1", "yesterday", "v1,abc", nil, time.Now(), 5*time.Minute)
	if !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
}

func TestVerifySignatureRequiresSecret(t *testing.T) {
	err := VerifySignature("", "msg_1", "1710000000", "v1,abc", nil, time.Now(), 5*time.Minute)
	if !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestVerifySignatureRawSecretFallback(t *testing.T) {
	body := []byte(`{"type":"email.delivered"}`)
	now := time.Unix(1710000000, 0)
	timestamp := strconv.FormatInt(now.Unix(), 10)
	secret := "plain secret with spaces!"

	signature, err := Sign(secret, "msg_1", timestamp, body)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := VerifySignature(secret, "msg_1", timestamp, signature, body, now, 5*time.Minute); err != nil {
		t.Fatalf("raw-string secrets must round-trip: %v", err)
	}
}
