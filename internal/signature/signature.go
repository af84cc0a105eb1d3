// Package signature signs and verifies webhook bodies with
// hex(hmac_sha256(secret, timestamp + "." + body)).
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Header names carried by signed requests
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// DefaultTolerance is the accepted clock skew between sender and receiver
const DefaultTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrMissingTimestamp = errors.New("missing timestamp")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrTimestampExpired = errors.New("timestamp outside tolerance")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Sign returns the hex signature of body at timestamp
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Timestamp formats t as unix seconds
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// Verify checks the signature and rejects timestamps more than tolerance away from now
func Verify(secret, sig, timestamp string, body []byte, now time.Time, tolerance time.Duration) error {
	sig = strings.TrimPrefix(strings.TrimSpace(sig), "sha256=")
	if sig == "" {
		return ErrMissingSignature
	}
	timestamp = strings.TrimSpace(timestamp)
	if timestamp == "" {
		return ErrMissingTimestamp
	}

	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	ts := time.Unix(secs, 0)
	if ts.Before(now.Add(-tolerance)) || ts.After(now.Add(tolerance)) {
		return ErrTimestampExpired
	}

	want, err := hex.DecodeString(Sign(secret, timestamp, body))
	if err != nil {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(want, got) {
		return ErrInvalidSignature
	}
	return nil
}
