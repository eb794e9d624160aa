package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoSecret reports a verifier constructed without a shared secret.
	ErrNoSecret = errors.New("webhook: no shared secret configured")
	// ErrTimestampOutsideWindow reports a payload timestamp too far from now.
	ErrTimestampOutsideWindow = errors.New("webhook: timestamp outside replay window")
	// ErrSignatureMismatch reports an HMAC that does not cover the raw body.
	ErrSignatureMismatch = errors.New("webhook: signature mismatch")
)

// DefaultWindow bounds how far a payload timestamp may drift from now.
const DefaultWindow = 5 * time.Minute

// Verifier authenticates inbound webhook payloads. It is stateless given the
// shared secret and safe for concurrent use.
type Verifier struct {
	secret []byte
	window time.Duration
	now    func() time.Time
}

// NewVerifier builds a verifier over the shared secret. A non-positive window
// falls back to DefaultWindow.
func NewVerifier(secret string, window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Verifier{secret: []byte(secret), window: window, now: time.Now}
}

// Configured reports whether a shared secret is present, for the liveness
// probe. The secret itself is never exposed.
func (v *Verifier) Configured() bool {
	return len(v.secret) > 0
}

// Verify runs both authentication checks: the timestamp must fall within the
// replay window of now, and the hex HMAC-SHA256 signature must cover the raw
// request body bytes with the signature member itself excised. The excision is
// textual, never a parse-and-reserialize round trip, so key order and
// whitespace in the sender's body survive verification intact. Any failure
// here is an authentication failure; malformed payloads are rejected earlier
// by Payload.Validate.
func (v *Verifier) Verify(rawBody []byte, signature string, timestampMillis int64) error {
	if len(v.secret) == 0 {
		return ErrNoSecret
	}

	issued := time.UnixMilli(timestampMillis)
	drift := v.now().Sub(issued)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.window {
		return fmt.Errorf("%w: drift %s exceeds %s", ErrTimestampOutsideWindow, drift.Truncate(time.Second), v.window)
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrSignatureMismatch)
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(signedBytes(rawBody, signature))
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrSignatureMismatch
	}
	return nil
}

// signedBytes strips the signature member from the raw body so the digest
// covers what the sender hashed before splicing the signature in. One adjacent
// comma is swallowed with the member, restoring the exact pre-signing bytes.
func signedBytes(rawBody []byte, signature string) []byte {
	member := []byte(`"signature":"` + signature + `"`)
	start := bytes.Index(rawBody, member)
	if start < 0 {
		member = []byte(`"signature": "` + signature + `"`)
		start = bytes.Index(rawBody, member)
	}
	if start < 0 {
		return rawBody
	}
	end := start + len(member)
	if start > 0 && rawBody[start-1] == ',' {
		start--
	} else if end < len(rawBody) && rawBody[end] == ',' {
		end++
	}
	stripped := make([]byte, 0, len(rawBody)-(end-start))
	stripped = append(stripped, rawBody[:start]...)
	return append(stripped, rawBody[end:]...)
}

// Sign computes the hex HMAC-SHA256 signature for a serialized payload that
// does not yet carry its signature member. The sender splices the result into
// the body before posting.
func Sign(secret string, rawBody []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}
