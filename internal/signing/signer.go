// Package signing implements C4: HMAC-SHA256 request signing over
// "<unixSeconds>.<body-or-empty>" using a per-tenant key, per the wire
// contract in spec.md §6.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
)

// TimestampHeader and SignatureHeader are the two headers a signed request
// carries, verified by endpoint callers per the wire contract.
const (
	TimestampHeader = "X-Cronicorn-Timestamp"
	SignatureHeader = "X-Cronicorn-Signature"
)

// Sign computes sig = HMAC-SHA256(key, "<unixSeconds>.<body>") and returns
// the header values to attach to the outbound request.
func Sign(key []byte, unixSeconds int64, body []byte) (timestampHeader, signatureHeader string) {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strconv.FormatInt(unixSeconds, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	sum := mac.Sum(nil)
	return strconv.FormatInt(unixSeconds, 10), "sha256=" + hex.EncodeToString(sum)
}

// Verify recomputes the HMAC over timestamp+body and constant-time-compares
// it to the sha256=<hex> signature header value. Used by the receiver side
// of the wire contract (not exercised by the dispatcher itself, but kept
// alongside Sign so the round-trip property (P7) has one home).
func Verify(key []byte, unixSeconds int64, body []byte, signatureHeader string) (bool, error) {
	const prefix = "sha256="
	if len(signatureHeader) <= len(prefix) || signatureHeader[:len(prefix)] != prefix {
		return false, fmt.Errorf("signature header missing %q prefix", prefix)
	}
	want, err := hex.DecodeString(signatureHeader[len(prefix):])
	if err != nil {
		return false, fmt.Errorf("decode signature hex: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strconv.FormatInt(unixSeconds, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	got := mac.Sum(nil)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}
