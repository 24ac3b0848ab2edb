package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrBadSignature is returned for a webhook body whose signature does not
// verify. The event is dropped before any state is touched.
var ErrBadSignature = errors.New("billing: webhook signature mismatch")

// Verifier authenticates webhook payloads before the reconciler ever sees
// them.
type Verifier interface {
	Verify(body []byte, signature string) error
}

// HMACVerifier checks a hex HMAC-SHA256 of the raw body.
type HMACVerifier struct {
	secret []byte
}

var _ Verifier = (*HMACVerifier)(nil)

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(body []byte, signature string) error {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
