package billing_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantleap/stockcast/internal/billing"
)

func TestHMACVerifier(t *testing.T) {
	v := billing.NewHMACVerifier("whsec_test")
	body := []byte(`{"type":"payment.succeeded"}`)

	mac := hmac.New(sha256.New, []byte("whsec_test"))
	mac.Write(body)
	good := hex.EncodeToString(mac.Sum(nil))

	assert.NoError(t, v.Verify(body, good))
	assert.ErrorIs(t, v.Verify(body, "deadbeef"), billing.ErrBadSignature)
	assert.ErrorIs(t, v.Verify([]byte("tampered"), good), billing.ErrBadSignature)
	assert.ErrorIs(t, v.Verify(body, ""), billing.ErrBadSignature)
}
